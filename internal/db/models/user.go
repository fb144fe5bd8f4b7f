// Package models - user.go defines the User model for publisher accounts
// resolved through the GitHub identity exchange.
package models

import "time"

// Risk levels computed during identity exchange
const (
	RiskLow     = "low"
	RiskUnknown = "unknown"
)

// User represents a publisher account. Rows are created or refreshed on every
// successful identity exchange (upsert by GitHub subject id) and never deleted.
type User struct {
	ID          string    `json:"id" db:"id"`
	GitHubID    int64     `json:"githubId" db:"github_id"`
	Handle      string    `json:"handle" db:"handle"`
	DisplayName string    `json:"displayName" db:"display_name"`
	AvatarURL   string    `json:"avatarUrl" db:"avatar_url"`
	RiskLevel   string    `json:"riskLevel" db:"risk_level"`
	AutoApprove bool      `json:"autoApprove" db:"auto_approve"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
