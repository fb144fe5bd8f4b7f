// Package models - blueprint.go defines the Blueprint and BlueprintVersion
// models representing published packages in the marketplace catalog.
package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Blueprint moderation statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRemoved  = "removed"
)

// ChunkStorageKey marks a version whose payload lives in database chunk rows
// rather than the primary blob store. Reads seeing this key reassemble the
// payload from blueprint_package_chunks in index order.
const ChunkStorageKey = "db:chunks"

// Blueprint represents a published package in the catalog. The id is a
// slug derived from the manifest and immutable; metadata and the
// latest-version pointer are overwritten in place on every publish.
type Blueprint struct {
	ID                  string         `json:"blueprintId" db:"id"`
	Title               string         `json:"title" db:"title"`
	Summary             string         `json:"summary" db:"summary"`
	Category            string         `json:"category" db:"category"`
	Tags                pq.StringArray `json:"tags" db:"tags"`
	Complexity          string         `json:"complexity" db:"complexity"`
	CompanyStage        string         `json:"companyStage" db:"company_stage"`
	TeamSizeBand        string         `json:"teamSizeBand" db:"team_size_band"`
	TrustLabel          string         `json:"trustLabel" db:"trust_label"`
	SourceType          string         `json:"sourceType" db:"source_type"`
	Status              string         `json:"status" db:"status"`
	StarsCount          int64          `json:"starsCount" db:"stars_count"`
	DownloadsCount      int64          `json:"downloadsCount" db:"downloads_count"`
	CommentsCount       int64          `json:"commentsCount" db:"comments_count"`
	LatestVersionID     *string        `json:"latestVersionId,omitempty" db:"latest_version_id"`
	LatestVersionNumber int            `json:"latestVersionNumber" db:"latest_version_number"`
	AuthorID            *string        `json:"authorId,omitempty" db:"author_id"`
	CreatedAt           time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time      `json:"updatedAt" db:"updated_at"`
	// Joined fields (not stored in blueprints table)
	AuthorHandle *string `json:"authorHandle,omitempty" db:"author_handle"`
}

// BlueprintVersion is one immutable snapshot of a blueprint's package payload.
// Version numbers increase monotonically per blueprint, starting at 1.
type BlueprintVersion struct {
	ID            string          `json:"versionId" db:"id"`
	BlueprintID   string          `json:"blueprintId" db:"blueprint_id"`
	VersionNumber int             `json:"versionNumber" db:"version_number"`
	Status        string          `json:"status" db:"status"`
	Manifest      json.RawMessage `json:"manifest" db:"manifest"`
	// StorageKey is either a blob key (packages/{slug}/v{N}.json) or
	// ChunkStorageKey when the payload fell back to database chunks
	StorageKey string `json:"-" db:"storage_key"`
	SizeBytes  int64  `json:"sizeBytes" db:"size_bytes"`
	Checksum   string `json:"checksum" db:"checksum"`
	// Fork lineage (optional)
	ParentBlueprintID *string `json:"parentBlueprintId,omitempty" db:"parent_blueprint_id"`
	ParentVersionID   *string `json:"parentVersionId,omitempty" db:"parent_version_id"`
	// Denormalized content counts extracted from the package body
	TeamsCount        int `json:"teamsCount" db:"teams_count"`
	ServicesCount     int `json:"servicesCount" db:"services_count"`
	GoalsCount        int `json:"goalsCount" db:"goals_count"`
	InitiativesCount  int `json:"initiativesCount" db:"initiatives_count"`
	WorkPackagesCount int `json:"workPackagesCount" db:"work_packages_count"`

	AuthorID  *string   `json:"authorId,omitempty" db:"author_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// IsChunked reports whether the version payload is stored as database chunks.
func (v *BlueprintVersion) IsChunked() bool {
	return v.StorageKey == ChunkStorageKey
}
