// user_repository.go implements UserRepository, providing database queries for
// publisher accounts resolved through the identity exchange.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertByGitHubID atomically creates or refreshes a user keyed by the GitHub
// subject id. Handle, display name, avatar, and the recomputed trust fields
// are overwritten on every successful identity exchange so a renamed or
// re-scored account converges on the next sign-in.
func (r *UserRepository) UpsertByGitHubID(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (github_id, handle, display_name, avatar_url, risk_level, auto_approve)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (github_id) DO UPDATE
		SET handle = EXCLUDED.handle,
		    display_name = EXCLUDED.display_name,
		    avatar_url = EXCLUDED.avatar_url,
		    risk_level = EXCLUDED.risk_level,
		    auto_approve = EXCLUDED.auto_approve,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		user.GitHubID,
		user.Handle,
		user.DisplayName,
		user.AvatarURL,
		user.RiskLevel,
		user.AutoApprove,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by its UUID. Returns (nil, nil) when not found.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, github_id, handle, display_name, avatar_url, risk_level, auto_approve,
		       created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := r.db.GetContext(ctx, user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
