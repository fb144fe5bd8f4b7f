package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/pkg/cursor"
)

// ErrCommentBody is returned when a comment body falls outside the accepted
// length bounds after trimming.
var ErrCommentBody = errors.New("comment body length out of bounds")

// SocialRepository handles database operations for stars and comments
type SocialRepository struct {
	db *sqlx.DB
}

// NewSocialRepository creates a new social repository
func NewSocialRepository(db *sqlx.DB) *SocialRepository {
	return &SocialRepository{db: db}
}

// Star records a star from userID on blueprintID and returns the refreshed
// star count. Starring twice is a no-op: the count is recomputed from the
// join table, never blindly incremented, so repeats cannot drift it.
func (r *SocialRepository) Star(ctx context.Context, userID, blueprintID string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin star transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO blueprint_stars (user_id, blueprint_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, blueprintID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert star: %w", err)
	}

	count, err := recountStars(ctx, tx, blueprintID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit star transaction: %w", err)
	}
	return count, nil
}

// Unstar removes a star and returns the refreshed count. Removing a star that
// was never set is a no-op.
func (r *SocialRepository) Unstar(ctx context.Context, userID, blueprintID string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin unstar transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM blueprint_stars WHERE user_id = $1 AND blueprint_id = $2`,
		userID, blueprintID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete star: %w", err)
	}

	count, err := recountStars(ctx, tx, blueprintID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit unstar transaction: %w", err)
	}
	return count, nil
}

func recountStars(ctx context.Context, tx *sqlx.Tx, blueprintID string) (int64, error) {
	var count int64
	err := tx.QueryRowContext(ctx, `
		UPDATE blueprints
		SET stars_count = (SELECT COUNT(*) FROM blueprint_stars WHERE blueprint_id = $1)
		WHERE id = $1
		RETURNING stars_count`, blueprintID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to recount stars: %w", err)
	}
	return count, nil
}

// HasStarred reports whether the user has starred the blueprint.
func (r *SocialRepository) HasStarred(ctx context.Context, userID, blueprintID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM blueprint_stars WHERE user_id = $1 AND blueprint_id = $2)`,
		userID, blueprintID)
	if err != nil {
		return false, fmt.Errorf("failed to check star: %w", err)
	}
	return exists, nil
}

// AddComment validates and stores a comment, bumps the denormalized comment
// counter, and returns the stored row with author fields joined.
func (r *SocialRepository) AddComment(ctx context.Context, blueprintID, authorID, body string) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	// Length limits are in characters, matching the char_length CHECK on the
	// table, so multibyte bodies are not over-counted.
	if n := utf8.RuneCountInString(body); n < models.CommentMinLength || n > models.CommentMaxLength {
		return nil, ErrCommentBody
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin comment transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := &models.Comment{
		BlueprintID: blueprintID,
		AuthorID:    authorID,
		Body:        body,
		Status:      models.CommentVisible,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO blueprint_comments (blueprint_id, author_id, body, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		blueprintID, authorID, body, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert comment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE blueprints SET comments_count = comments_count + 1 WHERE id = $1`,
		blueprintID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment comment count: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT handle, avatar_url FROM users WHERE id = $1`, authorID,
	).Scan(&c.AuthorHandle, &c.AuthorAvatar)
	if err != nil {
		return nil, fmt.Errorf("failed to join comment author: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit comment transaction: %w", err)
	}
	return c, nil
}

// ListComments returns one page of visible comments for a blueprint, newest
// first, plus the cursor for the next page (nil on the last page).
func (r *SocialRepository) ListComments(ctx context.Context, blueprintID string, limit int, c *cursor.Cursor) ([]*models.Comment, *string, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT c.id, c.blueprint_id, c.author_id, c.body, c.status, c.created_at,
		       u.handle AS author_handle, u.avatar_url AS author_avatar
		FROM blueprint_comments c
		JOIN users u ON c.author_id = u.id
		WHERE c.blueprint_id = $1 AND c.status = 'visible'`
	args := []interface{}{blueprintID}

	if c != nil {
		query += fmt.Sprintf(" AND (c.created_at, c.id) < ($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, c.UpdatedAt, c.ID)
	}

	query += fmt.Sprintf(" ORDER BY c.created_at DESC, c.id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	var rows []*models.Comment
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, nil, fmt.Errorf("failed to list comments: %w", err)
	}

	var next *string
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		enc := cursor.Encode(last.CreatedAt, last.ID)
		next = &enc
	}

	return rows, next, nil
}

// SetCommentStatus transitions a comment's visibility and keeps the parent
// blueprint's comment counter in step.
func (r *SocialRepository) SetCommentStatus(ctx context.Context, commentID, status string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin moderation transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var blueprintID, prev string
	err = tx.QueryRowContext(ctx,
		`UPDATE blueprint_comments c
		 SET status = $2
		 FROM (SELECT id, status AS prev_status FROM blueprint_comments WHERE id = $1 FOR UPDATE) old
		 WHERE c.id = old.id
		 RETURNING c.blueprint_id, old.prev_status`,
		commentID, status,
	).Scan(&blueprintID, &prev)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("comment not found")
		}
		return fmt.Errorf("failed to set comment status: %w", err)
	}

	if prev != status {
		delta := -1
		if status == models.CommentVisible {
			delta = 1
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE blueprints SET comments_count = GREATEST(comments_count + $2, 0) WHERE id = $1`,
			blueprintID, delta)
		if err != nil {
			return fmt.Errorf("failed to adjust comment count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit moderation transaction: %w", err)
	}
	return nil
}
