// Package models - comment.go defines the append-only Comment model and its
// moderation statuses.
package models

import "time"

// Comment moderation statuses
const (
	CommentVisible = "visible"
	CommentHidden  = "hidden"
)

// Comment bounds enforced at creation time
const (
	CommentMinLength = 2
	CommentMaxLength = 2000
)

// Comment is an append-only comment on an approved blueprint.
type Comment struct {
	ID          string    `json:"id" db:"id"`
	BlueprintID string    `json:"blueprintId" db:"blueprint_id"`
	AuthorID    string    `json:"authorId" db:"author_id"`
	Body        string    `json:"body" db:"body"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	// Joined fields (not stored in blueprint_comments table)
	AuthorHandle *string `json:"authorHandle,omitempty" db:"author_handle"`
	AuthorAvatar *string `json:"authorAvatar,omitempty" db:"author_avatar"`
}
