// Package social implements the star and comment endpoints: the lightweight
// engagement signals attached to approved blueprints.
package social

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
	"github.com/blueprint-hub/blueprint-hub/internal/middleware"
	"github.com/blueprint-hub/blueprint-hub/internal/telemetry"
	"github.com/blueprint-hub/blueprint-hub/pkg/cursor"
)

func sessionUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(middleware.UserContextKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

// requireApproved loads the target blueprint and writes the 404 itself when
// the id is absent or not approved. Social writes never touch pending or
// removed blueprints.
func requireApproved(c *gin.Context, blueprints *repositories.BlueprintRepository, id string) bool {
	bp, err := blueprints.GetApproved(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load blueprint")
		return false
	}
	if bp == nil {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "blueprint not found")
		return false
	}
	return true
}

// StarHandler records a star for the session user. Starring an already-starred
// blueprint is idempotent.
// Implements: POST /api/blueprints/:id/star (session required)
func StarHandler(blueprints *repositories.BlueprintRepository, social *repositories.SocialRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := sessionUser(c)
		if !ok {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
			return
		}
		id := c.Param("id")
		if !requireApproved(c, blueprints, id) {
			return
		}

		count, err := social.Star(c.Request.Context(), user.ID, id)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to record star")
			return
		}

		telemetry.StarsTotal.WithLabelValues("star").Inc()
		respond.OK(c, http.StatusOK, gin.H{"starred": true, "starsCount": count})
	}
}

// UnstarHandler removes the session user's star. Removing a star that was
// never set is a no-op.
// Implements: DELETE /api/blueprints/:id/star (session required)
func UnstarHandler(blueprints *repositories.BlueprintRepository, social *repositories.SocialRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := sessionUser(c)
		if !ok {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
			return
		}
		id := c.Param("id")
		if !requireApproved(c, blueprints, id) {
			return
		}

		count, err := social.Unstar(c.Request.Context(), user.ID, id)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to remove star")
			return
		}

		telemetry.StarsTotal.WithLabelValues("unstar").Inc()
		respond.OK(c, http.StatusOK, gin.H{"starred": false, "starsCount": count})
	}
}

// commentRequest is the POST body for new comments.
type commentRequest struct {
	Body string `json:"body"`
}

// AddCommentHandler appends a comment to an approved blueprint.
// Implements: POST /api/blueprints/:id/comments (session required)
func AddCommentHandler(blueprints *repositories.BlueprintRepository, social *repositories.SocialRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := sessionUser(c)
		if !ok {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
			return
		}

		var req commentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "request body must be JSON with a body field")
			return
		}

		id := c.Param("id")
		if !requireApproved(c, blueprints, id) {
			return
		}

		comment, err := social.AddComment(c.Request.Context(), id, user.ID, req.Body)
		if err != nil {
			if errors.Is(err, repositories.ErrCommentBody) {
				respond.Error(c, http.StatusBadRequest, respond.CodeCommentInvalid, "comment must be 2 to 2000 characters")
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to store comment")
			return
		}

		telemetry.CommentsTotal.Inc()
		respond.OK(c, http.StatusCreated, gin.H{"comment": comment})
	}
}

// ListCommentsHandler returns one page of visible comments, newest first.
// Implements: GET /api/blueprints/:id/comments?limit=&cursor=
func ListCommentsHandler(social *repositories.SocialRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if limitStr := c.Query("limit"); limitStr != "" {
			n, err := strconv.Atoi(limitStr)
			if err != nil || n < 1 {
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "limit must be a positive integer")
				return
			}
			limit = n
		}

		var cur *cursor.Cursor
		if cursorStr := c.Query("cursor"); cursorStr != "" {
			decoded, err := cursor.Decode(cursorStr)
			if err != nil {
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "invalid cursor")
				return
			}
			cur = decoded
		}

		comments, next, err := social.ListComments(c.Request.Context(), c.Param("id"), limit, cur)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list comments")
			return
		}
		if comments == nil {
			comments = []*models.Comment{}
		}

		respond.OK(c, http.StatusOK, gin.H{
			"comments":   comments,
			"nextCursor": next,
		})
	}
}
