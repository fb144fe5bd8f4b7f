// Package admin implements the operator moderation surface. Routes here sit
// behind the admin-token guard; they act on moderation statuses only and
// never touch package payloads.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
)

type statusRequest struct {
	Status string `json:"status"`
}

// SetBlueprintStatusHandler transitions a blueprint's moderation status.
// Setting "removed" is terminal for the id: later publishes against it are
// rejected.
// Implements: POST /api/admin/blueprints/:id/status (admin token required)
func SetBlueprintStatusHandler(blueprints *repositories.BlueprintRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "request body must be JSON with a status field")
			return
		}

		switch req.Status {
		case models.StatusPending, models.StatusApproved, models.StatusRemoved:
		default:
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "status must be pending, approved, or removed")
			return
		}

		id := c.Param("id")
		if err := blueprints.SetStatus(c.Request.Context(), id, req.Status); err != nil {
			if strings.Contains(err.Error(), "not found") {
				respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "blueprint not found")
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to set blueprint status")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{"blueprintId": id, "status": req.Status})
	}
}

// SetCommentStatusHandler hides or restores a comment, keeping the parent
// blueprint's comment counter in step.
// Implements: POST /api/admin/comments/:id/status (admin token required)
func SetCommentStatusHandler(social *repositories.SocialRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "request body must be JSON with a status field")
			return
		}

		switch req.Status {
		case models.CommentVisible, models.CommentHidden:
		default:
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "status must be visible or hidden")
			return
		}

		id := c.Param("id")
		if err := social.SetCommentStatus(c.Request.Context(), id, req.Status); err != nil {
			if strings.Contains(err.Error(), "not found") {
				respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "comment not found")
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to set comment status")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{"commentId": id, "status": req.Status})
	}
}
