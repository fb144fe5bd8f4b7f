// Package catalog implements the public read surface of the marketplace: the
// filtered, searchable listing, blueprint detail, and raw package download.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
	"github.com/blueprint-hub/blueprint-hub/internal/middleware"
	"github.com/blueprint-hub/blueprint-hub/internal/packagestore"
	"github.com/blueprint-hub/blueprint-hub/internal/safego"
	"github.com/blueprint-hub/blueprint-hub/internal/telemetry"
	"github.com/blueprint-hub/blueprint-hub/pkg/cursor"
)

// ListHandler serves the catalog listing.
// Implements: GET /api/catalog?query=&category=&trustLabel=&complexity=&companyStage=&sourceType=&sort=&limit=&cursor=
func ListHandler(blueprints *repositories.BlueprintRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := repositories.ListParams{
			Query:        c.Query("query"),
			Category:     c.Query("category"),
			TrustLabel:   c.Query("trustLabel"),
			Complexity:   c.Query("complexity"),
			CompanyStage: c.Query("companyStage"),
			SourceType:   c.Query("sourceType"),
		}

		switch sort := c.DefaultQuery("sort", repositories.SortRecent); sort {
		case repositories.SortRecent, repositories.SortPopular:
			params.Sort = sort
		default:
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "sort must be recent or popular")
			return
		}

		if limitStr := c.Query("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 1 {
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "limit must be a positive integer")
				return
			}
			params.Limit = limit
		}

		if cursorStr := c.Query("cursor"); cursorStr != "" {
			cur, err := cursor.Decode(cursorStr)
			if err != nil {
				// Fail closed: a garbled cursor is a client error, not page one.
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "invalid cursor")
				return
			}
			params.Cursor = cur
		}

		rows, next, err := blueprints.List(c.Request.Context(), params)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list catalog")
			return
		}
		if rows == nil {
			rows = []*models.Blueprint{}
		}

		respond.OK(c, http.StatusOK, gin.H{
			"blueprints": rows,
			"nextCursor": next,
		})
	}
}

// GetHandler serves blueprint detail: approved-only metadata, the parsed
// manifest of the latest version, and the viewer's star state when a session
// is present.
// Implements: GET /api/blueprints/:id (optional session)
func GetHandler(blueprints *repositories.BlueprintRepository, social *repositories.SocialRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		bp, err := blueprints.GetApproved(ctx, id)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load blueprint")
			return
		}
		if bp == nil {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "blueprint not found")
			return
		}

		var manifest json.RawMessage
		version, err := blueprints.GetVersion(ctx, id, 0)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load blueprint version")
			return
		}
		if version != nil {
			manifest = version.Manifest
		}

		payload := gin.H{
			"blueprint": bp,
			"manifest":  manifest,
		}

		if value, exists := c.Get(middleware.UserContextKey); exists {
			if user, ok := value.(*models.User); ok {
				starred, err := social.HasStarred(ctx, user.ID, id)
				if err != nil {
					respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load star state")
					return
				}
				payload["viewerHasStarred"] = starred
			}
		}

		respond.OK(c, http.StatusOK, payload)
	}
}

// PackageHandler streams back the exact bytes of a stored package payload.
// Implements: GET /api/blueprints/:id/package?versionNumber=latest|N
func PackageHandler(blueprints *repositories.BlueprintRepository, store *packagestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		versionNumber := 0 // resolves to latest
		if raw := c.Query("versionNumber"); raw != "" && raw != "latest" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "versionNumber must be 'latest' or a positive integer")
				return
			}
			versionNumber = n
		}

		bp, err := blueprints.GetApproved(ctx, id)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load blueprint")
			return
		}
		if bp == nil {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "blueprint not found")
			return
		}

		version, err := blueprints.GetVersion(ctx, id, versionNumber)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load blueprint version")
			return
		}
		if version == nil {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "version not found")
			return
		}

		payload, err := store.Load(ctx, version)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load package payload")
			return
		}

		tier := "blob"
		if version.IsChunked() {
			tier = "chunks"
		}
		telemetry.PackageDownloadsTotal.WithLabelValues(tier).Inc()

		// Best-effort: a missed count never fails the read, and the counter
		// update runs off the request goroutine so it cannot slow the stream.
		safego.Go("increment downloads", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = blueprints.IncrementDownloads(ctx, id)
		})

		c.Data(http.StatusOK, "application/json", payload)
	}
}
