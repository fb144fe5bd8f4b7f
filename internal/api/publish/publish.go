// Package publish implements the package intake endpoint: streamed size caps,
// structural validation, the secret scan, tiered payload storage, and the
// single atomic catalog write.
package publish

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
	"github.com/blueprint-hub/blueprint-hub/internal/intake"
	"github.com/blueprint-hub/blueprint-hub/internal/middleware"
	"github.com/blueprint-hub/blueprint-hub/internal/packagestore"
	"github.com/blueprint-hub/blueprint-hub/internal/telemetry"
	"github.com/blueprint-hub/blueprint-hub/pkg/checksum"
)

// Trust labels shown in the catalog, derived from the publisher's risk score
// at publish time.
const (
	TrustVerified  = "verified"
	TrustCommunity = "community"
)

func trustLabelFor(user *models.User) string {
	if user.AutoApprove {
		return TrustVerified
	}
	return TrustCommunity
}

// searchTerms collects the metadata text that feeds the search-token index.
func searchTerms(p *intake.Package) []string {
	text := p.Slug + " " + p.Manifest.Title + " " + p.Manifest.Summary + " " + p.Manifest.Category
	for _, tag := range p.Manifest.Tags {
		text += " " + tag
	}
	return repositories.TokenizeTerms(text)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Handler accepts a blueprint package submission.
// Implements: POST /api/publish (session required)
func Handler(blueprints *repositories.BlueprintRepository, store *packagestore.Store, maxPackageBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(middleware.UserContextKey)
		if !exists {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
			return
		}
		user, ok := value.(*models.User)
		if !ok {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "session context corrupted")
			return
		}

		ctx := c.Request.Context()

		raw, err := intake.ReadBody(c.Request.Body, maxPackageBytes)
		if err != nil {
			telemetry.PublishesTotal.WithLabelValues(respond.CodeInvalidBody).Inc()
			if errors.Is(err, intake.ErrTooLarge) {
				respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeInvalidBody, "package exceeds the size limit")
				return
			}
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "failed to read request body")
			return
		}

		pkg, err := intake.Validate(raw, maxPackageBytes)
		if err != nil {
			switch {
			case errors.Is(err, intake.ErrNotJSON):
				telemetry.PublishesTotal.WithLabelValues(respond.CodeInvalidBody).Inc()
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBody, "package body must be a JSON object")
			case errors.Is(err, intake.ErrTooLarge):
				telemetry.PublishesTotal.WithLabelValues(respond.CodeTooLarge).Inc()
				respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeTooLarge, "package exceeds the size limit after serialization")
			case errors.Is(err, intake.ErrInvalidBlueprintID):
				telemetry.PublishesTotal.WithLabelValues(respond.CodeInvalidBlueprintID).Inc()
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidBlueprintID, "blueprint id does not normalize to a usable slug")
			default:
				telemetry.PublishesTotal.WithLabelValues(respond.CodeInvalidPackage).Inc()
				respond.Error(c, http.StatusBadRequest, respond.CodeInvalidPackage, err.Error())
			}
			return
		}

		if findings := intake.ScanSecrets(pkg.Root); len(findings) > 0 {
			for _, f := range findings {
				telemetry.SecretFindingsTotal.WithLabelValues(f.Rule).Inc()
			}
			telemetry.PublishesTotal.WithLabelValues(respond.CodeSecretsDetected).Inc()
			respond.ErrorWith(c, http.StatusUnprocessableEntity, respond.CodeSecretsDetected,
				"package contains credential-shaped content", gin.H{"findings": findings})
			return
		}

		status := models.StatusPending
		if user.AutoApprove {
			status = models.StatusApproved
		}

		manifestJSON, err := json.Marshal(pkg.Root["manifest"])
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidPackage, "manifest not serializable")
			return
		}

		params := &repositories.PublishParams{
			Blueprint: &models.Blueprint{
				ID:           pkg.Slug,
				Title:        pkg.Manifest.Title,
				Summary:      pkg.Manifest.Summary,
				Category:     pkg.Manifest.Category,
				Tags:         pq.StringArray(pkg.Manifest.Tags),
				Complexity:   pkg.Manifest.Complexity,
				CompanyStage: pkg.Manifest.CompanyStage,
				TeamSizeBand: pkg.Manifest.TeamSizeBand,
				TrustLabel:   trustLabelFor(user),
				SourceType:   pkg.Manifest.SourceType,
				Status:       status,
				AuthorID:     &user.ID,
			},
			Version: &models.BlueprintVersion{
				BlueprintID:       pkg.Slug,
				Status:            status,
				Manifest:          manifestJSON,
				SizeBytes:         int64(len(pkg.Raw)),
				Checksum:          checksum.SHA256Bytes(pkg.Raw),
				ParentBlueprintID: optional(pkg.Manifest.ParentBlueprintID),
				ParentVersionID:   optional(pkg.Manifest.ParentVersionID),
				TeamsCount:        pkg.Counts.Teams,
				ServicesCount:     pkg.Counts.Services,
				GoalsCount:        pkg.Counts.Goals,
				InitiativesCount:  pkg.Counts.Initiatives,
				WorkPackagesCount: pkg.Counts.WorkPackages,
				AuthorID:          &user.ID,
			},
			Sink: func(versionNumber int) (string, []string) {
				return store.Save(ctx, pkg.Slug, versionNumber, pkg.Raw)
			},
			SearchTokens: searchTerms(pkg),
		}

		if err := blueprints.Publish(ctx, params); err != nil {
			if errors.Is(err, repositories.ErrBlueprintRemoved) {
				telemetry.PublishesTotal.WithLabelValues(respond.CodeBlueprintRemoved).Inc()
				respond.Error(c, http.StatusGone, respond.CodeBlueprintRemoved, "blueprint id has been removed and cannot be republished")
				return
			}
			telemetry.PublishesTotal.WithLabelValues(respond.CodeDBWriteFailed).Inc()
			respond.Error(c, http.StatusBadGateway, respond.CodeDBWriteFailed, "catalog write failed, retry later")
			return
		}

		telemetry.PublishesTotal.WithLabelValues(status).Inc()
		respond.OK(c, http.StatusCreated, gin.H{
			"blueprintId":   pkg.Slug,
			"versionId":     params.Version.ID,
			"versionNumber": params.Version.VersionNumber,
			"status":        status,
			"autoApproved":  user.AutoApprove,
		})
	}
}
