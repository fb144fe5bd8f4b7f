// Package api wires together all HTTP routes for the Blueprint Hub backend.
//
// Routes are declared in an explicit table mapping (method, path) to a handler
// plus a declared auth requirement, rather than being registered ad hoc at
// call sites. The table keeps the dispatch surface reviewable in one place and
// lets tests assert the auth level of every route.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/blueprint-hub/blueprint-hub/internal/api/admin"
	"github.com/blueprint-hub/blueprint-hub/internal/api/catalog"
	"github.com/blueprint-hub/blueprint-hub/internal/api/identity"
	"github.com/blueprint-hub/blueprint-hub/internal/api/publish"
	"github.com/blueprint-hub/blueprint-hub/internal/api/social"
	"github.com/blueprint-hub/blueprint-hub/internal/auth/github"
	"github.com/blueprint-hub/blueprint-hub/internal/config"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
	"github.com/blueprint-hub/blueprint-hub/internal/middleware"
	"github.com/blueprint-hub/blueprint-hub/internal/packagestore"
	"github.com/blueprint-hub/blueprint-hub/internal/storage"

	// Import storage backends to register them
	_ "github.com/blueprint-hub/blueprint-hub/internal/storage/azure"
	_ "github.com/blueprint-hub/blueprint-hub/internal/storage/gcs"
	_ "github.com/blueprint-hub/blueprint-hub/internal/storage/local"
	_ "github.com/blueprint-hub/blueprint-hub/internal/storage/s3"
)

// authLevel is the declared authentication requirement of a route.
type authLevel int

const (
	// authNone: public route, no session inspected
	authNone authLevel = iota
	// authOptional: session attached when present, never required
	authOptional
	// authSession: a valid session is mandatory
	authSession
	// authAdmin: the operator token guard
	authAdmin
)

// limitClass selects which rate-limit budget a route draws from.
type limitClass int

const (
	limitGeneral limitClass = iota
	limitAuth
	limitPublish
)

type route struct {
	method  string
	path    string
	auth    authLevel
	limit   limitClass
	handler gin.HandlerFunc
}

// Services holds shared resources created by NewRouter that outlive single
// requests. The caller stops them during graceful shutdown and feeds it fresh
// configuration snapshots from config.Watch.
type Services struct {
	cfg          atomic.Pointer[config.Config]
	rateLimiters []*middleware.RateLimiter
	redisClient  *redis.Client
}

// ApplyConfig installs a fresh configuration snapshot. Only the caller-origin
// allow-list is consulted per-request; everything else is fixed at startup.
func (s *Services) ApplyConfig(fresh *config.Config) {
	s.cfg.Store(fresh)
	slog.Info("configuration reloaded", "allowed_origins", fresh.Security.AllowedOrigins)
}

// Shutdown stops background goroutines after the HTTP server has drained.
func (s *Services) Shutdown() {
	for _, rl := range s.rateLimiters {
		rl.Stop()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *Services, error) {
	blob, err := storage.NewBlob(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	if blob == nil {
		slog.Info("no primary blob backend configured; packages stored as database chunks")
	} else {
		slog.Info("blob storage initialized", "backend", cfg.Storage.PrimaryBackend)
	}

	userRepo := repositories.NewUserRepository(db)
	blueprintRepo := repositories.NewBlueprintRepository(db)
	socialRepo := repositories.NewSocialRepository(db)
	store := packagestore.New(blob, blueprintRepo, cfg.Publish.ChunkSize)

	provider := github.NewClient(github.Options{
		ClientID:     cfg.Auth.GitHub.ClientID,
		ClientSecret: cfg.Auth.GitHub.ClientSecret,
		APIBaseURL:   cfg.Auth.GitHub.APIBaseURL,
	})

	svc := &Services{}
	svc.cfg.Store(cfg)
	isAllowed := func(origin string) bool {
		return svc.cfg.Load().IsOriginAllowed(origin)
	}

	var redisClient *redis.Client
	if addr := cfg.Security.RateLimiting.RedisAddr; addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Security.RateLimiting.RedisPassword,
		})
		svc.redisClient = redisClient
		slog.Info("redis-backed rate limiting enabled", "addr", addr)
	}

	// One limiter per budget class. With Redis configured the budget is shared
	// across replicas; otherwise each process keeps its own buckets.
	limitFor := func(rlc middleware.RateLimitConfig) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		if redisClient != nil {
			return middleware.RedisRateLimitMiddleware(redisClient, rlc)
		}
		limiter := middleware.NewRateLimiter(rlc)
		svc.rateLimiters = append(svc.rateLimiters, limiter)
		return middleware.RateLimitMiddleware(limiter)
	}
	limits := map[limitClass]gin.HandlerFunc{
		limitGeneral: limitFor(middleware.DefaultRateLimitConfig()),
		limitAuth:    limitFor(middleware.AuthRateLimitConfig()),
		limitPublish: limitFor(middleware.PublishRateLimitConfig()),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.CORSMiddleware(isAllowed))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())

	routes := []route{
		// System
		{http.MethodGet, "/healthz", authNone, limitGeneral, healthzHandler(db)},
		{http.MethodGet, "/readyz", authNone, limitGeneral, readyzHandler(db, blob)},
		{http.MethodGet, "/version", authNone, limitGeneral, versionHandler()},

		// Identity exchange
		{http.MethodGet, "/api/auth/github/start", authNone, limitAuth,
			identity.StartHandler(provider, isAllowed, cfg.Auth.StateTTL)},
		{http.MethodGet, "/api/auth/github/callback", authNone, limitAuth,
			identity.CallbackHandler(provider, userRepo, isAllowed, cfg.Auth.SessionTTL)},
		{http.MethodGet, "/api/me", authSession, limitGeneral, identity.MeHandler()},

		// Catalog
		{http.MethodGet, "/api/catalog", authNone, limitGeneral, catalog.ListHandler(blueprintRepo)},
		{http.MethodGet, "/api/blueprints/:id", authOptional, limitGeneral,
			catalog.GetHandler(blueprintRepo, socialRepo)},
		{http.MethodGet, "/api/blueprints/:id/package", authNone, limitGeneral,
			catalog.PackageHandler(blueprintRepo, store)},

		// Publishing
		{http.MethodPost, "/api/publish", authSession, limitPublish,
			publish.Handler(blueprintRepo, store, cfg.Publish.MaxPackageBytes)},

		// Social signals
		{http.MethodPost, "/api/blueprints/:id/star", authSession, limitGeneral,
			social.StarHandler(blueprintRepo, socialRepo)},
		{http.MethodDelete, "/api/blueprints/:id/star", authSession, limitGeneral,
			social.UnstarHandler(blueprintRepo, socialRepo)},
		{http.MethodGet, "/api/blueprints/:id/comments", authNone, limitGeneral,
			social.ListCommentsHandler(socialRepo)},
		{http.MethodPost, "/api/blueprints/:id/comments", authSession, limitGeneral,
			social.AddCommentHandler(blueprintRepo, socialRepo)},

		// Moderation
		{http.MethodPost, "/api/admin/blueprints/:id/status", authAdmin, limitGeneral,
			admin.SetBlueprintStatusHandler(blueprintRepo)},
		{http.MethodPost, "/api/admin/comments/:id/status", authAdmin, limitGeneral,
			admin.SetCommentStatusHandler(socialRepo)},
	}

	session := middleware.SessionMiddleware(userRepo)
	optionalSession := middleware.OptionalSessionMiddleware(userRepo)
	adminGuard := middleware.AdminTokenMiddleware(cfg.Security.AdminTokenHash)

	for _, r := range routes {
		chain := []gin.HandlerFunc{limits[r.limit]}
		switch r.auth {
		case authOptional:
			chain = append(chain, optionalSession)
		case authSession:
			chain = append(chain, session)
		case authAdmin:
			chain = append(chain, adminGuard)
		}
		chain = append(chain, r.handler)
		router.Handle(r.method, r.path, chain...)
	}

	return router, svc, nil
}

// healthzHandler is the liveness probe: process up, database reachable.
func healthzHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readyzHandler is the readiness probe. Unlike healthz it also probes the
// primary blob tier when one is configured, so a readiness gate fails while
// package reads would error. Chunk-only deployments are ready whenever the
// database is.
func readyzHandler(db *sqlx.DB, blob storage.Blob) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if blob != nil {
			// Exists on a known-absent key exercises auth and connectivity
			// without creating state.
			if _, err := blob.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "blob storage not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler reports the service version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// Version is the service version, overridable at build time via -ldflags.
var Version = "0.1.0"

// requestLogger emits one structured record per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
		)
	}
}
