// Package telemetry provides application-level observability for Blueprint Hub.
//
// All metrics are registered against the default Prometheus registry and exposed
// on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<BPH_TELEMETRY_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, keeping the
// scrape path off the public ingress and out of the rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/blueprints/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as blueprint ids.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Registry domain metrics.
//
// PublishesTotal is labelled by outcome: "approved", "pending", or one of the
// intake failure codes (invalid_body, invalid_package, secrets_detected,
// invalid_blueprint_id, blueprint_removed, too_large, db_write_failed).
// An alert on rate(blueprint_publishes_total{outcome="db_write_failed"}[15m]) > 0
// catches storage-layer regressions early.
//
// SecretFindingsTotal counts individual secret-scan findings by rule id, which
// is useful for tuning the heuristic rules against false-positive noise.
var (
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_publishes_total",
			Help: "Total number of publish attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	SecretFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_secret_findings_total",
			Help: "Total number of secret-scan findings that blocked a publish, by rule id.",
		},
		[]string{"rule"},
	)

	PackageDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_package_downloads_total",
			Help: "Total number of package payload downloads, by storage tier (blob or chunks).",
		},
		[]string{"tier"},
	)

	ChunkFallbackWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blueprint_chunk_fallback_writes_total",
			Help: "Total number of package writes that fell back to database chunk storage.",
		},
	)

	StarsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_stars_total",
			Help: "Total number of star/unstar operations, by action.",
		},
		[]string{"action"},
	)

	CommentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blueprint_comments_total",
			Help: "Total number of comments created.",
		},
	)

	AuthExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_exchanges_total",
			Help: "Total number of identity-provider code exchanges, by outcome (ok, failed).",
		},
		[]string{"outcome"},
	)
)

// DBOpenConnections tracks the number of open connections currently held by the
// sql.DB pool. It is sampled every 30 seconds by StartDBStatsCollector rather
// than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates DBOpenConnections.
// The goroutine exits when the database becomes unreachable, which happens
// automatically when the application shuts down and defers db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
