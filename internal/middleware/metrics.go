// metrics.go records the per-request Prometheus series. The path label uses
// c.FullPath() — the matched route template — so raw URLs with ids do not
// inflate label cardinality; unmatched requests collapse into "<no-route>".
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blueprint-hub/blueprint-hub/internal/telemetry"
)

// MetricsMiddleware records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for every request. Register
// after gin.Recovery() and RequestIDMiddleware so error statuses are
// captured correctly.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
