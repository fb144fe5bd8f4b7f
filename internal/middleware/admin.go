// admin.go provides middleware for authenticating moderation requests. Admin
// endpoints use a separate scheme ("Authorization: AdminToken <token>") that
// is independent of the session auth chain; the token's bcrypt hash lives in
// config, never the token itself.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
)

// AdminContextKey is set when a request is authenticated via admin token.
const AdminContextKey = "is_admin_request"

const (
	adminMaxAttempts = 5
	adminRateWindow  = time.Minute
)

// adminRateLimiter tracks per-IP attempt counts to prevent brute-force
// attacks on the admin token.
type adminRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newAdminRateLimiter() *adminRateLimiter {
	return &adminRateLimiter{attempts: make(map[string][]time.Time)}
}

func (rl *adminRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-adminRateWindow)
	recent := make([]time.Time, 0, len(rl.attempts[ip]))
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= adminMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}

	rl.attempts[ip] = append(recent, time.Now())
	return true
}

// AdminTokenMiddleware validates moderation requests. It checks that:
//  1. An admin token hash is configured at all (403 otherwise).
//  2. The IP is not rate-limited (max 5 attempts per minute).
//  3. The Authorization header carries "AdminToken <token>".
//  4. The token matches the configured bcrypt hash.
func AdminTokenMiddleware(tokenHash string) gin.HandlerFunc {
	rateLimiter := newAdminRateLimiter()

	return func(c *gin.Context) {
		if tokenHash == "" {
			respond.Error(c, http.StatusForbidden, respond.CodeUnauthorized,
				"Moderation is disabled: no admin token configured")
			return
		}

		clientIP := c.ClientIP()
		// Rate limit before doing any bcrypt work
		if !rateLimiter.allow(clientIP) {
			slog.Warn("admin middleware: rate limit exceeded", "ip", clientIP)
			respond.Error(c, http.StatusTooManyRequests, respond.CodeRateLimited,
				"Too many admin token attempts. Try again in one minute.")
			return
		}

		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "AdminToken") {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized,
				"Use: Authorization: AdminToken <token>")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(strings.TrimSpace(parts[1]))); err != nil {
			slog.Warn("admin middleware: invalid admin token", "ip", clientIP)
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "Invalid admin token")
			return
		}

		c.Set(AdminContextKey, true)
		c.Next()
	}
}
