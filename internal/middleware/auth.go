// Package middleware provides Gin HTTP middleware for session authentication,
// admin token checks, rate limiting, security headers, CORS, and request ids.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → CORS → RequestID → Metrics → RateLimit → Session → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before session validation to block brute-force attempts
// before any signature or DB work.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
	"github.com/blueprint-hub/blueprint-hub/internal/auth"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
)

// Context keys populated by the session middleware.
const (
	UserContextKey   = "user"
	UserIDContextKey = "user_id"
)

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// SessionMiddleware validates the bearer session token and resolves it to a
// live user row. Signature, expiry, and token type are all enforced by
// ParseSessionToken; any failure aborts with 401 and the unauthorized code.
func SessionMiddleware(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "Missing bearer token")
			return
		}

		claims, err := auth.ParseSessionToken(token)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "Invalid or expired session")
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "Failed to load user")
			return
		}
		if user == nil {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "User not found")
			return
		}

		c.Set(UserContextKey, user)
		c.Set(UserIDContextKey, user.ID)
		c.Next()
	}
}

// OptionalSessionMiddleware resolves a session when one is presented but
// never aborts: anonymous requests and malformed tokens both continue with
// no user in context.
func OptionalSessionMiddleware(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		if claims, err := auth.ParseSessionToken(token); err == nil {
			user, err := userRepo.GetByID(c.Request.Context(), claims.UserID)
			if err == nil && user != nil {
				c.Set(UserContextKey, user)
				c.Set(UserIDContextKey, user.ID)
			}
		}

		c.Next()
	}
}
