// cors.go implements the CORS edge policy: the request Origin is echoed back
// only when it is present in the configured allow-list; anything else gets
// the literal "null" marker so browsers refuse the response. Preflights are
// answered uniformly without reaching handlers.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware shapes cross-origin headers on every response. isAllowed is
// consulted per request so a hot-reloaded allow-list takes effect without a
// restart.
func CORSMiddleware(isAllowed func(origin string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			allowed := "null"
			if isAllowed(origin) {
				allowed = origin
			}
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
