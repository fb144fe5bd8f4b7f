// Package respond shapes every JSON response the service emits. All bodies
// share a {success, ...} envelope; failures additionally carry a stable
// machine-readable code and the request's correlation id.
package respond

import (
	"github.com/gin-gonic/gin"
)

// Stable error codes. Clients branch on these, never on message text.
const (
	CodeInvalidBody        = "invalid_body"
	CodeInvalidPackage     = "invalid_package"
	CodeSecretsDetected    = "secrets_detected"
	CodeInvalidBlueprintID = "invalid_blueprint_id"
	CodeBlueprintRemoved   = "blueprint_removed"
	CodeTooLarge           = "too_large"
	CodeDBWriteFailed      = "db_write_failed"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeOriginNotAllowed   = "origin_not_allowed"
	CodeAuthFailed         = "auth_failed"
	CodeCommentInvalid     = "comment_invalid"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// OK writes a success envelope merging payload into {success: true}.
func OK(c *gin.Context, status int, payload gin.H) {
	out := gin.H{"success": true}
	for k, v := range payload {
		out[k] = v
	}
	c.JSON(status, out)
}

// Error writes a failure envelope and aborts the handler chain. The
// correlation id is the request id stamped on the response by the request-id
// middleware.
func Error(c *gin.Context, status int, code, message string) {
	ErrorWith(c, status, code, message, nil)
}

// ErrorWith is Error plus extra envelope fields (e.g. secret-scan findings).
func ErrorWith(c *gin.Context, status int, code, message string, extra gin.H) {
	out := gin.H{
		"success":       false,
		"error":         message,
		"code":          code,
		"correlationId": c.Writer.Header().Get("X-Request-ID"),
	}
	for k, v := range extra {
		out[k] = v
	}
	c.AbortWithStatusJSON(status, out)
}
