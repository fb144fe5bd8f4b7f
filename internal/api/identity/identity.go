// Package identity implements the browser-facing half of the GitHub identity
// exchange. The flow is popup-based: the frontend opens /api/auth/github/start
// in a popup, GitHub redirects back to /api/auth/github/callback, and the
// callback delivers the minted session token to the opener window via
// postMessage targeted at the exact origin the flow started from. The backend
// itself stores no session state; the signed state token carries the origin
// across the round-trip.
package identity

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blueprint-hub/blueprint-hub/internal/api/respond"
	"github.com/blueprint-hub/blueprint-hub/internal/auth"
	"github.com/blueprint-hub/blueprint-hub/internal/auth/github"
	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
	"github.com/blueprint-hub/blueprint-hub/internal/middleware"
	"github.com/blueprint-hub/blueprint-hub/internal/telemetry"
)

// callbackPage delivers the exchange result to the window that opened the
// popup. The target origin is pinned to the origin embedded in the state
// token, so a hijacked popup cannot leak the token to another site.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Blueprint Hub</title></head>
<body>
<script>
(function () {
	var payload = {{.Payload}};
	var target = {{.Origin}};
	if (window.opener) {
		window.opener.postMessage(payload, target);
	}
	window.close();
})();
</script>
<p>Sign-in complete. You can close this window.</p>
</body>
</html>
`))

// exchangeResult is the postMessage payload delivered to the opener.
type exchangeResult struct {
	Type  string       `json:"type"`
	OK    bool         `json:"ok"`
	Token string       `json:"token,omitempty"`
	User  *models.User `json:"user,omitempty"`
	Error string       `json:"error,omitempty"`
}

// resultMessageType identifies exchange payloads among unrelated postMessage
// traffic on the opener.
const resultMessageType = "blueprint-hub:auth"

// StartHandler begins the identity exchange.
// Implements: GET /api/auth/github/start?origin=<caller origin>
//
// The caller origin must be on the configured allow-list; it is sealed into
// the signed state token so the callback can deliver the result to the same
// origin even if the allow-list changes mid-flight.
func StartHandler(provider *github.Client, isAllowed func(string) bool, stateTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Query("origin")
		if origin == "" || !isAllowed(origin) {
			respond.Error(c, http.StatusForbidden, respond.CodeOriginNotAllowed, "origin is not on the allow-list")
			return
		}

		state, err := auth.MintStateToken(origin, stateTTL)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to start sign-in")
			return
		}

		c.Redirect(http.StatusFound, provider.AuthorizationURL(state))
	}
}

// CallbackHandler completes the identity exchange.
// Implements: GET /api/auth/github/callback?code=<code>&state=<state>
//
// All outcomes after state verification render the postMessage page, so the
// opener always learns how the flow ended. A state token that fails
// verification yields a plain error response instead: without a trusted
// origin there is nowhere safe to post the result.
func CallbackHandler(provider *github.Client, users *repositories.UserRepository, isAllowed func(string) bool, sessionTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.ParseStateToken(c.Query("state"))
		if err != nil {
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			respond.Error(c, http.StatusBadRequest, respond.CodeAuthFailed, "invalid or expired state")
			return
		}
		// Re-check against the live allow-list: an origin removed while the
		// round-trip was in flight must not receive a token.
		if !isAllowed(claims.Origin) {
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			respond.Error(c, http.StatusForbidden, respond.CodeOriginNotAllowed, "origin is no longer on the allow-list")
			return
		}

		if errMsg := c.Query("error"); errMsg != "" {
			// Provider-side denial (user clicked cancel on GitHub)
			renderResult(c, claims.Origin, exchangeResult{Type: resultMessageType, OK: false, Error: "authorization denied"})
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			return
		}

		code := c.Query("code")
		if code == "" {
			renderResult(c, claims.Origin, exchangeResult{Type: resultMessageType, OK: false, Error: "missing authorization code"})
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			return
		}

		ctx := c.Request.Context()

		accessToken, err := provider.ExchangeCode(ctx, code)
		if err != nil {
			renderResult(c, claims.Origin, exchangeResult{Type: resultMessageType, OK: false, Error: "code exchange failed"})
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			return
		}

		profile, err := provider.FetchProfile(ctx, accessToken)
		if err != nil {
			renderResult(c, claims.Origin, exchangeResult{Type: resultMessageType, OK: false, Error: "profile resolution failed"})
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			return
		}

		riskLevel, autoApprove := github.AssessRisk(profile, time.Now())

		user := &models.User{
			GitHubID:    profile.ID,
			Handle:      profile.Login,
			DisplayName: profile.Name,
			AvatarURL:   profile.AvatarURL,
			RiskLevel:   riskLevel,
			AutoApprove: autoApprove,
		}
		if err := users.UpsertByGitHubID(ctx, user); err != nil {
			renderResult(c, claims.Origin, exchangeResult{Type: resultMessageType, OK: false, Error: "account update failed"})
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			return
		}

		sessionToken, err := auth.MintSessionToken(user.ID, user.Handle, sessionTTL)
		if err != nil {
			renderResult(c, claims.Origin, exchangeResult{Type: resultMessageType, OK: false, Error: "session creation failed"})
			telemetry.AuthExchangesTotal.WithLabelValues("failed").Inc()
			return
		}

		telemetry.AuthExchangesTotal.WithLabelValues("ok").Inc()
		renderResult(c, claims.Origin, exchangeResult{
			Type:  resultMessageType,
			OK:    true,
			Token: sessionToken,
			User:  user,
		})
	}
}

func renderResult(c *gin.Context, origin string, result exchangeResult) {
	// The callback page runs an inline script and posts to the opener, so it
	// needs a CSP that the API-wide default-src 'none' policy would block.
	c.Header("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)

	err := callbackPage.Execute(c.Writer, gin.H{
		"Payload": result,
		"Origin":  origin,
	})
	if err != nil {
		_ = c.Error(err)
	}
}

// MeHandler returns the authenticated caller's account.
// Implements: GET /api/me (session required)
func MeHandler() gin.HandlerFunc {
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
		respond.OK(c, http.StatusOK, gin.H{"user": user})
	}
}
