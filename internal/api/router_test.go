package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueprint-hub/blueprint-hub/internal/auth"
	"github.com/blueprint-hub/blueprint-hub/internal/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("BPH_SIGNING_SECRET", "test-signing-secret-32-characters")
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Security.AllowedOrigins = []string{"https://hub.example.com"}
	cfg.Auth.GitHub.ClientID = "client-id"
	cfg.Auth.GitHub.ClientSecret = "client-secret"
	cfg.Auth.SessionTTL = time.Hour
	cfg.Auth.StateTTL = 10 * time.Minute
	cfg.Publish.MaxPackageBytes = 1 << 20
	cfg.Publish.ChunkSize = 64 * 1024
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *Services, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	router, svc, err := NewRouter(cfg, sqlx.NewDb(db, "sqlmock"))
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)

	return router, svc, mock
}

func TestRouteAuthRequirements(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	// Session routes reject anonymous callers before touching anything else.
	sessionRoutes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/me"},
		{http.MethodPost, "/api/publish"},
		{http.MethodPost, "/api/blueprints/bp-a/star"},
		{http.MethodDelete, "/api/blueprints/bp-a/star"},
		{http.MethodPost, "/api/blueprints/bp-a/comments"},
	}
	for _, r := range sessionRoutes {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(r.method, r.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s without session", r.method, r.path)
	}
}

func TestAdminRoutesDisabledWithoutTokenHash(t *testing.T) {
	// No admin token hash configured: the moderation surface is off entirely.
	router, _, _ := newTestRouter(t, testConfig())

	for _, path := range []string{
		"/api/admin/blueprints/bp-a/status",
		"/api/admin/comments/cm-a/status",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"status":"removed"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, "POST %s", path)
	}
}

func TestSessionRouteAcceptsValidToken(t *testing.T) {
	router, _, mock := newTestRouter(t, testConfig())

	token, err := auth.MintSessionToken("user-1", "octocat", time.Hour)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, github_id, handle`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "github_id", "handle", "display_name", "avatar_url",
			"risk_level", "auto_approve", "created_at", "updated_at",
		}).AddRow("user-1", int64(4242), "octocat", "The Octocat", "",
			"low", true, time.Now(), time.Now()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Contains(t, w.Body.String(), `"octocat"`)
}

func TestHealthz(t *testing.T) {
	router, _, mock := newTestRouter(t, testConfig())
	mock.ExpectPing()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestHealthz_DatabaseDown(t *testing.T) {
	router, _, mock := newTestRouter(t, testConfig())
	mock.ExpectPing().WillReturnError(http.ErrServerClosed)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyz_ChunkOnlyMode(t *testing.T) {
	// No primary blob backend configured: readiness reduces to the DB check.
	router, _, mock := newTestRouter(t, testConfig())
	mock.ExpectPing()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Contains(t, w.Body.String(), `"ready":true`)
	assert.NotContains(t, w.Body.String(), `"storage"`,
		"chunk-only readiness should not report a storage check")
}

func TestVersionEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version"`)
}

func TestCORSHeadersFollowAllowList(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Origin", "https://hub.example.com")
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://hub.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(w, req)
	assert.Equal(t, "null", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfigReloadChangesAllowList(t *testing.T) {
	router, svc, _ := newTestRouter(t, testConfig())

	newOrigin := "https://staging.example.com"
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Origin", newOrigin)
	router.ServeHTTP(w, req)
	require.Equal(t, "null", w.Header().Get("Access-Control-Allow-Origin"),
		"origin must not be allowed before reload")

	fresh := testConfig()
	fresh.Security.AllowedOrigins = append(fresh.Security.AllowedOrigins, newOrigin)
	svc.ApplyConfig(fresh)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Origin", newOrigin)
	router.ServeHTTP(w, req)
	assert.Equal(t, newOrigin, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no-such-route", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
