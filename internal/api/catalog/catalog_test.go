package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/internal/db/repositories"
	"github.com/blueprint-hub/blueprint-hub/internal/middleware"
	"github.com/blueprint-hub/blueprint-hub/internal/packagestore"
	"github.com/blueprint-hub/blueprint-hub/pkg/checksum"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("BPH_SIGNING_SECRET", "test-signing-secret-32-characters")
	os.Exit(m.Run())
}

var blueprintCols = []string{
	"id", "title", "summary", "category", "tags", "complexity", "company_stage",
	"team_size_band", "trust_label", "source_type", "status", "stars_count",
	"downloads_count", "comments_count", "latest_version_id", "latest_version_number",
	"author_id", "created_at", "updated_at", "author_handle",
}

var versionCols = []string{
	"id", "blueprint_id", "version_number", "status", "manifest", "storage_key",
	"size_bytes", "checksum", "parent_blueprint_id", "parent_version_id",
	"teams_count", "services_count", "goals_count", "initiatives_count",
	"work_packages_count", "author_id", "created_at",
}

func blueprintRow(rows *sqlmock.Rows, id string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, "Title "+id, "Summary", "devops", "{platform,devops}", "medium", "growth",
		"small", "community", "original", "approved", int64(3),
		int64(10), int64(1), "ver-1", 1,
		"user-1", now, now, "octocat",
	)
}

func newRepos(t *testing.T) (*repositories.BlueprintRepository, *repositories.SocialRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return repositories.NewBlueprintRepository(sqlxDB), repositories.NewSocialRepository(sqlxDB), mock
}

type envelope struct {
	Success    bool               `json:"success"`
	Blueprints []json.RawMessage  `json:"blueprints"`
	NextCursor *string            `json:"nextCursor"`
	Blueprint  *models.Blueprint  `json:"blueprint"`
	Manifest   json.RawMessage    `json:"manifest"`
	Starred    *bool              `json:"viewerHasStarred"`
	Error      string             `json:"error"`
	Code       string             `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %s: %v", w.Body.String(), err)
	}
	return env
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

func TestList_ReturnsApprovedPage(t *testing.T) {
	blueprints, _, mock := newRepos(t)
	mock.ExpectQuery(`SELECT\s+b\.id,.+FROM blueprints b`).
		WillReturnRows(blueprintRow(blueprintRow(sqlmock.NewRows(blueprintCols), "bp-a"), "bp-b"))

	r := gin.New()
	r.GET("/api/catalog", ListHandler(blueprints))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if !env.Success || len(env.Blueprints) != 2 {
		t.Errorf("expected 2 blueprints, got %d (success=%v)", len(env.Blueprints), env.Success)
	}
	if env.NextCursor != nil {
		t.Errorf("expected nil nextCursor on last page, got %q", *env.NextCursor)
	}
}

func TestList_EmptyCatalog(t *testing.T) {
	blueprints, _, mock := newRepos(t)
	mock.ExpectQuery(`SELECT\s+b\.id,.+FROM blueprints b`).
		WillReturnRows(sqlmock.NewRows(blueprintCols))

	r := gin.New()
	r.GET("/api/catalog", ListHandler(blueprints))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/catalog?query=nothing+matches", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// Empty page must serialize as [], not null.
	if !strings.Contains(w.Body.String(), `"blueprints":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestList_BadParameters(t *testing.T) {
	blueprints, _, _ := newRepos(t)
	r := gin.New()
	r.GET("/api/catalog", ListHandler(blueprints))

	cases := []struct {
		name string
		url  string
	}{
		{"unknown sort", "/api/catalog?sort=alphabetical"},
		{"zero limit", "/api/catalog?limit=0"},
		{"non-numeric limit", "/api/catalog?limit=ten"},
		{"garbled cursor", "/api/catalog?cursor=%25%25not-base64"},
		{"structurally valid base64, bad payload", "/api/catalog?cursor=bm90LWpzb24"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if env := decode(t, w); env.Code != "invalid_body" {
				t.Errorf("expected invalid_body code, got %q", env.Code)
			}
		})
	}
}

func TestList_DatabaseError(t *testing.T) {
	blueprints, _, mock := newRepos(t)
	mock.ExpectQuery(`SELECT\s+b\.id,.+FROM blueprints b`).
		WillReturnError(sqlmock.ErrCancelled)

	r := gin.New()
	r.GET("/api/catalog", ListHandler(blueprints))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Detail
// ---------------------------------------------------------------------------

func TestGet_AnonymousDetail(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(blueprintRow(sqlmock.NewRows(blueprintCols), "bp-a"))
	mock.ExpectQuery(`FROM blueprint_versions WHERE blueprint_id = \$1 AND status = 'approved' ORDER BY version_number DESC`).
		WithArgs("bp-a").
		WillReturnRows(sqlmock.NewRows(versionCols).AddRow(
			"ver-1", "bp-a", 1, "approved", []byte(`{"blueprintId":"bp-a"}`), models.ChunkStorageKey,
			int64(64), "sha256:abc", nil, nil,
			2, 3, 1, 1, 4, "user-1", time.Now(),
		))

	r := gin.New()
	r.GET("/api/blueprints/:id", GetHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if env.Blueprint == nil || env.Blueprint.ID != "bp-a" {
		t.Fatalf("missing blueprint in response: %s", w.Body.String())
	}
	if string(env.Manifest) != `{"blueprintId":"bp-a"}` {
		t.Errorf("manifest = %s", env.Manifest)
	}
	if env.Starred != nil {
		t.Error("anonymous detail must not report viewerHasStarred")
	}
}

func TestGet_AuthenticatedIncludesStarState(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(blueprintRow(sqlmock.NewRows(blueprintCols), "bp-a"))
	mock.ExpectQuery(`FROM blueprint_versions`).
		WithArgs("bp-a").
		WillReturnRows(sqlmock.NewRows(versionCols).AddRow(
			"ver-1", "bp-a", 1, "approved", []byte(`{}`), models.ChunkStorageKey,
			int64(2), "sha256:abc", nil, nil,
			0, 0, 0, 0, 0, "user-1", time.Now(),
		))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("user-9", "bp-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	r := gin.New()
	r.GET("/api/blueprints/:id", func(c *gin.Context) {
		c.Set(middleware.UserContextKey, &models.User{ID: "user-9", Handle: "viewer"})
	}, GetHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if env.Starred == nil || !*env.Starred {
		t.Errorf("expected viewerHasStarred true, got %v", env.Starred)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-missing").
		WillReturnRows(sqlmock.NewRows(blueprintCols))

	r := gin.New()
	r.GET("/api/blueprints/:id", GetHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-missing", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if env := decode(t, w); env.Code != "not_found" {
		t.Errorf("expected not_found code, got %q", env.Code)
	}
}

// ---------------------------------------------------------------------------
// Package download
// ---------------------------------------------------------------------------

func TestPackage_StreamsExactChunkedPayload(t *testing.T) {
	blueprints, _, mock := newRepos(t)
	payload := `{"formatVersion":"blueprint-package/v1","manifest":{"blueprintId":"bp-a"}}`

	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(blueprintRow(sqlmock.NewRows(blueprintCols), "bp-a"))
	mock.ExpectQuery(`FROM blueprint_versions WHERE blueprint_id = \$1 AND status = 'approved' ORDER BY version_number DESC`).
		WithArgs("bp-a").
		WillReturnRows(sqlmock.NewRows(versionCols).AddRow(
			"ver-1", "bp-a", 1, "approved", []byte(`{}`), models.ChunkStorageKey,
			int64(len(payload)), checksum.SHA256Bytes([]byte(payload)), nil, nil,
			0, 0, 0, 0, 0, "user-1", time.Now(),
		))
	mock.ExpectQuery(`FROM blueprint_package_chunks`).
		WithArgs("ver-1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).
			AddRow(payload[:30]).AddRow(payload[30:]))
	// Async best-effort counter bump; may land after the test returns.
	mock.ExpectExec(`UPDATE blueprints SET downloads_count`).
		WithArgs("bp-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := packagestore.New(nil, blueprints, 0)
	r := gin.New()
	r.GET("/api/blueprints/:id/package", PackageHandler(blueprints, store))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a/package?versionNumber=latest", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != payload {
		t.Errorf("payload mismatch:\ngot  %s\nwant %s", got, payload)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestPackage_SpecificVersionNotFound(t *testing.T) {
	blueprints, _, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(blueprintRow(sqlmock.NewRows(blueprintCols), "bp-a"))
	mock.ExpectQuery(`FROM blueprint_versions WHERE blueprint_id = \$1 AND version_number = \$2 AND status = 'approved'`).
		WithArgs("bp-a", 99).
		WillReturnRows(sqlmock.NewRows(versionCols))

	store := packagestore.New(nil, blueprints, 0)
	r := gin.New()
	r.GET("/api/blueprints/:id/package", PackageHandler(blueprints, store))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a/package?versionNumber=99", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPackage_BadVersionParameter(t *testing.T) {
	blueprints, _, _ := newRepos(t)
	store := packagestore.New(nil, blueprints, 0)
	r := gin.New()
	r.GET("/api/blueprints/:id/package", PackageHandler(blueprints, store))

	for _, v := range []string{"0", "-1", "two"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a/package?versionNumber="+v, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("versionNumber=%s: expected 400, got %d", v, w.Code)
		}
	}
}
