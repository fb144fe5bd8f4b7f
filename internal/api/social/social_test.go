package social

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

var commentCols = []string{
	"id", "blueprint_id", "author_id", "body", "status", "created_at",
	"author_handle", "author_avatar",
}

func approvedRow(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(blueprintCols).AddRow(
		id, "Title", "Summary", "devops", "{platform}", "medium", "growth",
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

func asUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserContextKey, &models.User{ID: id, Handle: "viewer"})
	}
}

// ---------------------------------------------------------------------------
// Stars
// ---------------------------------------------------------------------------

func TestStar_RecordsAndReturnsCount(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(approvedRow("bp-a"))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO blueprint_stars`).
		WithArgs("user-9", "bp-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE blueprints\s+SET stars_count`).
		WithArgs("bp-a").
		WillReturnRows(sqlmock.NewRows([]string{"stars_count"}).AddRow(int64(4)))
	mock.ExpectCommit()

	r := gin.New()
	r.POST("/api/blueprints/:id/star", asUser("user-9"), StarHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-a/star", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Success    bool  `json:"success"`
		Starred    bool  `json:"starred"`
		StarsCount int64 `json:"starsCount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !body.Success || !body.Starred || body.StarsCount != 4 {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStar_RequiresSession(t *testing.T) {
	blueprints, social, _ := newRepos(t)
	r := gin.New()
	r.POST("/api/blueprints/:id/star", StarHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-a/star", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStar_UnknownBlueprint(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-missing").
		WillReturnRows(sqlmock.NewRows(blueprintCols))

	r := gin.New()
	r.POST("/api/blueprints/:id/star", asUser("user-9"), StarHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-missing/star", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUnstar_ReturnsRefreshedCount(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(approvedRow("bp-a"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM blueprint_stars`).
		WithArgs("user-9", "bp-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE blueprints\s+SET stars_count`).
		WithArgs("bp-a").
		WillReturnRows(sqlmock.NewRows([]string{"stars_count"}).AddRow(int64(2)))
	mock.ExpectCommit()

	r := gin.New()
	r.DELETE("/api/blueprints/:id/star", asUser("user-9"), UnstarHandler(blueprints, social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/blueprints/bp-a/star", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"starred":false`) {
		t.Errorf("expected starred false, got %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

func TestAddComment_Success(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(approvedRow("bp-a"))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO blueprint_comments`).
		WithArgs("bp-a", "user-9", "Great blueprint, adopted it wholesale.", models.CommentVisible).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("c-1", time.Now()))
	mock.ExpectExec(`UPDATE blueprints SET comments_count`).
		WithArgs("bp-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT handle, avatar_url FROM users`).
		WithArgs("user-9").
		WillReturnRows(sqlmock.NewRows([]string{"handle", "avatar_url"}).AddRow("viewer", ""))
	mock.ExpectCommit()

	r := gin.New()
	r.POST("/api/blueprints/:id/comments", asUser("user-9"), AddCommentHandler(blueprints, social))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-a/comments",
		strings.NewReader(`{"body":"Great blueprint, adopted it wholesale."}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"id":"c-1"`) {
		t.Errorf("expected stored comment in response, got %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddComment_BodyOutOfBounds(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-a").
		WillReturnRows(approvedRow("bp-a"))

	r := gin.New()
	r.POST("/api/blueprints/:id/comments", asUser("user-9"), AddCommentHandler(blueprints, social))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-a/comments",
		strings.NewReader(`{"body":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "comment_invalid") {
		t.Errorf("expected comment_invalid code, got %s", w.Body.String())
	}
}

func TestAddComment_MalformedBody(t *testing.T) {
	blueprints, social, _ := newRepos(t)
	r := gin.New()
	r.POST("/api/blueprints/:id/comments", asUser("user-9"), AddCommentHandler(blueprints, social))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-a/comments",
		strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAddComment_PendingBlueprintRejected(t *testing.T) {
	blueprints, social, mock := newRepos(t)
	// GetApproved filters on status, so a pending blueprint comes back empty.
	mock.ExpectQuery(`FROM blueprints b`).
		WithArgs("bp-pending").
		WillReturnRows(sqlmock.NewRows(blueprintCols))

	r := gin.New()
	r.POST("/api/blueprints/:id/comments", asUser("user-9"), AddCommentHandler(blueprints, social))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/blueprints/bp-pending/comments",
		strings.NewReader(`{"body":"still in review"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListComments_PageWithCursor(t *testing.T) {
	_, social, mock := newRepos(t)
	now := time.Now()
	rows := sqlmock.NewRows(commentCols)
	for _, id := range []string{"c-3", "c-2", "c-1"} {
		rows.AddRow(id, "bp-a", "user-9", "body "+id, "visible", now, "viewer", "")
	}
	mock.ExpectQuery(`FROM blueprint_comments c`).
		WithArgs("bp-a", 3).
		WillReturnRows(rows)

	r := gin.New()
	r.GET("/api/blueprints/:id/comments", ListCommentsHandler(social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a/comments?limit=2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Comments   []*models.Comment `json:"comments"`
		NextCursor *string           `json:"nextCursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(body.Comments))
	}
	if body.NextCursor == nil {
		t.Error("expected nextCursor for overfull page")
	}
}

func TestListComments_InvalidCursor(t *testing.T) {
	_, social, _ := newRepos(t)
	r := gin.New()
	r.GET("/api/blueprints/:id/comments", ListCommentsHandler(social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-a/comments?cursor=@@@", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListComments_EmptyPage(t *testing.T) {
	_, social, mock := newRepos(t)
	mock.ExpectQuery(`FROM blueprint_comments c`).
		WithArgs("bp-quiet", 21).
		WillReturnRows(sqlmock.NewRows(commentCols))

	r := gin.New()
	r.GET("/api/blueprints/:id/comments", ListCommentsHandler(social))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blueprints/bp-quiet/comments", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"comments":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}
