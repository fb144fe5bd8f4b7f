// blueprint_repository.go implements BlueprintRepository: the catalog schema
// queries, the single atomic publish transaction, and cursor-paginated listing.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/blueprint-hub/blueprint-hub/internal/db/models"
	"github.com/blueprint-hub/blueprint-hub/pkg/cursor"
)

// ErrBlueprintRemoved is returned when a publish targets an id whose current
// status is removed. Removed ids are terminal: no further versions may be
// published under them.
var ErrBlueprintRemoved = errors.New("blueprint id has been removed")

// BlueprintRepository handles database operations for blueprints and versions
type BlueprintRepository struct {
	db *sqlx.DB
}

// NewBlueprintRepository creates a new blueprint repository
func NewBlueprintRepository(db *sqlx.DB) *BlueprintRepository {
	return &BlueprintRepository{db: db}
}

// TokenizeTerms splits free text into the lowercase alphanumeric search tokens
// stored in blueprint_search_tokens. Tokens shorter than two characters are
// dropped; duplicates collapse. The same tokenizer runs on both the publish
// (index) side and the query side, so matching is exact.
func TokenizeTerms(s string) []string {
	var tokens []string
	seen := make(map[string]bool)

	var b strings.Builder
	flush := func() {
		if b.Len() >= 2 {
			tok := b.String()
			if !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// PublishParams carries everything the atomic publish transaction writes.
type PublishParams struct {
	Blueprint *models.Blueprint
	Version   *models.BlueprintVersion
	// Sink writes the package payload once the version number is known and
	// returns the storage key plus any database chunk rows to insert. It runs
	// with the blueprint row locked, so a racing publish can never derive a
	// blob key from a stale version number. Nil leaves Version.StorageKey
	// as provided and inserts no chunks.
	Sink func(versionNumber int) (storageKey string, chunks []string)
	// SearchTokens fully replaces the blueprint's token set
	SearchTokens []string
}

// Publish performs the single atomic catalog write for one publish: blueprint
// upsert, new version row, optional chunk rows, and full search-token rebuild.
// Everything commits or nothing does.
//
// The next version number is computed inside the transaction with the
// blueprint row locked, so two publishes racing on the same id serialize and
// can never mint the same number.
func (r *BlueprintRepository) Publish(ctx context.Context, p *PublishParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin publish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		curStatus string
		curLatest int
		exists    = true
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, latest_version_number FROM blueprints WHERE id = $1 FOR UPDATE`,
		p.Blueprint.ID,
	).Scan(&curStatus, &curLatest)
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		return fmt.Errorf("failed to lock blueprint row: %w", err)
	}

	if exists && curStatus == models.StatusRemoved {
		return ErrBlueprintRemoved
	}

	next := curLatest + 1
	if !exists {
		next = 1
	}

	bp := p.Blueprint
	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE blueprints
			SET title = $2, summary = $3, category = $4, tags = $5, complexity = $6,
			    company_stage = $7, team_size_band = $8, trust_label = $9,
			    source_type = $10, status = $11, updated_at = NOW()
			WHERE id = $1`,
			bp.ID, bp.Title, bp.Summary, bp.Category, bp.Tags, bp.Complexity,
			bp.CompanyStage, bp.TeamSizeBand, bp.TrustLabel, bp.SourceType, bp.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to update blueprint: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO blueprints
			  (id, title, summary, category, tags, complexity, company_stage,
			   team_size_band, trust_label, source_type, status, author_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			bp.ID, bp.Title, bp.Summary, bp.Category, bp.Tags, bp.Complexity,
			bp.CompanyStage, bp.TeamSizeBand, bp.TrustLabel, bp.SourceType,
			bp.Status, bp.AuthorID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert blueprint: %w", err)
		}
	}

	v := p.Version
	v.VersionNumber = next
	var chunks []string
	if p.Sink != nil {
		v.StorageKey, chunks = p.Sink(next)
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO blueprint_versions
		  (blueprint_id, version_number, status, manifest, storage_key, size_bytes, checksum,
		   parent_blueprint_id, parent_version_id,
		   teams_count, services_count, goals_count, initiatives_count, work_packages_count,
		   author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`,
		bp.ID, v.VersionNumber, v.Status, []byte(v.Manifest), v.StorageKey, v.SizeBytes, v.Checksum,
		v.ParentBlueprintID, v.ParentVersionID,
		v.TeamsCount, v.ServicesCount, v.GoalsCount, v.InitiativesCount, v.WorkPackagesCount,
		v.AuthorID,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert blueprint version: %w", err)
	}

	for i, body := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO blueprint_package_chunks (version_id, chunk_index, body) VALUES ($1, $2, $3)`,
			v.ID, i, body,
		)
		if err != nil {
			return fmt.Errorf("failed to insert package chunk %d: %w", i, err)
		}
	}

	// Full delete-then-insert rebuild keeps the token set exactly in sync with
	// the metadata just written.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM blueprint_search_tokens WHERE blueprint_id = $1`, bp.ID)
	if err != nil {
		return fmt.Errorf("failed to clear search tokens: %w", err)
	}
	for _, tok := range p.SearchTokens {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO blueprint_search_tokens (token, blueprint_id) VALUES ($1, $2)`,
			tok, bp.ID)
		if err != nil {
			return fmt.Errorf("failed to insert search token: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE blueprints
		SET latest_version_id = $2, latest_version_number = $3, updated_at = NOW()
		WHERE id = $1`,
		bp.ID, v.ID, v.VersionNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update latest-version pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit publish transaction: %w", err)
	}

	return nil
}

// Catalog sort orders
const (
	SortRecent  = "recent"
	SortPopular = "popular"
)

// ListParams filters and pages the catalog listing.
type ListParams struct {
	Query        string
	Category     string
	TrustLabel   string
	Complexity   string
	CompanyStage string
	SourceType   string
	Sort         string
	Limit        int
	Cursor       *cursor.Cursor
}

const catalogColumns = `
	b.id, b.title, b.summary, b.category, b.tags, b.complexity, b.company_stage,
	b.team_size_band, b.trust_label, b.source_type, b.status, b.stars_count,
	b.downloads_count, b.comments_count, b.latest_version_id, b.latest_version_number,
	b.author_id, b.created_at, b.updated_at, u.handle AS author_handle`

// List returns one page of approved blueprints plus the cursor for the next
// page (nil when this is the last page). Free-text queries AND together all
// tokens: a blueprint matches only when every token is present in its
// search-token set.
func (r *BlueprintRepository) List(ctx context.Context, p ListParams) ([]*models.Blueprint, *string, error) {
	where := []string{"b.status = 'approved'"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.Category != "" {
		where = append(where, "b.category = "+arg(p.Category))
	}
	if p.TrustLabel != "" {
		where = append(where, "b.trust_label = "+arg(p.TrustLabel))
	}
	if p.Complexity != "" {
		where = append(where, "b.complexity = "+arg(p.Complexity))
	}
	if p.CompanyStage != "" {
		where = append(where, "b.company_stage = "+arg(p.CompanyStage))
	}
	if p.SourceType != "" {
		where = append(where, "b.source_type = "+arg(p.SourceType))
	}

	if tokens := TokenizeTerms(p.Query); len(tokens) > 0 {
		// Logical AND across tokens: count distinct matches per blueprint and
		// require it to equal the number of query tokens.
		where = append(where, fmt.Sprintf(`b.id IN (
			SELECT blueprint_id FROM blueprint_search_tokens
			WHERE token = ANY(%s)
			GROUP BY blueprint_id
			HAVING COUNT(DISTINCT token) = %s
		)`, arg(pq.Array(tokens)), arg(len(tokens))))
	}

	orderBy := "b.updated_at DESC, b.id DESC"
	if p.Sort == SortPopular {
		orderBy = "b.stars_count DESC, b.updated_at DESC, b.id DESC"
	}

	if c := p.Cursor; c != nil {
		// "Strictly after the cursor row" under the listing's total order.
		// Row-value comparison matches lexicographic ordering because every
		// sort column is descending.
		if p.Sort == SortPopular && c.Stars != nil {
			where = append(where, fmt.Sprintf("(b.stars_count, b.updated_at, b.id) < (%s, %s, %s)",
				arg(*c.Stars), arg(c.UpdatedAt), arg(c.ID)))
		} else {
			where = append(where, fmt.Sprintf("(b.updated_at, b.id) < (%s, %s)",
				arg(c.UpdatedAt), arg(c.ID)))
		}
	}

	limit := p.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM blueprints b
		LEFT JOIN users u ON b.author_id = u.id
		WHERE %s
		ORDER BY %s
		LIMIT %s`,
		catalogColumns, strings.Join(where, " AND "), orderBy, arg(limit+1))

	var rows []*models.Blueprint
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, nil, fmt.Errorf("failed to list catalog: %w", err)
	}

	var next *string
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		var enc string
		if p.Sort == SortPopular {
			enc = cursor.EncodeWithStars(last.UpdatedAt, last.ID, last.StarsCount)
		} else {
			enc = cursor.Encode(last.UpdatedAt, last.ID)
		}
		next = &enc
	}

	return rows, next, nil
}

// GetApproved retrieves an approved blueprint by id with the author handle
// joined. Returns (nil, nil) when absent or not approved.
func (r *BlueprintRepository) GetApproved(ctx context.Context, id string) (*models.Blueprint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM blueprints b
		LEFT JOIN users u ON b.author_id = u.id
		WHERE b.id = $1 AND b.status = 'approved'`, catalogColumns)

	bp := &models.Blueprint{}
	err := r.db.GetContext(ctx, bp, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blueprint: %w", err)
	}
	return bp, nil
}

// GetAnyStatus retrieves a blueprint regardless of status (moderation surface).
func (r *BlueprintRepository) GetAnyStatus(ctx context.Context, id string) (*models.Blueprint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM blueprints b
		LEFT JOIN users u ON b.author_id = u.id
		WHERE b.id = $1`, catalogColumns)

	bp := &models.Blueprint{}
	err := r.db.GetContext(ctx, bp, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blueprint: %w", err)
	}
	return bp, nil
}

const versionColumns = `
	id, blueprint_id, version_number, status, manifest, storage_key, size_bytes, checksum,
	parent_blueprint_id, parent_version_id,
	teams_count, services_count, goals_count, initiatives_count, work_packages_count,
	author_id, created_at`

// GetVersion retrieves an approved version of a blueprint. versionNumber <= 0
// resolves to the latest approved version; versions still pending moderation
// are never served. Returns (nil, nil) when not found.
func (r *BlueprintRepository) GetVersion(ctx context.Context, blueprintID string, versionNumber int) (*models.BlueprintVersion, error) {
	var (
		query string
		args  []interface{}
	)
	if versionNumber > 0 {
		query = fmt.Sprintf(`SELECT %s FROM blueprint_versions WHERE blueprint_id = $1 AND version_number = $2 AND status = 'approved'`, versionColumns)
		args = []interface{}{blueprintID, versionNumber}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM blueprint_versions WHERE blueprint_id = $1 AND status = 'approved' ORDER BY version_number DESC LIMIT 1`, versionColumns)
		args = []interface{}{blueprintID}
	}

	v := &models.BlueprintVersion{}
	err := r.db.GetContext(ctx, v, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blueprint version: %w", err)
	}
	return v, nil
}

// GetChunks returns a version's package fragments in index order. Concatenated
// they reconstitute the exact original payload.
func (r *BlueprintRepository) GetChunks(ctx context.Context, versionID string) ([]string, error) {
	var chunks []string
	err := r.db.SelectContext(ctx, &chunks,
		`SELECT body FROM blueprint_package_chunks WHERE version_id = $1 ORDER BY chunk_index ASC`,
		versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get package chunks: %w", err)
	}
	return chunks, nil
}

// IncrementDownloads bumps the denormalized download counter. Callers treat
// failures as best-effort: a missed count never fails a read.
func (r *BlueprintRepository) IncrementDownloads(ctx context.Context, blueprintID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE blueprints SET downloads_count = downloads_count + 1 WHERE id = $1`,
		blueprintID)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	return nil
}

// SetStatus transitions a blueprint's moderation status. Approving a
// blueprint also approves its pending versions, so a version published while
// the blueprint awaited review becomes servable the moment the blueprint is.
func (r *BlueprintRepository) SetStatus(ctx context.Context, id, status string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin status transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE blueprints SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to set blueprint status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("blueprint not found")
	}

	if status == models.StatusApproved {
		_, err = tx.ExecContext(ctx,
			`UPDATE blueprint_versions SET status = 'approved' WHERE blueprint_id = $1 AND status = 'pending'`,
			id)
		if err != nil {
			return fmt.Errorf("failed to approve pending versions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status transaction: %w", err)
	}
	return nil
}
