package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Pragmas travel in the DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	country    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '',
	definition TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assessments (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	template_id       TEXT NOT NULL REFERENCES templates(id),
	academic_year     TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'draft',
	overall_score     REAL,
	submitted_at      DATETIME,
	status_changed_at DATETIME NOT NULL,
	archived_at       DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (tenant_id, academic_year)
);

CREATE INDEX IF NOT EXISTS idx_assessments_year_status ON assessments(academic_year, status);

CREATE TABLE IF NOT EXISTS responses (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	item_id       TEXT NOT NULL,
	partner_id    TEXT NOT NULL DEFAULT '',
	value         TEXT,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (assessment_id, item_id, partner_id)
);

CREATE TABLE IF NOT EXISTS theme_scores (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	theme_id      TEXT NOT NULL,
	theme_slug    TEXT NOT NULL,
	theme_name    TEXT NOT NULL DEFAULT '',
	weight        REAL NOT NULL,
	score         REAL NOT NULL,
	max_score     REAL NOT NULL,
	percentage    REAL NOT NULL,
	PRIMARY KEY (assessment_id, theme_id)
);

CREATE TABLE IF NOT EXISTS item_scores (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	item_id       TEXT NOT NULL,
	item_code     TEXT NOT NULL,
	theme_id      TEXT NOT NULL,
	field_type    TEXT NOT NULL,
	weight        REAL NOT NULL,
	ai_score      REAL,
	ai_feedback   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (assessment_id, item_id)
);

CREATE TABLE IF NOT EXISTS score_summaries (
	assessment_id      TEXT PRIMARY KEY REFERENCES assessments(id),
	overall_score      REAL NOT NULL,
	overall_max_score  REAL NOT NULL,
	overall_percentage REAL NOT NULL,
	issues             TEXT NOT NULL DEFAULT '[]',
	items_scored       INTEGER NOT NULL DEFAULT 0,
	items_failed       INTEGER NOT NULL DEFAULT 0,
	scored_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	assessment_id   TEXT NOT NULL REFERENCES assessments(id),
	version         INTEGER NOT NULL,
	sections        TEXT NOT NULL,
	recommendations TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	UNIQUE (assessment_id, version)
);

CREATE TABLE IF NOT EXISTS ai_jobs (
	id            TEXT PRIMARY KEY,
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	job_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	progress      REAL NOT NULL DEFAULT 0,
	error_message TEXT,
	result_data   TEXT,
	created_at    DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ai_jobs_active
	ON ai_jobs(assessment_id, job_type) WHERE status IN ('queued', 'processing');
CREATE INDEX IF NOT EXISTS idx_ai_jobs_status_created ON ai_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS ai_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tenants ---

func (s *SQLiteStore) UpsertTenant(ctx context.Context, t model.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, country, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, country = excluded.country`,
		t.ID, t.Name, t.Country, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert tenant %s", t.ID)
}

func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, country FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Country)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tenant %s", id)
	}
	return &t, nil
}

// --- Templates ---

func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *model.Template) error {
	def, err := json.Marshal(tpl)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal template")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, version, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, version = excluded.version,
		 definition = excluded.definition, updated_at = excluded.updated_at`,
		tpl.ID, tpl.Name, tpl.Version, string(def), now, now,
	)
	return eris.Wrapf(err, "sqlite: save template %s", tpl.ID)
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var def string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM templates WHERE id = ?`, id).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("template %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get template %s", id)
	}
	return decodeTemplate([]byte(def))
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM templates ORDER BY name, version`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Template
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		tpl, err := decodeTemplate([]byte(def))
		if err != nil {
			return nil, err
		}
		out = append(out, *tpl)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list templates iterate")
}

func decodeTemplate(def []byte) (*model.Template, error) {
	var tpl model.Template
	if err := json.Unmarshal(def, &tpl); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal template")
	}
	tpl.Index()
	return &tpl, nil
}

// --- Assessments ---

const sqliteAssessmentColumns = `id, tenant_id, template_id, academic_year, status, overall_score,
	submitted_at, status_changed_at, archived_at, created_at, updated_at`

func (s *SQLiteStore) CreateAssessment(ctx context.Context, a *model.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = model.StatusDraft
	a.StatusChangedAt, a.CreatedAt, a.UpdatedAt = now, now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, tenant_id, template_id, academic_year, status, status_changed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.TemplateID, a.AcademicYear, string(a.Status), now, now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apperr.Conflict("an assessment for %s already exists for tenant %s", a.AcademicYear, a.TenantID)
	}
	return eris.Wrapf(err, "sqlite: insert assessment %s", a.ID)
}

func (s *SQLiteStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAssessmentColumns+` FROM assessments WHERE id = ?`, id)
	a, err := scanSQLiteAssessment(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("assessment %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assessment %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, filter AssessmentFilter) ([]model.Assessment, error) {
	query := `SELECT ` + sqliteAssessmentColumns + ` FROM assessments WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.AcademicYear != "" {
		query += ` AND academic_year = ?`
		args = append(args, filter.AcademicYear)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assessments")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Assessment
	for rows.Next() {
		a, err := scanSQLiteAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assessments iterate")
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, change model.StatusChange) error {
	at := change.At.UTC()
	query := `UPDATE assessments SET status = ?, status_changed_at = ?, updated_at = ?`
	args := []any{string(change.To), at, at}
	if change.To == model.StatusSubmitted {
		query += `, submitted_at = ?`
		args = append(args, at)
	}
	query += ` WHERE id = ? AND status = ? AND archived_at IS NULL`
	args = append(args, change.AssessmentID, string(change.From))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", change.AssessmentID)
	}
	return casResult(res, change)
}

func (s *SQLiteStore) ArchiveAssessment(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive assessment %s", id)
	}
	return checkRowsAffected(res, "assessment", id)
}

// --- Responses ---

const sqliteGuardedUpsert = `INSERT INTO responses (assessment_id, item_id, partner_id, value, updated_at)
	SELECT ?, ?, ?, ?, ? WHERE EXISTS (
		SELECT 1 FROM assessments WHERE id = ? AND status = 'draft' AND archived_at IS NULL
	)
	ON CONFLICT (assessment_id, item_id, partner_id)
	DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertResponse(ctx context.Context, r model.Response) error {
	res, err := s.db.ExecContext(ctx, sqliteGuardedUpsert, responseArgs(r)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert response %s/%s", r.AssessmentID, r.ItemID)
	}
	return writableResult(res, r.AssessmentID)
}

func (s *SQLiteStore) BulkUpsertResponses(ctx context.Context, assessmentID string, rs []model.Response) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin bulk upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteGuardedUpsert)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare bulk upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rs {
		r.AssessmentID = assessmentID
		res, err := stmt.ExecContext(ctx, responseArgs(r)...)
		if err != nil {
			return eris.Wrapf(err, "sqlite: bulk upsert response %s/%s", assessmentID, r.ItemID)
		}
		if err := writableResult(res, assessmentID); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit bulk upsert")
}

func responseArgs(r model.Response) []any {
	updated := r.UpdatedAt.UTC()
	if r.UpdatedAt.IsZero() {
		updated = time.Now().UTC()
	}
	var value any
	if !model.IsNull(r.Value) {
		value = string(r.Value)
	}
	return []any{r.AssessmentID, r.ItemID, r.PartnerID, value, updated, r.AssessmentID}
}

func (s *SQLiteStore) ListResponses(ctx context.Context, assessmentID string) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT assessment_id, item_id, partner_id, value, updated_at FROM responses
		 WHERE assessment_id = ? ORDER BY item_id, partner_id`, assessmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list responses %s", assessmentID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Response
	for rows.Next() {
		var r model.Response
		var value sql.NullString
		if err := rows.Scan(&r.AssessmentID, &r.ItemID, &r.PartnerID, &value, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan response")
		}
		if value.Valid {
			r.Value = json.RawMessage(value.String)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list responses iterate")
}

// --- Scores ---

func (s *SQLiteStore) CommitScores(ctx context.Context, set *model.ScoreSet, from []model.AssessmentStatus, job JobGuard) error {
	issues, err := json.Marshal(set.Issues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal issues")
	}
	now := time.Now().UTC()
	if set.ScoredAt.IsZero() {
		set.ScoredAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit scores")
	}
	defer tx.Rollback() //nolint:errcheck

	args := []any{string(model.StatusScored), set.OverallPercentage, now, now, set.AssessmentID}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE assessments SET status = ?, overall_score = ?, status_changed_at = ?, updated_at = ?
		 WHERE id = ? AND archived_at IS NULL AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark scored %s", set.AssessmentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("assessment %s is no longer awaiting scores", set.AssessmentID)
	}

	for _, q := range []string{
		`DELETE FROM item_scores WHERE assessment_id = ?`,
		`DELETE FROM theme_scores WHERE assessment_id = ?`,
		`DELETE FROM score_summaries WHERE assessment_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, set.AssessmentID); err != nil {
			return eris.Wrapf(err, "sqlite: clear scores %s", set.AssessmentID)
		}
	}

	for _, th := range set.Themes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO theme_scores (assessment_id, theme_id, theme_slug, theme_name, weight, score, max_score, percentage)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			set.AssessmentID, th.ThemeID, th.ThemeSlug, th.ThemeName, th.Weight, th.Score, th.MaxScore, th.Percentage,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert theme score %s", th.ThemeSlug)
		}
		for _, it := range th.Items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO item_scores (assessment_id, item_id, item_code, theme_id, field_type, weight, ai_score, ai_feedback)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				set.AssessmentID, it.ItemID, it.ItemCode, th.ThemeID, string(it.FieldType), it.Weight, it.AIScore, it.AIFeedback,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert item score %s", it.ItemCode)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO score_summaries (assessment_id, overall_score, overall_max_score, overall_percentage, issues, items_scored, items_failed, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		set.AssessmentID, set.OverallScore, set.OverallMaxScore, set.OverallPercentage, string(issues),
		set.ItemsScored, set.ItemsFailed, set.ScoredAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert score summary %s", set.AssessmentID)
	}
	if err := sqliteCompleteGuard(ctx, tx, job, now); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit scores")
}

func (s *SQLiteStore) GetScores(ctx context.Context, assessmentID string) (*model.ScoreSet, error) {
	set := model.ScoreSet{AssessmentID: assessmentID}
	var issues string
	err := s.db.QueryRowContext(ctx,
		`SELECT overall_score, overall_max_score, overall_percentage, issues, items_scored, items_failed, scored_at
		 FROM score_summaries WHERE assessment_id = ?`, assessmentID,
	).Scan(&set.OverallScore, &set.OverallMaxScore, &set.OverallPercentage, &issues,
		&set.ItemsScored, &set.ItemsFailed, &set.ScoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get score summary %s", assessmentID)
	}
	if err := json.Unmarshal([]byte(issues), &set.Issues); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal issues")
	}

	themeRows, err := s.db.QueryContext(ctx,
		`SELECT theme_id, theme_slug, theme_name, weight, score, max_score, percentage
		 FROM theme_scores WHERE assessment_id = ? ORDER BY rowid`, assessmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list theme scores %s", assessmentID)
	}
	defer themeRows.Close() //nolint:errcheck
	for themeRows.Next() {
		th := model.ThemeScore{AssessmentID: assessmentID}
		if err := themeRows.Scan(&th.ThemeID, &th.ThemeSlug, &th.ThemeName, &th.Weight,
			&th.Score, &th.MaxScore, &th.Percentage); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan theme score")
		}
		set.Themes = append(set.Themes, th)
	}
	if err := themeRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: theme scores iterate")
	}

	itemRows, err := s.db.QueryContext(ctx,
		`SELECT item_id, item_code, theme_id, field_type, weight, ai_score, ai_feedback
		 FROM item_scores WHERE assessment_id = ? ORDER BY rowid`, assessmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list item scores %s", assessmentID)
	}
	defer itemRows.Close() //nolint:errcheck
	var items []model.ItemScore
	for itemRows.Next() {
		it := model.ItemScore{AssessmentID: assessmentID}
		var ft string
		var score sql.NullFloat64
		if err := itemRows.Scan(&it.ItemID, &it.ItemCode, &it.ThemeID, &ft, &it.Weight, &score, &it.AIFeedback); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item score")
		}
		it.FieldType = model.FieldType(ft)
		if score.Valid {
			v := score.Float64
			it.AIScore = &v
		}
		items = append(items, it)
	}
	if err := itemRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: item scores iterate")
	}
	groupItems(set.Themes, items)
	return &set, nil
}

// --- Reports ---

func (s *SQLiteStore) CommitReport(ctx context.Context, r *model.Report, from []model.AssessmentStatus, job JobGuard) error {
	sections, err := json.Marshal(r.Sections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sections")
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal recommendations")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit report")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	args := []any{string(model.StatusReportGenerated), now, now, r.AssessmentID}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE assessments SET status = ?, status_changed_at = ?, updated_at = ?
		 WHERE id = ? AND archived_at IS NULL AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark report generated %s", r.AssessmentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("assessment %s is no longer scored", r.AssessmentID)
	}

	var latest int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM reports WHERE assessment_id = ?`, r.AssessmentID,
	).Scan(&latest); err != nil {
		return eris.Wrapf(err, "sqlite: latest report version %s", r.AssessmentID)
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Version = latest + 1
	r.CreatedAt = now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (id, assessment_id, version, sections, recommendations, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.AssessmentID, r.Version, string(sections), string(recs), now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert report %s", r.AssessmentID)
	}
	if err := sqliteCompleteGuard(ctx, tx, job, now); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit report")
}

func (s *SQLiteStore) GetLatestReport(ctx context.Context, assessmentID string) (*model.Report, error) {
	var r model.Report
	var sections, recs string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, assessment_id, version, sections, recommendations, created_at FROM reports
		 WHERE assessment_id = ? ORDER BY version DESC LIMIT 1`, assessmentID,
	).Scan(&r.ID, &r.AssessmentID, &r.Version, &sections, &recs, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get latest report %s", assessmentID)
	}
	if err := json.Unmarshal([]byte(sections), &r.Sections); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sections")
	}
	if err := json.Unmarshal([]byte(recs), &r.Recommendations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal recommendations")
	}
	return &r, nil
}

// --- Jobs ---

const sqliteJobColumns = `id, assessment_id, job_type, status, progress, error_message, result_data, created_at, started_at, completed_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, bool, error) {
	// The insert can lose to a concurrent dispatch, and the winner can finish
	// before we read it back, so try a few times.
	for attempt := 0; attempt < 3; attempt++ {
		id := uuid.New().String()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO ai_jobs (id, assessment_id, job_type, status, progress, created_at)
			 VALUES (?, ?, ?, 'queued', 0, ?) ON CONFLICT DO NOTHING`,
			id, assessmentID, string(jobType), time.Now().UTC(),
		)
		if err != nil {
			return nil, false, eris.Wrapf(err, "sqlite: insert job for %s", assessmentID)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			job, err := s.GetJob(ctx, id)
			return job, true, err
		}
		job, err := s.GetActiveJob(ctx, assessmentID, jobType)
		if err != nil {
			return nil, false, err
		}
		if job != nil {
			return job, false, nil
		}
	}
	return nil, false, apperr.Conflict("could not create %s job for %s", jobType, assessmentID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.AIJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM ai_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) GetActiveJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM ai_jobs
		 WHERE assessment_id = ? AND job_type = ? AND status IN ('queued', 'processing')
		 ORDER BY created_at DESC LIMIT 1`,
		assessmentID, string(jobType),
	)
	job, err := scanSQLiteJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get active job %s/%s", assessmentID, jobType)
	}
	return job, nil
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*model.AIJob, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE ai_jobs SET status = 'processing', started_at = ?
		 WHERE id = (SELECT id FROM ai_jobs WHERE status = 'queued' ORDER BY created_at LIMIT 1)
		 AND status = 'queued'
		 RETURNING `+sqliteJobColumns,
		time.Now().UTC(),
	)
	job, err := scanSQLiteJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim next job")
	}
	return job, nil
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, id string) (*model.AIJob, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE ai_jobs SET status = 'processing', started_at = ?
		 WHERE id = ? AND status = 'queued'
		 RETURNING `+sqliteJobColumns,
		time.Now().UTC(), id,
	)
	job, err := scanSQLiteJob(row)
	if err == sql.ErrNoRows {
		existing, gerr := s.GetJob(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, apperr.Conflict("job %s is %s, not queued", id, existing.Status)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_jobs SET progress = ? WHERE id = ? AND status = 'processing'`, progress, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", id)
	}
	return jobResult(res, id, "processing")
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	var data any
	if len(result) > 0 {
		data = string(result)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_jobs SET status = 'completed', progress = 1, result_data = ?, completed_at = ?
		 WHERE id = ? AND status = 'processing'`,
		data, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return jobResult(res, id, "processing")
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE id = ? AND status IN ('queued', 'processing')`,
		message, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return jobResult(res, id, "active")
}

func (s *SQLiteStore) FailStaleJobs(ctx context.Context, createdBefore time.Time, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE status IN ('queued', 'processing') AND created_at < ?`,
		message, time.Now().UTC(), createdBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale jobs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: fail stale jobs rows affected")
}

// --- Benchmarks ---

func (s *SQLiteStore) ListPeerScores(ctx context.Context, filter model.PeerFilter) ([]model.PeerScore, error) {
	query := `SELECT a.id, a.tenant_id, COALESCE(t.country, ''), a.overall_score, ts.theme_slug, ts.percentage
		FROM assessments a
		LEFT JOIN tenants t ON t.id = a.tenant_id
		LEFT JOIN theme_scores ts ON ts.assessment_id = a.id
		WHERE a.academic_year = ? AND a.status IN ('scored', 'report_generated') AND a.id <> ?`
	args := []any{filter.AcademicYear, filter.ExcludeAssessmentID}
	if filter.Country != "" {
		query += ` AND t.country = ?`
		args = append(args, filter.Country)
	}
	query += ` ORDER BY a.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list peer scores")
	}
	defer rows.Close() //nolint:errcheck

	acc := newPeerAccumulator()
	for rows.Next() {
		var id, tenantID, country string
		var overall, pct sql.NullFloat64
		var slug sql.NullString
		if err := rows.Scan(&id, &tenantID, &country, &overall, &slug, &pct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan peer score")
		}
		acc.add(id, tenantID, country, nullFloat(overall), nullString(slug), nullFloat(pct))
	}
	return acc.result(), eris.Wrap(rows.Err(), "sqlite: list peer scores iterate")
}

// --- AI response cache ---

func (s *SQLiteStore) GetCachedResponse(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ai_cache WHERE key = ? AND expires_at > ?`, key, time.Now().UTC(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: get cached response")
	}
	return value, true, nil
}

func (s *SQLiteStore) SetCachedResponse(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_cache (key, value, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, value, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached response")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound("%s %s not found", entity, id)
	}
	return nil
}

func casResult(res sql.Result, change model.StatusChange) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.Conflict("assessment %s is no longer %s", change.AssessmentID, change.From)
	}
	return nil
}

func writableResult(res sql.Result, assessmentID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotWritable("assessment %s is not accepting responses", assessmentID)
	}
	return nil
}

func sqliteCompleteGuard(ctx context.Context, tx *sql.Tx, g JobGuard, now time.Time) error {
	if g.JobID == "" {
		return nil
	}
	var data any
	if result := g.result(); len(result) > 0 {
		data = string(result)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE ai_jobs SET status = 'completed', progress = 1, result_data = ?, completed_at = ?
		 WHERE id = ? AND status = 'processing'`,
		data, now, g.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", g.JobID)
	}
	return jobResult(res, g.JobID, "processing")
}

func jobResult(res sql.Result, id, want string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.Conflict("job %s is not %s", id, want)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteAssessment(row scannable) (*model.Assessment, error) {
	var a model.Assessment
	var status string
	var overall sql.NullFloat64
	var submitted, archived sql.NullTime
	if err := row.Scan(&a.ID, &a.TenantID, &a.TemplateID, &a.AcademicYear, &status, &overall,
		&submitted, &a.StatusChangedAt, &archived, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = model.AssessmentStatus(status)
	a.OverallScore = nullFloat(overall)
	if submitted.Valid {
		a.SubmittedAt = &submitted.Time
	}
	if archived.Valid {
		a.ArchivedAt = &archived.Time
	}
	return &a, nil
}

func scanSQLiteJob(row scannable) (*model.AIJob, error) {
	var j model.AIJob
	var jobType, status string
	var errMsg, result sql.NullString
	var started, completed sql.NullTime
	if err := row.Scan(&j.ID, &j.AssessmentID, &jobType, &status, &j.Progress, &errMsg, &result,
		&j.CreatedAt, &started, &completed); err != nil {
		return nil, err
	}
	j.JobType = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.ErrorMessage = nullString(errMsg)
	if result.Valid {
		j.ResultData = json.RawMessage(result.String)
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return &j, nil
}
