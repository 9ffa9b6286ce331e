package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/db"
	"github.com/sells-group/assessment-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	country    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '',
	definition JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assessments (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id         TEXT NOT NULL,
	template_id       TEXT NOT NULL REFERENCES templates(id),
	academic_year     TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'draft',
	overall_score     DOUBLE PRECISION,
	submitted_at      TIMESTAMPTZ,
	status_changed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	archived_at       TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, academic_year)
);

CREATE INDEX IF NOT EXISTS idx_assessments_year_status ON assessments(academic_year, status);

CREATE TABLE IF NOT EXISTS responses (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	item_id       TEXT NOT NULL,
	partner_id    TEXT NOT NULL DEFAULT '',
	value         JSONB,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (assessment_id, item_id, partner_id)
);

CREATE TABLE IF NOT EXISTS theme_scores (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	theme_id      TEXT NOT NULL,
	theme_slug    TEXT NOT NULL,
	theme_name    TEXT NOT NULL DEFAULT '',
	position      INTEGER NOT NULL DEFAULT 0,
	weight        DOUBLE PRECISION NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	max_score     DOUBLE PRECISION NOT NULL,
	percentage    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (assessment_id, theme_id)
);

CREATE TABLE IF NOT EXISTS item_scores (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	item_id       TEXT NOT NULL,
	item_code     TEXT NOT NULL,
	theme_id      TEXT NOT NULL,
	field_type    TEXT NOT NULL,
	position      INTEGER NOT NULL DEFAULT 0,
	weight        DOUBLE PRECISION NOT NULL,
	ai_score      DOUBLE PRECISION,
	ai_feedback   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (assessment_id, item_id)
);

CREATE TABLE IF NOT EXISTS score_summaries (
	assessment_id      TEXT PRIMARY KEY REFERENCES assessments(id),
	overall_score      DOUBLE PRECISION NOT NULL,
	overall_max_score  DOUBLE PRECISION NOT NULL,
	overall_percentage DOUBLE PRECISION NOT NULL,
	issues             JSONB NOT NULL DEFAULT '[]',
	items_scored       INTEGER NOT NULL DEFAULT 0,
	items_failed       INTEGER NOT NULL DEFAULT 0,
	scored_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	assessment_id   TEXT NOT NULL REFERENCES assessments(id),
	version         INTEGER NOT NULL,
	sections        JSONB NOT NULL,
	recommendations JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (assessment_id, version)
);

CREATE TABLE IF NOT EXISTS ai_jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	job_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	progress      DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT,
	result_data   JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ai_jobs_active
	ON ai_jobs(assessment_id, job_type) WHERE status IN ('queued', 'processing');
CREATE INDEX IF NOT EXISTS idx_ai_jobs_status_created ON ai_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS ai_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_cache_expires_at ON ai_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Tenants ---

func (s *PostgresStore) UpsertTenant(ctx context.Context, t model.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, country) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, country = EXCLUDED.country`,
		t.ID, t.Name, t.Country,
	)
	return eris.Wrapf(err, "postgres: upsert tenant %s", t.ID)
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, country FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Country)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tenant %s", id)
	}
	return &t, nil
}

// --- Templates ---

func (s *PostgresStore) SaveTemplate(ctx context.Context, tpl *model.Template) error {
	def, err := json.Marshal(tpl)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal template")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO templates (id, name, version, definition) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, version = EXCLUDED.version,
		 definition = EXCLUDED.definition, updated_at = now()`,
		tpl.ID, tpl.Name, tpl.Version, def,
	)
	return eris.Wrapf(err, "postgres: save template %s", tpl.ID)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var def []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM templates WHERE id = $1`, id).Scan(&def)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("template %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get template %s", id)
	}
	return decodeTemplate(def)
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM templates ORDER BY name, version`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		var def []byte
		if err := rows.Scan(&def); err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		tpl, err := decodeTemplate(def)
		if err != nil {
			return nil, err
		}
		out = append(out, *tpl)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

// --- Assessments ---

const pgAssessmentColumns = `id, tenant_id, template_id, academic_year, status, overall_score,
	submitted_at, status_changed_at, archived_at, created_at, updated_at`

func (s *PostgresStore) CreateAssessment(ctx context.Context, a *model.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = model.StatusDraft
	a.StatusChangedAt, a.CreatedAt, a.UpdatedAt = now, now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO assessments (id, tenant_id, template_id, academic_year, status, status_changed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TenantID, a.TemplateID, a.AcademicYear, string(a.Status), now, now, now,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("an assessment for %s already exists for tenant %s", a.AcademicYear, a.TenantID)
	}
	return eris.Wrapf(err, "postgres: insert assessment %s", a.ID)
}

func (s *PostgresStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgAssessmentColumns+` FROM assessments WHERE id = $1`, id)
	a, err := scanPgAssessment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("assessment %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assessment %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAssessments(ctx context.Context, filter AssessmentFilter) ([]model.Assessment, error) {
	query := `SELECT ` + pgAssessmentColumns + ` FROM assessments WHERE 1=1`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ` + next(filter.TenantID)
	}
	if filter.AcademicYear != "" {
		query += ` AND academic_year = ` + next(filter.AcademicYear)
	}
	if filter.Status != "" {
		query += ` AND status = ` + next(string(filter.Status))
	}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ` + next(listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assessments")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanPgAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assessments iterate")
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, change model.StatusChange) error {
	at := change.At.UTC()
	var submittedAt *time.Time
	if change.To == model.StatusSubmitted {
		submittedAt = &at
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assessments SET status = $1, status_changed_at = $2, updated_at = $2,
		 submitted_at = COALESCE($3, submitted_at)
		 WHERE id = $4 AND status = $5 AND archived_at IS NULL`,
		string(change.To), at, submittedAt, change.AssessmentID, string(change.From),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", change.AssessmentID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("assessment %s is no longer %s", change.AssessmentID, change.From)
	}
	return nil
}

func (s *PostgresStore) ArchiveAssessment(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assessments SET archived_at = $1, updated_at = $1 WHERE id = $2 AND archived_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive assessment %s", id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("assessment %s not found", id)
	}
	return nil
}

// --- Responses ---

var responseUpsert = db.UpsertConfig{
	Table:        "responses",
	Columns:      []string{"assessment_id", "item_id", "partner_id", "value", "updated_at"},
	ConflictKeys: []string{"assessment_id", "item_id", "partner_id"},
}

// The FOR SHARE lock makes a racing submit wait for this write (or this
// write wait for the submit and then see the new status).
func (s *PostgresStore) UpsertResponse(ctx context.Context, r model.Response) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO responses (assessment_id, item_id, partner_id, value, updated_at)
		 SELECT $1, $2, $3, $4, $5 FROM assessments
		 WHERE id = $1 AND status = 'draft' AND archived_at IS NULL FOR SHARE
		 ON CONFLICT (assessment_id, item_id, partner_id)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		r.AssessmentID, r.ItemID, r.PartnerID, pgJSON(r.Value), responseTime(r),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert response %s/%s", r.AssessmentID, r.ItemID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotWritable("assessment %s is not accepting responses", r.AssessmentID)
	}
	return nil
}

func (s *PostgresStore) BulkUpsertResponses(ctx context.Context, assessmentID string, rs []model.Response) error {
	if len(rs) == 0 {
		return nil
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		var archived bool
		err := tx.QueryRow(ctx,
			`SELECT status, archived_at IS NOT NULL FROM assessments WHERE id = $1 FOR SHARE`, assessmentID,
		).Scan(&status, &archived)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("assessment %s not found", assessmentID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock assessment %s", assessmentID)
		}
		if status != string(model.StatusDraft) || archived {
			return apperr.NotWritable("assessment %s is not accepting responses", assessmentID)
		}

		rows := make([][]any, len(rs))
		for i, r := range rs {
			rows[i] = []any{assessmentID, r.ItemID, r.PartnerID, pgJSON(r.Value), responseTime(r)}
		}
		if _, err := db.BulkUpsert(ctx, tx, responseUpsert, rows); err != nil {
			return eris.Wrapf(err, "postgres: bulk upsert responses %s", assessmentID)
		}
		return nil
	})
}

func (s *PostgresStore) ListResponses(ctx context.Context, assessmentID string) ([]model.Response, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT assessment_id, item_id, partner_id, value, updated_at FROM responses
		 WHERE assessment_id = $1 ORDER BY item_id, partner_id`, assessmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list responses %s", assessmentID)
	}
	defer rows.Close()

	var out []model.Response
	for rows.Next() {
		var r model.Response
		var value []byte
		if err := rows.Scan(&r.AssessmentID, &r.ItemID, &r.PartnerID, &value, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan response")
		}
		if value != nil {
			r.Value = json.RawMessage(value)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list responses iterate")
}

// --- Scores ---

func (s *PostgresStore) CommitScores(ctx context.Context, set *model.ScoreSet, from []model.AssessmentStatus, job JobGuard) error {
	issues, err := json.Marshal(set.Issues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal issues")
	}
	if set.ScoredAt.IsZero() {
		set.ScoredAt = time.Now().UTC()
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE assessments SET status = $1, overall_score = $2, status_changed_at = now(), updated_at = now()
			 WHERE id = $3 AND archived_at IS NULL AND status = ANY($4)`,
			string(model.StatusScored), set.OverallPercentage, set.AssessmentID, statusStrings(from),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark scored %s", set.AssessmentID)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("assessment %s is no longer awaiting scores", set.AssessmentID)
		}

		for _, q := range []string{
			`DELETE FROM item_scores WHERE assessment_id = $1`,
			`DELETE FROM theme_scores WHERE assessment_id = $1`,
			`DELETE FROM score_summaries WHERE assessment_id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, set.AssessmentID); err != nil {
				return eris.Wrapf(err, "postgres: clear scores %s", set.AssessmentID)
			}
		}

		var themeRows, itemRows [][]any
		pos := 0
		for ti, th := range set.Themes {
			themeRows = append(themeRows, []any{
				set.AssessmentID, th.ThemeID, th.ThemeSlug, th.ThemeName, ti,
				th.Weight, th.Score, th.MaxScore, th.Percentage,
			})
			for _, it := range th.Items {
				itemRows = append(itemRows, []any{
					set.AssessmentID, it.ItemID, it.ItemCode, th.ThemeID, string(it.FieldType), pos,
					it.Weight, it.AIScore, it.AIFeedback,
				})
				pos++
			}
		}
		if _, err := db.CopyFrom(ctx, tx, "theme_scores",
			[]string{"assessment_id", "theme_id", "theme_slug", "theme_name", "position", "weight", "score", "max_score", "percentage"},
			themeRows); err != nil {
			return err
		}
		if _, err := db.CopyFrom(ctx, tx, "item_scores",
			[]string{"assessment_id", "item_id", "item_code", "theme_id", "field_type", "position", "weight", "ai_score", "ai_feedback"},
			itemRows); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO score_summaries (assessment_id, overall_score, overall_max_score, overall_percentage, issues, items_scored, items_failed, scored_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			set.AssessmentID, set.OverallScore, set.OverallMaxScore, set.OverallPercentage, issues,
			set.ItemsScored, set.ItemsFailed, set.ScoredAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert score summary %s", set.AssessmentID)
		}
		return pgCompleteGuard(ctx, tx, job)
	})
}

func (s *PostgresStore) GetScores(ctx context.Context, assessmentID string) (*model.ScoreSet, error) {
	set := model.ScoreSet{AssessmentID: assessmentID}
	var issues []byte
	err := s.pool.QueryRow(ctx,
		`SELECT overall_score, overall_max_score, overall_percentage, issues, items_scored, items_failed, scored_at
		 FROM score_summaries WHERE assessment_id = $1`, assessmentID,
	).Scan(&set.OverallScore, &set.OverallMaxScore, &set.OverallPercentage, &issues,
		&set.ItemsScored, &set.ItemsFailed, &set.ScoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get score summary %s", assessmentID)
	}
	if err := json.Unmarshal(issues, &set.Issues); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal issues")
	}

	themeRows, err := s.pool.Query(ctx,
		`SELECT theme_id, theme_slug, theme_name, weight, score, max_score, percentage
		 FROM theme_scores WHERE assessment_id = $1 ORDER BY position`, assessmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list theme scores %s", assessmentID)
	}
	for themeRows.Next() {
		th := model.ThemeScore{AssessmentID: assessmentID}
		if err := themeRows.Scan(&th.ThemeID, &th.ThemeSlug, &th.ThemeName, &th.Weight,
			&th.Score, &th.MaxScore, &th.Percentage); err != nil {
			themeRows.Close()
			return nil, eris.Wrap(err, "postgres: scan theme score")
		}
		set.Themes = append(set.Themes, th)
	}
	themeRows.Close()
	if err := themeRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: theme scores iterate")
	}

	itemRows, err := s.pool.Query(ctx,
		`SELECT item_id, item_code, theme_id, field_type, weight, ai_score, ai_feedback
		 FROM item_scores WHERE assessment_id = $1 ORDER BY position`, assessmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list item scores %s", assessmentID)
	}
	defer itemRows.Close()
	var items []model.ItemScore
	for itemRows.Next() {
		it := model.ItemScore{AssessmentID: assessmentID}
		var ft string
		if err := itemRows.Scan(&it.ItemID, &it.ItemCode, &it.ThemeID, &ft, &it.Weight, &it.AIScore, &it.AIFeedback); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item score")
		}
		it.FieldType = model.FieldType(ft)
		items = append(items, it)
	}
	if err := itemRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: item scores iterate")
	}
	groupItems(set.Themes, items)
	return &set, nil
}

// --- Reports ---

func (s *PostgresStore) CommitReport(ctx context.Context, r *model.Report, from []model.AssessmentStatus, job JobGuard) error {
	sections, err := json.Marshal(r.Sections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sections")
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal recommendations")
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE assessments SET status = $1, status_changed_at = now(), updated_at = now()
			 WHERE id = $2 AND archived_at IS NULL AND status = ANY($3)`,
			string(model.StatusReportGenerated), r.AssessmentID, statusStrings(from),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark report generated %s", r.AssessmentID)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("assessment %s is no longer scored", r.AssessmentID)
		}

		// The assessment row lock taken by the UPDATE serializes concurrent
		// version assignment.
		var latest int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM reports WHERE assessment_id = $1`, r.AssessmentID,
		).Scan(&latest); err != nil {
			return eris.Wrapf(err, "postgres: latest report version %s", r.AssessmentID)
		}

		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.Version = latest + 1
		r.CreatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`INSERT INTO reports (id, assessment_id, version, sections, recommendations, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.AssessmentID, r.Version, sections, recs, r.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert report %s", r.AssessmentID)
		}
		return pgCompleteGuard(ctx, tx, job)
	})
}

func (s *PostgresStore) GetLatestReport(ctx context.Context, assessmentID string) (*model.Report, error) {
	var r model.Report
	var sections, recs []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, assessment_id, version, sections, recommendations, created_at FROM reports
		 WHERE assessment_id = $1 ORDER BY version DESC LIMIT 1`, assessmentID,
	).Scan(&r.ID, &r.AssessmentID, &r.Version, &sections, &recs, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get latest report %s", assessmentID)
	}
	if err := json.Unmarshal(sections, &r.Sections); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sections")
	}
	if err := json.Unmarshal(recs, &r.Recommendations); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal recommendations")
	}
	return &r, nil
}

// --- Jobs ---

const pgJobColumns = `id, assessment_id, job_type, status, progress, error_message, result_data, created_at, started_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		row := s.pool.QueryRow(ctx,
			`INSERT INTO ai_jobs (id, assessment_id, job_type, status, progress)
			 VALUES ($1, $2, $3, 'queued', 0)
			 ON CONFLICT DO NOTHING
			 RETURNING `+pgJobColumns,
			uuid.New().String(), assessmentID, string(jobType),
		)
		job, err := scanPgJob(row)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, eris.Wrapf(err, "postgres: insert job for %s", assessmentID)
		}
		job, err = s.GetActiveJob(ctx, assessmentID, jobType)
		if err != nil {
			return nil, false, err
		}
		if job != nil {
			return job, false, nil
		}
	}
	return nil, false, apperr.Conflict("could not create %s job for %s", jobType, assessmentID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.AIJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM ai_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) GetActiveJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM ai_jobs
		 WHERE assessment_id = $1 AND job_type = $2 AND status IN ('queued', 'processing')
		 ORDER BY created_at DESC LIMIT 1`,
		assessmentID, string(jobType),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get active job %s/%s", assessmentID, jobType)
	}
	return job, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*model.AIJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx,
		`UPDATE ai_jobs SET status = 'processing', started_at = now()
		 WHERE id = (
			SELECT id FROM ai_jobs WHERE status = 'queued'
			ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+pgJobColumns,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim next job")
	}
	return job, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id string) (*model.AIJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx,
		`UPDATE ai_jobs SET status = 'processing', started_at = now()
		 WHERE id = $1 AND status = 'queued'
		 RETURNING `+pgJobColumns,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, gerr := s.GetJob(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, apperr.Conflict("job %s is %s, not queued", id, existing.Status)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_jobs SET progress = $1 WHERE id = $2 AND status = 'processing'`, progress, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", id)
	}
	return pgJobResult(tag, id, "processing")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_jobs SET status = 'completed', progress = 1, result_data = $1, completed_at = now()
		 WHERE id = $2 AND status = 'processing'`,
		pgJSON(result), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	return pgJobResult(tag, id, "processing")
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_jobs SET status = 'failed', error_message = $1, completed_at = now()
		 WHERE id = $2 AND status IN ('queued', 'processing')`,
		message, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return pgJobResult(tag, id, "active")
}

func (s *PostgresStore) FailStaleJobs(ctx context.Context, createdBefore time.Time, message string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_jobs SET status = 'failed', error_message = $1, completed_at = now()
		 WHERE status IN ('queued', 'processing') AND created_at < $2`,
		message, createdBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale jobs")
	}
	return tag.RowsAffected(), nil
}

// --- Benchmarks ---

func (s *PostgresStore) ListPeerScores(ctx context.Context, filter model.PeerFilter) ([]model.PeerScore, error) {
	query := `SELECT a.id, a.tenant_id, COALESCE(t.country, ''), a.overall_score, ts.theme_slug, ts.percentage
		FROM assessments a
		LEFT JOIN tenants t ON t.id = a.tenant_id
		LEFT JOIN theme_scores ts ON ts.assessment_id = a.id
		WHERE a.academic_year = $1 AND a.status IN ('scored', 'report_generated') AND a.id <> $2`
	args := []any{filter.AcademicYear, filter.ExcludeAssessmentID}
	if filter.Country != "" {
		query += ` AND t.country = $3`
		args = append(args, filter.Country)
	}
	query += ` ORDER BY a.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list peer scores")
	}
	defer rows.Close()

	acc := newPeerAccumulator()
	for rows.Next() {
		var id, tenantID, country string
		var overall, pct *float64
		var slug *string
		if err := rows.Scan(&id, &tenantID, &country, &overall, &slug, &pct); err != nil {
			return nil, eris.Wrap(err, "postgres: scan peer score")
		}
		acc.add(id, tenantID, country, overall, slug, pct)
	}
	return acc.result(), eris.Wrap(rows.Err(), "postgres: list peer scores iterate")
}

// --- AI response cache ---

func (s *PostgresStore) GetCachedResponse(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM ai_cache WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: get cached response")
	}
	return value, true, nil
}

func (s *PostgresStore) SetCachedResponse(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_cache (key, value, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, value, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached response")
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// pgCompleteGuard completes the guarding job inside tx. The row lock it takes
// holds off concurrent stale-job sweeps until tx ends.
func pgCompleteGuard(ctx context.Context, tx pgx.Tx, g JobGuard) error {
	if g.JobID == "" {
		return nil
	}
	tag, err := tx.Exec(ctx,
		`UPDATE ai_jobs SET status = 'completed', progress = 1, result_data = $1, completed_at = now()
		 WHERE id = $2 AND status = 'processing'`,
		pgJSON(g.result()), g.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", g.JobID)
	}
	return pgJobResult(tag, g.JobID, "processing")
}

func pgJobResult(tag pgconn.CommandTag, id, want string) error {
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("job %s is not %s", id, want)
	}
	return nil
}

// pgJSON maps an absent or null value to SQL NULL.
func pgJSON(raw json.RawMessage) any {
	if model.IsNull(raw) {
		return nil
	}
	return []byte(raw)
}

func responseTime(r model.Response) time.Time {
	if r.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return r.UpdatedAt.UTC()
}

func scanPgAssessment(row pgx.Row) (*model.Assessment, error) {
	var a model.Assessment
	var status string
	if err := row.Scan(&a.ID, &a.TenantID, &a.TemplateID, &a.AcademicYear, &status, &a.OverallScore,
		&a.SubmittedAt, &a.StatusChangedAt, &a.ArchivedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = model.AssessmentStatus(status)
	return &a, nil
}

func scanPgJob(row pgx.Row) (*model.AIJob, error) {
	var j model.AIJob
	var jobType, status string
	var result []byte
	if err := row.Scan(&j.ID, &j.AssessmentID, &jobType, &status, &j.Progress, &j.ErrorMessage, &result,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.JobType = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	if result != nil {
		j.ResultData = json.RawMessage(result)
	}
	return &j, nil
}
