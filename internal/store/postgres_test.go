package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var jobColumns = []string{
	"id", "assessment_id", "job_type", "status", "progress", "error_message",
	"result_data", "created_at", "started_at", "completed_at",
}

func TestPostgresStore_GetAssessment_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, template_id, academic_year, status, overall_score`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAssessment(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_LostRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE assessments SET status = \$1`).
		WithArgs("under_review", pgxmock.AnyArg(), pgxmock.AnyArg(), "a-1", "submitted").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateStatus(context.Background(), model.StatusChange{
		AssessmentID: "a-1", From: model.StatusSubmitted, To: model.StatusUnderReview, At: time.Now(),
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResponse_NotWritable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO responses .* FOR SHARE\s+ON CONFLICT`).
		WithArgs("a-1", "it-1", "", []byte(`5`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.UpsertResponse(context.Background(), model.Response{
		AssessmentID: "a-1", ItemID: "it-1", Value: json.RawMessage(`5`),
	})
	assert.True(t, apperr.Is(err, apperr.KindNotWritable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertResponses_Draft(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, archived_at IS NOT NULL FROM assessments WHERE id = \$1 FOR SHARE`).
		WithArgs("a-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "archived"}).AddRow("draft", false))
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_responses"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_responses"}, responseUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "responses" .* ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.BulkUpsertResponses(context.Background(), "a-1", []model.Response{
		{ItemID: "it-1", Value: json.RawMessage(`5`)},
		{ItemID: "it-2", Value: json.RawMessage(`"text"`)},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertResponses_Submitted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, archived_at IS NOT NULL FROM assessments`).
		WithArgs("a-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "archived"}).AddRow("submitted", false))
	mock.ExpectRollback()

	err := s.BulkUpsertResponses(context.Background(), "a-1", []model.Response{{ItemID: "it-1", Value: json.RawMessage(`5`)}})
	assert.True(t, apperr.Is(err, apperr.KindNotWritable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitScores(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	set := sampleScoreSet("a-1")
	from := []model.AssessmentStatus{model.StatusSubmitted, model.StatusUnderReview}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assessments SET status = \$1, overall_score = \$2`).
		WithArgs("scored", 40.0, "a-1", []string{"submitted", "under_review"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM item_scores`).WithArgs("a-1").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM theme_scores`).WithArgs("a-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM score_summaries`).WithArgs("a-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"theme_scores"},
		[]string{"assessment_id", "theme_id", "theme_slug", "theme_name", "position", "weight", "score", "max_score", "percentage"}).
		WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"item_scores"},
		[]string{"assessment_id", "item_id", "item_code", "theme_id", "field_type", "position", "weight", "ai_score", "ai_feedback"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO score_summaries`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CommitScores(context.Background(), set, from, JobGuard{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitScores_GuardFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assessments SET status = \$1, overall_score = \$2`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.CommitScores(context.Background(), sampleScoreSet("a-1"), []model.AssessmentStatus{model.StatusSubmitted}, JobGuard{})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitScores_JobNoLongerProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := []model.AssessmentStatus{model.StatusSubmitted}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE assessments SET status = \$1, overall_score = \$2`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM item_scores`).WithArgs("a-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM theme_scores`).WithArgs("a-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM score_summaries`).WithArgs("a-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"theme_scores"},
		[]string{"assessment_id", "theme_id", "theme_slug", "theme_name", "position", "weight", "score", "max_score", "percentage"}).
		WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"item_scores"},
		[]string{"assessment_id", "item_id", "item_code", "theme_id", "field_type", "position", "weight", "ai_score", "ai_feedback"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO score_summaries`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE ai_jobs SET status = 'completed'`).
		WithArgs([]byte(`{"items_scored":2}`), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	guard := JobGuard{JobID: "job-1", Result: func() json.RawMessage { return json.RawMessage(`{"items_scored":2}`) }}
	err := s.CommitScores(context.Background(), sampleScoreSet("a-1"), from, guard)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_ReturnsActive(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	errMsg := ""

	mock.ExpectQuery(`INSERT INTO ai_jobs .* ON CONFLICT DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "a-1", "scoring").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM ai_jobs\s+WHERE assessment_id = \$1 AND job_type = \$2`).
		WithArgs("a-1", "scoring").
		WillReturnRows(pgxmock.NewRows(jobColumns).
			AddRow("job-1", "a-1", "scoring", "processing", 0.4, &errMsg, []byte(nil), created, &created, (*time.Time)(nil)))

	job, wasCreated, err := s.CreateJob(context.Background(), "a-1", model.JobTypeScoring)
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob_Terminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ai_jobs SET status = 'completed'`).
		WithArgs([]byte(`{}`), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteJob(context.Background(), "job-1", json.RawMessage(`{}`))
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailStaleJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec(`UPDATE ai_jobs SET status = 'failed'.*created_at < \$2`).
		WithArgs("Job timed out", cutoff.UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.FailStaleJobs(context.Background(), cutoff, "Job timed out")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPeerScores_CountryFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	overall := 62.5
	p1, p2 := 70.0, 55.0
	tl, gv := "teaching-learning", "governance"

	mock.ExpectQuery(`FROM assessments a.*t\.country = \$3`).
		WithArgs("2024-25", "self", "GB").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "country", "overall_score", "theme_slug", "percentage"}).
			AddRow("a-1", "t-1", "GB", &overall, &tl, &p1).
			AddRow("a-1", "t-1", "GB", &overall, &gv, &p2))

	peers, err := s.ListPeerScores(context.Background(), model.PeerFilter{
		AcademicYear: "2024-25", Country: "GB", ExcludeAssessmentID: "self",
	})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.InDelta(t, 70.0, peers[0].Themes["teaching-learning"], 1e-9)
	assert.InDelta(t, 55.0, peers[0].Themes["governance"], 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedResponse_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM ai_cache`).
		WithArgs("k").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.GetCachedResponse(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
