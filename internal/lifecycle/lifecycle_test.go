package lifecycle

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/jobs"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/report"
	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/internal/store"
)

var (
	assessor = model.Principal{UserID: "u-assessor", TenantID: "t1", Role: model.RoleAssessor}
	reviewer = model.Principal{UserID: "u-reviewer", TenantID: "t1", Role: model.RoleReviewer}
	admin    = model.Principal{UserID: "u-admin", TenantID: "t1", Role: model.RoleTenantAdmin}
	outsider = model.Principal{UserID: "u-other", TenantID: "t2", Role: model.RoleTenantAdmin}
)

func frameworkTemplate() *model.Template {
	return &model.Template{
		ID: "tpl-1", Name: "Quality Framework", Version: "1",
		Themes: []model.Theme{{
			ID: "th-tl", Slug: "teaching-learning", Name: "Teaching & Learning", Weight: 1, DisplayOrder: 1,
			Items: []model.Item{
				{ID: "it-a", Code: "A", FieldType: model.FieldNumeric, Weight: 1, Scoreable: true, DisplayOrder: 1,
					Rubric: json.RawMessage(`{"type":"numeric_range","ranges":[{"min":0,"max":100,"score":80}]}`)},
				{ID: "it-b", Code: "B", FieldType: model.FieldLongText, Weight: 1, Scoreable: true, DisplayOrder: 2},
			},
		}},
	}
}

type fakeComposer struct {
	mu       sync.Mutex
	previous []int
}

func (c *fakeComposer) Compose(_ context.Context, in report.Input, progress report.ProgressFunc) (*model.Report, error) {
	c.mu.Lock()
	c.previous = append(c.previous, in.PreviousVersion)
	c.mu.Unlock()
	progress(1)
	return &model.Report{
		AssessmentID: in.Assessment.ID,
		Version:      in.PreviousVersion + 1,
		Sections:     []model.ReportSection{{Title: "Executive Summary", Content: "Solid year.", Kind: model.SectionExecutiveSummary}},
	}, nil
}

type fixture struct {
	st       *store.SQLiteStore
	orch     *jobs.Orchestrator
	svc      *Service
	composer *fakeComposer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SaveTemplate(ctx, frameworkTemplate()))
	require.NoError(t, st.UpsertTenant(ctx, model.Tenant{ID: "t1", Name: "Northbridge University", Country: "UG"}))

	reg := jobs.NewRegistry()
	orch := jobs.NewOrchestrator(st, reg, time.Minute)
	svc := NewService(st, orch)
	composer := &fakeComposer{}
	require.NoError(t, svc.RegisterHandlers(reg, Capabilities{
		Scorer:   scoring.NewEngine(scoring.NewRouter(nil), 2),
		Composer: composer,
	}))
	return fixture{st: st, orch: orch, svc: svc, composer: composer}
}

func (fx fixture) runAll(t *testing.T) {
	t.Helper()
	for {
		found, err := fx.orch.RunNext(context.Background())
		require.NoError(t, err)
		if !found {
			return
		}
	}
}

func (fx fixture) submitted(t *testing.T) *model.Assessment {
	t.Helper()
	ctx := context.Background()
	a, err := fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	require.NoError(t, err)
	require.NoError(t, fx.st.UpsertResponse(ctx, model.Response{
		AssessmentID: a.ID, ItemID: "it-a", Value: json.RawMessage(`50`), UpdatedAt: time.Now(),
	}))
	a, err = fx.svc.Submit(ctx, assessor, a.ID)
	require.NoError(t, err)
	return a
}

func TestCreate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a, err := fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	require.NoError(t, err)
	assert.Equal(t, "t1", a.TenantID)
	assert.Equal(t, model.StatusDraft, a.Status)
	require.NotNil(t, a.Progress)
	assert.Zero(t, *a.Progress)

	_, err = fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "one assessment per tenant and year")

	_, err = fx.svc.Create(ctx, assessor, "missing", "2026-27")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = fx.svc.Create(ctx, assessor, "tpl-1", " ")
	assert.True(t, apperr.Is(err, apperr.KindInvalidValue))
}

func TestGet_DisplayStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, err := fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	require.NoError(t, err)
	require.NoError(t, fx.st.UpsertResponse(ctx, model.Response{
		AssessmentID: a.ID, ItemID: "it-a", Value: json.RawMessage(`12`), UpdatedAt: time.Now(),
	}))

	got, err := fx.svc.Get(ctx, assessor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
	assert.Equal(t, model.StatusInProgress, got.DisplayStatus)
	assert.Equal(t, 50, *got.Progress)

	_, err = fx.svc.Get(ctx, outsider, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	platform := model.Principal{UserID: "ops", Role: model.RolePlatformAdmin}
	_, err = fx.svc.Get(ctx, platform, a.ID)
	assert.NoError(t, err)
}

func TestSubmit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, err := fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	require.NoError(t, err)

	got, err := fx.svc.Submit(ctx, assessor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, got.Status)
	assert.NotNil(t, got.SubmittedAt)

	_, err = fx.svc.Submit(ctx, assessor, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func TestChangeStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.submitted(t)

	_, err := fx.svc.ChangeStatus(ctx, assessor, a.ID, model.StatusUnderReview)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = fx.svc.ChangeStatus(ctx, reviewer, a.ID, model.StatusScored)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	got, err := fx.svc.ChangeStatus(ctx, reviewer, a.ID, model.StatusUnderReview)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderReview, got.Status)

	_, err = fx.svc.ChangeStatus(ctx, reviewer, a.ID, model.StatusUnderReview)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func TestTriggerReport_RequiresScores(t *testing.T) {
	fx := newFixture(t)
	a := fx.submitted(t)

	_, err := fx.svc.TriggerReport(context.Background(), reviewer, a.ID)
	require.True(t, apperr.Is(err, apperr.KindInvalidState))
	assert.Contains(t, apperr.MessageOf(err), "scored")

	_, err = fx.svc.TriggerRiskPrediction(context.Background(), reviewer, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func TestTriggerScoring_Gates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	draft, err := fx.svc.Create(ctx, assessor, "tpl-1", "2024-25")
	require.NoError(t, err)

	_, err = fx.svc.TriggerScoring(ctx, reviewer, draft.ID)
	require.True(t, apperr.Is(err, apperr.KindInvalidState))
	assert.Equal(t, "Cannot score assessment with status 'draft'", apperr.MessageOf(err))

	a := fx.submitted(t)
	_, err = fx.svc.TriggerScoring(ctx, assessor, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = fx.svc.TriggerScoring(ctx, outsider, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTriggerScoring_ConcurrentReturnsOneJob(t *testing.T) {
	fx := newFixture(t)
	a := fx.submitted(t)

	const n = 5
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := fx.svc.TriggerScoring(context.Background(), reviewer, a.ID)
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestScoringReportAndRisk(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.submitted(t)

	job, err := fx.svc.TriggerScoring(ctx, reviewer, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	active, err := fx.svc.ActiveJob(ctx, reviewer, a.ID, model.JobTypeScoring)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	fx.runAll(t)

	done, err := fx.svc.Job(ctx, assessor, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, done.Status, "error: %v", done.ErrorMessage)
	assert.JSONEq(t, `{"overall_score":80,"overall_max_score":200,"overall_percentage":40,"items_scored":1,"items_failed":0,"issues":0}`,
		string(done.ResultData))

	scored, err := fx.svc.Get(ctx, assessor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScored, scored.Status)
	require.NotNil(t, scored.OverallScore)
	assert.InDelta(t, 40.0, *scored.OverallScore, 1e-9)

	set, err := fx.svc.Scores(ctx, assessor, a.ID)
	require.NoError(t, err)
	require.Len(t, set.Themes, 1)
	assert.InDelta(t, 80.0, set.Themes[0].Score, 1e-9)
	assert.InDelta(t, 200.0, set.Themes[0].MaxScore, 1e-9)
	assert.InDelta(t, 40.0, set.Themes[0].Percentage, 1e-9)

	_, err = fx.svc.TriggerScoring(ctx, reviewer, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	for version := 1; version <= 2; version++ {
		rj, err := fx.svc.TriggerReport(ctx, reviewer, a.ID)
		require.NoError(t, err)
		fx.runAll(t)

		rj, err = fx.svc.Job(ctx, reviewer, rj.ID)
		require.NoError(t, err)
		require.Equal(t, model.JobStatusCompleted, rj.Status)

		rep, err := fx.svc.Report(ctx, assessor, a.ID)
		require.NoError(t, err)
		assert.Equal(t, version, rep.Version)

		var summary map[string]any
		require.NoError(t, json.Unmarshal(rj.ResultData, &summary))
		assert.EqualValues(t, version, summary["version"])
		assert.Equal(t, rep.ID, summary["report_id"])
	}
	assert.Equal(t, []int{0, 1}, fx.composer.previous)

	final, err := fx.svc.Get(ctx, assessor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReportGenerated, final.Status)

	risk, err := fx.svc.TriggerRiskPrediction(ctx, reviewer, a.ID)
	require.NoError(t, err)
	fx.runAll(t)
	risk, err = fx.svc.Job(ctx, reviewer, risk.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, risk.Status)
	var prediction map[string]any
	require.NoError(t, json.Unmarshal(risk.ResultData, &prediction))
	assert.Equal(t, a.ID, prediction["assessment_id"])
	assert.Contains(t, prediction, "risk_level")
}

func TestJob_HiddenFromOtherTenants(t *testing.T) {
	fx := newFixture(t)
	a := fx.submitted(t)
	job, err := fx.svc.TriggerScoring(context.Background(), reviewer, a.ID)
	require.NoError(t, err)

	_, err = fx.svc.Job(context.Background(), outsider, job.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDocumentExtractionUnsupported(t *testing.T) {
	fx := newFixture(t)
	a := fx.submitted(t)
	_, err := fx.orch.Dispatch(context.Background(), a.ID, model.JobTypeDocumentExtraction)
	assert.True(t, apperr.Is(err, apperr.KindInvalidValue))
}

func TestScoringCommitLosesToArchive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.submitted(t)
	job, err := fx.svc.TriggerScoring(ctx, reviewer, a.ID)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Archive(ctx, admin, a.ID))

	fx.runAll(t)
	got, err := fx.orch.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
}

func TestArchive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, err := fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	require.NoError(t, err)

	assert.True(t, apperr.Is(fx.svc.Archive(ctx, assessor, a.ID), apperr.KindForbidden))
	require.NoError(t, fx.svc.Archive(ctx, admin, a.ID))

	_, err = fx.svc.Get(ctx, admin, a.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	list, err := fx.svc.List(ctx, admin, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_PinnedToTenant(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.svc.Create(ctx, assessor, "tpl-1", "2025-26")
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, outsider, "tpl-1", "2025-26")
	require.NoError(t, err)

	list, err := fx.svc.List(ctx, assessor, store.AssessmentFilter{TenantID: "t2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].TenantID)
	assert.Equal(t, model.StatusDraft, list[0].DisplayStatus)

	all, err := fx.svc.List(ctx, model.Principal{Role: model.RolePlatformAdmin}, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
