package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-engine/internal/benchmark"
	"github.com/sells-group/assessment-engine/internal/jobs"
	"github.com/sells-group/assessment-engine/internal/lifecycle"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/responses"
	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/internal/store"
)

var (
	assessor = model.Principal{UserID: "u1", TenantID: "t1", Role: model.RoleAssessor}
	reviewer = model.Principal{UserID: "u2", TenantID: "t1", Role: model.RoleReviewer}
	outsider = model.Principal{UserID: "u3", TenantID: "t2", Role: model.RoleTenantAdmin}
)

type testServer struct {
	handler http.Handler
	orch    *jobs.Orchestrator
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SaveTemplate(ctx, &model.Template{
		ID: "tpl-1", Name: "Quality Framework", Version: "1",
		Themes: []model.Theme{{
			ID: "th-tl", Slug: "teaching-learning", Name: "Teaching & Learning", Weight: 1,
			Items: []model.Item{
				{ID: "it-a", Code: "A", FieldType: model.FieldNumeric, Weight: 1, Scoreable: true, DisplayOrder: 1,
					Rubric: json.RawMessage(`{"type":"numeric_range","ranges":[{"min":0,"max":100,"score":80}]}`)},
				{ID: "it-b", Code: "B", FieldType: model.FieldLongText, Weight: 1, Scoreable: true, DisplayOrder: 2},
			},
		}},
	}))

	reg := jobs.NewRegistry()
	orch := jobs.NewOrchestrator(st, reg, time.Minute)
	lc := lifecycle.NewService(st, orch)
	require.NoError(t, lc.RegisterHandlers(reg, lifecycle.Capabilities{
		Scorer: scoring.NewEngine(scoring.NewRouter(nil), 1),
	}))
	srv := &Server{
		Lifecycle:  lc,
		Responses:  responses.NewService(st),
		Benchmarks: benchmark.NewService(st, 0),
		Templates:  st,
	}
	return testServer{handler: srv.Handler([]string{"https://app.example.org"}), orch: orch}
}

func (ts testServer) do(t *testing.T, p *model.Principal, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if p != nil {
		req.Header.Set(HeaderUserID, p.UserID)
		req.Header.Set(HeaderTenantID, p.TenantID)
		req.Header.Set(HeaderRole, string(p.Role))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decodeBody(t, rec, &body)
	return string(body.Error.Code)
}

func (ts testServer) create(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, &assessor, http.MethodPost, "/assessments", `{"template_id":"tpl-1","academic_year":"2025-26"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a model.Assessment
	decodeBody(t, rec, &a)
	return a.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, nil, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/assessments", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, rec))

	rec = ts.do(t, &model.Principal{UserID: "u1", TenantID: "t1", Role: "owner"}, http.MethodGet, "/assessments", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, &model.Principal{UserID: "u1", Role: model.RoleAssessor}, http.MethodGet, "/assessments", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, &model.Principal{UserID: "ops", Role: model.RolePlatformAdmin}, http.MethodGet, "/assessments", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"assessments":[]}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/assessments", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateAndGet(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)

	rec := ts.do(t, &assessor, http.MethodPost, "/assessments", `{"template_id":"tpl-1","academic_year":"2025-26"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))

	rec = ts.do(t, &assessor, http.MethodPost, "/assessments", `{"template":"tpl-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &assessor, http.MethodGet, "/assessments/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var a model.Assessment
	decodeBody(t, rec, &a)
	assert.Equal(t, model.StatusDraft, a.Status)

	rec = ts.do(t, &outsider, http.MethodGet, "/assessments/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = ts.do(t, &assessor, http.MethodGet, "/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Quality Framework")
}

func TestResponses(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)

	rec := ts.do(t, &assessor, http.MethodPatch, "/assessments/"+id+"/responses/it-a", `{"value":42}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, &assessor, http.MethodPatch, "/assessments/"+id+"/responses/it-a", `{"value":"forty"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_value", errorCode(t, rec))

	rec = ts.do(t, &assessor, http.MethodPut, "/assessments/"+id+"/responses",
		`{"responses":[{"item_id":"it-b","value":"We review every programme annually."}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap responses.Snapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, 100, snap.Progress)
	assert.Len(t, snap.Responses, 2)

	rec = ts.do(t, &assessor, http.MethodPost, "/assessments/"+id+"/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &assessor, http.MethodPatch, "/assessments/"+id+"/responses/it-a", `{"value":7}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_writable", errorCode(t, rec))

	rec = ts.do(t, &assessor, http.MethodGet, "/assessments/"+id+"/responses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &snap)
	assert.Equal(t, model.StatusSubmitted, snap.Status)
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	rec := ts.do(t, &assessor, http.MethodPatch, "/assessments/"+id+"/responses/it-a", `{"value":50}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &assessor, http.MethodPost, "/assessments/"+id+"/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, &assessor, http.MethodPost, "/assessments/"+id+"/submit", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", errorCode(t, rec))

	rec = ts.do(t, &reviewer, http.MethodPost, "/assessments/"+id+"/report/generate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", errorCode(t, rec))

	rec = ts.do(t, &assessor, http.MethodPost, "/assessments/"+id+"/scores/trigger-scoring", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &reviewer, http.MethodPost, "/assessments/"+id+"/status/under_review", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &reviewer, http.MethodPost, "/assessments/"+id+"/scores/trigger-scoring", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job model.AIJob
	decodeBody(t, rec, &job)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	rec = ts.do(t, &reviewer, http.MethodPost, "/assessments/"+id+"/scores/trigger-scoring", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var again model.AIJob
	decodeBody(t, rec, &again)
	assert.Equal(t, job.ID, again.ID)

	rec = ts.do(t, &reviewer, http.MethodGet, "/assessments/"+id+"/jobs/active?job_type=scoring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), job.ID)

	found, err := ts.orch.RunNext(context.Background())
	require.NoError(t, err)
	require.True(t, found)

	rec = ts.do(t, &assessor, http.MethodGet, "/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &job)
	assert.Equal(t, model.JobStatusCompleted, job.Status)

	rec = ts.do(t, &outsider, http.MethodGet, "/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &assessor, http.MethodGet, "/assessments/"+id+"/scores", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var set model.ScoreSet
	decodeBody(t, rec, &set)
	assert.InDelta(t, 40.0, set.OverallPercentage, 1e-9)

	rec = ts.do(t, &assessor, http.MethodGet, "/benchmarks/compare/"+id+"?country=UG", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cmp benchmark.Comparison
	decodeBody(t, rec, &cmp)
	assert.True(t, cmp.InsufficientData)
	assert.Empty(t, cmp.Metrics)

	rec = ts.do(t, &assessor, http.MethodGet, "/assessments/"+id+"/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchive(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	admin := model.Principal{UserID: "u9", TenantID: "t1", Role: model.RoleTenantAdmin}

	rec := ts.do(t, &assessor, http.MethodDelete, "/assessments/"+id, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodDelete, "/assessments/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/assessments/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAssessments_BadQuery(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, &assessor, http.MethodGet, "/assessments?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, &assessor, http.MethodGet, "/assessments?status=in_progress", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
