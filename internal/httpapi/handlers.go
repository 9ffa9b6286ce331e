package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/responses"
	"github.com/sells-group/assessment-engine/internal/store"
)

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.Templates.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.Templates.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID   string `json:"template_id"`
		AcademicYear string `json:"academic_year"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.Lifecycle.Create(r.Context(), principal(r), req.TemplateID, req.AcademicYear)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AssessmentFilter{
		TenantID:     q.Get("tenant_id"),
		AcademicYear: q.Get("academic_year"),
		Status:       model.AssessmentStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, apperr.InvalidValue("unknown status %q", filter.Status))
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.Lifecycle.List(r.Context(), principal(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Assessment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": list})
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.Lifecycle.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) archiveAssessment(w http.ResponseWriter, r *http.Request) {
	if err := s.Lifecycle.Archive(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	a, err := s.Lifecycle.Submit(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	to := model.AssessmentStatus(chi.URLParam(r, "status"))
	a, err := s.Lifecycle.ChangeStatus(r.Context(), principal(r), chi.URLParam(r, "id"), to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) getResponses(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Responses.GetAll(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) putResponses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Responses []responses.Entry `json:"responses"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.Responses.BulkUpsert(r.Context(), principal(r), chi.URLParam(r, "id"), req.Responses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) patchResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value     json.RawMessage `json:"value"`
		PartnerID string          `json:"partner_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.Responses.Upsert(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "item_id"), req.Value, req.PartnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) triggerScoring(w http.ResponseWriter, r *http.Request) {
	job, err := s.Lifecycle.TriggerScoring(r.Context(), principal(r), chi.URLParam(r, "id"))
	writeJob(w, r, job, err)
}

func (s *Server) triggerReport(w http.ResponseWriter, r *http.Request) {
	job, err := s.Lifecycle.TriggerReport(r.Context(), principal(r), chi.URLParam(r, "id"))
	writeJob(w, r, job, err)
}

func (s *Server) triggerRisk(w http.ResponseWriter, r *http.Request) {
	job, err := s.Lifecycle.TriggerRiskPrediction(r.Context(), principal(r), chi.URLParam(r, "id"))
	writeJob(w, r, job, err)
}

func writeJob(w http.ResponseWriter, r *http.Request, job *model.AIJob, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getScores(w http.ResponseWriter, r *http.Request) {
	set, err := s.Lifecycle.Scores(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Lifecycle.Report(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) activeJob(w http.ResponseWriter, r *http.Request) {
	jobType := model.JobType(r.URL.Query().Get("job_type"))
	if jobType == "" {
		jobType = model.JobTypeScoring
	}
	job, err := s.Lifecycle.ActiveJob(r.Context(), principal(r), chi.URLParam(r, "id"), jobType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Lifecycle.Job(r.Context(), principal(r), chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.Benchmarks.Compare(r.Context(), principal(r), chi.URLParam(r, "assessment_id"), r.URL.Query().Get("country"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.InvalidValue("%q is not a non-negative integer", v)
	}
	return n, nil
}
