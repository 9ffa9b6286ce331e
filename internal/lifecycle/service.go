// Package lifecycle moves assessments through
// draft → submitted → under_review → scored → report_generated and dispatches
// the AI jobs that perform the scored transitions.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/access"
	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/responses"
	"github.com/sells-group/assessment-engine/internal/store"
)

// Scoring and report commits are accepted only from these states.
var (
	awaitingScores = []model.AssessmentStatus{model.StatusSubmitted, model.StatusUnderReview}
	scoredStates   = []model.AssessmentStatus{model.StatusScored, model.StatusReportGenerated}
)

// Jobs is the orchestrator surface the service dispatches through.
type Jobs interface {
	Dispatch(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error)
	Active(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error)
	Get(ctx context.Context, id string) (*model.AIJob, error)
}

// Service implements the assessment operations for authenticated principals.
type Service struct {
	store store.Store
	jobs  Jobs
	now   func() time.Time
}

// NewService returns a Service.
func NewService(st store.Store, jobs Jobs) *Service {
	return &Service{store: st, jobs: jobs, now: time.Now}
}

// Create starts a draft assessment for the principal's tenant.
func (s *Service) Create(ctx context.Context, p model.Principal, templateID, academicYear string) (*model.Assessment, error) {
	if err := access.Require(p, "create assessments", access.AnyRole...); err != nil {
		return nil, err
	}
	academicYear = strings.TrimSpace(academicYear)
	switch {
	case p.TenantID == "":
		return nil, apperr.InvalidValue("principal has no tenant")
	case templateID == "":
		return nil, apperr.InvalidValue("template_id is required")
	case academicYear == "":
		return nil, apperr.InvalidValue("academic_year is required")
	}
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	a := &model.Assessment{TenantID: p.TenantID, TemplateID: tpl.ID, AcademicYear: academicYear}
	if err := s.store.CreateAssessment(ctx, a); err != nil {
		return nil, err
	}
	a.DeriveDisplayStatus(0)
	zap.L().Info("assessment created",
		zap.String("assessment_id", a.ID),
		zap.String("tenant_id", a.TenantID),
		zap.String("academic_year", a.AcademicYear),
	)
	return a, nil
}

// Get returns an assessment with its derived display status and progress.
func (s *Service) Get(ctx context.Context, p model.Principal, id string) (*model.Assessment, error) {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.store.GetTemplate(ctx, a.TemplateID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load template %s", a.TemplateID)
	}
	if err := s.derive(ctx, a, tpl); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns the principal's assessments. Platform admins may list any
// tenant; everyone else is pinned to their own.
func (s *Service) List(ctx context.Context, p model.Principal, filter store.AssessmentFilter) ([]model.Assessment, error) {
	if err := access.Require(p, "list assessments", access.AnyRole...); err != nil {
		return nil, err
	}
	if p.Role != model.RolePlatformAdmin {
		filter.TenantID = p.TenantID
	}
	filter.IncludeArchived = false
	list, err := s.store.ListAssessments(ctx, filter)
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*model.Template)
	for i := range list {
		a := &list[i]
		tpl, ok := templates[a.TemplateID]
		if !ok {
			if tpl, err = s.store.GetTemplate(ctx, a.TemplateID); err != nil {
				return nil, eris.Wrapf(err, "lifecycle: load template %s", a.TemplateID)
			}
			templates[a.TemplateID] = tpl
		}
		if err := s.derive(ctx, a, tpl); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Archive hides an assessment from reads and listings. Its scores still
// count towards peer benchmarks.
func (s *Service) Archive(ctx context.Context, p model.Principal, id string) error {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return err
	}
	if err := access.Require(p, "archive assessments", access.Admins...); err != nil {
		return err
	}
	if err := s.store.ArchiveAssessment(ctx, a.ID, s.now()); err != nil {
		return err
	}
	zap.L().Info("assessment archived", zap.String("assessment_id", a.ID), zap.String("user_id", p.UserID))
	return nil
}

// Submit freezes the responses of a draft. Partial and empty submissions are
// allowed.
func (s *Service) Submit(ctx context.Context, p model.Principal, id string) (*model.Assessment, error) {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	if err := access.Require(p, "submit assessments", access.AnyRole...); err != nil {
		return nil, err
	}
	if a.Status != model.StatusDraft {
		return nil, apperr.InvalidState("Cannot submit assessment with status '%s'", a.Status)
	}
	return s.transition(ctx, p, a, model.StatusSubmitted)
}

// ChangeStatus performs a manual transition. The only manual target is
// under_review, and only from submitted.
func (s *Service) ChangeStatus(ctx context.Context, p model.Principal, id string, to model.AssessmentStatus) (*model.Assessment, error) {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	if err := access.Require(p, "change assessment status", access.Reviewers...); err != nil {
		return nil, err
	}
	if to != model.StatusUnderReview {
		return nil, apperr.InvalidState("Cannot change status to '%s'", to)
	}
	if a.Status != model.StatusSubmitted {
		return nil, apperr.InvalidState("Cannot move assessment with status '%s' to '%s'", a.Status, to)
	}
	return s.transition(ctx, p, a, to)
}

func (s *Service) transition(ctx context.Context, p model.Principal, a *model.Assessment, to model.AssessmentStatus) (*model.Assessment, error) {
	change := model.StatusChange{AssessmentID: a.ID, From: a.Status, To: to, At: s.now()}
	if err := s.store.UpdateStatus(ctx, change); err != nil {
		return nil, err
	}
	zap.L().Info("assessment status changed",
		zap.String("assessment_id", a.ID),
		zap.String("from", string(change.From)),
		zap.String("to", string(to)),
		zap.String("user_id", p.UserID),
	)
	return s.Get(ctx, p, a.ID)
}

// TriggerScoring dispatches a scoring job, or returns the one already active.
func (s *Service) TriggerScoring(ctx context.Context, p model.Principal, id string) (*model.AIJob, error) {
	a, err := s.triggerable(ctx, p, id, "trigger scoring")
	if err != nil {
		return nil, err
	}
	if a.Status != model.StatusSubmitted && a.Status != model.StatusUnderReview {
		return nil, apperr.InvalidState("Cannot score assessment with status '%s'", a.Status)
	}
	return s.jobs.Dispatch(ctx, a.ID, model.JobTypeScoring)
}

// TriggerReport dispatches a report job for a scored assessment.
func (s *Service) TriggerReport(ctx context.Context, p model.Principal, id string) (*model.AIJob, error) {
	a, err := s.triggerable(ctx, p, id, "generate reports")
	if err != nil {
		return nil, err
	}
	if !a.Status.HasScores() {
		return nil, apperr.InvalidState("Assessment must be scored before generating a report")
	}
	return s.jobs.Dispatch(ctx, a.ID, model.JobTypeReportGeneration)
}

// TriggerRiskPrediction dispatches a risk job for a scored assessment.
func (s *Service) TriggerRiskPrediction(ctx context.Context, p model.Principal, id string) (*model.AIJob, error) {
	a, err := s.triggerable(ctx, p, id, "predict risk")
	if err != nil {
		return nil, err
	}
	if !a.Status.HasScores() {
		return nil, apperr.InvalidState("Assessment must be scored before predicting risk")
	}
	return s.jobs.Dispatch(ctx, a.ID, model.JobTypeRiskPrediction)
}

func (s *Service) triggerable(ctx context.Context, p model.Principal, id, action string) (*model.Assessment, error) {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	if err := access.Require(p, action, access.Reviewers...); err != nil {
		return nil, err
	}
	return a, nil
}

// Scores returns the current score set.
func (s *Service) Scores(ctx context.Context, p model.Principal, id string) (*model.ScoreSet, error) {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	set, err := s.store.GetScores(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, apperr.NotFound("assessment %s has not been scored", a.ID)
	}
	return set, nil
}

// Report returns the latest report version.
func (s *Service) Report(ctx context.Context, p model.Principal, id string) (*model.Report, error) {
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetLatestReport(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperr.NotFound("assessment %s has no report", a.ID)
	}
	return r, nil
}

// Job returns a job if its assessment is visible to p.
func (s *Service) Job(ctx context.Context, p model.Principal, jobID string) (*model.AIJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := access.Assessment(ctx, s.store, p, job.AssessmentID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("job %s not found", jobID)
		}
		return nil, err
	}
	return job, nil
}

// ActiveJob returns the queued or processing job of jobType, or nil.
func (s *Service) ActiveJob(ctx context.Context, p model.Principal, id string, jobType model.JobType) (*model.AIJob, error) {
	if !jobType.Valid() {
		return nil, apperr.InvalidValue("unknown job type %q", jobType)
	}
	a, err := access.Assessment(ctx, s.store, p, id)
	if err != nil {
		return nil, err
	}
	return s.jobs.Active(ctx, a.ID, jobType)
}

// CommitScores stores a scoring result and marks the assessment scored,
// provided it is still awaiting scores. A guarding job is completed with it.
func (s *Service) CommitScores(ctx context.Context, set *model.ScoreSet, job store.JobGuard) error {
	if err := s.store.CommitScores(ctx, set, awaitingScores, job); err != nil {
		return err
	}
	zap.L().Info("scores committed",
		zap.String("assessment_id", set.AssessmentID),
		zap.Float64("overall_percentage", set.OverallPercentage),
	)
	return nil
}

// CommitReport stores a new report version and marks the assessment
// report_generated. The store assigns the version.
func (s *Service) CommitReport(ctx context.Context, r *model.Report, job store.JobGuard) error {
	if err := s.store.CommitReport(ctx, r, scoredStates, job); err != nil {
		return err
	}
	zap.L().Info("report committed",
		zap.String("assessment_id", r.AssessmentID),
		zap.Int("version", r.Version),
	)
	return nil
}

func (s *Service) derive(ctx context.Context, a *model.Assessment, tpl *model.Template) error {
	current, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return eris.Wrapf(err, "lifecycle: list responses %s", a.ID)
	}
	a.DeriveDisplayStatus(responses.Progress(tpl, current))
	return nil
}
