package lifecycle

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/benchmark"
	"github.com/sells-group/assessment-engine/internal/jobs"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/report"
	"github.com/sells-group/assessment-engine/internal/risk"
	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/internal/store"
)

// system reads on behalf of background jobs.
var system = model.Principal{UserID: "assessment-engine", Role: model.RolePlatformAdmin}

// Scorer scores a response snapshot.
type Scorer interface {
	Score(ctx context.Context, in scoring.Input, progress scoring.ProgressFunc) (*model.ScoreSet, error)
}

// Composer writes reports.
type Composer interface {
	Compose(ctx context.Context, in report.Input, progress report.ProgressFunc) (*model.Report, error)
}

// Benchmarks compares an assessment with its peers.
type Benchmarks interface {
	Compare(ctx context.Context, p model.Principal, assessmentID, country string) (*benchmark.Comparison, error)
}

// Capabilities are the engines behind the job handlers. Benchmarks is
// optional; reports are written without peer context when it is nil.
type Capabilities struct {
	Scorer     Scorer
	Composer   Composer
	Benchmarks Benchmarks
}

// RegisterHandlers registers the scoring, report and risk handlers.
// document_extraction is left unregistered.
func (s *Service) RegisterHandlers(reg *jobs.Registry, caps Capabilities) error {
	if caps.Scorer != nil {
		if err := reg.Register(model.JobTypeScoring, jobs.HandlerFunc(func(ctx context.Context, job *model.AIJob, progress jobs.ProgressFunc) (jobs.Output, error) {
			return s.runScoring(ctx, job, caps.Scorer, progress)
		})); err != nil {
			return err
		}
	}
	if caps.Composer != nil {
		if err := reg.Register(model.JobTypeReportGeneration, jobs.HandlerFunc(func(ctx context.Context, job *model.AIJob, progress jobs.ProgressFunc) (jobs.Output, error) {
			return s.runReport(ctx, job, caps.Composer, caps.Benchmarks, progress)
		})); err != nil {
			return err
		}
	}
	return reg.Register(model.JobTypeRiskPrediction, jobs.HandlerFunc(s.runRisk))
}

type snapshot struct {
	assessment *model.Assessment
	template   *model.Template
	responses  []model.Response
}

func (s *Service) load(ctx context.Context, assessmentID string) (*snapshot, error) {
	a, err := s.store.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.store.GetTemplate(ctx, a.TemplateID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load template %s", a.TemplateID)
	}
	rs, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: list responses %s", a.ID)
	}
	return &snapshot{assessment: a, template: tpl, responses: rs}, nil
}

func (s *Service) runScoring(ctx context.Context, job *model.AIJob, scorer Scorer, progress jobs.ProgressFunc) (jobs.Output, error) {
	snap, err := s.load(ctx, job.AssessmentID)
	if err != nil {
		return jobs.Output{}, err
	}
	if snap.assessment.Status != model.StatusSubmitted && snap.assessment.Status != model.StatusUnderReview {
		return jobs.Output{}, apperr.InvalidState("Cannot score assessment with status '%s'", snap.assessment.Status)
	}

	set, err := scorer.Score(ctx, scoring.Input{
		AssessmentID: snap.assessment.ID,
		Template:     snap.template,
		Responses:    snap.responses,
	}, func(done, total int) {
		if total > 0 {
			progress(float64(done) / float64(total))
		}
	})
	if err != nil {
		return jobs.Output{}, apperr.Upstream(err, "scoring failed")
	}

	result, err := json.Marshal(map[string]any{
		"overall_score":      set.OverallScore,
		"overall_max_score":  set.OverallMaxScore,
		"overall_percentage": set.OverallPercentage,
		"items_scored":       set.ItemsScored,
		"items_failed":       set.ItemsFailed,
		"issues":             len(set.Issues),
	})
	if err != nil {
		return jobs.Output{}, eris.Wrap(err, "lifecycle: marshal scoring result")
	}
	return jobs.Output{
		Commit: func(ctx context.Context) error {
			return s.CommitScores(ctx, set, store.JobGuard{
				JobID:  job.ID,
				Result: func() json.RawMessage { return result },
			})
		},
	}, nil
}

func (s *Service) runReport(ctx context.Context, job *model.AIJob, composer Composer, bench Benchmarks, progress jobs.ProgressFunc) (jobs.Output, error) {
	snap, err := s.load(ctx, job.AssessmentID)
	if err != nil {
		return jobs.Output{}, err
	}
	a := snap.assessment
	if !a.Status.HasScores() {
		return jobs.Output{}, apperr.InvalidState("Assessment must be scored before generating a report")
	}
	scores, err := s.store.GetScores(ctx, a.ID)
	if err != nil {
		return jobs.Output{}, err
	}
	if scores == nil {
		return jobs.Output{}, apperr.InvalidState("assessment %s has no scores", a.ID)
	}
	previous, err := s.store.GetLatestReport(ctx, a.ID)
	if err != nil {
		return jobs.Output{}, err
	}

	in := report.Input{Assessment: a, Template: snap.template, Scores: scores, Responses: snap.responses}
	if previous != nil {
		in.PreviousVersion = previous.Version
	}
	log := zap.L().With(zap.String("assessment_id", a.ID), zap.String("job_id", job.ID))
	if in.Tenant, err = s.store.GetTenant(ctx, a.TenantID); err != nil {
		return jobs.Output{}, err
	}
	if bench != nil {
		country := ""
		if in.Tenant != nil {
			country = in.Tenant.Country
		}
		cmp, err := bench.Compare(ctx, system, a.ID, country)
		if err != nil {
			log.Warn("lifecycle: benchmarks unavailable for report", zap.Error(err))
		} else {
			in.Benchmarks = cmp.Metrics
		}
	}

	rep, err := composer.Compose(ctx, in, report.ProgressFunc(progress))
	if err != nil {
		return jobs.Output{}, apperr.Upstream(err, "report generation failed")
	}
	return jobs.Output{
		Commit: func(ctx context.Context) error {
			return s.CommitReport(ctx, rep, store.JobGuard{
				JobID:  job.ID,
				Result: func() json.RawMessage { return report.MarshalSummary(rep) },
			})
		},
	}, nil
}

func (s *Service) runRisk(ctx context.Context, job *model.AIJob, progress jobs.ProgressFunc) (jobs.Output, error) {
	snap, err := s.load(ctx, job.AssessmentID)
	if err != nil {
		return jobs.Output{}, err
	}
	scores, err := s.store.GetScores(ctx, snap.assessment.ID)
	if err != nil {
		return jobs.Output{}, err
	}
	if scores == nil {
		return jobs.Output{}, apperr.InvalidState("Assessment must be scored before predicting risk")
	}

	values := make(map[string]json.RawMessage, len(snap.responses))
	for _, r := range snap.responses {
		if r.PartnerID == "" {
			values[r.ItemID] = r.Value
		}
	}
	res := risk.Evaluate(risk.MetricsFrom(snap.template, scores, values))
	res.AssessmentID = snap.assessment.ID
	res.PredictedAt = s.now().UTC()
	progress(1)

	out, err := json.Marshal(res)
	if err != nil {
		return jobs.Output{}, eris.Wrap(err, "lifecycle: marshal risk result")
	}
	zap.L().Info("risk predicted",
		zap.String("assessment_id", res.AssessmentID),
		zap.String("risk_level", string(res.RiskLevel)),
		zap.Float64("risk_score", res.RiskScore),
	)
	return jobs.Output{Result: out}, nil
}
