package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

// StaleMessage is recorded on jobs failed for staying active too long.
const StaleMessage = "Job timed out"

// DefaultStaleAfter is used when no stale window is configured.
const DefaultStaleAfter = 10 * time.Minute

// Store is the job persistence the orchestrator needs.
type Store interface {
	CreateJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, bool, error)
	GetJob(ctx context.Context, id string) (*model.AIJob, error)
	GetActiveJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error)
	ClaimNextJob(ctx context.Context) (*model.AIJob, error)
	ClaimJob(ctx context.Context, id string) (*model.AIJob, error)
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	FailJob(ctx context.Context, id string, message string) error
	FailStaleJobs(ctx context.Context, createdBefore time.Time, message string) (int64, error)
}

// Executor starts execution of newly created jobs.
type Executor interface {
	Notify(ctx context.Context, job *model.AIJob) error
}

// Orchestrator creates, runs and reports on jobs.
type Orchestrator struct {
	store      Store
	registry   *Registry
	executor   Executor
	staleAfter time.Duration
	now        func() time.Time
}

// NewOrchestrator returns an Orchestrator. Jobs active longer than
// staleAfter are failed on the next dispatch or active-job lookup.
func NewOrchestrator(store Store, registry *Registry, staleAfter time.Duration) *Orchestrator {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Orchestrator{store: store, registry: registry, staleAfter: staleAfter, now: time.Now}
}

// SetExecutor installs the executor notified after each create.
func (o *Orchestrator) SetExecutor(e Executor) { o.executor = e }

// Dispatch returns the active job of this type for the assessment, creating
// a queued one if none exists. Concurrent calls return the same job.
func (o *Orchestrator) Dispatch(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error) {
	if !jobType.Valid() {
		return nil, apperr.InvalidValue("unknown job type %q", jobType)
	}
	if _, ok := o.registry.Get(jobType); !ok {
		return nil, apperr.InvalidValue("job type %s is not supported", jobType)
	}
	o.failStale(ctx)

	job, created, err := o.store.CreateJob(ctx, assessmentID, jobType)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: dispatch %s for %s", jobType, assessmentID)
	}
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("assessment_id", assessmentID),
		zap.String("job_type", string(jobType)),
	)
	if !created {
		log.Debug("job already active", zap.String("status", string(job.Status)))
		return job, nil
	}
	log.Info("job queued")

	if o.executor != nil {
		if err := o.executor.Notify(ctx, job); err != nil {
			log.Error("jobs: executor rejected job", zap.Error(err))
			msg := fmt.Sprintf("%s: could not start job: %v", apperr.KindUpstreamFailure, err)
			if ferr := o.store.FailJob(ctx, job.ID, msg); ferr != nil {
				log.Warn("jobs: mark undispatched job failed", zap.Error(ferr))
			}
			return o.store.GetJob(ctx, job.ID)
		}
	}
	return job, nil
}

// Get returns a job by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.AIJob, error) {
	return o.store.GetJob(ctx, id)
}

// Active returns the queued or processing job of this type for the
// assessment, or nil. Stale jobs are failed first.
func (o *Orchestrator) Active(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error) {
	o.failStale(ctx)
	job, err := o.store.GetActiveJob(ctx, assessmentID, jobType)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: active %s for %s", jobType, assessmentID)
	}
	return job, nil
}

// RunNext claims the oldest queued job and executes it. It reports whether
// a job was found.
func (o *Orchestrator) RunNext(ctx context.Context) (bool, error) {
	job, err := o.store.ClaimNextJob(ctx)
	if err != nil {
		return false, eris.Wrap(err, "jobs: claim next")
	}
	if job == nil {
		return false, nil
	}
	o.execute(ctx, job)
	return true, nil
}

// RunByID claims a specific queued job and executes it.
func (o *Orchestrator) RunByID(ctx context.Context, id string) (*model.AIJob, error) {
	job, err := o.store.ClaimJob(ctx, id)
	if err != nil {
		return nil, err
	}
	o.execute(ctx, job)
	return o.store.GetJob(ctx, id)
}

// execute runs a claimed job to a terminal state. Handler errors, commit
// errors and panics all fail the job; nothing is retried. A job failed while
// its handler ran stays failed and its commit is refused.
func (o *Orchestrator) execute(ctx context.Context, job *model.AIJob) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("assessment_id", job.AssessmentID),
		zap.String("job_type", string(job.JobType)),
	)
	start := o.now()

	out, err := o.run(ctx, job, log)
	if err != nil {
		log.Warn("job failed", zap.Error(err), zap.Duration("elapsed", o.now().Sub(start)))
		if ferr := o.store.FailJob(context.WithoutCancel(ctx), job.ID, failureMessage(err)); ferr != nil {
			log.Error("jobs: record failure", zap.Error(ferr))
		}
		return
	}

	if out.Commit == nil {
		if err := o.store.CompleteJob(context.WithoutCancel(ctx), job.ID, out.Result); err != nil {
			log.Error("jobs: record completion", zap.Error(err))
			return
		}
	}
	log.Info("job completed", zap.Duration("elapsed", o.now().Sub(start)))
}

func (o *Orchestrator) run(ctx context.Context, job *model.AIJob, log *zap.Logger) (out Output, err error) {
	h, ok := o.registry.Get(job.JobType)
	if !ok {
		return Output{}, apperr.InvalidValue("no handler registered for job type %s", job.JobType)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panic", zap.Any("panic", r))
			err = eris.Errorf("jobs: handler panic: %v", r)
		}
	}()

	progress := func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		if perr := o.store.UpdateJobProgress(ctx, job.ID, fraction); perr != nil {
			log.Debug("jobs: update progress", zap.Error(perr))
		}
	}
	out, err = h.Run(ctx, job, progress)
	if err != nil {
		return Output{}, err
	}
	if out.Commit != nil {
		if err := out.Commit(ctx); err != nil {
			return Output{}, err
		}
	}
	return out, nil
}

func (o *Orchestrator) failStale(ctx context.Context) {
	n, err := o.store.FailStaleJobs(ctx, o.now().Add(-o.staleAfter), StaleMessage)
	if err != nil {
		zap.L().Warn("jobs: fail stale jobs", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("stale jobs failed", zap.Int64("count", n), zap.Duration("stale_after", o.staleAfter))
	}
}

// failureMessage renders err for error_message. Classified errors lead with
// their kind.
func failureMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
