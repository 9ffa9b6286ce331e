// Package temporalrun executes jobs as Temporal workflows. Each job gets one
// workflow whose single activity runs the job through the orchestrator.
package temporalrun

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/jobs"
	"github.com/sells-group/assessment-engine/internal/model"
)

const (
	WorkflowName = "assessment_job"
	ActivityName = "run_assessment_job"

	// DefaultTaskQueue is used when none is configured.
	DefaultTaskQueue = "assessment-jobs"

	activityTimeout = 15 * time.Minute
)

// WorkflowID returns the workflow id for a job.
func WorkflowID(jobID string) string { return "aijob-" + jobID }

// Workflow runs one job. The activity is attempted once; a failed job stays
// failed until it is triggered again.
func Workflow(ctx workflow.Context, jobID string) (model.JobStatus, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var status model.JobStatus
	if err := workflow.ExecuteActivity(ctx, ActivityName, jobID).Get(ctx, &status); err != nil {
		return "", err
	}
	return status, nil
}

// Runner is the orchestrator surface the activity needs.
type Runner interface {
	RunByID(ctx context.Context, id string) (*model.AIJob, error)
	Get(ctx context.Context, id string) (*model.AIJob, error)
}

// Activities holds the activity implementations.
type Activities struct {
	Jobs Runner
}

// Run executes the job and returns its terminal status. A job that is no
// longer queued is reported as-is without running again.
func (a *Activities) Run(ctx context.Context, jobID string) (model.JobStatus, error) {
	job, err := a.Jobs.RunByID(ctx, jobID)
	switch {
	case err == nil:
		return job.Status, nil
	case apperr.Is(err, apperr.KindConflict):
		existing, gerr := a.Jobs.Get(ctx, jobID)
		if gerr != nil {
			return "", gerr
		}
		activity.GetLogger(ctx).Info("job already claimed", "job_id", jobID, "status", string(existing.Status))
		return existing.Status, nil
	case apperr.Is(err, apperr.KindNotFound):
		return "", temporal.NewNonRetryableApplicationError(err.Error(), string(apperr.KindNotFound), err)
	default:
		return "", err
	}
}

// Starter is the part of client.Client the executor uses.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Executor starts a workflow for each newly dispatched job.
type Executor struct {
	client    Starter
	taskQueue string
}

// NewExecutor returns an Executor on taskQueue.
func NewExecutor(c Starter, taskQueue string) *Executor {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Executor{client: c, taskQueue: taskQueue}
}

// Notify implements jobs.Executor. Starting a workflow that already exists
// is not an error.
func (e *Executor) Notify(ctx context.Context, job *model.AIJob) error {
	opts := client.StartWorkflowOptions{
		ID:                    WorkflowID(job.ID),
		TaskQueue:             e.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, WorkflowName, job.ID)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil
		}
		return eris.Wrapf(err, "temporalrun: start workflow for job %s", job.ID)
	}
	zap.L().Debug("job workflow started",
		zap.String("job_id", job.ID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

var _ jobs.Executor = (*Executor)(nil)

// NewWorker returns a worker on taskQueue with the workflow and activity
// registered by name.
func NewWorker(c client.Client, taskQueue string, runner Runner, concurrency int) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &Activities{Jobs: runner}
	w.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(acts.Run, activity.RegisterOptions{Name: ActivityName})
	return w
}

// Dial connects to Temporal.
func Dial(ctx context.Context, address, namespace string) (client.Client, error) {
	c, err := client.DialContext(ctx, client.Options{HostPort: address, Namespace: namespace})
	if err != nil {
		return nil, eris.Wrapf(err, "temporalrun: dial %s (namespace %s)", address, namespace)
	}
	return c, nil
}
