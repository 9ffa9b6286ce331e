package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/model"
)

var (
	jobType      string
	waitTimeout  time.Duration
	waitInterval time.Duration
	triggerWait  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Trigger and follow AI jobs",
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print a job",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		job, err := e.Lifecycle.Job(cmd.Context(), p, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	}),
}

var jobsActiveCmd = &cobra.Command{
	Use:   "active <assessment-id>",
	Short: "Print the pending or processing job of a type",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		job, err := e.Lifecycle.ActiveJob(cmd.Context(), p, args[0], model.JobType(jobType))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"job": job})
	}),
}

var jobsWaitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Poll a job until it completes or fails",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		job, err := waitForJob(cmd.Context(), e, p, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	}),
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <scoring|report_generation|risk_prediction> <assessment-id>",
	Short: "Queue an AI job for an assessment",
	Long:  "Queues the job for the running server or worker. With --wait the command polls until the job finishes.",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
		p, err := operator()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var job *model.AIJob
		switch model.JobType(args[0]) {
		case model.JobTypeScoring:
			job, err = e.Lifecycle.TriggerScoring(ctx, p, args[1])
		case model.JobTypeReportGeneration:
			job, err = e.Lifecycle.TriggerReport(ctx, p, args[1])
		case model.JobTypeRiskPrediction:
			job, err = e.Lifecycle.TriggerRiskPrediction(ctx, p, args[1])
		default:
			return eris.Errorf("unsupported job type %q", args[0])
		}
		if err != nil {
			return err
		}
		zap.L().Info("job queued",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.JobType)),
			zap.String("assessment_id", job.AssessmentID),
		)
		if triggerWait {
			if job, err = waitForJob(ctx, e, p, job.ID); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), job)
	}),
}

// waitForJob polls until the job is terminal or waitTimeout passes.
func waitForJob(ctx context.Context, e *env, p model.Principal, id string) (*model.AIJob, error) {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	ticker := time.NewTicker(waitInterval)
	defer ticker.Stop()

	for {
		job, err := e.Lifecycle.Job(ctx, p, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		zap.L().Debug("waiting for job",
			zap.String("job_id", id),
			zap.String("status", string(job.Status)),
			zap.Float64("progress", job.Progress),
		)
		select {
		case <-ctx.Done():
			return job, eris.Errorf("job %s still %s after %s", id, job.Status, waitTimeout)
		case <-ticker.C:
		}
	}
}

func init() {
	jobsActiveCmd.Flags().StringVar(&jobType, "type", string(model.JobTypeScoring), "job type")
	for _, c := range []*cobra.Command{jobsWaitCmd, jobsTriggerCmd} {
		c.Flags().DurationVar(&waitTimeout, "timeout", 60*time.Second, "how long to wait")
		c.Flags().DurationVar(&waitInterval, "interval", 2*time.Second, "poll interval")
	}
	jobsTriggerCmd.Flags().BoolVar(&triggerWait, "wait", false, "wait for the job to finish")
	jobsCmd.AddCommand(jobsShowCmd, jobsActiveCmd, jobsWaitCmd, jobsTriggerCmd)
	rootCmd.AddCommand(jobsCmd)
}
