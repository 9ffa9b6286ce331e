package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/jobs/temporalrun"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run AI jobs from the Temporal task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := temporalrun.Dial(ctx, cfg.Temporal.Address, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer tc.Close()

		w := temporalrun.NewWorker(tc, cfg.Temporal.TaskQueue, env.Jobs, cfg.Jobs.Workers)
		if err := w.Start(); err != nil {
			return eris.Wrap(err, "start temporal worker")
		}
		zap.L().Info("temporal worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.Int("concurrency", cfg.Jobs.Workers),
		)

		<-ctx.Done()
		zap.L().Info("stopping temporal worker")
		w.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
