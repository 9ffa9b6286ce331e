package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/assessment-engine/internal/httpapi"
	"github.com/sells-group/assessment-engine/internal/jobs"
	"github.com/sells-group/assessment-engine/internal/jobs/temporalrun"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assessment API",
	Long:  "Serves the HTTP API. With jobs.executor=pool AI jobs run in this process; with temporal they are handed to the worker command.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)

		switch cfg.Jobs.Executor {
		case "temporal":
			tc, err := temporalrun.Dial(ctx, cfg.Temporal.Address, cfg.Temporal.Namespace)
			if err != nil {
				return err
			}
			defer tc.Close()
			env.Jobs.SetExecutor(temporalrun.NewExecutor(tc, cfg.Temporal.TaskQueue))
		default:
			pool := jobs.NewPool(env.Jobs, cfg.Jobs.Workers, cfg.Jobs.PollInterval())
			env.Jobs.SetExecutor(pool)
			g.Go(func() error { return pool.Run(gctx) })
		}

		api := &httpapi.Server{
			Lifecycle:  env.Lifecycle,
			Responses:  env.Responses,
			Benchmarks: env.Benchmarks,
			Templates:  env.Store,
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.Handler(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			zap.L().Info("starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("executor", cfg.Jobs.Executor),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
