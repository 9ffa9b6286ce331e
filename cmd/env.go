package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/ai"
	"github.com/sells-group/assessment-engine/internal/benchmark"
	"github.com/sells-group/assessment-engine/internal/config"
	"github.com/sells-group/assessment-engine/internal/jobs"
	"github.com/sells-group/assessment-engine/internal/lifecycle"
	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/report"
	"github.com/sells-group/assessment-engine/internal/resilience"
	"github.com/sells-group/assessment-engine/internal/responses"
	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/internal/store"
	"github.com/sells-group/assessment-engine/pkg/anthropic"
)

// env is the wired service graph shared by every command.
type env struct {
	Store      store.Store
	Jobs       *jobs.Orchestrator
	Lifecycle  *lifecycle.Service
	Responses  *responses.Service
	Benchmarks *benchmark.Service
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initEnv opens the store, migrates it and builds the services. Scoring and
// report handlers are registered only when an Anthropic key is configured;
// risk prediction is always available.
func initEnv(ctx context.Context, c *config.Config) (*env, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := jobs.NewRegistry()
	orch := jobs.NewOrchestrator(st, reg, c.Jobs.StaleAfter())
	life := lifecycle.NewService(st, orch)
	bench := benchmark.NewService(st, c.Benchmark.MinSampleSize)

	caps := lifecycle.Capabilities{Benchmarks: bench}
	if c.Anthropic.Key != "" {
		caller := newCaller(c, st)
		caps.Scorer = scoring.NewEngine(scoring.NewRouter(ai.NewGrader(caller)), c.Scoring.Concurrency)
		caps.Composer = report.NewComposer(ai.NewNarrator(caller))
	}
	if err := life.RegisterHandlers(reg, caps); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "register job handlers")
	}

	return &env{
		Store:      st,
		Jobs:       orch,
		Lifecycle:  life,
		Responses:  responses.NewService(st),
		Benchmarks: bench,
	}, nil
}

func newCaller(c *config.Config, cache ai.Cache) *ai.Caller {
	retry := resilience.DefaultPolicy()
	if c.Scoring.RetryAttempts > 0 {
		retry.Attempts = c.Scoring.RetryAttempts
	}
	return ai.NewCaller(anthropic.NewClient(c.Anthropic.Key), cache, ai.Options{
		Model:             c.Anthropic.Model,
		MaxTokens:         c.Anthropic.MaxTokens,
		CacheTTL:          time.Duration(c.Anthropic.CacheTTLHours) * time.Hour,
		RequestsPerSecond: c.Scoring.AIRequestsPerSecond,
		Retry:             retry,
		BreakerThreshold:  c.Scoring.BreakerThreshold,
		BreakerCooldown:   time.Duration(c.Scoring.BreakerResetTimeoutS) * time.Second,
	})
}

// Operator identity flags. Commands act as this principal.
var (
	asUser   string
	asTenant string
	asRole   string
)

func operator() (model.Principal, error) {
	p := model.Principal{UserID: asUser, TenantID: asTenant, Role: model.Role(asRole)}
	if !p.Role.Valid() {
		return p, eris.Errorf("unknown role %q", asRole)
	}
	if p.TenantID == "" && p.Role != model.RolePlatformAdmin {
		return p, eris.Errorf("--tenant is required for role %s", p.Role)
	}
	return p, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// withEnv wraps a command body with config validation and env setup.
func withEnv(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(""); err != nil {
			return err
		}
		e, err := initEnv(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, args, e)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "assessctl", "user id recorded for CLI actions")
	rootCmd.PersistentFlags().StringVar(&asTenant, "tenant", "", "tenant to act within")
	rootCmd.PersistentFlags().StringVar(&asRole, "role", string(model.RolePlatformAdmin), "role to act as")
}
