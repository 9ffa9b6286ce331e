package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Benchmark BenchmarkConfig `yaml:"benchmark" mapstructure:"benchmark"`
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	Model         string `yaml:"model" mapstructure:"model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// JobsConfig configures AI job execution.
type JobsConfig struct {
	Executor       string `yaml:"executor" mapstructure:"executor"` // "pool" or "temporal"
	Workers        int    `yaml:"workers" mapstructure:"workers"`
	PollIntervalMs int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	StaleAfterMins int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
}

// PollInterval returns the worker claim interval.
func (c JobsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StaleAfter returns how long a job may stay active before it is failed.
func (c JobsConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMins) * time.Minute
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	Concurrency          int     `yaml:"concurrency" mapstructure:"concurrency"`
	AIRequestsPerSecond  float64 `yaml:"ai_requests_per_second" mapstructure:"ai_requests_per_second"`
	RetryAttempts        int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold     int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetTimeoutS int     `yaml:"breaker_reset_timeout_secs" mapstructure:"breaker_reset_timeout_secs"`
}

// BenchmarkConfig configures peer comparison.
type BenchmarkConfig struct {
	MinSampleSize int `yaml:"min_sample_size" mapstructure:"min_sample_size"`
}

// TemporalConfig configures the optional Temporal executor.
type TemporalConfig struct {
	Address   string `yaml:"address" mapstructure:"address"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ASSESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "assessments.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1500)
	v.SetDefault("anthropic.cache_ttl_hours", 168)
	v.SetDefault("jobs.executor", "pool")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.poll_interval_ms", 1000)
	v.SetDefault("jobs.stale_after_mins", 10)
	v.SetDefault("scoring.concurrency", 5)
	v.SetDefault("scoring.ai_requests_per_second", 2.0)
	v.SetDefault("scoring.retry_attempts", 3)
	v.SetDefault("scoring.breaker_threshold", 5)
	v.SetDefault("scoring.breaker_reset_timeout_secs", 30)
	v.SetDefault("benchmark.min_sample_size", 5)
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "assessment-jobs")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given command mode
// ("serve", "worker" or "" for commands that only touch the store) and
// reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Jobs.Executor == "pool" && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required to run jobs in process")
		}
		errs = append(errs, c.jobErrors()...)
	case "worker":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Temporal.Address == "" {
			errs = append(errs, "temporal.address is required")
		}
		errs = append(errs, c.jobErrors()...)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) jobErrors() []string {
	var errs []string
	switch c.Jobs.Executor {
	case "pool":
	case "temporal":
		if c.Temporal.Address == "" {
			errs = append(errs, "temporal.address is required when jobs.executor is temporal")
		}
	default:
		errs = append(errs, fmt.Sprintf("jobs.executor %q must be pool or temporal", c.Jobs.Executor))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, "jobs.workers must be at least 1")
	}
	if c.Scoring.Concurrency < 1 {
		errs = append(errs, "scoring.concurrency must be at least 1")
	}
	if c.Benchmark.MinSampleSize < 1 {
		errs = append(errs, "benchmark.min_sample_size must be at least 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
