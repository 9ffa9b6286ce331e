// Package ai implements the scoring and narrative capabilities over the
// Anthropic Messages API.
package ai

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/assessment-engine/internal/resilience"
	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/pkg/anthropic"
)

// Cache stores model replies by request hash.
type Cache interface {
	GetCachedResponse(ctx context.Context, key string) (string, bool, error)
	SetCachedResponse(ctx context.Context, key, value string, ttl time.Duration) error
}

// Options configures a Caller.
type Options struct {
	Model             string
	MaxTokens         int64 // upper bound on any single reply; 0 keeps per-prompt limits
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Retry             resilience.Policy
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

// Caller sends prompts to the model. Identical requests are served from the
// cache; the rest are rate limited, retried on transient errors and guarded
// by a circuit breaker.
type Caller struct {
	client  anthropic.Client
	cache   Cache
	limiter *rate.Limiter
	breaker *resilience.Breaker
	opts    Options
}

// NewCaller builds a Caller. cache may be nil.
func NewCaller(client anthropic.Client, cache Cache, opts Options) *Caller {
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5-20250929"
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	b := resilience.NewBreaker("anthropic", opts.BreakerThreshold, opts.BreakerCooldown)
	b.Counts = resilience.IsTransient
	return &Caller{
		client:  client,
		cache:   cache,
		limiter: rate.NewLimiter(limit, burst),
		breaker: b,
		opts:    opts,
	}
}

// prompt is one model request.
type prompt struct {
	capability  string
	system      string
	user        string
	maxTokens   int64
	temperature float64
}

func (p prompt) cacheKey(model string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%g", model, p.system, p.user, p.maxTokens, p.temperature)))
	return fmt.Sprintf("%x", h)
}

// complete returns the model's text reply. Exhausted transient failures and
// an open breaker are reported as scoring.ErrUnavailable.
func (c *Caller) complete(ctx context.Context, p prompt) (string, error) {
	log := zap.L().With(zap.String("capability", p.capability))
	if c.opts.MaxTokens > 0 && p.maxTokens > c.opts.MaxTokens {
		p.maxTokens = c.opts.MaxTokens
	}
	key := p.cacheKey(c.opts.Model)

	if c.cache != nil {
		text, ok, err := c.cache.GetCachedResponse(ctx, key)
		if err != nil {
			log.Warn("ai cache read failed", zap.Error(err))
		} else if ok {
			log.Debug("ai cache hit", zap.String("key", key[:12]))
			return text, nil
		}
	}

	policy := c.opts.Retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetries(p.capability)
	}
	temperature := p.temperature

	text, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (string, error) {
		return resilience.Retry(ctx, policy, func(ctx context.Context) (string, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
			resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:       c.opts.Model,
				MaxTokens:   p.maxTokens,
				System:      anthropic.CachedSystem(p.system),
				Messages:    []anthropic.Message{{Role: "user", Content: p.user}},
				Temperature: &temperature,
			})
			if err != nil {
				if status := anthropic.StatusCode(err); resilience.TransientStatus(status) {
					return "", resilience.Transient(err, status)
				}
				return "", err
			}
			resp.Usage.LogCost(c.opts.Model, p.capability)
			return resp.Text(), nil
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || resilience.IsTransient(err) {
			return "", eris.Wrapf(scoring.ErrUnavailable, "ai: %s: %v", p.capability, err)
		}
		return "", eris.Wrapf(err, "ai: %s", p.capability)
	}

	if c.cache != nil && c.opts.CacheTTL > 0 {
		if err := c.cache.SetCachedResponse(ctx, key, text, c.opts.CacheTTL); err != nil {
			log.Warn("ai cache write failed", zap.Error(err))
		}
	}
	return text, nil
}
