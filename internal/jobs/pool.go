package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Pool executes queued jobs in-process with a fixed number of workers. Each
// worker polls on a ticker and is also woken when a job is dispatched.
type Pool struct {
	orch     *Orchestrator
	workers  int
	interval time.Duration
	wake     chan struct{}
}

// NewPool returns a Pool of workers goroutines polling every interval.
func NewPool(orch *Orchestrator, workers int, interval time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Pool{
		orch:     orch,
		workers:  workers,
		interval: interval,
		wake:     make(chan struct{}, workers),
	}
}

// Notify implements Executor. It never blocks.
func (p *Pool) Notify(_ context.Context, _ *model.AIJob) error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run starts the workers and blocks until ctx is cancelled. Jobs in flight
// finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "jobs.pool"))
	log.Info("starting job workers",
		zap.Int("workers", p.workers),
		zap.Duration("interval", p.interval),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			p.loop(gctx, log.With(zap.Int("worker", i+1)))
			return nil
		})
	}
	err := g.Wait()
	log.Info("job workers stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, log *zap.Logger) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.drain(ctx, log)
	}
}

// drain runs queued jobs until none are left.
func (p *Pool) drain(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		found, err := p.orch.RunNext(ctx)
		if err != nil {
			log.Warn("jobs: poll failed", zap.Error(err))
			return
		}
		if !found {
			return
		}
	}
}
