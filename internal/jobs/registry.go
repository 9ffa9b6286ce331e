// Package jobs runs AI work as asynchronous, pollable jobs with at most one
// active job per assessment and job type.
package jobs

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-engine/internal/model"
)

// ProgressFunc reports completion in [0,1].
type ProgressFunc func(fraction float64)

// Output is what a handler produced. Without Commit the job is completed
// with Result. Commit, when set, persists the domain effect and completes the
// job in the same transaction, refusing if the job is no longer processing;
// its error fails the job.
type Output struct {
	Result json.RawMessage
	Commit func(ctx context.Context) error
}

// Handler performs one job type.
type Handler interface {
	Run(ctx context.Context, job *model.AIJob, progress ProgressFunc) (Output, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.AIJob, progress ProgressFunc) (Output, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, job *model.AIJob, progress ProgressFunc) (Output, error) {
	return f(ctx, job, progress)
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.JobType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobType]Handler)}
}

// Register adds h for t. Registering a type twice is an error.
func (r *Registry) Register(t model.JobType, h Handler) error {
	if h == nil {
		return eris.New("jobs: nil handler")
	}
	if !t.Valid() {
		return eris.Errorf("jobs: unknown job type %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return eris.Errorf("jobs: handler already registered for %s", t)
	}
	r.handlers[t] = h
	return nil
}

// Get returns the handler for t.
func (r *Registry) Get(t model.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}
