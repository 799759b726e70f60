package webhook

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Handler is a webhook subscriber. It runs inside the dispatch unit of work
// and receives its transaction; returning an error rolls back the delivered
// marker and surfaces the failure to the queue runtime. Handlers must be
// idempotent: a failed dispatch is re-run with the same event.
type Handler func(ctx context.Context, tx *sqlx.Tx, w *Context) error

// Registry is an explicit, statically enumerable subscriber registry keyed by
// channel name, plus a registry of named jobs for per-type routing overrides.
// Registration happens once at process start; Registry is not safe for
// concurrent mutation after that.
type Registry struct {
	channels map[string][]Handler
	jobs     map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string][]Handler),
		jobs:     make(map[string]Handler),
	}
}

// Bind subscribes h to a channel name. Any number of handlers may bind to
// the same channel; they run in registration order.
func (r *Registry) Bind(channel string, h Handler) {
	r.channels[channel] = append(r.channels[channel], h)
}

// RegisterJob registers a named job referenced by routing configuration.
func (r *Registry) RegisterJob(name string, h Handler) {
	r.jobs[name] = h
}

// Dispatch notifies every handler bound to each of names, in order. The
// first handler error aborts the fan-out and is returned wrapped with the
// channel name.
func (r *Registry) Dispatch(ctx context.Context, tx *sqlx.Tx, names []string, w *Context) error {
	for _, name := range names {
		for _, h := range r.channels[name] {
			if err := h(ctx, tx, w); err != nil {
				return fmt.Errorf("channel %s: %w", name, err)
			}
		}
	}
	return nil
}

// RunJob runs the named job, if registered. Routing may reference jobs the
// process does not know about (e.g. a job registered only in another worker
// binary); that is not an error here.
func (r *Registry) RunJob(ctx context.Context, tx *sqlx.Tx, name string, w *Context) error {
	h, ok := r.jobs[name]
	if !ok {
		return nil
	}
	if err := h(ctx, tx, w); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}
