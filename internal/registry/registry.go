// Package registry implements the Handler Registry: a read-only,
// post-bootstrap mapping from job type to the handler and policy knobs the
// Dispatcher needs to run it.
package registry

import (
	"context"
	"fmt"

	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/retry"
)

// Handler is the inward-facing contract: handlers must return
// cooperatively once ctx is cancelled.
type Handler func(ctx context.Context, payload []byte) orcherr.Outcome

// Entry is one registered job type and its dispatch policy.
type Entry struct {
	Type                     queue.Type
	Handler                  Handler
	MaxAttempts              int
	DefaultVisibilityTimeout int64 // seconds; Dispatcher converts to time.Duration
	DefaultPriority          int
	RetryProfile             retry.Profile
}

// Registry is read-only after Seal; Register panics if called afterward, in
// the same spirit as the teacher's bootstrap-time-only wiring calls.
type Registry struct {
	entries map[queue.Type]Entry
	sealed  bool
}

// New returns an empty, unsealed Registry.
func New() *Registry {
	return &Registry{entries: make(map[queue.Type]Entry)}
}

// Register adds or replaces an entry. Must be called before Seal.
func (r *Registry) Register(e Entry) {
	if r.sealed {
		panic(fmt.Sprintf("registry: Register(%s) called after Seal", e.Type))
	}
	if e.Handler == nil {
		panic(fmt.Sprintf("registry: Register(%s) with nil Handler", e.Type))
	}
	r.entries[e.Type] = e
}

// Seal freezes the registry. Bootstrap calls this once, after every handler
// has registered.
func (r *Registry) Seal() { r.sealed = true }

// Lookup returns the entry for a job type, or false if the type is unknown
// (unknown-type jobs are sent to DLQ with VALIDATION_ERROR).
func (r *Registry) Lookup(t queue.Type) (Entry, bool) {
	e, ok := r.entries[t]
	return e, ok
}

// Types returns every registered type, for the Scheduler's round-robin scan.
func (r *Registry) Types() []queue.Type {
	out := make([]queue.Type, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	return out
}
