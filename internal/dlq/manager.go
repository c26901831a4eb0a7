// Package dlq implements the DLQ Manager: list/requeue/purge
// operations over dead-lettered jobs, with batch-size enforcement and event
// emission on every mutation.
package dlq

import (
	"context"
	"errors"

	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/metrics"
	"github.com/bozzfozz/harmony/internal/queue"
)

const component = "dlq"

// ErrBatchTooLarge is returned when a requeue/purge request exceeds the
// configured upper bound.
var ErrBatchTooLarge = errors.New("dlq: batch exceeds configured limit")

// Config holds the DLQ Manager's pagination/batch bounds.
type Config struct {
	PageSizeDefault int
	PageSizeMax     int
	RequeueLimit    int
	PurgeLimit      int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{PageSizeDefault: 25, PageSizeMax: 100, RequeueLimit: 500, PurgeLimit: 1000}
}

// Manager wraps queue.Store's DLQ operations with the bounds and logging
// every mutation requires.
type Manager struct {
	store queue.Store
	bus   *events.Bus
	cfg   Config
}

// New constructs a Manager.
func New(store queue.Store, bus *events.Bus, cfg Config) *Manager {
	if cfg.PageSizeDefault <= 0 {
		cfg.PageSizeDefault = 25
	}
	if cfg.PageSizeMax <= 0 {
		cfg.PageSizeMax = 100
	}
	if cfg.RequeueLimit <= 0 {
		cfg.RequeueLimit = 500
	}
	if cfg.PurgeLimit <= 0 {
		cfg.PurgeLimit = 1000
	}
	return &Manager{store: store, bus: bus, cfg: cfg}
}

// List returns a page of dead-lettered jobs, clamping the requested limit
// to [1, PageSizeMax].
func (m *Manager) List(ctx context.Context, filter queue.DLQFilter, page queue.Page) ([]*queue.Job, int, error) {
	if page.Limit <= 0 {
		page.Limit = m.cfg.PageSizeDefault
	}
	if page.Limit > m.cfg.PageSizeMax {
		page.Limit = m.cfg.PageSizeMax
	}
	return m.store.ListDLQ(ctx, filter, page)
}

// Requeue transitions the named jobs back to pending, enforcing RequeueLimit.
func (m *Manager) Requeue(ctx context.Context, ids []string) (int, error) {
	if len(ids) > m.cfg.RequeueLimit {
		return 0, ErrBatchTooLarge
	}
	n, err := m.store.Requeue(ctx, ids)
	if err != nil {
		return 0, err
	}
	metrics.DLQOperationsTotal.WithLabelValues("requeued").Add(float64(n))
	m.bus.Emit(ctx, events.Event{Name: "worker.job", Component: component, Status: "requeued",
		Meta: map[string]any{"count": n}})
	return n, nil
}

// Purge permanently deletes the named jobs, enforcing PurgeLimit.
func (m *Manager) Purge(ctx context.Context, ids []string) (int, error) {
	if len(ids) > m.cfg.PurgeLimit {
		return 0, ErrBatchTooLarge
	}
	n, err := m.store.Purge(ctx, ids)
	if err != nil {
		return 0, err
	}
	metrics.DLQOperationsTotal.WithLabelValues("purged").Add(float64(n))
	m.bus.Emit(ctx, events.Event{Name: "worker.job", Component: component, Status: "purged",
		Meta: map[string]any{"count": n}})
	return n, nil
}
