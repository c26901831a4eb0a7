// Package health implements the liveness/readiness surface:
// a thin read-only snapshot assembled from the kill-switch state, the Queue
// Store's reachability, and per-type backlog depth. It holds no state of
// its own and performs no mutation.
package health

import (
	"context"
	"time"

	"github.com/bozzfozz/harmony/internal/queue"
)

// TypeBacklog is the leasable backlog depth for one job type.
type TypeBacklog struct {
	Type     queue.Type `json:"type"`
	Leasable int        `json:"leasable"`
}

// Snapshot is the point-in-time health view returned by Check.
type Snapshot struct {
	WorkersEnabled bool          `json:"workers_enabled"`
	QueueReachable bool          `json:"queue_reachable"`
	Backlog        []TypeBacklog `json:"backlog"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// Live reports whether the process is alive at all: always true,
// independent of the Queue Store's own reachability. Readiness is a full
// Snapshot with QueueReachable=true. cmd/harmonyd's /healthz handler
// answers 200 directly without calling Live.
func Live() bool { return true }

// Checker assembles a Snapshot from the Queue Store and the types the
// Handler Registry has sealed, without depending on the Dispatcher or
// Scheduler directly — a component can be "ready" (queue reachable, reads
// serviceable) even with workers_enabled=false.
type Checker struct {
	store          queue.Store
	types          []queue.Type
	workersEnabled bool
	now            func() time.Time
}

// New builds a Checker over store for every type in types.
func New(store queue.Store, types []queue.Type, workersEnabled bool) *Checker {
	return &Checker{store: store, types: types, workersEnabled: workersEnabled, now: time.Now}
}

// Check queries CountLeasable for every known job type. A Queue Store error
// on any type marks the whole snapshot QueueReachable=false, since an
// unreachable store affects every type uniformly (it's a single
// connection/WAL handle under the hood); the types whose count succeeded
// still appear in Backlog, the failed ones are omitted.
func (c *Checker) Check(ctx context.Context) Snapshot {
	snap := Snapshot{WorkersEnabled: c.workersEnabled, QueueReachable: true, CheckedAt: c.now()}
	backlog := make([]TypeBacklog, 0, len(c.types))
	for _, t := range c.types {
		n, err := c.store.CountLeasable(ctx, t, snap.CheckedAt)
		if err != nil {
			snap.QueueReachable = false
			continue
		}
		backlog = append(backlog, TypeBacklog{Type: t, Leasable: n})
	}
	snap.Backlog = backlog
	return snap
}
