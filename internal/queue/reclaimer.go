package queue

import (
	"context"
	"time"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/metrics"
)

const reclaimerComponent = "reclaimer"

// ReclaimerConfig holds the Reclaimer's polling tunables.
type ReclaimerConfig struct {
	Interval time.Duration
}

// DefaultReclaimerConfig mirrors the Scheduler's default poll interval: a
// crashed worker's lease is visible to the Scheduler again within roughly
// one scheduling round of expiring.
func DefaultReclaimerConfig() ReclaimerConfig {
	return ReclaimerConfig{Interval: 200 * time.Millisecond}
}

// Reclaimer periodically sweeps the Store for leased jobs whose lease has
// expired without a heartbeat or completion, returning them to pending so
// the Scheduler can hand them to a different worker. It is the other half
// of lease expiry: the Dispatcher's own heartbeat loop notices a lease it
// lost itself, but only a live reclaimer catches a lease whose owner
// process is gone entirely (crashed, killed, network-partitioned).
type Reclaimer struct {
	store  Store
	clock  clock.Clock
	jitter *clock.Jitter
	bus    *events.Bus
	cfg    ReclaimerConfig
}

// NewReclaimer constructs a Reclaimer.
func NewReclaimer(store Store, c clock.Clock, j *clock.Jitter, bus *events.Bus, cfg ReclaimerConfig) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReclaimerConfig().Interval
	}
	return &Reclaimer{store: store, clock: c, jitter: j, bus: bus, cfg: cfg}
}

// Run sweeps until ctx is cancelled. A sweep failure is logged as an event
// and retried next round; it never aborts the loop.
func (r *Reclaimer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		reclaimed, err := r.store.ReclaimExpired(ctx, r.clock.Now())
		if err != nil {
			r.bus.Emit(ctx, events.Event{Name: "orchestrator.reclaim", Component: reclaimerComponent, Status: "error",
				Meta: map[string]any{"error": err.Error()}})
		} else if len(reclaimed) > 0 {
			metrics.ReclaimedTotal.WithLabelValues("all").Add(float64(len(reclaimed)))
			r.bus.Emit(ctx, events.Event{Name: "orchestrator.reclaim", Component: reclaimerComponent, Status: "reclaimed",
				Meta: map[string]any{"count": len(reclaimed), "job_ids": reclaimed}})
		}

		sleepFor := jitterDuration(r.cfg.Interval, 0.2, r.jitter)
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(sleepFor):
		}
	}
}

func jitterDuration(base time.Duration, pct float64, j *clock.Jitter) time.Duration {
	if j == nil || pct <= 0 {
		return base
	}
	delta := time.Duration(float64(base) * pct * j.Signed())
	d := base + delta
	if d < 0 {
		return 0
	}
	return d
}
