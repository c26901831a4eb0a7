// Package scheduler implements the Scheduler: it keeps the
// Dispatcher fed by leasing jobs per type, round-robin, without exceeding
// the capacity the Dispatcher reports back.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/log"
	"github.com/bozzfozz/harmony/internal/metrics"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/registry"
)

const component = "scheduler"

// Submitter is the Dispatcher-facing boundary the Scheduler depends on. A
// Dispatcher implements this so the Scheduler never reaches into its
// semaphores directly.
type Submitter interface {
	// Capacity reports how many additional jobs of type t could start right
	// now, bounded by both the per-type pool and the shared global
	// semaphore.
	Capacity(t queue.Type) int
	// Submit hands a leased job to the worker pool. Must not block on the
	// handler itself.
	Submit(job *queue.Job)
}

// Config holds the Scheduler's tunables.
type Config struct {
	PollInterval      time.Duration
	PollIntervalMax   time.Duration
	VisibilityTimeout map[queue.Type]time.Duration
	DefaultVisibility time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      200 * time.Millisecond,
		PollIntervalMax:   5 * time.Second,
		DefaultVisibility: 30 * time.Second,
	}
}

// Scheduler polls the Queue Store on behalf of the Dispatcher.
type Scheduler struct {
	store      queue.Store
	registry   *registry.Registry
	dispatcher Submitter
	clock      clock.Clock
	jitter     *clock.Jitter
	bus        *events.Bus
	owner      string
	cfg        Config
}

// New constructs a Scheduler. owner identifies this dispatcher instance for
// lease attribution.
func New(store queue.Store, reg *registry.Registry, dispatcher Submitter, c clock.Clock, j *clock.Jitter, bus *events.Bus, owner string, cfg Config) *Scheduler {
	if cfg.PollInterval < 10*time.Millisecond {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.PollIntervalMax < cfg.PollInterval {
		cfg.PollIntervalMax = cfg.PollInterval
	}
	return &Scheduler{store: store, registry: reg, dispatcher: dispatcher, clock: c, jitter: j, bus: bus, owner: owner, cfg: cfg}
}

// Run polls until ctx is cancelled. It never returns a non-nil error; leasing
// failures are logged as events and retried next round.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		leasedAny := false
		for _, t := range s.orderedTypes() {
			capacity := s.dispatcher.Capacity(t)
			if capacity <= 0 {
				continue
			}
			entry, _ := s.registry.Lookup(t)
			vt := s.visibilityTimeoutFor(t, entry)

			jobs, err := s.store.Lease(ctx, t, s.owner, vt, capacity)
			if err != nil {
				s.bus.Emit(ctx, events.Event{Name: "orchestrator.lease", Component: component, Status: "error",
					Meta: map[string]any{log.FieldJobType: string(t), "error": err.Error()}})
				continue
			}
			if len(jobs) == 0 {
				continue
			}
			leasedAny = true
			metrics.JobsLeasedTotal.WithLabelValues(string(t)).Add(float64(len(jobs)))
			s.bus.Emit(ctx, events.Event{Name: "orchestrator.lease", Component: component, Status: "leased",
				Meta: map[string]any{log.FieldJobType: string(t), "count": len(jobs)}})
			for _, j := range jobs {
				s.dispatcher.Submit(j)
			}
		}

		if leasedAny {
			interval = s.cfg.PollInterval
		} else {
			interval *= 2
			if interval > s.cfg.PollIntervalMax {
				interval = s.cfg.PollIntervalMax
			}
		}

		sleepFor := jitterDuration(interval, 0.2, s.jitter)
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(sleepFor):
		}
	}
}

func (s *Scheduler) orderedTypes() []queue.Type {
	types := s.registry.Types()
	sort.Slice(types, func(i, k int) bool { return types[i] < types[k] })
	return types
}

func (s *Scheduler) visibilityTimeoutFor(t queue.Type, entry registry.Entry) time.Duration {
	if vt, ok := s.cfg.VisibilityTimeout[t]; ok && vt > 0 {
		return clampVisibility(vt)
	}
	if entry.DefaultVisibilityTimeout > 0 {
		return clampVisibility(time.Duration(entry.DefaultVisibilityTimeout) * time.Second)
	}
	if s.cfg.DefaultVisibility > 0 {
		return clampVisibility(s.cfg.DefaultVisibility)
	}
	return queue.MinVisibilityTimeout
}

func clampVisibility(d time.Duration) time.Duration {
	if d < queue.MinVisibilityTimeout {
		return queue.MinVisibilityTimeout
	}
	return d
}

func jitterDuration(base time.Duration, pct float64, j *clock.Jitter) time.Duration {
	if j == nil {
		return base
	}
	factor := 1 + j.Signed()*pct
	d := time.Duration(float64(base) * factor)
	if d < 0 {
		d = 0
	}
	return d
}
