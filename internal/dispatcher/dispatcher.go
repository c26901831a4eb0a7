// Package dispatcher implements the Dispatcher / Worker Pool: it
// runs leased jobs under a deadline and cancellation, heartbeats their
// leases, and commits the handler's outcome back to the Queue Store.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/log"
	"github.com/bozzfozz/harmony/internal/metrics"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/registry"
	"github.com/bozzfozz/harmony/internal/retry"
)

const component = "dispatcher"

// Config holds the Dispatcher's concurrency and timing budgets.
type Config struct {
	GlobalConcurrency int64
	Pool              map[queue.Type]int64
	VisibilityTimeout map[queue.Type]time.Duration
	DefaultVisibility time.Duration
	ShutdownGrace     time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency: 16,
		DefaultVisibility: 30 * time.Second,
		ShutdownGrace:     2 * time.Second,
	}
}

type typeSlot struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// Dispatcher runs handlers for leased jobs under per-type and global
// concurrency budgets.
type Dispatcher struct {
	store    queue.Store
	registry *registry.Registry
	clock    clock.Clock
	jitter   *clock.Jitter
	bus      *events.Bus
	owner    string
	cfg      Config

	global         *semaphore.Weighted
	globalInFlight atomic.Int64

	mu      sync.Mutex
	perType map[queue.Type]*typeSlot

	wg       sync.WaitGroup
	draining atomic.Bool
}

// New constructs a Dispatcher. owner must match the Scheduler's lease owner.
func New(store queue.Store, reg *registry.Registry, c clock.Clock, j *clock.Jitter, bus *events.Bus, owner string, cfg Config) *Dispatcher {
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 16
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Second
	}
	return &Dispatcher{
		store:    store,
		registry: reg,
		clock:    c,
		jitter:   j,
		bus:      bus,
		owner:    owner,
		cfg:      cfg,
		global:   semaphore.NewWeighted(cfg.GlobalConcurrency),
		perType:  make(map[queue.Type]*typeSlot),
	}
}

func (d *Dispatcher) slotFor(t queue.Type) *typeSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.perType[t]; ok {
		return s
	}
	limit := d.cfg.GlobalConcurrency
	if n, ok := d.cfg.Pool[t]; ok && n > 0 {
		limit = n
	}
	s := &typeSlot{sem: semaphore.NewWeighted(limit), limit: limit}
	d.perType[t] = s
	return s
}

// Capacity reports how many additional jobs of type t could start right
// now. It is a best-effort estimate derived from atomic counters, not a
// reservation; Submit re-validates via the real semaphores.
func (d *Dispatcher) Capacity(t queue.Type) int {
	if d.draining.Load() {
		return 0
	}
	slot := d.slotFor(t)
	perTypeFree := slot.limit - slot.inFlight.Load()
	globalFree := d.cfg.GlobalConcurrency - d.globalInFlight.Load()
	free := perTypeFree
	if globalFree < free {
		free = globalFree
	}
	if free < 0 {
		free = 0
	}
	return int(free)
}

// Submit hands a leased job to the pool. It returns immediately; the
// handler runs on its own goroutine.
func (d *Dispatcher) Submit(job *queue.Job) {
	if d.draining.Load() {
		return
	}
	d.wg.Add(1)
	go d.run(job)
}

// Stop stops accepting new jobs (via the draining flag consulted by
// Capacity/Submit) and waits up to cfg.ShutdownGrace for in-flight handlers
// to return. It does not cancel the handlers' contexts: each in-flight
// handler keeps running until it returns or its lease deadline passes.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.draining.Store(true)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-d.clock.After(d.cfg.ShutdownGrace):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(job *queue.Job) {
	defer d.wg.Done()

	// ctx carries the job ID for the lifetime of this job's run: every
	// event the Dispatcher emits and every log line a handler writes via
	// log.WithContext can be correlated back to this job without each call
	// site repeating EntityID.
	ctx := log.ContextWithJobID(context.Background(), job.ID)

	entry, ok := d.registry.Lookup(job.Type)
	if !ok {
		d.commitFail(ctx, job, orcherr.New(orcherr.ValidationError, "no handler registered for job type", nil), nil, 0)
		return
	}

	slot := d.slotFor(job.Type)
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, d.cfg.ShutdownGrace+time.Second)
	defer cancelAcquire()
	if err := slot.sem.Acquire(acquireCtx, 1); err != nil {
		return // shutting down or pool saturated past grace; lease expires, reclaimer retries
	}
	slot.inFlight.Add(1)
	defer func() { slot.inFlight.Add(-1); slot.sem.Release(1) }()

	if err := d.global.Acquire(acquireCtx, 1); err != nil {
		return
	}
	d.globalInFlight.Add(1)
	defer func() { d.globalInFlight.Add(-1); d.global.Release(1) }()

	metrics.JobsDispatchedTotal.WithLabelValues(string(job.Type)).Inc()
	metrics.InFlight.WithLabelValues(string(job.Type)).Inc()
	defer metrics.InFlight.WithLabelValues(string(job.Type)).Dec()
	d.bus.Emit(ctx, events.Event{Name: "orchestrator.dispatch", Component: component, Status: "started",
		EntityID: job.ID, Meta: map[string]any{log.FieldJobType: string(job.Type), "attempt": job.Attempts + 1}})

	visibilityTimeout := d.visibilityTimeoutFor(job.Type, entry)
	leaseExpiry := d.clock.Now().Add(visibilityTimeout)
	if job.LeaseExpiresAt != nil {
		leaseExpiry = *job.LeaseExpiresAt
	}

	handlerCtx, cancel := context.WithDeadline(ctx, leaseExpiry)
	defer cancel()

	var lost atomic.Bool
	heartbeatDone := make(chan struct{})
	go d.heartbeatLoop(handlerCtx, job, visibilityTimeout, &lost, cancel, heartbeatDone)

	start := d.clock.Now()
	outcome := d.invoke(handlerCtx, entry.Handler, job.Payload)
	cancel() // handler returned; stop the heartbeat loop promptly rather than waiting for the lease deadline
	<-heartbeatDone

	statusLabel := d.commit(handlerCtx, job, entry, outcome, lost.Load())
	metrics.JobDuration.WithLabelValues(string(job.Type), statusLabel).Observe(time.Since(start).Seconds())
}

// invoke runs the handler, converting a panic into a fatal outcome: a
// panic is treated the same as an unexpected exception — fatal, DLQ-bound.
func (d *Dispatcher) invoke(ctx context.Context, h registry.Handler, payload []byte) (outcome orcherr.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = orcherr.OutcomeFatal(orcherr.New(orcherr.InternalError, "handler panicked", map[string]any{"recovered": r}))
		}
	}()
	return h(ctx, payload)
}

func (d *Dispatcher) heartbeatLoop(ctx context.Context, job *queue.Job, visibilityTimeout time.Duration, lost *atomic.Bool, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	period := visibilityTimeout / 2
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, visibilityTimeout)
			outcome, err := d.store.Heartbeat(hbCtx, job.ID, d.owner, visibilityTimeout)
			hbCancel()
			metrics.HeartbeatsTotal.WithLabelValues(string(job.Type), string(outcome)).Inc()
			if err != nil {
				continue
			}
			if outcome == queue.LeaseLost {
				lost.Store(true)
				d.bus.Emit(ctx, events.Event{Name: "orchestrator.heartbeat", Component: component, Status: "lost",
					EntityID: job.ID, Meta: map[string]any{log.FieldJobType: string(job.Type)}})
				cancel()
				return
			}
		}
	}
}

// commit applies the handler's outcome to the store and returns the status
// label used for metrics.
func (d *Dispatcher) commit(ctx context.Context, job *queue.Job, entry registry.Entry, outcome orcherr.Outcome, lost bool) string {
	if lost {
		return "lost"
	}

	if outcome.Done {
		result, err := d.store.Complete(ctx, job.ID, d.owner)
		if err != nil {
			d.bus.Emit(ctx, events.Event{Name: "orchestrator.commit", Component: component, Status: "error", EntityID: job.ID,
				Meta: map[string]any{"error": err.Error()}})
			return "error"
		}
		if result == queue.LeaseLost {
			d.bus.Emit(ctx, events.Event{Name: "orchestrator.heartbeat", Component: component, Status: "lost", EntityID: job.ID})
			return "lost"
		}
		metrics.JobsCommittedTotal.WithLabelValues(string(job.Type), "ok").Inc()
		d.bus.Emit(ctx, events.Event{Name: "orchestrator.commit", Component: component, Status: "succeeded", EntityID: job.ID})
		return "ok"
	}

	if outcome.Err == nil {
		outcome.Err = orcherr.New(orcherr.InternalError, "handler returned neither done nor error", nil)
		outcome.Fatal = true
	}

	if outcome.Err.Kind == orcherr.Cancelled {
		// CANCELLED is not a failure: nothing is committed, so the lease
		// expires and the reclaimer returns the job to pending with attempts
		// unchanged.
		return "cancelled"
	}

	if outcome.Fatal || !outcome.Err.Kind.Retryable() {
		return d.commitFail(ctx, job, outcome.Err, nil, 0)
	}

	profile := entry.RetryProfile
	// RATE_LIMITED: the upstream's own Retry-After hint raises the backoff
	// base: effective base is max(policy_base, retry_after).
	if outcome.Err.Kind == orcherr.RateLimited && outcome.Err.RetryAfter > 0 {
		if hint := time.Duration(outcome.Err.RetryAfter) * time.Second; hint > profile.BaseDelay {
			profile.BaseDelay = hint
		}
	}
	decision := retry.Next(profile, job.Attempts+1, d.jitter)
	if decision.Exhausted {
		return d.commitFail(ctx, job, outcome.Err, nil, entry.MaxAttempts)
	}
	delay := decision.Delay
	return d.commitFail(ctx, job, outcome.Err, &delay, entry.MaxAttempts)
}

func (d *Dispatcher) commitFail(ctx context.Context, job *queue.Job, failErr *orcherr.Error, delay *time.Duration, maxAttempts int) string {
	result, err := d.store.Fail(ctx, job.ID, d.owner, failErr, delay, maxAttempts)
	if err != nil {
		d.bus.Emit(ctx, events.Event{Name: "orchestrator.commit", Component: component, Status: "error", EntityID: job.ID,
			Meta: map[string]any{"error": err.Error()}})
		return "error"
	}

	switch result {
	case queue.FailRetried:
		metrics.JobsCommittedTotal.WithLabelValues(string(job.Type), "retry").Inc()
		d.bus.Emit(ctx, events.Event{Name: "orchestrator.commit", Component: component, Status: "retried", EntityID: job.ID,
			Meta: map[string]any{"kind": string(failErr.Kind), "message": failErr.Message}})
		return "retry"
	case queue.FailDeadLettered:
		metrics.JobsCommittedTotal.WithLabelValues(string(job.Type), "dead_letter").Inc()
		metrics.RetryExhaustedTotal.WithLabelValues(string(job.Type)).Inc()
		metrics.DLQOperationsTotal.WithLabelValues("dead_letter").Inc()
		d.bus.Emit(ctx, events.Event{Name: "orchestrator.commit", Component: component, Status: "dead_letter", EntityID: job.ID,
			Meta: map[string]any{"kind": string(failErr.Kind), "message": failErr.Message}})
		d.bus.Emit(ctx, events.Event{Name: "orchestrator.dlq", Component: component, Status: "dead_lettered", EntityID: job.ID,
			Meta: map[string]any{log.FieldJobType: string(job.Type), "kind": string(failErr.Kind)}})
		d.bus.Emit(ctx, events.Event{Name: "worker.retry_exhausted", Component: component, Status: "exhausted", EntityID: job.ID,
			Meta: map[string]any{log.FieldJobType: string(job.Type), "attempts": maxAttempts}})
		return "dead_letter"
	default: // queue.FailLost
		metrics.JobsCommittedTotal.WithLabelValues(string(job.Type), "lost").Inc()
		return "lost"
	}
}

func (d *Dispatcher) visibilityTimeoutFor(t queue.Type, entry registry.Entry) time.Duration {
	if vt, ok := d.cfg.VisibilityTimeout[t]; ok && vt > 0 {
		return clampVisibility(vt)
	}
	if entry.DefaultVisibilityTimeout > 0 {
		return clampVisibility(time.Duration(entry.DefaultVisibilityTimeout) * time.Second)
	}
	if d.cfg.DefaultVisibility > 0 {
		return clampVisibility(d.cfg.DefaultVisibility)
	}
	return queue.MinVisibilityTimeout
}

func clampVisibility(d time.Duration) time.Duration {
	if d < queue.MinVisibilityTimeout {
		return queue.MinVisibilityTimeout
	}
	return d
}
