package watchlist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/log"
	"github.com/bozzfozz/harmony/internal/metrics"
	"github.com/bozzfozz/harmony/internal/queue"
)

const component = "watchlist"

// Config holds the Watchlist Timer's tunables.
type Config struct {
	Interval             time.Duration
	TickBudget           time.Duration
	MaxPerTick           int
	CooldownDuration     time.Duration
	RetryBudgetPerArtist int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             15 * time.Minute,
		TickBudget:           8 * time.Second,
		MaxPerTick:           50,
		CooldownDuration:     time.Hour,
		RetryBudgetPerArtist: 3,
	}
}

// Timer translates due Watched Artists into artist_sync jobs on a cadence.
type Timer struct {
	artists Store
	queue   queue.Store
	clock   clock.Clock
	bus     *events.Bus
	cfg     Config
}

// New constructs a Timer.
func New(artists Store, q queue.Store, c clock.Clock, bus *events.Bus, cfg Config) *Timer {
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = 50
	}
	if cfg.TickBudget <= 0 {
		cfg.TickBudget = 8 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Timer{artists: artists, queue: q, clock: c, bus: bus, cfg: cfg}
}

// Run ticks until ctx is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs a single scheduling pass. It is exported so bootstrap and
// tests can drive it without waiting for the real interval.
func (t *Timer) Tick(ctx context.Context) {
	start := t.clock.Now()
	deadline := start.Add(t.cfg.TickBudget)

	due, err := t.artists.DueForCheck(ctx, start, t.cfg.MaxPerTick)
	if err != nil {
		t.bus.Emit(ctx, events.Event{Name: "orchestrator.timer_tick", Component: component, Status: "error",
			Meta: map[string]any{"error": err.Error()}})
		return
	}

	enqueued := 0
	for i, a := range due {
		if t.clock.Now().After(deadline) {
			deferred := len(due) - i
			metrics.WatchlistDeferredTotal.Add(float64(deferred))
			t.bus.Emit(ctx, events.Event{Name: "orchestrator.timer_tick", Component: component, Status: "deferred",
				Meta: map[string]any{"deferred_count": deferred}})
			break
		}

		payload, _ := json.Marshal(map[string]string{"artist_id": a.ArtistID})
		_, inserted, err := t.queue.Enqueue(ctx, queue.TypeArtistSync, payload, a.Priority, a.ArtistID, time.Time{})
		if err != nil {
			t.bus.Emit(ctx, events.Event{Name: "orchestrator.timer_tick", Component: component, Status: "error",
				EntityID: a.ArtistID, Meta: map[string]any{"error": err.Error()}})
			continue
		}

		now := t.clock.Now()
		next := NextCheckAfter(now, a.Interval, a.CooldownUntil)
		if err := t.artists.MarkChecked(ctx, a.ArtistID, now, next); err != nil {
			continue
		}

		if inserted {
			metrics.WatchlistEnqueuedTotal.Inc()
			t.bus.Emit(ctx, events.Event{Name: "watchlist.artist_sync", Component: component, Status: "enqueued",
				EntityID: a.ArtistID, Meta: map[string]any{log.FieldArtistID: a.ArtistID}})
		} else {
			metrics.WatchlistDedupSkippedTotal.Inc()
			t.bus.Emit(ctx, events.Event{Name: "watchlist.artist_sync", Component: component, Status: "dedup_skipped",
				EntityID: a.ArtistID})
		}
		enqueued++
	}

	metrics.WatchlistTickDuration.Observe(time.Since(start).Seconds())
}
