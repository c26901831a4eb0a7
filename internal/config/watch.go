package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/log"
)

// debounceWindow absorbs the burst of fsnotify events a single atomic
// replace-and-rename write (the common editor/deploy-tool pattern) produces.
const debounceWindow = 500 * time.Millisecond

// Holder serves a live Config snapshot and optionally hot-reloads the
// subset of knobs marked safe to change without a restart: global
// concurrency, pool sizes, priorities, poll intervals, retry parameters,
// the watchlist's max_per_tick and retry_budget_per_artist, and DLQ page
// bounds. Every other field (visibility timeouts, database paths, the
// remaining watchlist knobs, ...) is bootstrap-only; reload preserves its
// original value regardless of what the file says on a later pass.
type Holder struct {
	loader  *Loader
	bus     *events.Bus
	current atomic.Pointer[Config]
	epoch   atomic.Uint64

	mu        sync.Mutex
	listeners []chan Config
}

// NewHolder constructs a Holder from an already-loaded initial Config.
func NewHolder(loader *Loader, initial Config, bus *events.Bus) *Holder {
	h := &Holder{loader: loader, bus: bus}
	h.current.Store(&initial)
	return h
}

// Current returns the live snapshot. Safe for concurrent use; never blocks.
func (h *Holder) Current() Config {
	return *h.current.Load()
}

// Epoch returns the number of reloads applied since startup.
func (h *Holder) Epoch() uint64 {
	return h.epoch.Load()
}

// RegisterListener returns a channel that receives every successfully
// applied reload. Sends are non-blocking: a listener that falls behind
// misses intermediate snapshots rather than stalling the watcher.
func (h *Holder) RegisterListener() <-chan Config {
	ch := make(chan Config, 1)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()
	return ch
}

// Watch watches the config file's parent directory for changes (matching
// atomic-replace semantics editors and deploy tooling use) and applies
// debounced reloads until ctx is cancelled.
func (h *Holder) Watch(ctx context.Context) error {
	if h.loader.configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(h.loader.configPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("config")
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(h.loader.configPath) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				debounce.Reset(debounceWindow)
			}
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			if err := h.reload(ctx); err != nil {
				logger.Warn().Err(err).Msg("config reload failed, keeping previous snapshot")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// reload re-loads the file, grafts the hot-reloadable subset onto the
// live snapshot (leaving bootstrap-only fields untouched), validates, and
// publishes the result to every registered listener.
func (h *Holder) reload(ctx context.Context) error {
	next, err := h.loader.Load()
	if err != nil {
		return err
	}

	prev := h.Current()
	merged := prev
	merged.GlobalConcurrency = next.GlobalConcurrency
	merged.Pool = next.Pool
	merged.Priority = next.Priority
	merged.PollInterval = next.PollInterval
	merged.PollIntervalMax = next.PollIntervalMax
	merged.Retry = next.Retry
	merged.Watchlist.MaxPerTick = next.Watchlist.MaxPerTick
	merged.Watchlist.RetryBudgetPerArtist = next.Watchlist.RetryBudgetPerArtist
	merged.DLQ = next.DLQ

	if err := Validate(merged); err != nil {
		return err
	}

	h.current.Store(&merged)
	epoch := h.epoch.Add(1)

	h.bus.Emit(ctx, events.Event{Name: "worker.config", Component: "config", Status: "reloaded",
		Meta: map[string]any{"epoch": epoch}})

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.listeners {
		select {
		case ch <- merged:
		default:
			h.bus.Emit(ctx, events.Event{Name: "worker.config", Component: "config", Status: "listener_slow",
				Meta: map[string]any{"epoch": epoch}})
		}
	}
	return nil
}
