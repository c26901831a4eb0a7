// Package bootstrap is the Lifespan: the composition root that wires
// every orchestrator component in dependency order, starts them, and tears
// them down again in reverse on shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/config"
	"github.com/bozzfozz/harmony/internal/dispatcher"
	"github.com/bozzfozz/harmony/internal/dlq"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/handlers"
	"github.com/bozzfozz/harmony/internal/health"
	"github.com/bozzfozz/harmony/internal/log"
	"github.com/bozzfozz/harmony/internal/provider/slskd"
	"github.com/bozzfozz/harmony/internal/provider/spotify"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/registry"
	"github.com/bozzfozz/harmony/internal/retry"
	"github.com/bozzfozz/harmony/internal/scheduler"
	"github.com/bozzfozz/harmony/internal/watchlist"
)

// Dependencies are the external collaborators the caller supplies; none of
// them are part of the orchestrator's own domain, so Lifespan never
// constructs them itself: the OAuth ceremony and source-provider
// transport configuration are the caller's concern.
type Dependencies struct {
	SpotifyTokenSource oauth2.TokenSource
	SlskdBaseURL       string
}

// Container holds every constructed component plus the order they must be
// stopped in. It is the production analogue of a dependency-injection
// graph: nothing in it is optional once Wire succeeds.
type Container struct {
	Config   config.Config
	Bus      *events.Bus
	Queue    queue.Store
	Watched  watchlist.Store
	Registry *registry.Registry
	DLQ      *dlq.Manager
	Health   *health.Checker

	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	timer      *watchlist.Timer
	reclaimer  *queue.Reclaimer

	cancel context.CancelFunc
	group  *errgroup.Group
	errs   chan error

	mu      sync.Mutex
	started bool
}

// Wire builds the full dependency graph per the startup order:
// Clock -> Queue Store -> Retry Policy -> Handler Registry ->
// Dispatcher -> Scheduler -> Watchlist Timer. It does not start anything;
// call Start to begin running components.
func Wire(ctx context.Context, cfg config.Config, deps Dependencies, bus *events.Bus) (*Container, error) {
	if bus == nil {
		bus = events.NewBus()
	}

	sysClock := clock.System{}
	jitter := clock.NewJitter(time.Now().UnixNano())

	queueStore, err := queue.OpenSQLiteStore(ctx, cfg.DatabasePath, queue.DefaultSQLiteConfig())
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	watchedStore, err := watchlist.OpenSQLiteStore(ctx, watchlistDBPath(cfg.DatabasePath), 5*time.Second)
	if err != nil {
		_ = queueStore.Close()
		return nil, fmt.Errorf("open watchlist store: %w", err)
	}

	downloadProfile := cfg.RetryProfile("download_sync", retry.DownloadSyncProfile())
	watchlistProfile := cfg.RetryProfile("watchlist_artist", retry.WatchlistArtistProfile())

	reg := registry.New()

	var source slskd.Provider
	if cfg.WorkersEnabled {
		source = slskd.NewHTTPProvider(deps.SlskdBaseURL, nil, 2, 4, 30*time.Second)
	}
	var metadata spotify.Provider
	if cfg.WorkersEnabled && deps.SpotifyTokenSource != nil {
		metadata = spotify.NewHTTPProvider(deps.SpotifyTokenSource)
	}

	syncHandler := handlers.NewSyncHandler(source)
	matchingHandler := handlers.NewMatchingHandler(queueStore, cfg.Priority["matching"])
	retryHandler := handlers.NewRetryHandler(queueStore)
	artistSyncHandler := handlers.NewArtistSyncHandler(
		watchedStore, metadata, queueStore, sysClock, bus,
		cfg.Watchlist.Cooldown, cfg.Watchlist.RetryBudgetPerArtist,
	)

	reg.Register(registry.Entry{
		Type: queue.TypeSync, Handler: syncHandler.Handle,
		MaxAttempts: downloadProfile.MaxAttempts, DefaultPriority: cfg.Priority["sync"], RetryProfile: downloadProfile,
	})
	reg.Register(registry.Entry{
		Type: queue.TypeMatching, Handler: matchingHandler.Handle,
		MaxAttempts: downloadProfile.MaxAttempts, DefaultPriority: cfg.Priority["matching"], RetryProfile: downloadProfile,
	})
	reg.Register(registry.Entry{
		Type: queue.TypeRetry, Handler: retryHandler.Handle,
		MaxAttempts: 1, DefaultPriority: cfg.Priority["retry"], RetryProfile: downloadProfile,
	})
	reg.Register(registry.Entry{
		Type: queue.TypeArtistSync, Handler: artistSyncHandler.Handle,
		MaxAttempts: watchlistProfile.MaxAttempts, DefaultPriority: cfg.Priority["artist_sync"], RetryProfile: watchlistProfile,
	})
	reg.Seal()

	// owner identifies this process's leases so two daemons sharing a Queue
	// Store never treat each other's in-flight jobs as their own.
	owner := uuid.NewString()
	disp := dispatcher.New(queueStore, reg, sysClock, jitter, bus, owner, cfg.DispatcherConfig())
	sched := scheduler.New(queueStore, reg, disp, sysClock, jitter, bus, owner, cfg.SchedulerConfig())
	timer := watchlist.New(watchedStore, queueStore, sysClock, bus, cfg.WatchlistTimerConfig())
	reclaimer := queue.NewReclaimer(queueStore, sysClock, jitter, bus, cfg.ReclaimerConfig())
	dlqManager := dlq.New(queueStore, bus, cfg.DLQManagerConfig())
	healthChecker := health.New(queueStore, reg.Types(), cfg.WorkersEnabled)

	if cfg.SnapshotPath != "" {
		if err := config.WriteSnapshot(cfg.SnapshotPath, cfg); err != nil {
			log.WithComponent("bootstrap").Warn().Err(err).Msg("failed to write config snapshot")
		}
	}

	return &Container{
		Config:     cfg,
		Bus:        bus,
		Queue:      queueStore,
		Watched:    watchedStore,
		Registry:   reg,
		DLQ:        dlqManager,
		Health:     healthChecker,
		dispatcher: disp,
		scheduler:  sched,
		timer:      timer,
		reclaimer:  reclaimer,
		errs:       make(chan error, 4),
	}, nil
}

func watchlistDBPath(queueDBPath string) string {
	if idx := strings.LastIndexByte(queueDBPath, '.'); idx > 0 {
		return queueDBPath[:idx] + "-watchlist" + queueDBPath[idx:]
	}
	return queueDBPath + "-watchlist"
}

// Start begins running the Scheduler, Watchlist Timer, and Reclaimer in
// background goroutines, honoring the global kill-switch: workers_enabled=false
// disables every component except Queue Store reads, which stay available
// for the DLQ HTTP surface). Emits a single worker.config event summarizing
// effective, non-sensitive configuration.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("bootstrap: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, groupCtx := errgroup.WithContext(runCtx)
	c.group = g

	logger := log.WithComponent("bootstrap")
	c.Bus.Emit(ctx, events.Event{
		Name: "worker.config", Component: "bootstrap", Status: "started",
		Meta: map[string]any{
			"workers_enabled":    c.Config.WorkersEnabled,
			"global_concurrency": c.Config.GlobalConcurrency,
			"poll_interval_ms":   c.Config.PollInterval.Milliseconds(),
		},
	})
	logger.Info().Bool("workers_enabled", c.Config.WorkersEnabled).Msg("bootstrap starting")

	if !c.Config.WorkersEnabled {
		logger.Warn().Msg("workers_enabled=false: scheduler, dispatcher and watchlist timer will not run")
		c.started = true
		return nil
	}

	g.Go(func() error {
		if err := c.scheduler.Run(groupCtx); err != nil && groupCtx.Err() == nil {
			err = fmt.Errorf("scheduler stopped: %w", err)
			c.errs <- err
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := c.timer.Run(groupCtx); err != nil && groupCtx.Err() == nil {
			err = fmt.Errorf("watchlist timer stopped: %w", err)
			c.errs <- err
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := c.reclaimer.Run(groupCtx); err != nil && groupCtx.Err() == nil {
			err = fmt.Errorf("reclaimer stopped: %w", err)
			c.errs <- err
			return err
		}
		return nil
	})

	c.started = true
	return nil
}

// Errs returns the channel background components report fatal errors on.
// The caller should select on it alongside an OS signal to decide when to
// initiate Shutdown.
func (c *Container) Errs() <-chan error { return c.errs }

// Shutdown stops components in the reverse of their start order:
// Watchlist Timer -> Scheduler -> Dispatcher (drain with grace) -> Queue
// Store (flush/close). Each step is best-effort; the first error is
// returned but every step still runs.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := log.WithComponent("bootstrap")
	logger.Info().Msg("bootstrap shutting down")

	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		_ = c.group.Wait()
	}

	var firstErr error
	record := func(step string, err error) {
		if err != nil {
			logger.Error().Str("step", step).Err(err).Msg("shutdown step failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", step, err)
			}
		}
	}

	if c.Config.WorkersEnabled {
		record("dispatcher.stop", c.dispatcher.Stop(ctx))
	}
	record("watched_store.close", c.Watched.Close())
	if closer, ok := c.Queue.(interface{ Close() error }); ok {
		record("queue_store.close", closer.Close())
	}

	logger.Info().Msg("bootstrap stopped")
	return firstErr
}
