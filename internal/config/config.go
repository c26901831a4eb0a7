// Package config implements the configuration surface: a typed,
// validated, hot-reloadable view over YAML + environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/bozzfozz/harmony/internal/dispatcher"
	"github.com/bozzfozz/harmony/internal/dlq"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/retry"
	"github.com/bozzfozz/harmony/internal/scheduler"
	"github.com/bozzfozz/harmony/internal/watchlist"
)

// Config is the orchestrator's full configuration surface.
type Config struct {
	GlobalConcurrency int                       `yaml:"global_concurrency" json:"global_concurrency"`
	Pool              map[string]int            `yaml:"pool" json:"pool"`
	Priority          map[string]int            `yaml:"priority" json:"priority"`
	PollInterval      time.Duration             `yaml:"poll_interval" json:"poll_interval"`
	PollIntervalMax   time.Duration             `yaml:"poll_interval_max" json:"poll_interval_max"`
	VisibilityTimeout map[string]time.Duration  `yaml:"visibility_timeout" json:"visibility_timeout"`
	ShutdownGrace     time.Duration             `yaml:"shutdown_grace" json:"shutdown_grace"`

	Retry RetryConfig `yaml:"retry" json:"retry"`

	Watchlist WatchlistConfig `yaml:"watchlist" json:"watchlist"`

	WorkersEnabled bool      `yaml:"workers_enabled" json:"workers_enabled"`
	DLQ            DLQConfig `yaml:"dlq" json:"dlq"`

	DatabasePath string `yaml:"database_path" json:"database_path"`

	// SnapshotPath, if set, is where bootstrap atomically writes the
	// effective configuration on every successful Wire. Empty disables
	// the write.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
}

// RetryConfig holds per-profile retry overrides: retry.max_attempts[profile],
// retry.base_delay[profile], retry.jitter_pct[profile].
type RetryConfig struct {
	MaxAttempts map[string]int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   map[string]time.Duration `yaml:"base_delay" json:"base_delay"`
	JitterPct   map[string]float64       `yaml:"jitter_pct" json:"jitter_pct"`
}

// WatchlistConfig holds the Watchlist Timer's knobs.
type WatchlistConfig struct {
	Interval             time.Duration `yaml:"interval" json:"interval"`
	TickBudget           time.Duration `yaml:"tick_budget" json:"tick_budget"`
	MaxPerTick           int           `yaml:"max_per_tick" json:"max_per_tick"`
	Cooldown             time.Duration `yaml:"cooldown" json:"cooldown"`
	RetryBudgetPerArtist int           `yaml:"retry_budget_per_artist" json:"retry_budget_per_artist"`
}

// DLQConfig holds the DLQ Manager's bounds.
type DLQConfig struct {
	PageSizeDefault int `yaml:"page_size_default" json:"page_size_default"`
	PageSizeMax     int `yaml:"page_size_max" json:"page_size_max"`
	RequeueLimit    int `yaml:"requeue_limit" json:"requeue_limit"`
	PurgeLimit      int `yaml:"purge_limit" json:"purge_limit"`
}

// Default returns the effective defaults.
func Default() Config {
	return Config{
		GlobalConcurrency: 16,
		PollInterval:      200 * time.Millisecond,
		PollIntervalMax:   5 * time.Second,
		ShutdownGrace:     2 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: map[string]int{"download_sync": 6, "watchlist_artist": 12},
			BaseDelay:   map[string]time.Duration{"download_sync": 2 * time.Second, "watchlist_artist": 30 * time.Second},
			JitterPct:   map[string]float64{"download_sync": 0.2, "watchlist_artist": 0.3},
		},
		Watchlist: WatchlistConfig{
			Interval:             15 * time.Minute,
			TickBudget:           8 * time.Second,
			MaxPerTick:           50,
			Cooldown:             time.Hour,
			RetryBudgetPerArtist: 3,
		},
		WorkersEnabled: true,
		DLQ: DLQConfig{PageSizeDefault: 25, PageSizeMax: 100, RequeueLimit: 500, PurgeLimit: 1000},
		DatabasePath: "harmony.db",
	}
}

// Validate rejects invalid values; bootstrap fails if any check fails.
func Validate(c Config) error {
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("config: global_concurrency must be > 0, got %d", c.GlobalConcurrency)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be > 0")
	}
	if c.PollIntervalMax < c.PollInterval {
		return fmt.Errorf("config: poll_interval_max must be >= poll_interval")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("config: shutdown_grace must be > 0")
	}
	for profile, pct := range c.Retry.JitterPct {
		if pct < 0 {
			return fmt.Errorf("config: retry.jitter_pct[%s] must be >= 0, got %v", profile, pct)
		}
	}
	if c.Watchlist.MaxPerTick <= 0 {
		return fmt.Errorf("config: watchlist.max_per_tick must be > 0")
	}
	if c.Watchlist.RetryBudgetPerArtist <= 0 {
		return fmt.Errorf("config: watchlist.retry_budget_per_artist must be > 0")
	}
	if c.DLQ.PageSizeDefault <= 0 || c.DLQ.PageSizeMax < c.DLQ.PageSizeDefault {
		return fmt.Errorf("config: dlq.page_size_default/page_size_max misconfigured")
	}
	return nil
}

// jitterPctNormalized applies the retry policy's own convention (values >
// 1.0 are percentages) at the config layer too, so every consumer sees
// normalized fractions regardless of how the operator wrote the YAML.
func jitterPctNormalized(pct float64) float64 {
	if pct > 1.0 {
		return pct / 100
	}
	return pct
}

// RetryProfile resolves a named profile, applying config overrides on top
// of the package default.
func (c Config) RetryProfile(name string, fallback retry.Profile) retry.Profile {
	p := fallback
	if v, ok := c.Retry.MaxAttempts[name]; ok {
		p.MaxAttempts = v
	}
	if v, ok := c.Retry.BaseDelay[name]; ok {
		p.BaseDelay = v
	}
	if v, ok := c.Retry.JitterPct[name]; ok {
		p.JitterPct = jitterPctNormalized(v)
	}
	return p
}

// VisibilityTimeoutsByType converts the string-keyed YAML map into the
// queue.Type-keyed map the Scheduler and Dispatcher expect.
func (c Config) VisibilityTimeoutsByType() map[queue.Type]time.Duration {
	out := make(map[queue.Type]time.Duration, len(c.VisibilityTimeout))
	for k, v := range c.VisibilityTimeout {
		out[queue.Type(k)] = v
	}
	return out
}

// PoolByType converts the string-keyed pool map into queue.Type-keyed,
// int64 values for the Dispatcher's semaphores.
func (c Config) PoolByType() map[queue.Type]int64 {
	out := make(map[queue.Type]int64, len(c.Pool))
	for k, v := range c.Pool {
		out[queue.Type(k)] = int64(v)
	}
	return out
}

// SchedulerConfig projects this Config into a scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		PollInterval:      c.PollInterval,
		PollIntervalMax:   c.PollIntervalMax,
		VisibilityTimeout: c.VisibilityTimeoutsByType(),
		DefaultVisibility: 30 * time.Second,
	}
}

// ReclaimerConfig projects this Config into a queue.ReclaimerConfig. The
// reclaimer shares the Scheduler's poll interval: there is no reason to
// sweep expired leases on a different cadence than jobs are leased.
func (c Config) ReclaimerConfig() queue.ReclaimerConfig {
	return queue.ReclaimerConfig{Interval: c.PollInterval}
}

// DispatcherConfig projects this Config into a dispatcher.Config.
func (c Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		GlobalConcurrency: int64(c.GlobalConcurrency),
		Pool:              c.PoolByType(),
		VisibilityTimeout: c.VisibilityTimeoutsByType(),
		DefaultVisibility: 30 * time.Second,
		ShutdownGrace:     c.ShutdownGrace,
	}
}

// WatchlistTimerConfig projects this Config into a watchlist.Config.
func (c Config) WatchlistTimerConfig() watchlist.Config {
	return watchlist.Config{
		Interval:             c.Watchlist.Interval,
		TickBudget:           c.Watchlist.TickBudget,
		MaxPerTick:           c.Watchlist.MaxPerTick,
		CooldownDuration:     c.Watchlist.Cooldown,
		RetryBudgetPerArtist: c.Watchlist.RetryBudgetPerArtist,
	}
}

// DLQManagerConfig projects this Config into a dlq.Config.
func (c Config) DLQManagerConfig() dlq.Config {
	return dlq.Config{
		PageSizeDefault: c.DLQ.PageSizeDefault,
		PageSizeMax:     c.DLQ.PageSizeMax,
		RequeueLimit:    c.DLQ.RequeueLimit,
		PurgeLimit:      c.DLQ.PurgeLimit,
	}
}
