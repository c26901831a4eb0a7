package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/config"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/retry"
)

func TestDefault_PassesValidate(t *testing.T) {
	require.NoError(t, config.Validate(config.Default()))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []func(c *config.Config){
		func(c *config.Config) { c.GlobalConcurrency = 0 },
		func(c *config.Config) { c.PollInterval = 0 },
		func(c *config.Config) { c.PollIntervalMax = c.PollInterval - 1 },
		func(c *config.Config) { c.ShutdownGrace = 0 },
		func(c *config.Config) { c.Watchlist.MaxPerTick = 0 },
		func(c *config.Config) { c.DLQ.PageSizeMax = 1; c.DLQ.PageSizeDefault = 25 },
	}
	for _, mutate := range cases {
		c := config.Default()
		mutate(&c)
		require.Error(t, config.Validate(c))
	}
}

func TestLoader_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harmony.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
global_concurrency: 4
poll_interval: 100ms
poll_interval_max: 1s
shutdown_grace: 1s
watchlist:
  max_per_tick: 10
  retry_budget_per_artist: 2
dlq:
  page_size_default: 10
  page_size_max: 20
  requeue_limit: 50
  purge_limit: 60
`), 0o644))

	t.Setenv("HARMONY_GLOBAL_CONCURRENCY", "8")

	l := config.NewLoader(path, events.NewBus())
	cfg, err := l.Load()
	require.NoError(t, err)

	require.Equal(t, 8, cfg.GlobalConcurrency, "env must win over file")
	require.Equal(t, 100*time.Millisecond, cfg.PollInterval, "file must win over default")
	require.Equal(t, 10, cfg.Watchlist.MaxPerTick)
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	l := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), events.NewBus())
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, config.Default().GlobalConcurrency, cfg.GlobalConcurrency)
}

func TestLoader_InvalidValueFailsLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harmony.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global_concurrency: 0\n"), 0o644))

	l := config.NewLoader(path, events.NewBus())
	_, err := l.Load()
	require.Error(t, err)
}

func TestRetryProfile_AppliesOverridesOnTopOfFallback(t *testing.T) {
	c := config.Default()
	c.Retry.BaseDelay["download_sync"] = 5 * time.Second
	c.Retry.JitterPct["download_sync"] = 15 // expressed as a percentage

	p := c.RetryProfile("download_sync", retry.DownloadSyncProfile())
	require.Equal(t, 5*time.Second, p.BaseDelay)
	require.InDelta(t, 0.15, p.JitterPct, 1e-9)
}
