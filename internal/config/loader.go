package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bozzfozz/harmony/internal/events"
)

// Loader loads a Config from a YAML file with an environment-variable
// overlay, following the precedence ENV > file > defaults.
type Loader struct {
	configPath  string
	bus         *events.Bus
	lookupEnvFn func(string) (string, bool)
	listEnvFn   func() []string
}

// NewLoader constructs a Loader rooted at configPath. configPath may be
// empty, in which case only defaults and the environment apply.
func NewLoader(configPath string, bus *events.Bus) *Loader {
	return &Loader{configPath: configPath, bus: bus, lookupEnvFn: os.LookupEnv, listEnvFn: os.Environ}
}

// Load resolves the effective Config: defaults, overlaid by the YAML file
// (if configPath is set), overlaid by HARMONY_* environment variables, then
// validated. Unknown YAML keys produce a warning event rather than a
// hard failure; invalid values cause Load to return an error.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: load file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			l.warnUnknownKey(err.Error())
			lenient := yaml.NewDecoder(bytes.NewReader(data))
			return lenient.Decode(cfg)
		}
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) warnUnknownKey(detail string) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(context.Background(), events.Event{Name: "worker.config", Component: "config", Status: "unknown_key",
		Meta: map[string]any{"detail": detail}})
}

// mergeEnv applies HARMONY_* overrides on top of whatever defaults/file
// merging already produced. Only scalar, frequently-tuned knobs are
// exposed via environment variables; map-valued per-type overrides are
// YAML-only, matching the teacher's convention of reserving env vars for
// the handful of settings operators change per-deployment.
func (l *Loader) mergeEnv(cfg *Config) {
	if v, ok := l.lookupEnvFn("HARMONY_GLOBAL_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GlobalConcurrency = n
		}
	}
	if v, ok := l.lookupEnvFn("HARMONY_POLL_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v, ok := l.lookupEnvFn("HARMONY_POLL_INTERVAL_MAX"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollIntervalMax = d
		}
	}
	if v, ok := l.lookupEnvFn("HARMONY_SHUTDOWN_GRACE"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownGrace = d
		}
	}
	if v, ok := l.lookupEnvFn("HARMONY_WORKERS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WorkersEnabled = b
		}
	}
	if v, ok := l.lookupEnvFn("HARMONY_DATABASE_PATH"); ok && v != "" {
		cfg.DatabasePath = v
	}
	if v, ok := l.lookupEnvFn("HARMONY_SNAPSHOT_PATH"); ok {
		cfg.SnapshotPath = v
	}
	if v, ok := l.lookupEnvFn("HARMONY_WATCHLIST_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watchlist.Interval = d
		}
	}
	if v, ok := l.lookupEnvFn("HARMONY_WATCHLIST_MAX_PER_TICK"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watchlist.MaxPerTick = n
		}
	}
}
