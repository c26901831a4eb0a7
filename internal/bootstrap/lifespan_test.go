package bootstrap_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/bootstrap"
	"github.com/bozzfozz/harmony/internal/config"
)

func TestWire_BuildsContainerAndEnqueuesAreVisible(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "harmony.db")
	cfg.WorkersEnabled = false

	c, err := bootstrap.Wire(context.Background(), cfg, bootstrap.Dependencies{}, nil)
	require.NoError(t, err)
	require.NotNil(t, c.Queue)
	require.NotNil(t, c.DLQ)

	_, _, err = c.Queue.Enqueue(context.Background(), "sync", []byte(`{}`), 0, "", time.Time{})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestStart_WorkersDisabledSkipsBackgroundLoops(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "harmony.db")
	cfg.WorkersEnabled = false

	c, err := bootstrap.Wire(context.Background(), cfg, bootstrap.Dependencies{}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	select {
	case err := <-c.Errs():
		t.Fatalf("unexpected background error: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestStart_CalledTwiceReturnsError(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "harmony.db")
	cfg.WorkersEnabled = false

	c, err := bootstrap.Wire(context.Background(), cfg, bootstrap.Dependencies{}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.Error(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
}
