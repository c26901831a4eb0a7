package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/health"
	"github.com/bozzfozz/harmony/internal/queue"
)

func TestCheck_ReportsBacklogPerType(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	ctx := context.Background()

	_, _, err := store.Enqueue(ctx, queue.TypeSync, []byte(`{}`), 0, "", time.Time{})
	require.NoError(t, err)
	_, _, err = store.Enqueue(ctx, queue.TypeSync, []byte(`{}`), 0, "", time.Time{})
	require.NoError(t, err)

	checker := health.New(store, []queue.Type{queue.TypeSync, queue.TypeMatching}, true)
	snap := checker.Check(ctx)

	require.True(t, snap.QueueReachable)
	require.True(t, snap.WorkersEnabled)
	require.Len(t, snap.Backlog, 2)
	for _, b := range snap.Backlog {
		if b.Type == queue.TypeSync {
			require.Equal(t, 2, b.Leasable)
		}
		if b.Type == queue.TypeMatching {
			require.Equal(t, 0, b.Leasable)
		}
	}
}

func TestCheck_WorkersDisabledStillReportsBacklog(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	checker := health.New(store, []queue.Type{queue.TypeSync}, false)
	snap := checker.Check(context.Background())

	require.False(t, snap.WorkersEnabled)
	require.True(t, snap.QueueReachable)
}
