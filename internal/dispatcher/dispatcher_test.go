package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/dispatcher"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/registry"
	"github.com/bozzfozz/harmony/internal/retry"
)

func waitForState(t *testing.T, store queue.Store, id string, want queue.State, timeout time.Duration) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		if job.State == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %s within %s", id, want, timeout)
	return nil
}

func newTestDispatcher(store queue.Store, reg *registry.Registry) *dispatcher.Dispatcher {
	cfg := dispatcher.DefaultConfig()
	cfg.GlobalConcurrency = 4
	cfg.ShutdownGrace = 200 * time.Millisecond
	return dispatcher.New(store, reg, clock.System{}, clock.NewJitter(7), events.NewBus(), "dispatcher-test", cfg)
}

func TestDispatcher_SuccessfulHandlerCompletesJob(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	id, _, err := store.Enqueue(ctx, queue.TypeSync, nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeSync, Handler: func(ctx context.Context, payload []byte) orcherr.Outcome {
		return orcherr.OutcomeDone()
	}, MaxAttempts: 3, RetryProfile: retry.DownloadSyncProfile()})
	reg.Seal()

	d := newTestDispatcher(store, reg)
	jobs, err := store.Lease(ctx, queue.TypeSync, "dispatcher-test", 2*time.Second, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	d.Submit(jobs[0])
	waitForState(t, store, id, queue.StateSucceeded, time.Second)
}

func TestDispatcher_RetryableErrorReturnsToFailedRetry(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	id, _, err := store.Enqueue(ctx, queue.TypeMatching, nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeMatching, Handler: func(ctx context.Context, payload []byte) orcherr.Outcome {
		return orcherr.OutcomeRetryable(orcherr.New(orcherr.DependencyError, "upstream timeout", nil))
	}, MaxAttempts: 5, RetryProfile: retry.DownloadSyncProfile()})
	reg.Seal()

	d := newTestDispatcher(store, reg)
	jobs, err := store.Lease(ctx, queue.TypeMatching, "dispatcher-test", 2*time.Second, 1)
	require.NoError(t, err)

	d.Submit(jobs[0])
	job := waitForState(t, store, id, queue.StateFailedRetry, time.Second)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	require.Equal(t, orcherr.DependencyError, job.LastError.Kind)
}

func TestDispatcher_FatalErrorGoesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	id, _, err := store.Enqueue(ctx, queue.TypeArtistSync, nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeArtistSync, Handler: func(ctx context.Context, payload []byte) orcherr.Outcome {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.NotFound, "artist no longer exists", nil))
	}, MaxAttempts: 5, RetryProfile: retry.WatchlistArtistProfile()})
	reg.Seal()

	d := newTestDispatcher(store, reg)
	jobs, err := store.Lease(ctx, queue.TypeArtistSync, "dispatcher-test", 2*time.Second, 1)
	require.NoError(t, err)

	d.Submit(jobs[0])
	waitForState(t, store, id, queue.StateDeadLetter, time.Second)
}

func TestDispatcher_PanicIsTreatedAsFatal(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	id, _, err := store.Enqueue(ctx, queue.TypeSync, nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeSync, Handler: func(ctx context.Context, payload []byte) orcherr.Outcome {
		panic("boom")
	}, MaxAttempts: 5, RetryProfile: retry.DownloadSyncProfile()})
	reg.Seal()

	d := newTestDispatcher(store, reg)
	jobs, err := store.Lease(ctx, queue.TypeSync, "dispatcher-test", 2*time.Second, 1)
	require.NoError(t, err)

	d.Submit(jobs[0])
	waitForState(t, store, id, queue.StateDeadLetter, time.Second)
}

func TestDispatcher_UnknownTypeGoesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	id, _, err := store.Enqueue(ctx, queue.Type("unregistered"), nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Seal()

	d := newTestDispatcher(store, reg)
	jobs, err := store.Lease(ctx, queue.Type("unregistered"), "dispatcher-test", 2*time.Second, 1)
	require.NoError(t, err)

	d.Submit(jobs[0])
	job := waitForState(t, store, id, queue.StateDeadLetter, time.Second)
	require.Equal(t, orcherr.ValidationError, job.LastError.Kind)
}

func TestDispatcher_CapacityReflectsPerTypePool(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeSync, Handler: func(ctx context.Context, payload []byte) orcherr.Outcome {
		return orcherr.OutcomeDone()
	}})
	reg.Seal()

	cfg := dispatcher.DefaultConfig()
	cfg.GlobalConcurrency = 10
	cfg.Pool = map[queue.Type]int64{queue.TypeSync: 2}
	d := dispatcher.New(store, reg, clock.System{}, clock.NewJitter(1), events.NewBus(), "owner", cfg)

	require.Equal(t, 2, d.Capacity(queue.TypeSync))
}
