package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/registry"
	"github.com/bozzfozz/harmony/internal/scheduler"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	capacity  int
	submitted []*queue.Job
}

func (f *fakeSubmitter) Capacity(t queue.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity
}

func (f *fakeSubmitter) Submit(job *queue.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, job)
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func noopHandler(ctx context.Context, payload []byte) orcherr.Outcome {
	return orcherr.OutcomeDone()
}

func TestScheduler_LeasesAcrossRegisteredTypes(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	_, _, err := store.Enqueue(ctx, queue.TypeSync, nil, 0, "", time.Time{})
	require.NoError(t, err)
	_, _, err = store.Enqueue(ctx, queue.TypeMatching, nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeSync, Handler: noopHandler})
	reg.Register(registry.Entry{Type: queue.TypeMatching, Handler: noopHandler})
	reg.Seal()

	sub := &fakeSubmitter{capacity: 5}
	cfg := scheduler.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalMax = 20 * time.Millisecond
	sch := scheduler.New(store, reg, sub, clock.System{}, clock.NewJitter(1), events.NewBus(), "dispatcher-1", cfg)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = sch.Run(runCtx)
	require.NoError(t, err)

	require.Equal(t, 2, sub.count())
}

func TestScheduler_RespectsZeroCapacity(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(clock.System{})
	_, _, err := store.Enqueue(ctx, queue.TypeSync, nil, 0, "", time.Time{})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.Entry{Type: queue.TypeSync, Handler: noopHandler})
	reg.Seal()

	sub := &fakeSubmitter{capacity: 0}
	cfg := scheduler.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	sch := scheduler.New(store, reg, sub, clock.System{}, clock.NewJitter(1), events.NewBus(), "dispatcher-1", cfg)

	runCtx, cancel := context.WithTimeout(ctx, 40*time.Millisecond)
	defer cancel()
	require.NoError(t, sch.Run(runCtx))
	require.Equal(t, 0, sub.count())
}
