package watchlist_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/watchlist"
)

func TestTimer_TickEnqueuesDueArtistsAndAdvancesSchedule(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	artists := watchlist.NewMemoryStore()
	qs := queue.NewMemoryStore(mc)

	require.NoError(t, artists.Upsert(ctx, watchlist.Artist{
		ArtistID: "artist-1", Priority: 5, Interval: time.Hour,
		Enabled: true, NextCheckAt: mc.Now().Add(-time.Minute), RetryBudgetRemaining: 3,
	}))

	cfg := watchlist.DefaultConfig()
	cfg.MaxPerTick = 10
	timer := watchlist.New(artists, qs, mc, events.NewBus(), cfg)

	timer.Tick(ctx)

	a, err := artists.Get(ctx, "artist-1")
	require.NoError(t, err)
	require.Equal(t, mc.Now(), a.LastCheckedAt)
	require.Equal(t, mc.Now().Add(time.Hour), a.NextCheckAt)

	jobs, total, err := qs.ListDLQ(ctx, queue.DLQFilter{}, queue.Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 0, total)
	require.Empty(t, jobs)

	count, err := qs.CountLeasable(ctx, queue.TypeArtistSync, mc.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTimer_TickIsIdempotentWhileJobStillPending(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	artists := watchlist.NewMemoryStore()
	qs := queue.NewMemoryStore(mc)

	require.NoError(t, artists.Upsert(ctx, watchlist.Artist{
		ArtistID: "artist-42", Priority: 1, Interval: time.Hour,
		Enabled: true, NextCheckAt: mc.Now().Add(-time.Minute), RetryBudgetRemaining: 3,
	}))

	timer := watchlist.New(artists, qs, mc, events.NewBus(), watchlist.DefaultConfig())

	// Re-enqueue eligibility without advancing next_check_at: simulate three
	// rapid ticks while the first artist_sync job is still pending.
	timer.Tick(ctx)
	a, err := artists.Get(ctx, "artist-42")
	require.NoError(t, err)
	a.NextCheckAt = mc.Now().Add(-time.Second) // force due again
	require.NoError(t, artists.Upsert(ctx, a))
	timer.Tick(ctx)

	count, err := qs.CountLeasable(ctx, queue.TypeArtistSync, mc.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count, "idempotency_key must prevent a second non-terminal row")
}

func TestTimer_TickBudgetDefersRemainingArtists(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	artists := watchlist.NewMemoryStore()
	qs := queue.NewMemoryStore(mc)

	const totalArtists = 200
	const maxPerTick = 20
	for i := 0; i < totalArtists; i++ {
		id := fmt.Sprintf("artist-%03d", i)
		require.NoError(t, artists.Upsert(ctx, watchlist.Artist{
			ArtistID: id, Priority: totalArtists - i, Interval: time.Hour,
			Enabled: true, NextCheckAt: mc.Now().Add(-time.Minute), RetryBudgetRemaining: 3,
		}))
	}

	cfg := watchlist.DefaultConfig()
	cfg.MaxPerTick = maxPerTick
	cfg.TickBudget = 100 * time.Millisecond
	timer := watchlist.New(artists, qs, mc, events.NewBus(), cfg)

	timer.Tick(ctx)

	count, err := qs.CountLeasable(ctx, queue.TypeArtistSync, mc.Now())
	require.NoError(t, err)
	require.Equal(t, maxPerTick, count)

	due, err := artists.DueForCheck(ctx, mc.Now(), 0)
	require.NoError(t, err)
	require.Equal(t, totalArtists-maxPerTick, len(due))
}

func TestArtist_NextCheckAfterCooldown(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cooldown := last.Add(2 * time.Hour)
	next := watchlist.NextCheckAfter(last, time.Hour, cooldown)
	require.Equal(t, cooldown, next)

	next = watchlist.NextCheckAfter(last, time.Hour, time.Time{})
	require.Equal(t, last.Add(time.Hour), next)
}
