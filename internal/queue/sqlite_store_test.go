package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
)

func openTestSQLiteStore(t *testing.T) *queue.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "harmony.db")
	s, err := queue.OpenSQLiteStore(context.Background(), dbPath, queue.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_EnqueueLeaseCompleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	id, inserted, err := s.Enqueue(ctx, queue.TypeSync, []byte(`{"artist_id":"a1"}`), 5, "a1-sync", time.Time{})
	require.NoError(t, err)
	require.True(t, inserted)

	dupID, inserted, err := s.Enqueue(ctx, queue.TypeSync, []byte(`{}`), 1, "a1-sync", time.Time{})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, id, dupID)

	jobs, err := s.Lease(ctx, queue.TypeSync, "worker-1", 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].ID)
	require.Equal(t, queue.StateLeased, jobs[0].State)
	require.NotNil(t, jobs[0].LeaseOwner)
	require.Equal(t, "worker-1", *jobs[0].LeaseOwner)

	outcome, err := s.Heartbeat(ctx, id, "worker-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, queue.LeaseOK, outcome)

	outcome, err = s.Complete(ctx, id, "worker-1")
	require.NoError(t, err)
	require.Equal(t, queue.LeaseOK, outcome)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, job.State)
}

func TestSQLiteStore_FailRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	id, _, err := s.Enqueue(ctx, queue.TypeMatching, []byte(`{}`), 0, "", time.Time{})
	require.NoError(t, err)

	_, err = s.Lease(ctx, queue.TypeMatching, "worker-1", 30*time.Second, 1)
	require.NoError(t, err)

	delay := 0 * time.Millisecond
	failErr := orcherr.New(orcherr.RateLimited, "provider throttled", map[string]any{"retry_after": 1})
	outcome, err := s.Fail(ctx, id, "worker-1", failErr, &delay, 3)
	require.NoError(t, err)
	require.Equal(t, queue.FailRetried, outcome)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StateFailedRetry, job.State)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	require.Equal(t, orcherr.RateLimited, job.LastError.Kind)

	_, err = s.Lease(ctx, queue.TypeMatching, "worker-1", 30*time.Second, 1)
	require.NoError(t, err)
	outcome, err = s.Fail(ctx, id, "worker-1", failErr, &delay, 3)
	require.NoError(t, err)
	require.Equal(t, queue.FailRetried, outcome)

	_, err = s.Lease(ctx, queue.TypeMatching, "worker-1", 30*time.Second, 1)
	require.NoError(t, err)
	outcome, err = s.Fail(ctx, id, "worker-1", failErr, &delay, 3)
	require.NoError(t, err)
	require.Equal(t, queue.FailDeadLettered, outcome)

	job, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StateDeadLetter, job.State)
}

func TestSQLiteStore_ReclaimExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	id, _, err := s.Enqueue(ctx, queue.TypeSync, nil, 0, "", time.Time{})
	require.NoError(t, err)
	_, err = s.Lease(ctx, queue.TypeSync, "worker-1", 50*time.Millisecond, 1)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	// Lease rounds the 50ms request up to MinVisibilityTimeout, so reclaim
	// as of a moment past that floor.
	reclaimed, err := s.ReclaimExpired(ctx, time.Now().UTC().Add(queue.MinVisibilityTimeout))
	require.NoError(t, err)
	require.Equal(t, []string{id}, reclaimed)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatePending, job.State)
	require.Equal(t, 0, job.Attempts)
}

func TestSQLiteStore_DLQListRequeuePurge(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	id, _, err := s.Enqueue(ctx, queue.TypeArtistSync, nil, 0, "", time.Time{})
	require.NoError(t, err)
	_, err = s.Lease(ctx, queue.TypeArtistSync, "worker-1", 30*time.Second, 1)
	require.NoError(t, err)
	zero := time.Duration(0)
	_, err = s.Fail(ctx, id, "worker-1", orcherr.New(orcherr.InternalError, "panic in handler", nil), &zero, 0)
	require.NoError(t, err)

	jobs, total, err := s.ListDLQ(ctx, queue.DLQFilter{Type: queue.TypeArtistSync, Query: "panic"}, queue.Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, jobs, 1)

	requeued, err := s.Requeue(ctx, []string{id})
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatePending, job.State)

	_, err = s.Lease(ctx, queue.TypeArtistSync, "worker-2", 30*time.Second, 1)
	require.NoError(t, err)
	_, err = s.Fail(ctx, id, "worker-2", orcherr.New(orcherr.InternalError, "panic again", nil), &zero, 0)
	require.NoError(t, err)

	purged, err := s.Purge(ctx, []string{id})
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, queue.ErrNotFound)
}
