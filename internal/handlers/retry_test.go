package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/handlers"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
)

func TestRetryHandler_ReenqueuesOriginalJob(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	h := handlers.NewRetryHandler(store)

	payload := mustPayload(t, handlers.RetryPayload{
		OriginalType: string(queue.TypeSync),
		Original:     mustPayload(t, handlers.SyncPayload{Artist: "A", Title: "B"}),
	})

	outcome := h.Handle(context.Background(), payload)
	require.True(t, outcome.Done)

	jobs, err := store.Lease(context.Background(), queue.TypeSync, "owner-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestRetryHandler_MissingOriginalTypeIsFatal(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	h := handlers.NewRetryHandler(store)

	payload := mustPayload(t, handlers.RetryPayload{})
	outcome := h.Handle(context.Background(), payload)

	require.True(t, outcome.Fatal)
	require.Equal(t, orcherr.ValidationError, outcome.Err.Kind)
}
