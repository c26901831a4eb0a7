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

func TestMatchingHandler_GoodCandidateEnqueuesSyncJob(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	h := handlers.NewMatchingHandler(store, 5)

	payload := mustPayload(t, handlers.MatchingPayload{
		Reference:  handlers.ReferencePayload{Artist: "Daft Punk", Title: "One More Time", DurationSec: 320},
		Candidates: []handlers.CandidatePayload{{Filename: "Daft Punk - One More Time.flac", DurationSec: 320, Bitrate: 1000}},
	})

	outcome := h.Handle(context.Background(), payload)
	require.True(t, outcome.Done)

	jobs, err := store.Lease(context.Background(), queue.TypeSync, "owner-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestMatchingHandler_NoCandidatesIsFatal(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	h := handlers.NewMatchingHandler(store, 5)

	payload := mustPayload(t, handlers.MatchingPayload{Reference: handlers.ReferencePayload{Artist: "A", Title: "B"}})
	outcome := h.Handle(context.Background(), payload)

	require.True(t, outcome.Fatal)
	require.Equal(t, orcherr.ValidationError, outcome.Err.Kind)
}

func TestMatchingHandler_BelowThresholdIsFatal(t *testing.T) {
	store := queue.NewMemoryStore(clock.System{})
	h := handlers.NewMatchingHandler(store, 5)

	payload := mustPayload(t, handlers.MatchingPayload{
		Reference:  handlers.ReferencePayload{Artist: "Daft Punk", Title: "One More Time", DurationSec: 320},
		Candidates: []handlers.CandidatePayload{{Filename: "Totally Unrelated.mp3", DurationSec: 45, Bitrate: 64}},
	})

	outcome := h.Handle(context.Background(), payload)
	require.True(t, outcome.Fatal)
	require.Equal(t, orcherr.NotFound, outcome.Err.Kind)
}
