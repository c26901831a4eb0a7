package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/provider/spotify"
	"github.com/bozzfozz/harmony/internal/queue"
	"github.com/bozzfozz/harmony/internal/watchlist"
)

// ArtistSyncHandler fetches an artist's discography and enqueues a sync job
// per track, keyed artist_id:track_id so a track whose sync job is still
// non-terminal is not enqueued twice; it does not check whether a track was
// already downloaded by an earlier, finished job. On failure it calls
// watchlist.Store.RecordFailure so the Watchlist Timer's per-artist cooldown
// and retry budget advance even though the Timer itself never observes
// handler outcomes directly.
type ArtistSyncHandler struct {
	Artists              watchlist.Store
	Metadata             spotify.Provider
	Queue                Enqueuer
	Clock                clock.Clock
	Events               *events.Bus
	CooldownDuration     time.Duration
	RetryBudgetPerArtist int
}

// NewArtistSyncHandler constructs an ArtistSyncHandler. bus may be nil, in
// which case dedup_skipped events are simply not emitted.
func NewArtistSyncHandler(artists watchlist.Store, metadata spotify.Provider, q Enqueuer, c clock.Clock, bus *events.Bus, cooldown time.Duration, retryBudget int) *ArtistSyncHandler {
	return &ArtistSyncHandler{
		Artists:              artists,
		Metadata:             metadata,
		Queue:                q,
		Clock:                c,
		Events:               bus,
		CooldownDuration:     cooldown,
		RetryBudgetPerArtist: retryBudget,
	}
}

// Handle implements registry.Handler.
func (h *ArtistSyncHandler) Handle(ctx context.Context, payload []byte) orcherr.Outcome {
	var p ArtistSyncPayload
	if err := decodePayload(payload, &p); err != nil {
		return orcherr.OutcomeFatal(err)
	}
	if p.ArtistID == "" {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.ValidationError, "artist_sync job missing artist_id", nil))
	}

	artist, err := h.Artists.Get(ctx, p.ArtistID)
	if err != nil {
		// The artist row vanished between enqueue and lease (e.g. removed
		// from the watchlist); nothing to retry.
		return orcherr.OutcomeFatal(orcherr.New(orcherr.NotFound, "watched artist not found", map[string]any{"artist_id": p.ArtistID}))
	}

	externalID := p.ExternalID
	if externalID == "" {
		externalID = artist.ExternalIDs["spotify"]
	}

	tracks, err := h.Metadata.ArtistDiscography(ctx, externalID)
	if err != nil {
		h.recordFailure(ctx, p.ArtistID)
		return outcomeFromErr(err)
	}

	// Each new track becomes its own sync job: search, score and download
	// are the sync handler's job, keeping artist_sync itself a pure
	// discovery-and-fanout step with no source-provider dependency.
	for _, t := range tracks {
		sp := SyncPayload{
			Artist:      artist.Name,
			Title:       t.Name,
			Album:       t.AlbumName,
			DurationSec: t.DurationMS / 1000,
		}
		body, marshalErr := json.Marshal(sp)
		if marshalErr != nil {
			continue
		}
		idempotencyKey := artist.ArtistID + ":" + t.ID
		_, inserted, enqueueErr := h.Queue.Enqueue(ctx, queue.TypeSync, body, artist.Priority, idempotencyKey, time.Time{})
		if enqueueErr != nil {
			h.recordFailure(ctx, p.ArtistID)
			return orcherr.OutcomeRetryable(orcherr.New(orcherr.DependencyError, "enqueue sync job for new track", map[string]any{"error": enqueueErr.Error()}))
		}
		if !inserted && h.Events != nil {
			h.Events.Emit(ctx, events.Event{Name: "worker.job", Component: "artist_sync", Status: "dedup_skipped",
				EntityID: idempotencyKey, Meta: map[string]any{"artist_id": p.ArtistID}})
		}
	}

	return orcherr.OutcomeDone()
}

func (h *ArtistSyncHandler) recordFailure(ctx context.Context, artistID string) {
	_ = h.Artists.RecordFailure(ctx, artistID, h.Clock.Now(), h.CooldownDuration, h.RetryBudgetPerArtist)
}
