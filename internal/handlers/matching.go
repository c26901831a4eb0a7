package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bozzfozz/harmony/internal/matching"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
)

// Enqueuer is the narrow slice of queue.Store the handlers need to submit
// follow-up work, kept separate from the full Store so a handler cannot
// accidentally lease or complete jobs itself.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.Type, payload []byte, priority int, idempotencyKey string, availableAt time.Time) (id string, inserted bool, err error)
}

// MatchingHandler scores a reference against a pre-fetched candidate list
// (typically gathered by an earlier search step) and enqueues a sync job
// for the best match above threshold, without itself touching the source
// provider.
type MatchingHandler struct {
	Queue    Enqueuer
	Priority int
}

// NewMatchingHandler constructs a MatchingHandler.
func NewMatchingHandler(q Enqueuer, priority int) *MatchingHandler {
	return &MatchingHandler{Queue: q, Priority: priority}
}

// Handle implements registry.Handler.
func (h *MatchingHandler) Handle(ctx context.Context, payload []byte) orcherr.Outcome {
	var p MatchingPayload
	if err := decodePayload(payload, &p); err != nil {
		return orcherr.OutcomeFatal(err)
	}
	if len(p.Candidates) == 0 {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.ValidationError, "matching job with no candidates", nil))
	}

	threshold := p.MinSimilarity
	if threshold <= 0 {
		threshold = defaultMinSimilarity
	}

	ref := matching.Reference{
		Artist:      p.Reference.Artist,
		Title:       p.Reference.Title,
		Album:       p.Reference.Album,
		DurationSec: p.Reference.DurationSec,
	}
	candidates := make([]matching.Candidate, len(p.Candidates))
	for i, c := range p.Candidates {
		candidates[i] = matching.Candidate{Filename: c.Filename, DurationSec: c.DurationSec, Bitrate: c.Bitrate}
	}

	idx, score := matching.Best(ref, candidates, defaultDurationToleranceSec)
	if idx < 0 || score.Overall < threshold {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.NotFound, "no candidate met similarity threshold", map[string]any{
			"best_score": score.Overall, "threshold": threshold,
		}))
	}

	syncPayload, err := json.Marshal(SyncPayload{
		Artist:      p.Reference.Artist,
		Title:       p.Reference.Title,
		Album:       p.Reference.Album,
		DurationSec: p.Reference.DurationSec,
	})
	if err != nil {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.InternalError, "marshal follow-up sync payload", map[string]any{"error": err.Error()}))
	}

	idempotencyKey := p.Reference.Artist + ":" + p.Reference.Title
	if _, _, err := h.Queue.Enqueue(ctx, queue.TypeSync, syncPayload, h.Priority, idempotencyKey, time.Time{}); err != nil {
		return orcherr.OutcomeRetryable(orcherr.New(orcherr.DependencyError, "enqueue follow-up sync job", map[string]any{"error": err.Error()}))
	}
	return orcherr.OutcomeDone()
}
