package handlers

import (
	"context"

	"github.com/bozzfozz/harmony/internal/matching"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/provider/slskd"
)

const defaultMinSimilarity = 0.6
const defaultDurationToleranceSec = 3

// SyncHandler drives a single track from search to download via the source
// provider, picking the best candidate the matching engine finds above
// threshold.
type SyncHandler struct {
	Source slskd.Provider
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(source slskd.Provider) *SyncHandler {
	return &SyncHandler{Source: source}
}

// Handle implements registry.Handler.
func (h *SyncHandler) Handle(ctx context.Context, payload []byte) orcherr.Outcome {
	var p SyncPayload
	if err := decodePayload(payload, &p); err != nil {
		return orcherr.OutcomeFatal(err)
	}

	results, err := h.Source.Search(ctx, p.Artist+" "+p.Title)
	if err != nil {
		return outcomeFromErr(err)
	}
	if len(results) == 0 {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.NotFound, "no candidates found for track", map[string]any{
			"artist": p.Artist, "title": p.Title,
		}))
	}

	tolerance := p.DurationToleranceSec
	if tolerance <= 0 {
		tolerance = defaultDurationToleranceSec
	}
	threshold := p.MinSimilarity
	if threshold <= 0 {
		threshold = defaultMinSimilarity
	}

	ref := matching.Reference{Artist: p.Artist, Title: p.Title, Album: p.Album, DurationSec: p.DurationSec}
	candidates := make([]matching.Candidate, len(results))
	for i, r := range results {
		candidates[i] = matching.Candidate{Filename: r.Filename, DurationSec: r.DurationSec, Bitrate: r.Bitrate}
	}

	idx, score := matching.Best(ref, candidates, tolerance)
	if idx < 0 || score.Overall < threshold {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.NotFound, "no candidate met similarity threshold", map[string]any{
			"best_score": score.Overall, "threshold": threshold,
		}))
	}

	handle, err := h.Source.Download(ctx, results[idx])
	if err != nil {
		return outcomeFromErr(err)
	}

	status, err := h.Source.Status(ctx, handle)
	if err != nil {
		return outcomeFromErr(err)
	}
	switch status.State {
	case slskd.TransferCompleted:
		return orcherr.OutcomeDone()
	case slskd.TransferFailed:
		return orcherr.OutcomeRetryable(orcherr.New(orcherr.DependencyError, "source provider reported transfer failure", map[string]any{
			"username": handle.Username, "filename": handle.Filename,
		}))
	default:
		// in_progress/queued: the caller (Dispatcher) will retry this job on
		// its own backoff schedule until the transfer settles or the
		// profile is exhausted.
		return orcherr.OutcomeRetryable(orcherr.New(orcherr.DependencyError, "transfer still in progress", map[string]any{
			"state": string(status.State),
		}))
	}
}

func outcomeFromErr(err error) orcherr.Outcome {
	var oe *orcherr.Error
	if e, ok := err.(*orcherr.Error); ok {
		oe = e
	} else {
		oe = orcherr.New(orcherr.InternalError, err.Error(), nil)
	}
	if oe.Kind.Retryable() {
		return orcherr.OutcomeRetryable(oe)
	}
	return orcherr.OutcomeFatal(oe)
}
