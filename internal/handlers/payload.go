// Package handlers implements the domain handlers: thin
// adapters translating a job's opaque payload into calls on external
// collaborators (source provider, metadata provider, matching engine,
// watchlist store). None of them own retry or lease logic; they return an
// orcherr.Outcome and let the Dispatcher decide what happens next.
package handlers

import (
	"encoding/json"

	"github.com/bozzfozz/harmony/internal/orcherr"
)

// SyncPayload is the sync job's payload: "find and download this track".
type SyncPayload struct {
	Artist              string `json:"artist"`
	Title               string `json:"title"`
	Album               string `json:"album,omitempty"`
	DurationSec         int    `json:"duration_sec,omitempty"`
	MinSimilarity       float64 `json:"min_similarity,omitempty"`
	DurationToleranceSec int    `json:"duration_tolerance_sec,omitempty"`
}

// MatchingPayload is the matching job's payload: "score these candidates
// against this reference and enqueue a sync for the best one above
// threshold". Kept distinct from SyncPayload so a caller can split
// discovery (matching) from acquisition (sync) into separate leases.
type MatchingPayload struct {
	Reference     ReferencePayload    `json:"reference"`
	Candidates    []CandidatePayload  `json:"candidates"`
	MinSimilarity float64             `json:"min_similarity,omitempty"`
}

// ReferencePayload mirrors matching.Reference over the wire.
type ReferencePayload struct {
	Artist      string `json:"artist"`
	Title       string `json:"title"`
	Album       string `json:"album,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// CandidatePayload mirrors matching.Candidate over the wire.
type CandidatePayload struct {
	Username    string `json:"username"`
	Filename    string `json:"filename"`
	DurationSec int    `json:"duration_sec,omitempty"`
	Bitrate     int    `json:"bitrate,omitempty"`
}

// RetryPayload is the retry job's payload: "replay a DLQ entry's original
// job type and payload". Distinct job type from the original so it is
// visible in metrics/logs as an operator-initiated reprocessing attempt,
// not an organic retry of the original lease.
type RetryPayload struct {
	OriginalType string          `json:"original_type"`
	Original     json.RawMessage `json:"original_payload"`
}

// ArtistSyncPayload is the artist_sync job's payload, enqueued by the
// Watchlist Timer with idempotency_key = artist_id.
type ArtistSyncPayload struct {
	ArtistID   string `json:"artist_id"`
	ExternalID string `json:"external_id"`
}

func decodePayload(payload []byte, out any) *orcherr.Error {
	if err := json.Unmarshal(payload, out); err != nil {
		return orcherr.New(orcherr.ValidationError, "malformed job payload", map[string]any{"error": err.Error()})
	}
	return nil
}
