package handlers

import (
	"context"
	"time"

	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
)

// RetryHandler replays a DLQ entry by re-enqueuing its original type and
// payload as a fresh job. It is a job type of its own, kept distinct from
// the Queue Store's internal failed_retry mechanics so a replay is visible
// in the event stream as its own dispatch. The DLQ HTTP surface's requeue
// operation does not go through it: that calls the Queue Store's Requeue
// directly, and no component in this module enqueues retry jobs.
type RetryHandler struct {
	Queue Enqueuer
}

// NewRetryHandler constructs a RetryHandler.
func NewRetryHandler(q Enqueuer) *RetryHandler {
	return &RetryHandler{Queue: q}
}

// Handle implements registry.Handler.
func (h *RetryHandler) Handle(ctx context.Context, payload []byte) orcherr.Outcome {
	var p RetryPayload
	if err := decodePayload(payload, &p); err != nil {
		return orcherr.OutcomeFatal(err)
	}
	if p.OriginalType == "" {
		return orcherr.OutcomeFatal(orcherr.New(orcherr.ValidationError, "retry job missing original_type", nil))
	}

	// No idempotency key: a replay is an explicit, one-off operator action,
	// not a recurring enqueue that needs dedup.
	if _, _, err := h.Queue.Enqueue(ctx, queue.Type(p.OriginalType), p.Original, 0, "", time.Time{}); err != nil {
		return orcherr.OutcomeRetryable(orcherr.New(orcherr.DependencyError, "re-enqueue original job", map[string]any{"error": err.Error()}))
	}
	return orcherr.OutcomeDone()
}
