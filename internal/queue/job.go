// Package queue implements the Queue Store: durable, linearizable custody
// of Job rows, with atomic lease acquisition, heartbeat, completion,
// failure and DLQ transitions.
package queue

import (
	"encoding/json"
	"time"

	"github.com/bozzfozz/harmony/internal/orcherr"
)

// State is a Job's lifecycle state.
type State string

const (
	StatePending     State = "pending"
	StateLeased      State = "leased"
	StateSucceeded   State = "succeeded"
	StateFailedRetry State = "failed_retry"
	StateDeadLetter  State = "dead_letter"
	StateCancelled   State = "cancelled"
)

// Type is a job's handler type. The set is open (extensible via the Handler
// Registry); the constants below are the built-ins.
type Type string

const (
	TypeSync       Type = "sync"
	TypeMatching   Type = "matching"
	TypeRetry      Type = "retry"
	TypeArtistSync Type = "artist_sync"
	TypeWatchlist  Type = "watchlist"
)

// Job is a unit of deferred work.
type Job struct {
	ID              string
	Type            Type
	Payload         json.RawMessage
	Priority        int
	State           State
	Attempts        int
	AvailableAt     time.Time
	LeaseExpiresAt  *time.Time
	LeaseOwner      *string
	LastError       *orcherr.Error
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IdempotencyKey  string // empty means "no dedup key"
}

// Leasable reports whether the job is eligible for lease right now. A job
// in failed_retry counts as leasable once its backoff elapses: Fail moves a
// job with retry budget remaining to failed_retry (not back to pending)
// with AvailableAt set to the backoff deadline, and that transition is the
// only mechanism by which a retried job is ever re-dispatched (see
// DESIGN.md "failed_retry is leasable").
func (j *Job) Leasable(now time.Time) bool {
	return (j.State == StatePending || j.State == StateFailedRetry) && !j.AvailableAt.After(now)
}

// IsTerminal reports whether the job can no longer be leased without an
// explicit operator action (requeue).
func (j *Job) IsTerminal() bool {
	switch j.State {
	case StateSucceeded, StateDeadLetter, StateCancelled:
		return true
	default:
		return false
	}
}

// nonTerminalDedupStates are the states in which a row still "occupies" an
// idempotency key per I1.
var nonTerminalDedupStates = map[State]bool{
	StatePending:     true,
	StateLeased:      true,
	StateFailedRetry: true,
}

// OccupiesIdempotencyKey reports whether this job's state counts toward the
// "at most one non-terminal row per (type, idempotency_key)" invariant (I1).
func (j *Job) OccupiesIdempotencyKey() bool {
	return nonTerminalDedupStates[j.State]
}
