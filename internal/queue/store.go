package queue

import (
	"context"
	"errors"
	"time"

	"github.com/bozzfozz/harmony/internal/orcherr"
)

var (
	// ErrUnknownType is returned by Enqueue for an empty job type; the
	// stores accept any non-empty type.
	ErrUnknownType = errors.New("queue: unknown job type")
	// ErrInvalidPayload is returned by enqueue for a malformed payload.
	ErrInvalidPayload = errors.New("queue: invalid payload")
	// ErrNotFound is returned when an operation names a job id that does
	// not exist.
	ErrNotFound = errors.New("queue: job not found")
)

// MinVisibilityTimeout is the floor enforced on every lease: smaller values
// are rounded up. The rounding is silent; neither Lease nor the Scheduler's
// and Dispatcher's clamps log it.
const MinVisibilityTimeout = 5 * time.Second

// LeaseOutcome is the result of Heartbeat or Complete.
type LeaseOutcome string

const (
	LeaseOK   LeaseOutcome = "ok"
	LeaseLost LeaseOutcome = "lost"
)

// FailOutcome is the result of Fail.
type FailOutcome string

const (
	FailRetried     FailOutcome = "retried"
	FailDeadLettered FailOutcome = "dead_lettered"
	FailLost        FailOutcome = "lost"
)

// DLQFilter narrows a DLQ listing.
type DLQFilter struct {
	Type  Type
	Since time.Time
	Until time.Time
	Query string // substring match against last_error.message, best-effort
}

// Page bounds a DLQ listing; Limit is clamped by the caller to the
// configured default/max (dlq.page_size_default/page_size_max).
type Page struct {
	Offset int
	Limit  int
}

// Store is the system-of-record for Job rows. All mutation goes through
// these operations; the core never holds a row reference across calls
// ("ORM-attached session objects" is a pattern to avoid).
type Store interface {
	// Enqueue inserts a new pending job, or returns the existing row's id
	// with inserted=false if idempotencyKey collides with a non-terminal
	// row of the same type (I1).
	Enqueue(ctx context.Context, jobType Type, payload []byte, priority int, idempotencyKey string, availableAt time.Time) (id string, inserted bool, err error)

	// Lease atomically selects up to batchLimit leasable jobs of jobType,
	// ordered by (priority desc, available_at asc, id asc), and transitions
	// them to leased under owner.
	Lease(ctx context.Context, jobType Type, owner string, visibilityTimeout time.Duration, batchLimit int) ([]*Job, error)

	// Heartbeat extends a held lease's expiry, or reports LeaseLost if owner
	// no longer holds it.
	Heartbeat(ctx context.Context, id, owner string, extension time.Duration) (LeaseOutcome, error)

	// Complete transitions leased -> succeeded if owner still holds the
	// lease, or reports LeaseLost.
	Complete(ctx context.Context, id, owner string) (LeaseOutcome, error)

	// Fail records a handler failure. If retryDelay is non-nil and
	// attempts+1 < maxAttempts, the job returns to failed_retry with a
	// future available_at; otherwise it is dead-lettered. Reports
	// FailLost if owner no longer holds the lease.
	Fail(ctx context.Context, id, owner string, failErr *orcherr.Error, retryDelay *time.Duration, maxAttempts int) (FailOutcome, error)

	// ReclaimExpired returns leased jobs whose lease has expired back to
	// pending without incrementing attempts, returning their ids.
	ReclaimExpired(ctx context.Context, now time.Time) ([]string, error)

	// CountLeasable reports how many jobs of jobType are currently
	// leasable, for health/backlog reporting.
	CountLeasable(ctx context.Context, jobType Type, now time.Time) (int, error)

	// CountActive reports how many jobs of jobType are currently leased,
	// for concurrency-budget bookkeeping independent of the Dispatcher's
	// in-process semaphores.
	CountActive(ctx context.Context, jobType Type) (int, error)

	// Get returns a single job by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// ListDLQ returns a page of dead-lettered jobs plus the total count
	// matching filter.
	ListDLQ(ctx context.Context, filter DLQFilter, page Page) ([]*Job, int, error)

	// Requeue transitions the named dead-lettered jobs back to pending,
	// preserving attempts and last_error, clearing lease fields (I5).
	// Jobs not currently dead_letter are skipped (requeue is idempotent).
	Requeue(ctx context.Context, ids []string) (requeued int, err error)

	// Purge permanently deletes the named dead-lettered jobs.
	Purge(ctx context.Context, ids []string) (purged int, err error)

	// Close releases underlying resources (connections, file handles).
	Close() error
}
