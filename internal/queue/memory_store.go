package queue

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/orcherr"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production (grounded on the teacher's
// internal/pipeline/store.MemoryStore).
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock

	jobs map[string]*Job
	// idemIndex maps (type, idempotency_key) -> job id, for rows currently
	// occupying that key per I1.
	idemIndex map[string]string
}

// NewMemoryStore returns an empty MemoryStore using the given clock (use
// clock.System{} in production-like tests, a clock.Mock for deterministic
// ones).
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:     c,
		jobs:      make(map[string]*Job),
		idemIndex: make(map[string]string),
	}
}

func idemKey(t Type, key string) string { return string(t) + "\x00" + key }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Enqueue(ctx context.Context, jobType Type, payload []byte, priority int, idempotencyKey string, availableAt time.Time) (string, bool, error) {
	if strings.TrimSpace(string(jobType)) == "" {
		return "", false, ErrUnknownType
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return "", false, ErrInvalidPayload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" {
		if existingID, ok := m.idemIndex[idemKey(jobType, idempotencyKey)]; ok {
			if existing, ok := m.jobs[existingID]; ok && existing.OccupiesIdempotencyKey() {
				return existing.ID, false, nil
			}
			delete(m.idemIndex, idemKey(jobType, idempotencyKey))
		}
	}

	now := m.clock.Now()
	if availableAt.IsZero() {
		availableAt = now
	}
	id := uuid.NewString()
	job := &Job{
		ID:             id,
		Type:           jobType,
		Payload:        append([]byte(nil), payload...),
		Priority:       priority,
		State:          StatePending,
		AvailableAt:    availableAt,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.jobs[id] = job
	if idempotencyKey != "" {
		m.idemIndex[idemKey(jobType, idempotencyKey)] = id
	}
	return id, true, nil
}

func (m *MemoryStore) Lease(ctx context.Context, jobType Type, owner string, visibilityTimeout time.Duration, batchLimit int) ([]*Job, error) {
	if visibilityTimeout < MinVisibilityTimeout {
		visibilityTimeout = MinVisibilityTimeout
	}
	if batchLimit <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var candidates []*Job
	for _, j := range m.jobs {
		if j.Type == jobType && j.Leasable(now) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		if !candidates[i].AvailableAt.Equal(candidates[k].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[k].AvailableAt)
		}
		return candidates[i].ID < candidates[k].ID
	})

	if len(candidates) > batchLimit {
		candidates = candidates[:batchLimit]
	}

	leaseExpiry := now.Add(visibilityTimeout)
	out := make([]*Job, 0, len(candidates))
	for _, j := range candidates {
		j.State = StateLeased
		j.LeaseOwner = ptr(owner)
		j.LeaseExpiresAt = ptrTime(leaseExpiry)
		j.UpdatedAt = now
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, id, owner string, extension time.Duration) (LeaseOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.State != StateLeased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return LeaseLost, nil
	}
	now := m.clock.Now()
	j.LeaseExpiresAt = ptrTime(now.Add(extension))
	j.UpdatedAt = now
	return LeaseOK, nil
}

func (m *MemoryStore) Complete(ctx context.Context, id, owner string) (LeaseOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.State != StateLeased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return LeaseLost, nil
	}
	now := m.clock.Now()
	if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
		return LeaseLost, nil
	}
	j.State = StateSucceeded
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	m.clearIdem(j)
	return LeaseOK, nil
}

func (m *MemoryStore) Fail(ctx context.Context, id, owner string, failErr *orcherr.Error, retryDelay *time.Duration, maxAttempts int) (FailOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.State != StateLeased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return FailLost, nil
	}

	now := m.clock.Now()
	j.Attempts++
	j.LastError = failErr
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now

	if retryDelay != nil && j.Attempts < maxAttempts {
		j.State = StateFailedRetry
		j.AvailableAt = now.Add(*retryDelay)
		return FailRetried, nil
	}
	j.State = StateDeadLetter
	m.clearIdem(j)
	return FailDeadLettered, nil
}

func (m *MemoryStore) ReclaimExpired(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reclaimed []string
	for _, j := range m.jobs {
		if j.State == StateLeased && j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now) {
			j.State = StatePending
			j.LeaseOwner = nil
			j.LeaseExpiresAt = nil
			j.AvailableAt = now
			j.UpdatedAt = now
			reclaimed = append(reclaimed, j.ID)
		}
	}
	sort.Strings(reclaimed)
	return reclaimed, nil
}

func (m *MemoryStore) CountLeasable(ctx context.Context, jobType Type, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Type == jobType && j.Leasable(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountActive(ctx context.Context, jobType Type) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Type == jobType && j.State == StateLeased {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) ListDLQ(ctx context.Context, filter DLQFilter, page Page) ([]*Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Job
	for _, j := range m.jobs {
		if j.State != StateDeadLetter {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && j.UpdatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && j.UpdatedAt.After(filter.Until) {
			continue
		}
		if filter.Query != "" {
			if j.LastError == nil || !strings.Contains(strings.ToLower(j.LastError.Message), strings.ToLower(filter.Query)) {
				continue
			}
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].UpdatedAt.After(matched[k].UpdatedAt) })

	total := len(matched)
	limit := page.Limit
	if limit <= 0 {
		limit = 25
	}
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*Job, 0, end-start)
	for _, j := range matched[start:end] {
		out = append(out, cloneJob(j))
	}
	return out, total, nil
}

func (m *MemoryStore) Requeue(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	count := 0
	for _, id := range ids {
		j, ok := m.jobs[id]
		if !ok || j.State != StateDeadLetter {
			continue
		}
		j.State = StatePending
		j.AvailableAt = now
		j.LeaseOwner = nil
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		if j.IdempotencyKey != "" {
			m.idemIndex[idemKey(j.Type, j.IdempotencyKey)] = j.ID
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) Purge(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range ids {
		j, ok := m.jobs[id]
		if !ok || j.State != StateDeadLetter {
			continue
		}
		m.clearIdem(j)
		delete(m.jobs, id)
		count++
	}
	return count, nil
}

// clearIdem removes a job's idempotency index entry once it stops
// occupying it (terminal, or about to be deleted).
func (m *MemoryStore) clearIdem(j *Job) {
	if j.IdempotencyKey == "" {
		return
	}
	k := idemKey(j.Type, j.IdempotencyKey)
	if m.idemIndex[k] == j.ID {
		delete(m.idemIndex, k)
	}
}

func cloneJob(j *Job) *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	if j.LeaseOwner != nil {
		o := *j.LeaseOwner
		cp.LeaseOwner = &o
	}
	if j.LastError != nil {
		e := *j.LastError
		cp.LastError = &e
	}
	return &cp
}

func ptr(s string) *string        { return &s }
func ptrTime(t time.Time) *time.Time { return &t }
