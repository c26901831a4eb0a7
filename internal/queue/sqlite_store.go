package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/bozzfozz/harmony/internal/orcherr"
)

// SQLiteConfig mirrors the connection-pool invariants of the persistence
// layer this store is grounded on: a bounded pool, a mandatory busy_timeout,
// and WAL so readers never block the leaser.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns sane defaults for a single-process daemon.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second, MaxOpenConns: 8}
}

// SQLiteStore is the durable Store implementation: a transactional
// relational store, not an in-memory structure guarded by a single mutex.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens dbPath with mandatory PRAGMAs and ensures the schema
// exists.
func OpenSQLiteStore(ctx context.Context, dbPath string, cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: sqlite open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: sqlite ping failed: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                     TEXT PRIMARY KEY,
	type                   TEXT NOT NULL,
	payload                TEXT NOT NULL,
	priority               INTEGER NOT NULL DEFAULT 0,
	state                  TEXT NOT NULL,
	attempts               INTEGER NOT NULL DEFAULT 0,
	available_at           INTEGER NOT NULL,
	lease_expires_at       INTEGER,
	lease_owner            TEXT,
	last_error_kind        TEXT,
	last_error_message     TEXT,
	last_error_meta        TEXT,
	last_error_retry_after INTEGER,
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL,
	idempotency_key        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_lease_scan
	ON jobs(type, state, available_at, priority DESC, id);

CREATE INDEX IF NOT EXISTS idx_jobs_lease_expiry
	ON jobs(state, lease_expires_at);

CREATE INDEX IF NOT EXISTS idx_jobs_dlq
	ON jobs(state, type, updated_at);

-- I1: at most one non-terminal row per (type, idempotency_key).
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency
	ON jobs(type, idempotency_key)
	WHERE idempotency_key != '' AND state IN ('pending', 'leased', 'failed_retry');
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func millis(t time.Time) int64 { return t.UnixMilli() }
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *SQLiteStore) Enqueue(ctx context.Context, jobType Type, payload []byte, priority int, idempotencyKey string, availableAt time.Time) (string, bool, error) {
	if len(jobType) == 0 {
		return "", false, ErrUnknownType
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return "", false, ErrInvalidPayload
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("queue: enqueue begin: %w", err)
	}
	defer tx.Rollback()

	if idempotencyKey != "" {
		var existingID string
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE type = ? AND idempotency_key = ?
			  AND state IN ('pending', 'leased', 'failed_retry')`,
			string(jobType), idempotencyKey)
		switch err := row.Scan(&existingID); {
		case err == nil:
			return existingID, false, nil
		case err != sql.ErrNoRows:
			return "", false, fmt.Errorf("queue: enqueue dedup lookup: %w", err)
		}
	}

	now := time.Now().UTC()
	if availableAt.IsZero() {
		availableAt = now
	}
	id := uuid.NewString()
	payloadText := "{}"
	if len(payload) > 0 {
		payloadText = string(payload)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, priority, state, attempts, available_at,
		                   created_at, updated_at, idempotency_key)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		id, string(jobType), payloadText, priority, millis(availableAt), millis(now), millis(now), idempotencyKey)
	if err != nil {
		return "", false, fmt.Errorf("queue: enqueue insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("queue: enqueue commit: %w", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) Lease(ctx context.Context, jobType Type, owner string, visibilityTimeout time.Duration, batchLimit int) ([]*Job, error) {
	if visibilityTimeout < MinVisibilityTimeout {
		visibilityTimeout = MinVisibilityTimeout
	}
	if batchLimit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: lease begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE type = ? AND state IN ('pending', 'failed_retry') AND available_at <= ?
		ORDER BY priority DESC, available_at ASC, id ASC
		LIMIT ?`, string(jobType), millis(now), batchLimit)
	if err != nil {
		return nil, fmt.Errorf("queue: lease candidate scan: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: lease candidate row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: lease candidate iterate: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	leaseExpiry := now.Add(visibilityTimeout)
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = 'leased', lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ?`, owner, millis(leaseExpiry), millis(now), id)
		if err != nil {
			return nil, fmt.Errorf("queue: lease update %s: %w", id, err)
		}
		j, err := scanJobTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: lease commit: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, id, owner string, extension time.Duration) (LeaseOutcome, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND state = 'leased' AND lease_owner = ?`,
		millis(now.Add(extension)), millis(now), id, owner)
	if err != nil {
		return LeaseLost, fmt.Errorf("queue: heartbeat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return LeaseLost, nil
	}
	return LeaseOK, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id, owner string) (LeaseOutcome, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'succeeded', lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'leased' AND lease_owner = ? AND lease_expires_at >= ?`,
		millis(now), id, owner, millis(now))
	if err != nil {
		return LeaseLost, fmt.Errorf("queue: complete: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return LeaseLost, nil
	}
	return LeaseOK, nil
}

func (s *SQLiteStore) Fail(ctx context.Context, id, owner string, failErr *orcherr.Error, retryDelay *time.Duration, maxAttempts int) (FailOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FailLost, fmt.Errorf("queue: fail begin: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJobTx(ctx, tx, id)
	if err == ErrNotFound {
		return FailLost, nil
	}
	if err != nil {
		return FailLost, err
	}
	if j.State != StateLeased || j.LeaseOwner == nil || *j.LeaseOwner != owner {
		return FailLost, nil
	}

	now := time.Now().UTC()
	attempts := j.Attempts + 1

	var kind, msg, metaText string
	var retryAfter int64
	if failErr != nil {
		kind = string(failErr.Kind)
		msg = failErr.Message
		retryAfter = failErr.RetryAfter
		if failErr.Meta != nil {
			if b, err := json.Marshal(failErr.Meta); err == nil {
				metaText = string(b)
			}
		}
	}

	if retryDelay != nil && attempts < maxAttempts {
		availableAt := now.Add(*retryDelay)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = 'failed_retry', attempts = ?, available_at = ?,
			                lease_owner = NULL, lease_expires_at = NULL, updated_at = ?,
			                last_error_kind = ?, last_error_message = ?, last_error_meta = ?, last_error_retry_after = ?
			WHERE id = ?`,
			attempts, millis(availableAt), millis(now), kind, msg, metaText, retryAfter, id)
		if err != nil {
			return FailLost, fmt.Errorf("queue: fail retry update: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return FailLost, fmt.Errorf("queue: fail commit: %w", err)
		}
		return FailRetried, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'dead_letter', attempts = ?,
		                lease_owner = NULL, lease_expires_at = NULL, updated_at = ?,
		                last_error_kind = ?, last_error_message = ?, last_error_meta = ?, last_error_retry_after = ?
		WHERE id = ?`,
		attempts, millis(now), kind, msg, metaText, retryAfter, id)
	if err != nil {
		return FailLost, fmt.Errorf("queue: fail dead-letter update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return FailLost, fmt.Errorf("queue: fail commit: %w", err)
	}
	return FailDeadLettered, nil
}

func (s *SQLiteStore) ReclaimExpired(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: reclaim begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE state = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?
		ORDER BY id`, millis(now))
	if err != nil {
		return nil, fmt.Errorf("queue: reclaim scan: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: reclaim row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: reclaim iterate: %w", err)
	}

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = 'pending', lease_owner = NULL, lease_expires_at = NULL,
			                available_at = ?, updated_at = ?
			WHERE id = ?`, millis(now), millis(now), id)
		if err != nil {
			return nil, fmt.Errorf("queue: reclaim update %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: reclaim commit: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) CountLeasable(ctx context.Context, jobType Type, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE type = ? AND state IN ('pending', 'failed_retry') AND available_at <= ?`,
		string(jobType), millis(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count leasable: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountActive(ctx context.Context, jobType Type) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE type = ? AND state = 'leased'`, string(jobType)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count active: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	return scanJobTx(ctx, s.db, id)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanJobTx(ctx context.Context, q queryer, id string) (*Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, type, payload, priority, state, attempts, available_at,
		       lease_expires_at, lease_owner,
		       last_error_kind, last_error_message, last_error_meta, last_error_retry_after,
		       created_at, updated_at, idempotency_key
		FROM jobs WHERE id = ?`, id)

	var (
		j                                    Job
		payloadText                          string
		availableAtMs, createdAtMs, updatedAtMs int64
		leaseExpiresAtMs                     sql.NullInt64
		leaseOwner                           sql.NullString
		errKind, errMsg, errMeta             sql.NullString
		errRetryAfter                        sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.Type, &payloadText, &j.Priority, &j.State, &j.Attempts, &availableAtMs,
		&leaseExpiresAtMs, &leaseOwner,
		&errKind, &errMsg, &errMeta, &errRetryAfter,
		&createdAtMs, &updatedAtMs, &j.IdempotencyKey)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: scan job %s: %w", id, err)
	}

	j.Payload = []byte(payloadText)
	j.AvailableAt = fromMillis(availableAtMs)
	j.CreatedAt = fromMillis(createdAtMs)
	j.UpdatedAt = fromMillis(updatedAtMs)
	if leaseExpiresAtMs.Valid {
		t := fromMillis(leaseExpiresAtMs.Int64)
		j.LeaseExpiresAt = &t
	}
	if leaseOwner.Valid {
		o := leaseOwner.String
		j.LeaseOwner = &o
	}
	if errKind.Valid && errKind.String != "" {
		e := &orcherr.Error{Kind: orcherr.Kind(errKind.String), Message: errMsg.String}
		if errRetryAfter.Valid {
			e.RetryAfter = errRetryAfter.Int64
		}
		if errMeta.Valid && errMeta.String != "" {
			var meta map[string]any
			if json.Unmarshal([]byte(errMeta.String), &meta) == nil {
				e.Meta = meta
			}
		}
		j.LastError = e
	}
	return &j, nil
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter DLQFilter, page Page) ([]*Job, int, error) {
	where := "state = 'dead_letter'"
	args := []any{}
	if filter.Type != "" {
		where += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		where += " AND updated_at >= ?"
		args = append(args, millis(filter.Since))
	}
	if !filter.Until.IsZero() {
		where += " AND updated_at <= ?"
		args = append(args, millis(filter.Until))
	}
	if filter.Query != "" {
		where += " AND last_error_message LIKE ?"
		args = append(args, "%"+filter.Query+"%")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("queue: dlq count: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 25
	}
	listArgs := append(append([]any{}, args...), limit, page.Offset)
	listQuery := "SELECT id FROM jobs WHERE " + where + " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("queue: dlq list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("queue: dlq list row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("queue: dlq list iterate: %w", err)
	}

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := scanJobTx(ctx, s.db, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, j)
	}
	return out, total, nil
}

func (s *SQLiteStore) Requeue(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("queue: requeue begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	count := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = 'pending', available_at = ?, lease_owner = NULL,
			                lease_expires_at = NULL, updated_at = ?
			WHERE id = ? AND state = 'dead_letter'`, millis(now), millis(now), id)
		if err != nil {
			return 0, fmt.Errorf("queue: requeue %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			count++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("queue: requeue commit: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("queue: purge begin: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND state = 'dead_letter'`, id)
		if err != nil {
			return 0, fmt.Errorf("queue: purge %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			count++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("queue: purge commit: %w", err)
	}
	return count, nil
}
