package watchlist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteStore is the durable Store implementation, sharing the same
// connection-pool recipe as internal/queue.SQLiteStore (WAL, busy_timeout,
// foreign_keys).
type SQLiteStore struct {
	db *sql.DB
}

const artistSchema = `
CREATE TABLE IF NOT EXISTS watched_artists (
	artist_id              TEXT PRIMARY KEY,
	name                   TEXT NOT NULL DEFAULT '',
	external_ids           TEXT NOT NULL DEFAULT '{}',
	priority               INTEGER NOT NULL DEFAULT 0,
	interval_ms            INTEGER NOT NULL,
	enabled                INTEGER NOT NULL DEFAULT 1,
	last_checked_at        INTEGER NOT NULL DEFAULT 0,
	next_check_at          INTEGER NOT NULL DEFAULT 0,
	cooldown_until         INTEGER NOT NULL DEFAULT 0,
	retry_budget_remaining INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_watched_artists_due
	ON watched_artists(enabled, next_check_at, cooldown_until, priority DESC);
`

// OpenSQLiteStore opens dbPath (which may be the same database file the
// Queue Store uses) and ensures the watched_artists table exists.
func OpenSQLiteStore(ctx context.Context, dbPath string, busyTimeout time.Duration) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("watchlist: sqlite open failed: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("watchlist: sqlite ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, artistSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("watchlist: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Upsert(ctx context.Context, a Artist) error {
	externalIDs, err := json.Marshal(a.ExternalIDs)
	if err != nil {
		return fmt.Errorf("watchlist: marshal external_ids: %w", err)
	}
	enabled := 0
	if a.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO watched_artists (artist_id, name, external_ids, priority, interval_ms, enabled,
		                              last_checked_at, next_check_at, cooldown_until, retry_budget_remaining)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artist_id) DO UPDATE SET
			name = excluded.name,
			external_ids = excluded.external_ids,
			priority = excluded.priority,
			interval_ms = excluded.interval_ms,
			enabled = excluded.enabled`,
		a.ArtistID, a.Name, string(externalIDs), a.Priority, a.Interval.Milliseconds(), enabled,
		millis(a.LastCheckedAt), millis(a.NextCheckAt), millis(a.CooldownUntil), a.RetryBudgetRemaining)
	if err != nil {
		return fmt.Errorf("watchlist: upsert %s: %w", a.ArtistID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, artistID string) (Artist, error) {
	return scanArtist(ctx, s.db, artistID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanArtist(ctx context.Context, q queryer, artistID string) (Artist, error) {
	row := q.QueryRowContext(ctx, `
		SELECT artist_id, name, external_ids, priority, interval_ms, enabled,
		       last_checked_at, next_check_at, cooldown_until, retry_budget_remaining
		FROM watched_artists WHERE artist_id = ?`, artistID)

	var (
		a                                                     Artist
		externalIDs                                           string
		enabled                                                int
		intervalMs, lastCheckedMs, nextCheckMs, cooldownUntilMs int64
	)
	err := row.Scan(&a.ArtistID, &a.Name, &externalIDs, &a.Priority, &intervalMs, &enabled,
		&lastCheckedMs, &nextCheckMs, &cooldownUntilMs, &a.RetryBudgetRemaining)
	if err == sql.ErrNoRows {
		return Artist{}, ErrNotFound
	}
	if err != nil {
		return Artist{}, fmt.Errorf("watchlist: scan %s: %w", artistID, err)
	}
	_ = json.Unmarshal([]byte(externalIDs), &a.ExternalIDs)
	a.Enabled = enabled != 0
	a.Interval = time.Duration(intervalMs) * time.Millisecond
	a.LastCheckedAt = fromMillis(lastCheckedMs)
	a.NextCheckAt = fromMillis(nextCheckMs)
	a.CooldownUntil = fromMillis(cooldownUntilMs)
	return a, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *SQLiteStore) DueForCheck(ctx context.Context, now time.Time, limit int) ([]Artist, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT artist_id FROM watched_artists
		WHERE enabled = 1 AND next_check_at <= ? AND cooldown_until <= ?
		ORDER BY priority DESC, next_check_at ASC, artist_id ASC
		LIMIT ?`, millis(now), millis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("watchlist: due scan: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("watchlist: due row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("watchlist: due iterate: %w", err)
	}

	out := make([]Artist, 0, len(ids))
	for _, id := range ids {
		a, err := scanArtist(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteStore) MarkChecked(ctx context.Context, artistID string, checkedAt, nextCheckAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watched_artists SET last_checked_at = ?, next_check_at = ?
		WHERE artist_id = ?`, millis(checkedAt), millis(nextCheckAt), artistID)
	if err != nil {
		return fmt.Errorf("watchlist: mark checked %s: %w", artistID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, artistID string, now time.Time, cooldownDuration time.Duration, retryBudgetPerArtist int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("watchlist: record failure begin: %w", err)
	}
	defer tx.Rollback()

	a, err := scanArtist(ctx, tx, artistID)
	if err != nil {
		return err
	}
	a.RetryBudgetRemaining--

	if a.RetryBudgetRemaining <= 0 {
		cooldownUntil := now.Add(cooldownDuration)
		nextCheckAt := NextCheckAfter(a.LastCheckedAt, a.Interval, cooldownUntil)
		_, err = tx.ExecContext(ctx, `
			UPDATE watched_artists SET retry_budget_remaining = ?, cooldown_until = ?, next_check_at = ?
			WHERE artist_id = ?`, retryBudgetPerArtist, millis(cooldownUntil), millis(nextCheckAt), artistID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE watched_artists SET retry_budget_remaining = ? WHERE artist_id = ?`,
			a.RetryBudgetRemaining, artistID)
	}
	if err != nil {
		return fmt.Errorf("watchlist: record failure update %s: %w", artistID, err)
	}
	return tx.Commit()
}
