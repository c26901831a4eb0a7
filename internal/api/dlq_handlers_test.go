package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/api"
	"github.com/bozzfozz/harmony/internal/clock"
	"github.com/bozzfozz/harmony/internal/dlq"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
)

func deadLetterOneJob(t *testing.T, store queue.Store) string {
	t.Helper()
	ctx := context.Background()
	id, _, err := store.Enqueue(ctx, queue.TypeSync, []byte(`{}`), 0, "", time.Time{})
	require.NoError(t, err)

	jobs, err := store.Lease(ctx, queue.TypeSync, "owner-1", time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	_, err = store.Fail(ctx, id, "owner-1", orcherr.New(orcherr.ValidationError, "boom", nil), nil, 1)
	require.NoError(t, err)
	return id
}

func newTestServer(t *testing.T) (*api.Server, queue.Store) {
	t.Helper()
	store := queue.NewMemoryStore(clock.System{})
	manager := dlq.New(store, events.NewBus(), dlq.DefaultConfig())
	return api.NewServer(manager, api.DefaultConfig()), store
}

func TestHandleListDLQ_ReturnsDeadLetteredEntries(t *testing.T) {
	s, store := newTestServer(t)
	id := deadLetterOneJob(t, store)

	req := httptest.NewRequest(http.MethodGet, "/dlq?limit=10", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []struct {
			ID string `json:"id"`
		} `json:"entries"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, id, resp.Entries[0].ID)
}

func TestHandleRequeueDLQ_RequeuesAndReportsSkipped(t *testing.T) {
	s, store := newTestServer(t)
	id := deadLetterOneJob(t, store)

	body, _ := json.Marshal(map[string]any{"ids": []string{id, "does-not-exist"}})
	req := httptest.NewRequest(http.MethodPost, "/dlq/requeue", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Requeued int `json:"requeued"`
		Skipped  int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Requeued)
	require.Equal(t, 1, resp.Skipped)
}

func TestHandleRequeueDLQ_EmptyIDsIsValidationError(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"ids": []string{}})
	req := httptest.NewRequest(http.MethodPost, "/dlq/requeue", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		OK    bool `json:"ok"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestHandlePurgeDLQ_PurgesEntries(t *testing.T) {
	s, store := newTestServer(t)
	id := deadLetterOneJob(t, store)

	body, _ := json.Marshal(map[string]any{"ids": []string{id}})
	req := httptest.NewRequest(http.MethodPost, "/dlq/purge", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Purged int `json:"purged"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Purged)
}
