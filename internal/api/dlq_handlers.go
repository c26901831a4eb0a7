package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bozzfozz/harmony/internal/dlq"
	"github.com/bozzfozz/harmony/internal/orcherr"
	"github.com/bozzfozz/harmony/internal/queue"
)

// dlqEntry is the wire shape of a single dead-lettered job.
type dlqEntry struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Attempts       int            `json:"attempts"`
	Priority       int            `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	LastError      *dlqLastError  `json:"last_error,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

type dlqLastError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func toDLQEntry(j *queue.Job) dlqEntry {
	e := dlqEntry{
		ID:             j.ID,
		Type:           string(j.Type),
		Attempts:       j.Attempts,
		Priority:       j.Priority,
		IdempotencyKey: j.IdempotencyKey,
		CreatedAt:      j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:      j.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.LastError != nil {
		e.LastError = &dlqLastError{Kind: string(j.LastError.Kind), Message: j.LastError.Message, Meta: j.LastError.Meta}
	}
	return e
}

// listDLQResponse is GET /dlq's success envelope.
type listDLQResponse struct {
	Entries []dlqEntry `json:"entries"`
	Total   int        `json:"total"`
}

// handleListDLQ implements GET /dlq?type=&status=&q=&offset=&limit=.
// status is accepted for wire compatibility but every row a DLQ listing
// returns is already dead_letter by construction, so it is not used to
// filter further.
func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.DLQFilter{
		Type:  queue.Type(q.Get("type")),
		Query: q.Get("q"),
	}
	page := queue.Page{
		Offset: atoiDefault(q.Get("offset"), 0),
		Limit:  atoiDefault(q.Get("limit"), 0),
	}

	jobs, total, err := s.DLQ.List(r.Context(), filter, page)
	if err != nil {
		writeOrchErr(w, orcherr.New(orcherr.DependencyError, "list dead letters", map[string]any{"error": err.Error()}))
		return
	}

	entries := make([]dlqEntry, len(jobs))
	for i, j := range jobs {
		entries[i] = toDLQEntry(j)
	}
	writeJSON(w, http.StatusOK, listDLQResponse{Entries: entries, Total: total})
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type requeueResponse struct {
	Requeued int `json:"requeued"`
	Skipped  int `json:"skipped"`
}

// handleRequeueDLQ implements POST /dlq/requeue.
func (s *Server) handleRequeueDLQ(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body")
		return
	}
	if len(req.IDs) == 0 {
		writeValidationError(w, "ids must not be empty")
		return
	}

	n, err := s.DLQ.Requeue(r.Context(), req.IDs)
	if err != nil {
		writeDLQBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requeueResponse{Requeued: n, Skipped: len(req.IDs) - n})
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

// handlePurgeDLQ implements POST /dlq/purge.
func (s *Server) handlePurgeDLQ(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body")
		return
	}
	if len(req.IDs) == 0 {
		writeValidationError(w, "ids must not be empty")
		return
	}

	n, err := s.DLQ.Purge(r.Context(), req.IDs)
	if err != nil {
		writeDLQBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Purged: n})
}

func writeDLQBatchError(w http.ResponseWriter, err error) {
	if err == dlq.ErrBatchTooLarge {
		writeValidationError(w, err.Error())
		return
	}
	writeOrchErr(w, orcherr.New(orcherr.DependencyError, err.Error(), nil))
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
