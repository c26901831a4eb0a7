// Package slskd is the source-provider adapter: a thin HTTP client
// over slskd's search/download/status surface, translating its responses
// into normalized Candidates and orcherr.Kind-tagged failures. Wire
// protocol and payload-shape details are an explicit non-goal of the
// orchestrator spec; this package exposes just enough surface for the
// sync handler to drive a download to completion.
package slskd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bozzfozz/harmony/internal/orcherr"
)

// Candidate is a single file slskd reported for a search query.
type Candidate struct {
	Username    string `json:"username"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Bitrate     int    `json:"bitRate"`
	DurationSec int    `json:"length"`
}

// DownloadHandle identifies an in-flight transfer slskd is driving.
type DownloadHandle struct {
	Username string `json:"username"`
	Filename string `json:"filename"`
}

// TransferState mirrors slskd's own transfer state machine, reduced to the
// subset the sync handler needs to decide retry vs. done vs. fatal.
type TransferState string

const (
	TransferInProgress TransferState = "in_progress"
	TransferCompleted  TransferState = "completed"
	TransferFailed     TransferState = "failed"
	TransferQueued     TransferState = "queued"
)

// Status reports a download's current state.
type Status struct {
	State        TransferState
	BytesWritten int64
	TotalBytes   int64
}

// Provider is the source-provider interface the orchestrator's handlers
// depend on: search for candidates, start a download, and poll its
// status. Handlers hold only this interface, never the concrete client,
// so tests can substitute a fake.
type Provider interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
	Download(ctx context.Context, candidate Candidate) (DownloadHandle, error)
	Status(ctx context.Context, handle DownloadHandle) (Status, error)
}

// HTTPProvider is the production Provider, rate-limited with call timeouts
// independent of any other adapter's, and honoring the RATE_LIMITED
// retry-after contract.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewHTTPProvider constructs an HTTPProvider. limit/burst bound outbound
// request rate to slskd; timeout bounds each individual call, independent
// of the job's overall lease/visibility timeout.
func NewHTTPProvider(baseURL string, client *http.Client, limit rate.Limit, burst int, timeout time.Duration) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return orcherr.New(orcherr.Cancelled, "rate limiter wait cancelled", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return orcherr.New(orcherr.ValidationError, "build slskd request", map[string]any{"error": err.Error()})
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return orcherr.New(orcherr.DependencyError, "slskd request failed", map[string]any{"error": err.Error()})
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfterSec := parseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return &orcherr.Error{Kind: orcherr.RateLimited, Message: "slskd rate limited the request", RetryAfter: retryAfterSec}
	case resp.StatusCode == http.StatusNotFound:
		return orcherr.New(orcherr.NotFound, "slskd resource not found", nil)
	case resp.StatusCode >= 500:
		return orcherr.New(orcherr.DependencyError, fmt.Sprintf("slskd returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return orcherr.New(orcherr.ValidationError, fmt.Sprintf("slskd rejected request: %d", resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return orcherr.New(orcherr.DependencyError, "decode slskd response", map[string]any{"error": err.Error()})
	}
	return nil
}

func parseRetryAfterSeconds(header string) int64 {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return int64(secs)
	}
	return 0
}

// Search queries slskd for files matching query.
func (p *HTTPProvider) Search(ctx context.Context, query string) ([]Candidate, error) {
	var out []Candidate
	if err := p.do(ctx, http.MethodGet, "/api/v0/searches", url.Values{"query": {query}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Download starts a transfer for the given candidate.
func (p *HTTPProvider) Download(ctx context.Context, candidate Candidate) (DownloadHandle, error) {
	handle := DownloadHandle{Username: candidate.Username, Filename: candidate.Filename}
	path := fmt.Sprintf("/api/v0/transfers/downloads/%s", url.PathEscape(candidate.Username))
	if err := p.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return DownloadHandle{}, err
	}
	return handle, nil
}

// Status polls the current state of a download.
func (p *HTTPProvider) Status(ctx context.Context, handle DownloadHandle) (Status, error) {
	var out Status
	path := fmt.Sprintf("/api/v0/transfers/downloads/%s/%s", url.PathEscape(handle.Username), url.PathEscape(handle.Filename))
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Status{}, err
	}
	return out, nil
}
