// Package api is the DLQ HTTP surface: a thin read/requeue/purge
// layer over the DLQ Manager. It owns no orchestration state of its own.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/bozzfozz/harmony/internal/dlq"
)

// Server holds the collaborators the DLQ HTTP surface needs.
type Server struct {
	DLQ    *dlq.Manager
	Router chi.Router
}

// Config tunes the HTTP surface's own rate limiting, independent of any
// per-adapter limiter the source/metadata providers apply.
type Config struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// DefaultConfig returns a conservative rate limit suitable for an
// operator-facing DLQ console.
func DefaultConfig() Config {
	return Config{RateLimitRequests: 60, RateLimitWindow: time.Minute}
}

// NewServer builds the router and wires every DLQ route.
func NewServer(manager *dlq.Manager, cfg Config) *Server {
	s := &Server{DLQ: manager}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if cfg.RateLimitRequests > 0 {
		r.Use(httprate.Limit(cfg.RateLimitRequests, cfg.RateLimitWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", s.handleListDLQ)
		r.Post("/requeue", s.handleRequeueDLQ)
		r.Post("/purge", s.handlePurgeDLQ)
	})

	s.Router = r
	return s
}

// ServeHTTP lets Server itself be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
