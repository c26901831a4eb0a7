// Command harmonyd runs the Harmony job orchestrator: it loads
// configuration, wires every component via the Lifespan, serves the DLQ
// HTTP surface and metrics, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bozzfozz/harmony/internal/api"
	"github.com/bozzfozz/harmony/internal/bootstrap"
	"github.com/bozzfozz/harmony/internal/config"
	"github.com/bozzfozz/harmony/internal/events"
	"github.com/bozzfozz/harmony/internal/log"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	listenAddr := flag.String("listen", ":8080", "DLQ HTTP surface listen address")
	flag.Parse()

	if *showVersion {
		fmt.Printf("harmonyd %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "harmony", Version: version})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	loader := config.NewLoader(strings.TrimSpace(*configPath), bus)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	fingerprint, err := config.Fingerprint(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to compute config fingerprint")
	} else {
		logger.Info().Str("fingerprint", fingerprint).Msg("configuration loaded")
	}

	deps := bootstrap.Dependencies{
		SlskdBaseURL: strings.TrimSpace(os.Getenv("HARMONY_SLSKD_BASE_URL")),
	}
	if clientID := os.Getenv("HARMONY_SPOTIFY_CLIENT_ID"); clientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: os.Getenv("HARMONY_SPOTIFY_CLIENT_SECRET"),
			TokenURL:     "https://accounts.spotify.com/api/token",
		}
		deps.SpotifyTokenSource = cc.TokenSource(ctx)
	}

	container, err := bootstrap.Wire(ctx, cfg, deps, bus)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire orchestrator components")
	}

	if err := container.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start orchestrator components")
	}

	holder := config.NewHolder(loader, cfg, bus)
	go func() {
		if err := holder.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	server := api.NewServer(container.DLQ, api.DefaultConfig())
	mux := http.NewServeMux()
	mux.Handle("/dlq/", server)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		snap := container.Health.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !snap.QueueReachable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *listenAddr).Msg("DLQ HTTP surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrs:
		logger.Error().Err(err).Msg("HTTP server failed")
	case err := <-container.Errs():
		logger.Error().Err(err).Msg("orchestrator component failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("orchestrator shutdown error")
	}

	logger.Info().Msg("harmonyd stopped")
}
