// Package main runs the anchor service: the shared store where hosts save
// the anchors they create and clients look them up by id.
//
// Configuration:
//   - ANCHORSVC_LISTEN: Listen address (default: ":8090")
//   - ANCHORSVC_SWEEP_INTERVAL: Purge period of expired anchors (default: "1h")
//   - LOG_LEVEL, LOG_DEV: Logger settings
//
// Endpoints:
//
//	GET    /anchors        - ids of live anchors
//	GET    /anchors/{id}   - one anchor record
//	PUT    /anchors/{id}   - store a record
//	DELETE /anchors/{id}   - forget a record
//	GET    /state          - record counts
//	GET    /health         - liveness
//	GET    /metrics        - prometheus metrics
package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/backend"
	"github.com/dreamware/sharedorigin/internal/config"
	"github.com/dreamware/sharedorigin/internal/httpserver"
	"github.com/dreamware/sharedorigin/internal/metrics"
)

func main() {
	cfg, err := config.LoadAnchorService()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ln, err := httpserver.Listen(cfg.Listen)
	if err != nil {
		logger.Fatal("cannot listen", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, ln, logger); err != nil {
		logger.Fatal("anchor service stopped", zap.Error(err))
	}
}

func newMux(store *backend.MemoryStore, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	backend.NewHandler(store, logger).Register(mux)
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(store.Stats())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func run(ctx context.Context, cfg config.AnchorService, ln net.Listener, logger *zap.Logger) error {
	store := backend.NewMemoryStore(nil)
	return httpserver.Serve(ctx, ln, newMux(store, logger), logger, func(ctx context.Context) error {
		store.Sweep(ctx, cfg.SweepInterval, logger)
		return nil
	})
}
