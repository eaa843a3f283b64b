// Package main runs the host of a shared-origin session. The host captures
// and creates the spatial anchor, shares it with every client that joins,
// and asks clients to relocate it periodically.
//
// Configuration:
//   - HOST_LISTEN: Listen address (default: ":8080")
//   - HOST_OBSERVER_ID: Client whose first sync completes setup (default: 2)
//   - HOST_HEALTH_INTERVAL: Client health check period (default: "5s")
//   - ANCHOR_STORE_ADDR: Anchor service URL, empty for an in-process store
//   - TELEMETRY_DIR: Root of the event logs (default: "telemetry")
//   - LOG_LEVEL, LOG_DEV: Logger settings
//
// Anchor timings and the simulated backend read the ANCHOR_* and SIM_*
// variables, see internal/config.
//
// Example usage:
//
//	ANCHOR_STORE_ADDR=http://localhost:8090 HOST_LISTEN=:8080 ./host
//
//	curl localhost:8080/state
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/backend"
	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/config"
	"github.com/dreamware/sharedorigin/internal/httpserver"
	"github.com/dreamware/sharedorigin/internal/metrics"
	"github.com/dreamware/sharedorigin/internal/session"
	"github.com/dreamware/sharedorigin/internal/telemetry"
)

func main() {
	cfg, err := config.LoadHost()
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
		logger.Fatal("host stopped", zap.Error(err))
	}
}

// host bundles the components of a running host.
type host struct {
	recorder   *telemetry.Recorder
	backend    *backend.Simulated
	controller *session.HostController
	handler    http.Handler
	log        *zap.Logger
}

func newHost(cfg config.Host, base *zap.Logger) *host {
	recorder := telemetry.NewRecorder(cfg.TelemetryDir, telemetry.WithLogger(base))
	logger := config.Tee(base, recorder.Core(base.Level()))

	sim := backend.NewSimulated(cfg.Store(nil),
		backend.WithLogger(logger),
		backend.WithConfig(cfg.Simulation()))
	controller := session.NewHostController(sim, anchor.NewOrigin(), recorder,
		session.WithLogger(logger),
		session.WithAnchorConfig(cfg.Coordinator()),
		session.WithSetupRetry(cfg.Retry()),
		session.WithObserverID(cluster.PeerID(cfg.ObserverID)),
		session.WithHealthInterval(cfg.HealthInterval))

	mux := http.NewServeMux()
	controller.Register(mux)
	mux.Handle("/metrics", metrics.Handler())

	return &host{
		recorder:   recorder,
		backend:    sim,
		controller: controller,
		handler:    mux,
		log:        logger,
	}
}

func (h *host) close() {
	h.controller.Close()
	h.backend.Close()
	if err := h.recorder.StopTracking(); err != nil && !errors.Is(err, telemetry.ErrNotTracking) {
		h.log.Warn("failed to close event log", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Host, ln net.Listener, logger *zap.Logger) error {
	h := newHost(cfg, logger)
	defer h.close()
	return httpserver.Serve(ctx, ln, h.handler, h.log, h.controller.Run)
}
