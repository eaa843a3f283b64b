// Package main runs a client of a shared-origin session. The client joins
// the host, locates the anchor the host shares and aligns its origin on it.
//
// Configuration:
//   - CLIENT_LISTEN: Listen address (default: ":8081")
//   - CLIENT_ADDR: Public address given to the host (default: "http://127.0.0.1:8081")
//   - HOST_ADDR: Host URL (default: "http://127.0.0.1:8080")
//   - ANCHOR_STORE_ADDR: Anchor service URL shared with the host, empty for an in-process store
//   - TELEMETRY_DIR: Root of the event logs (default: "telemetry")
//   - LOG_LEVEL, LOG_DEV: Logger settings
//
// Example usage:
//
//	HOST_ADDR=http://localhost:8080 \
//	ANCHOR_STORE_ADDR=http://localhost:8090 \
//	CLIENT_LISTEN=:8081 \
//	CLIENT_ADDR=http://localhost:8081 \
//	./client
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
	"github.com/dreamware/sharedorigin/internal/config"
	"github.com/dreamware/sharedorigin/internal/httpserver"
	"github.com/dreamware/sharedorigin/internal/metrics"
	"github.com/dreamware/sharedorigin/internal/session"
	"github.com/dreamware/sharedorigin/internal/telemetry"
)

func main() {
	cfg, err := config.LoadClient()
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
		logger.Fatal("client stopped", zap.Error(err))
	}
}

type client struct {
	recorder   *telemetry.Recorder
	backend    *backend.Simulated
	controller *session.ClientController
	handler    http.Handler
	log        *zap.Logger
}

func newClient(cfg config.Client, base *zap.Logger) *client {
	recorder := telemetry.NewRecorder(cfg.TelemetryDir, telemetry.WithLogger(base))
	logger := config.Tee(base, recorder.Core(base.Level()))

	sim := backend.NewSimulated(cfg.Store(nil),
		backend.WithLogger(logger),
		backend.WithConfig(cfg.Simulation()))
	controller := session.NewClientController(cfg.HostAddr, sim, anchor.NewOrigin(), recorder,
		session.WithLogger(logger),
		session.WithAnchorConfig(cfg.Coordinator()),
		session.WithSetupRetry(cfg.Retry()))

	mux := http.NewServeMux()
	controller.Register(mux)
	mux.Handle("/metrics", metrics.Handler())

	return &client{
		recorder:   recorder,
		backend:    sim,
		controller: controller,
		handler:    mux,
		log:        logger,
	}
}

// session joins the host once the listener accepts events, then drives the
// coordinator.
func (c *client) session(selfAddr string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := c.controller.Join(ctx, selfAddr); err != nil {
			return err
		}
		return c.controller.Run(ctx)
	}
}

func (c *client) close() {
	c.controller.Close()
	c.backend.Close()
	if err := c.recorder.StopTracking(); err != nil && !errors.Is(err, telemetry.ErrNotTracking) {
		c.log.Warn("failed to close event log", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Client, ln net.Listener, logger *zap.Logger) error {
	c := newClient(cfg, logger)
	defer c.close()
	return httpserver.Serve(ctx, ln, c.handler, c.log, c.session(cfg.Addr))
}
