// Package config loads the configuration of the binaries from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jonboulle/clockwork"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/backend"
	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/retry"
)

// Log configures the process logger.
type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	Dev   bool   `env:"LOG_DEV"`
}

// Anchor holds the coordinator timings.
type Anchor struct {
	RelocateEveryTicks  int           `env:"ANCHOR_RELOCATE_TICKS"     envDefault:"1500"`
	TickInterval        time.Duration `env:"ANCHOR_TICK_INTERVAL"      envDefault:"20ms"`
	CapturePollInterval time.Duration `env:"ANCHOR_CAPTURE_POLL"       envDefault:"20ms"`
	ProgressStep        float64       `env:"ANCHOR_PROGRESS_STEP"      envDefault:"0.1"`
	RetryInterval       time.Duration `env:"ANCHOR_RETRY_INTERVAL"     envDefault:"1s"`
	RetryMaxAttempts    int           `env:"ANCHOR_RETRY_MAX_ATTEMPTS" envDefault:"0"`
	RetryJitter         float64       `env:"ANCHOR_RETRY_JITTER"       envDefault:"0"`
}

// Retry converts the env settings into a retry policy.
func (a Anchor) Retry() retry.Policy {
	return retry.Policy{
		Interval:    a.RetryInterval,
		MaxAttempts: a.RetryMaxAttempts,
		Jitter:      a.RetryJitter,
	}
}

// Coordinator converts the settings to an anchor.Config.
func (a Anchor) Coordinator() anchor.Config {
	return anchor.Config{
		RelocateEveryTicks:  a.RelocateEveryTicks,
		TickInterval:        a.TickInterval,
		CapturePollInterval: a.CapturePollInterval,
		ProgressStep:        a.ProgressStep,
		Retry:               a.Retry(),
	}
}

// Backend configures the simulated anchor backend of a peer.
type Backend struct {
	// StoreAddr is the anchor service. Empty keeps anchors in process,
	// which only works when every peer shares the process.
	StoreAddr    string        `env:"ANCHOR_STORE_ADDR"`
	Expiration   time.Duration `env:"ANCHOR_EXPIRATION"  envDefault:"240h"`
	CaptureStep  float64       `env:"SIM_CAPTURE_STEP"   envDefault:"0.05"`
	ScanInterval time.Duration `env:"SIM_SCAN_INTERVAL"  envDefault:"500ms"`
	ResolveAfter int           `env:"SIM_RESOLVE_AFTER"  envDefault:"1"`
	OffsetX      float64       `env:"SIM_OFFSET_X"`
	OffsetY      float64       `env:"SIM_OFFSET_Y"`
	OffsetZ      float64       `env:"SIM_OFFSET_Z"`
}

// Simulation converts the env settings into a simulated backend config.
func (b Backend) Simulation() backend.SimConfig {
	return backend.SimConfig{
		CaptureStep:  b.CaptureStep,
		ScanInterval: b.ScanInterval,
		ResolveAfter: b.ResolveAfter,
		Expiration:   b.Expiration,
		Offset:       cluster.Vec3{X: b.OffsetX, Y: b.OffsetY, Z: b.OffsetZ},
	}
}

// Store returns the remote store when StoreAddr is set.
func (b Backend) Store(clock clockwork.Clock) backend.Store {
	if b.StoreAddr == "" {
		return backend.NewMemoryStore(clock)
	}
	return backend.NewRemoteStore(b.StoreAddr)
}

// Host is the configuration of the host binary.
type Host struct {
	Log
	Anchor
	Backend
	Listen         string        `env:"HOST_LISTEN"          envDefault:":8080"`
	ObserverID     uint64        `env:"HOST_OBSERVER_ID"     envDefault:"2"`
	HealthInterval time.Duration `env:"HOST_HEALTH_INTERVAL" envDefault:"5s"`
	TelemetryDir   string        `env:"TELEMETRY_DIR"        envDefault:"telemetry"`
}

// Client is the configuration of the client binary.
type Client struct {
	Log
	Anchor
	Backend
	Listen       string `env:"CLIENT_LISTEN" envDefault:":8081"`
	Addr         string `env:"CLIENT_ADDR"   envDefault:"http://127.0.0.1:8081"`
	HostAddr     string `env:"HOST_ADDR"     envDefault:"http://127.0.0.1:8080"`
	TelemetryDir string `env:"TELEMETRY_DIR" envDefault:"telemetry"`
}

// AnchorService is the configuration of the anchor store service.
type AnchorService struct {
	Log
	Listen string `env:"ANCHORSVC_LISTEN" envDefault:":8090"`
	// SweepInterval paces the purge of expired anchors.
	SweepInterval time.Duration `env:"ANCHORSVC_SWEEP_INTERVAL" envDefault:"1h"`
}

// LoadHost reads the host configuration from the environment.
//
// Returns:
//   - Host config with defaults filled in
//   - Error if a variable fails to parse or a value is out of range
//
// Example:
//
//	cfg, err := config.LoadHost()
//	if err != nil {
//		log.Fatal(err)
//	}
func LoadHost() (Host, error) {
	var cfg Host
	if err := parse(&cfg); err != nil {
		return Host{}, err
	}
	if cfg.ObserverID == uint64(cluster.HostID) {
		return Host{}, fmt.Errorf("observer id must name a client, got %d", cfg.ObserverID)
	}
	if cfg.HealthInterval <= 0 {
		return Host{}, fmt.Errorf("health interval must be positive, got %v", cfg.HealthInterval)
	}
	return cfg, validate(cfg.Anchor, cfg.Backend)
}

// LoadClient reads the client configuration. HOST_ADDR and CLIENT_ADDR must
// not be empty.
func LoadClient() (Client, error) {
	var cfg Client
	if err := parse(&cfg); err != nil {
		return Client{}, err
	}
	if cfg.HostAddr == "" || cfg.Addr == "" {
		return Client{}, fmt.Errorf("HOST_ADDR and CLIENT_ADDR are required")
	}
	return cfg, validate(cfg.Anchor, cfg.Backend)
}

// LoadAnchorService reads the anchor store service configuration.
func LoadAnchorService() (AnchorService, error) {
	var cfg AnchorService
	if err := parse(&cfg); err != nil {
		return AnchorService{}, err
	}
	if cfg.SweepInterval <= 0 {
		return AnchorService{}, fmt.Errorf("sweep interval must be positive, got %v", cfg.SweepInterval)
	}
	return cfg, nil
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func validate(a Anchor, b Backend) error {
	coord := a.Coordinator()
	if err := coord.Validate(); err != nil {
		return fmt.Errorf("anchor config: %w", err)
	}
	sim := b.Simulation()
	if err := sim.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	return nil
}
