package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/retry"
)

var (
	ErrNotHost          = errors.New("operation requires the host role")
	ErrNoAnchor         = errors.New("no anchor has been created")
	ErrAnchorExists     = errors.New("anchor already created for this session")
	ErrCreateInProgress = errors.New("anchor creation already in progress")
	ErrNilHandle        = errors.New("anchor handle is nil")
	ErrNoPose           = errors.New("backend returned no anchor")

	errSuperseded = errors.New("locate attempt superseded")
)

// Phase is the position of a peer in the anchor state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingLocate
	PhaseLocated
	PhaseRelocating
)

// String returns the lowercase phase name used in logs and state responses.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingLocate:
		return "awaiting_locate"
	case PhaseLocated:
		return "located"
	case PhaseRelocating:
		return "relocating"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText encodes the phase by name so JSON state stays readable.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// AnchorState is a snapshot of the anchor a peer currently holds.
type AnchorState struct {
	AnchorID            string       `json:"anchor_id"`
	AnchorPose          cluster.Pose `json:"anchor_pose"`
	Phase               Phase        `json:"phase"`
	IsHostAuthoritative bool         `json:"is_host_authoritative"`
	Relocating          bool         `json:"relocating"`
	FirstSyncDone       bool         `json:"first_sync_done"`
	Sent                bool         `json:"sent"`
}

// Config sets the coordinator's timing and retry behaviour.
type Config struct {
	// RelocateEveryTicks is how many ticks pass between two relocate
	// broadcasts from the host.
	RelocateEveryTicks int
	TickInterval       time.Duration
	// CapturePollInterval paces polling of the backend capture progress.
	CapturePollInterval time.Duration
	// ProgressStep is the minimal progress advance that is reported.
	ProgressStep float64
	Retry        retry.Policy
}

// DefaultConfig returns the settings used when no WithConfig option is given.
//
// Returns:
//   - 20ms ticks with a relocate broadcast every 1500 ticks (30s)
//   - 20ms capture polling reported in steps of 0.1
//   - retry.Default() for backend and channel calls
//
// Example:
//
//	cfg := anchor.DefaultConfig()
//	cfg.RelocateEveryTicks = 50
//	coord := anchor.New(id, cluster.RoleHost, be, ch, anchor.NewOrigin(), anchor.WithConfig(cfg))
func DefaultConfig() Config {
	return Config{
		RelocateEveryTicks:  50 * 30,
		TickInterval:        20 * time.Millisecond,
		CapturePollInterval: 20 * time.Millisecond,
		ProgressStep:        0.1,
		Retry:               retry.Default(),
	}
}

// Validate rejects non-positive periods and an invalid retry policy.
func (cfg *Config) Validate() error {
	if cfg.RelocateEveryTicks <= 0 {
		return fmt.Errorf("relocate period must be positive, got %d ticks", cfg.RelocateEveryTicks)
	}
	if cfg.TickInterval <= 0 || cfg.CapturePollInterval <= 0 {
		return fmt.Errorf("tick (%v) and capture poll (%v) intervals must be positive",
			cfg.TickInterval, cfg.CapturePollInterval)
	}
	if cfg.ProgressStep <= 0 || cfg.ProgressStep > 1 {
		return fmt.Errorf("progress step must be in (0, 1], got %v", cfg.ProgressStep)
	}
	return cfg.Retry.Validate()
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (cfg *Config) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt("relocate every ticks", cfg.RelocateEveryTicks)
	encoder.AddDuration("tick interval", cfg.TickInterval)
	encoder.AddDuration("capture poll interval", cfg.CapturePollInterval)
	encoder.AddFloat64("progress step", cfg.ProgressStep)
	return encoder.AddObject("retry", cfg.Retry)
}

// Opt configures a Coordinator at construction time.
type Opt func(*Coordinator)

// WithLogger sets the logger. The coordinator logs nothing by default.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Coordinator) {
		c.log = logger
	}
}

// WithClock replaces the real clock so tests can drive the tick loop.
func WithClock(clock clockwork.Clock) Opt {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithConfig overrides DefaultConfig.
//
// Parameters:
//   - cfg: Settings to use; callers should Validate them first
func WithConfig(cfg Config) Opt {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// Coordinator runs the anchor protocol for one peer. It owns the peer's
// AnchorState; other peers only learn about it through messages.
//
// The mutex is never held across backend or channel calls.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	mu    sync.Mutex
	state AnchorState
	// handle is the local anchor; non-nil once the pose is trusted.
	handle *LocalAnchor
	// attempt identifies the current locate attempt. Results carrying an
	// older value are discarded.
	attempt      uint64
	failures     int
	retryPending bool
	creating     bool
	ticks        int
	onFirstSync  []func()

	// wmu serializes watcher creation and removal. It is taken before mu,
	// never after.
	wmu sync.Mutex
	// watched is the anchor id of the watcher this coordinator created.
	watched string

	cfg   Config
	log   *zap.Logger
	clock clockwork.Clock

	id      cluster.PeerID
	role    cluster.Role
	backend Backend
	channel Channel
	origin  *Origin
}

// New wires a coordinator for the peer id playing role. origin receives
// every resolved anchor pose.
func New(
	id cluster.PeerID,
	role cluster.Role,
	backend Backend,
	channel Channel,
	origin *Origin,
	opts ...Opt,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     DefaultConfig(),
		log:     zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		id:      id,
		role:    role,
		backend: backend,
		channel: channel,
		origin:  origin,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.Uint64("peer", uint64(id)), zap.Stringer("role", role))
	return c
}

// ID returns the peer id this coordinator acts for.
func (c *Coordinator) ID() cluster.PeerID { return c.id }

// Role reports whether this coordinator owns the anchor (host) or follows it.
func (c *Coordinator) Role() cluster.Role { return c.role }

func (c *Coordinator) isHost() bool { return c.role == cluster.RoleHost }

// Run drives the relocation tick and consumes backend resolution events
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.log.Info("coordinator started", zap.Inline(&c.cfg))
	events := c.backend.Events()
	for {
		select {
		case <-ticker.Chan():
			c.Tick()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleLocateEvent(ev)
		case <-ctx.Done():
			c.log.Info("coordinator stopping")
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops background work and waits for in-flight tasks to return.
func (c *Coordinator) Close() {
	c.cancel()
	c.eg.Wait()
}

// State returns a copy of the current anchor state.
func (c *Coordinator) State() AnchorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentSharedOriginTransform returns the pose applied to shared content.
func (c *Coordinator) CurrentSharedOriginTransform() cluster.Pose {
	return c.origin.Get()
}

// IsAnchorReady reports whether this peer holds a resolved anchor.
func (c *Coordinator) IsAnchorReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// OnFirstSyncComplete registers fn to run once this peer resolves the
// anchor for the first time in the session.
func (c *Coordinator) OnFirstSyncComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFirstSync = append(c.onFirstSync, fn)
}

// DeleteAnchor releases the backend resources behind a local anchor.
func (c *Coordinator) DeleteAnchor(ctx context.Context, anchor *LocalAnchor) error {
	if anchor == nil {
		c.log.Error("delete anchor called without a handle")
		return ErrNilHandle
	}
	c.log.Debug("deleting anchor", zap.String("anchor", anchor.ID))
	if err := c.backend.DeleteAnchor(ctx, anchor); err != nil {
		deleteErrors.Inc()
		c.log.Warn("failed to delete anchor", zap.String("anchor", anchor.ID), zap.Error(err))
		return fmt.Errorf("delete anchor %s: %w", anchor.ID, err)
	}
	c.log.Debug("anchor deleted", zap.String("anchor", anchor.ID))
	return nil
}

// spawn runs fn in the background unless the coordinator is closed.
func (c *Coordinator) spawn(fn func()) {
	if c.ctx.Err() != nil {
		return
	}
	c.eg.Go(func() error {
		fn()
		return nil
	})
}
