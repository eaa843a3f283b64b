package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/cluster"
)

var (
	ErrNoSession      = errors.New("backend session not started")
	ErrCaptureBusy    = errors.New("not enough environment data captured")
	ErrNoWatchTargets = errors.New("watcher needs at least one anchor id")
)

// SimConfig shapes how quickly the simulated device captures and locates.
type SimConfig struct {
	// CaptureStep is added to capture progress on every poll.
	CaptureStep float64
	// ScanInterval paces the watcher.
	ScanInterval time.Duration
	// ResolveAfter is the number of scans an id stays not located even
	// though it is stored, mimicking a device still looking around.
	ResolveAfter int
	// Expiration is the lifetime given to created anchors.
	Expiration time.Duration
	// Offset places this device's frame relative to the frame anchors were
	// created in. Located poses are shifted by it.
	Offset cluster.Vec3
}

// DefaultSimConfig captures in 20 polls and locates on the second scan.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		CaptureStep:  0.05,
		ScanInterval: 500 * time.Millisecond,
		ResolveAfter: 1,
		Expiration:   DefaultExpiration,
	}
}

// Validate checks the step, interval and scan count ranges.
func (cfg *SimConfig) Validate() error {
	if cfg.CaptureStep <= 0 || cfg.CaptureStep > 1 {
		return fmt.Errorf("capture step must be in (0, 1], got %v", cfg.CaptureStep)
	}
	if cfg.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %v", cfg.ScanInterval)
	}
	if cfg.ResolveAfter < 0 {
		return fmt.Errorf("resolve after must not be negative, got %d", cfg.ResolveAfter)
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (cfg *SimConfig) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddFloat64("capture step", cfg.CaptureStep)
	encoder.AddDuration("scan interval", cfg.ScanInterval)
	encoder.AddInt("resolve after", cfg.ResolveAfter)
	encoder.AddDuration("expiration", cfg.Expiration)
	return nil
}

// Opt configures a Simulated backend.
type Opt func(*Simulated)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Simulated) {
		s.log = logger
	}
}

// WithClock sets the clock used for scans and record timestamps.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Simulated) {
		s.clock = clock
	}
}

// WithConfig overrides DefaultSimConfig.
func WithConfig(cfg SimConfig) Opt {
	return func(s *Simulated) {
		s.cfg = cfg
	}
}

// Simulated is an anchor.Backend running against a Store.
type Simulated struct {
	mu       sync.Mutex
	started  bool
	progress float64
	watcher  *watcher
	// tracked holds the anchors this device has resolved or created.
	tracked map[string]cluster.Pose

	events chan anchor.LocateEvent
	store  Store

	cfg   SimConfig
	log   *zap.Logger
	clock clockwork.Clock
}

var _ anchor.Backend = (*Simulated)(nil)

// NewSimulated returns a backend that persists anchors in store.
//
// Parameters:
//   - store: Where created anchors are saved and looked up
//   - opts: Logger, clock and SimConfig overrides
func NewSimulated(store Store, opts ...Opt) *Simulated {
	s := &Simulated{
		tracked: make(map[string]cluster.Pose),
		events:  make(chan anchor.LocateEvent, 64),
		store:   store,
		cfg:     DefaultSimConfig(),
		log:     zap.NewNop(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession starts the session and resets capture progress. It is idempotent.
func (s *Simulated) StartSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.progress = 0
	s.log.Info("session started", zap.Inline(&s.cfg))
	return nil
}

// SessionStarted reports whether StartSession has completed.
func (s *Simulated) SessionStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// CaptureProgress advances capture by one step per call.
func (s *Simulated) CaptureProgress() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, false
	}
	if s.progress < 1 {
		s.progress = math.Min(1, s.progress+s.cfg.CaptureStep)
	}
	return s.progress, s.progress >= 1
}

// CreateAnchorAt saves a new anchor at pose once capture progress reaches 1.
func (s *Simulated) CreateAnchorAt(ctx context.Context, pose cluster.Pose) (*anchor.LocalAnchor, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.progress < 1 {
		s.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	s.mu.Unlock()

	now := s.clock.Now()
	rec := Record{
		ID:        uuid.NewString(),
		Pose:      pose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiration),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store anchor: %w", err)
	}

	s.mu.Lock()
	s.tracked[rec.ID] = pose
	s.mu.Unlock()
	s.log.Debug("anchor stored", zap.String("anchor", rec.ID))
	return &anchor.LocalAnchor{ID: rec.ID, Pose: pose}, nil
}

// HasWatcher reports whether a watcher is active.
func (s *Simulated) HasWatcher() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watcher != nil
}

// CreateWatcher starts scanning the store for ids. Only one watcher runs
// per session; the call is a no-op while one exists.
func (s *Simulated) CreateWatcher(ids []string) error {
	if len(ids) == 0 {
		return ErrNoWatchTargets
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNoSession
	}
	if s.watcher != nil {
		return nil
	}
	s.watcher = s.newWatcher(ids)
	s.log.Debug("watcher created", zap.Strings("anchors", ids))
	return nil
}

// StopWatcher cancels the active watcher, if any.
func (s *Simulated) StopWatcher() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return
	}
	w.stop()
	s.log.Debug("watcher stopped")
}

// Events delivers locate results for watched anchors.
func (s *Simulated) Events() <-chan anchor.LocateEvent {
	return s.events
}

// DeleteAnchor forgets the local anchor. The stored record is left for the
// other devices of the session.
func (s *Simulated) DeleteAnchor(ctx context.Context, a *anchor.LocalAnchor) error {
	if a == nil {
		return errors.New("nil anchor")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, a.ID)
	return nil
}

// Close stops the watcher and ends the session.
func (s *Simulated) Close() {
	s.StopWatcher()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

type watcher struct {
	cancel context.CancelFunc
	eg     errgroup.Group
}

func (w *watcher) stop() {
	w.cancel()
	w.eg.Wait()
}

func (s *Simulated) newWatcher(ids []string) *watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel}
	targets := append([]string(nil), ids...)
	w.eg.Go(func() error {
		s.scanLoop(ctx, targets)
		return nil
	})
	return w
}

func (s *Simulated) scanLoop(ctx context.Context, ids []string) {
	ticker := s.clock.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	seen := make(map[string]int, len(ids))
	for {
		for _, id := range ids {
			ev := s.scan(ctx, id, seen)
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return
		}
	}
}

func (s *Simulated) scan(ctx context.Context, id string, seen map[string]int) anchor.LocateEvent {
	scans.Inc()
	rec, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrAnchorNotFound):
		return anchor.LocateEvent{Status: anchor.StatusNotLocated, AnchorID: id}
	case err != nil:
		s.log.Warn("anchor lookup failed", zap.String("anchor", id), zap.Error(err))
		return anchor.LocateEvent{Status: anchor.StatusError, AnchorID: id}
	}

	seen[id]++
	if seen[id] <= s.cfg.ResolveAfter {
		return anchor.LocateEvent{Status: anchor.StatusNotLocated, AnchorID: id}
	}

	pose := rec.Pose
	pose.Position.X += s.cfg.Offset.X
	pose.Position.Y += s.cfg.Offset.Y
	pose.Position.Z += s.cfg.Offset.Z

	s.mu.Lock()
	_, known := s.tracked[id]
	s.tracked[id] = pose
	s.mu.Unlock()

	status := anchor.StatusLocated
	if known {
		status = anchor.StatusAlreadyTracked
	}
	return anchor.LocateEvent{Status: status, AnchorID: id, Pose: pose}
}
