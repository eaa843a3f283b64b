package anchor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// CreateAnchor starts a backend session, waits until enough of the
// environment has been captured and saves an anchor at the identity pose.
// It blocks for as long as capture takes. On failure the state is left
// untouched and the caller decides whether to try again.
func (c *Coordinator) CreateAnchor(ctx context.Context) error {
	c.log.Debug("create anchor called")
	if !c.isHost() {
		c.log.Error("only the host creates anchors")
		return ErrNotHost
	}

	c.mu.Lock()
	switch {
	case c.handle != nil:
		c.mu.Unlock()
		return ErrAnchorExists
	case c.creating:
		c.mu.Unlock()
		return ErrCreateInProgress
	}
	c.creating = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.creating = false
		c.mu.Unlock()
	}()

	start := c.clock.Now()
	// A started session without an anchor means an earlier creation
	// failed after the session came up; skip straight to capture.
	if !c.backend.SessionStarted() {
		if err := c.backend.StartSession(ctx); err != nil {
			sessionErrors.Inc()
			c.log.Error("failed to start session", zap.Error(err))
			return fmt.Errorf("start session: %w", err)
		}
		c.log.Info("session created")
	}

	if err := c.awaitCapture(ctx); err != nil {
		return err
	}

	c.log.Info("spatial data captured, saving the anchor")
	local, err := c.backend.CreateAnchorAt(ctx, cluster.Identity())
	if err != nil {
		createErrors.Inc()
		c.log.Error("failed to save anchor", zap.Error(err))
		return fmt.Errorf("create anchor: %w", err)
	}
	if local == nil {
		createErrors.Inc()
		c.log.Error("failed to save anchor, backend returned no anchor")
		return ErrNoPose
	}

	c.mu.Lock()
	c.handle = local
	c.state.AnchorID = local.ID
	c.state.AnchorPose = local.Pose
	c.state.IsHostAuthoritative = true
	c.state.Phase = PhaseLocated
	var subs []func()
	if !c.state.FirstSyncDone {
		c.state.FirstSyncDone = true
		subs = append(subs, c.onFirstSync...)
	}
	c.mu.Unlock()

	c.origin.Set(local.Pose)
	createLatency.Observe(c.clock.Since(start).Seconds())
	c.log.Info("anchor saved", zap.String("anchor", local.ID), zap.Stringer("pose", local.Pose))
	for _, fn := range subs {
		fn()
	}
	return nil
}

// awaitCapture polls capture progress until the backend is ready,
// reporting every advance of at least ProgressStep.
func (c *Coordinator) awaitCapture(ctx context.Context) error {
	c.log.Info("capturing spatial data")
	ticker := c.clock.NewTicker(c.cfg.CapturePollInterval)
	defer ticker.Stop()

	// Float noise must not hide a full step.
	const epsilon = 1e-9
	var last float64
	for {
		progress, ready := c.backend.CaptureProgress()
		captureProgress.Set(progress)
		if progress-last >= c.cfg.ProgressStep-epsilon {
			c.log.Info("move your device to capture more environment data",
				zap.Float64("progress", progress))
			last = progress
		}
		if ready {
			return nil
		}
		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return fmt.Errorf("capture spatial data: %w", ctx.Err())
		}
	}
}

// SendAnchor tells every peer to drop the anchor it holds, then to locate
// the host's anchor. Calling it again re-sends the same id.
func (c *Coordinator) SendAnchor(ctx context.Context) error {
	c.log.Debug("send anchor called")
	if !c.isHost() {
		c.log.Error("only the host sends anchors")
		return ErrNotHost
	}

	c.mu.Lock()
	id := c.state.AnchorID
	c.mu.Unlock()
	if id == "" {
		c.log.Error("no anchor to send")
		return ErrNoAnchor
	}

	if err := c.channel.Broadcast(ctx, cluster.Message{Kind: cluster.KindResetAnchor}); err != nil {
		c.log.Error("failed to broadcast reset", zap.Error(err))
		return fmt.Errorf("broadcast reset: %w", err)
	}
	broadcastReset.Inc()
	if err := c.channel.Broadcast(ctx, cluster.Message{Kind: cluster.KindLocateAnchor, AnchorID: id}); err != nil {
		c.log.Error("failed to broadcast anchor id", zap.String("anchor", id), zap.Error(err))
		return fmt.Errorf("broadcast anchor %s: %w", id, err)
	}
	broadcastLocate.Inc()

	c.mu.Lock()
	c.state.Sent = true
	c.mu.Unlock()
	c.log.Info("anchor sent", zap.String("anchor", id))
	return nil
}

// ResetOrigin asks every peer to re-apply its anchor pose to the shared
// origin.
func (c *Coordinator) ResetOrigin(ctx context.Context) error {
	if !c.isHost() {
		c.log.Error("only the host resets the origin")
		return ErrNotHost
	}
	if err := c.channel.Broadcast(ctx, cluster.Message{Kind: cluster.KindResetOrigin}); err != nil {
		c.log.Error("failed to broadcast origin reset", zap.Error(err))
		return fmt.Errorf("broadcast origin reset: %w", err)
	}
	broadcastOrigin.Inc()
	return nil
}

// Tick advances the relocation counter. Once an anchor has been sent, the
// host broadcasts a relocate every RelocateEveryTicks ticks. Nobody acks it.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	if !c.isHost() || !c.state.Sent {
		c.mu.Unlock()
		return
	}
	c.ticks = (c.ticks + 1) % c.cfg.RelocateEveryTicks
	fire := c.ticks == 0
	c.mu.Unlock()

	if !fire {
		return
	}
	if err := c.channel.Broadcast(c.ctx, cluster.Message{Kind: cluster.KindReLocateAnchor}); err != nil {
		c.log.Warn("failed to broadcast relocate", zap.Error(err))
		return
	}
	broadcastRelocate.Inc()
	c.log.Debug("relocate broadcast")
}
