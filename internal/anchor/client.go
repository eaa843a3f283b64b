package anchor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/retry"
)

// OnResetAnchor handles a reset broadcast: a client drops whatever anchor
// it holds and returns to idle. An in-flight locate is not aborted; its
// result is discarded when it arrives. The host ignores resets.
func (c *Coordinator) OnResetAnchor(ctx context.Context) {
	if c.isHost() {
		return
	}
	c.log.Debug("reset anchor received")

	c.mu.Lock()
	if c.state.AnchorID == "" && c.handle == nil && !c.state.Relocating {
		c.mu.Unlock()
		return
	}
	handle := c.handle
	c.handle = nil
	c.attempt++
	c.failures = 0
	c.retryPending = false
	c.state.AnchorID = ""
	c.state.AnchorPose = cluster.Pose{}
	c.state.Relocating = false
	c.state.Phase = PhaseIdle
	c.mu.Unlock()

	c.stopWatcher()
	if handle != nil {
		_ = c.DeleteAnchor(ctx, handle)
	}
}

// OnLocateAnchor handles the host's anchor id broadcast by starting a
// locate attempt for id. The host already holds the pose and ignores it.
func (c *Coordinator) OnLocateAnchor(ctx context.Context, id string) {
	if c.isHost() {
		return
	}
	if id == "" {
		c.log.Warn("anchor id is not available")
		return
	}
	c.log.Debug("locate anchor received", zap.String("anchor", id))

	c.mu.Lock()
	var stale *LocalAnchor
	if c.handle != nil && c.handle.ID != id {
		stale = c.handle
		c.handle = nil
	}
	c.state.AnchorID = id
	c.state.Phase = PhaseAwaitingLocate
	if c.handle != nil {
		c.state.Phase = PhaseRelocating
	}
	gen := c.beginAttemptLocked()
	c.mu.Unlock()

	if stale != nil {
		c.stopWatcher()
		_ = c.DeleteAnchor(ctx, stale)
	}
	firstAttempt.Inc()
	c.log.Info("locating the anchor", zap.String("anchor", id))
	c.launch(gen, id)
}

// OnReLocateAnchor handles the periodic relocate broadcast. The host
// re-applies its own pose. A client re-runs locate for the anchor it knows
// unless an attempt is still outstanding, in which case the instruction is
// dropped.
func (c *Coordinator) OnReLocateAnchor() {
	c.mu.Lock()
	if c.isHost() {
		pose, ok := c.state.AnchorPose, c.handle != nil
		c.mu.Unlock()
		if ok {
			c.origin.Set(pose)
		}
		return
	}
	if c.state.Relocating {
		c.mu.Unlock()
		relocateDropped.Inc()
		c.log.Info("previous locate attempt not finished, dropping relocate")
		return
	}
	id := c.state.AnchorID
	if id == "" {
		c.mu.Unlock()
		c.log.Debug("no anchor known, ignoring relocate")
		return
	}
	if c.handle != nil {
		c.state.Phase = PhaseRelocating
	} else {
		c.state.Phase = PhaseAwaitingLocate
	}
	gen := c.beginAttemptLocked()
	c.mu.Unlock()

	relocateAttempt.Inc()
	c.log.Debug("relocating the anchor", zap.String("anchor", id))
	c.launch(gen, id)
}

// OnResetOrigin re-applies the current anchor pose to the shared origin.
func (c *Coordinator) OnResetOrigin() {
	c.mu.Lock()
	pose, ok := c.state.AnchorPose, c.handle != nil
	c.mu.Unlock()
	if !ok {
		c.log.Debug("no resolved anchor, origin left as is")
		return
	}
	c.origin.Set(pose)
}

// beginAttemptLocked opens a new locate attempt and returns its id.
func (c *Coordinator) beginAttemptLocked() uint64 {
	c.attempt++
	c.failures = 0
	c.retryPending = false
	c.state.Relocating = true
	return c.attempt
}

func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.attempt && c.state.Relocating
}

// launch makes sure a watcher is looking for id, retrying backend failures
// per policy.
func (c *Coordinator) launch(gen uint64, id string) {
	c.spawn(func() {
		err := retry.Do(c.ctx, c.clock, c.cfg.Retry, func(ctx context.Context) error {
			if !c.current(gen) {
				return retry.Permanent(errSuperseded)
			}
			return c.watch(ctx, gen, id)
		}, func(attempt int, err error) {
			c.log.Warn("failed to locate the anchor, retrying",
				zap.String("anchor", id), zap.Int("attempt", attempt), zap.Error(err))
		})
		switch {
		case err == nil, errors.Is(err, errSuperseded), c.ctx.Err() != nil:
		default:
			c.finishAttempt(gen, err)
		}
	})
}

// watch starts the backend session if needed and makes sure the watcher
// looks for id. The generation is checked again once the session is up, so
// an attempt superseded while it waited never leaves a watcher behind.
func (c *Coordinator) watch(ctx context.Context, gen uint64, id string) error {
	if !c.backend.SessionStarted() {
		c.log.Debug("starting backend session")
		if err := c.backend.StartSession(ctx); err != nil {
			sessionErrors.Inc()
			return err
		}
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !c.current(gen) {
		return retry.Permanent(errSuperseded)
	}
	if c.backend.HasWatcher() {
		if c.watched == "" || c.watched == id {
			c.log.Debug("spatial anchor watcher already exists", zap.String("anchor", id))
			return nil
		}
		c.log.Debug("replacing watcher of another anchor",
			zap.String("anchor", id), zap.String("previous", c.watched))
		c.backend.StopWatcher()
		c.watched = ""
	}
	if err := c.backend.CreateWatcher([]string{id}); err != nil {
		watchErrors.Inc()
		return err
	}
	c.watched = id
	return nil
}

func (c *Coordinator) stopWatcher() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.backend.StopWatcher()
	c.watched = ""
}

// finishAttempt ends attempt gen without a resolved pose.
func (c *Coordinator) finishAttempt(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.attempt || !c.state.Relocating {
		c.mu.Unlock()
		return
	}
	c.state.Relocating = false
	c.retryPending = false
	if c.handle != nil {
		c.state.Phase = PhaseLocated
	}
	id := c.state.AnchorID
	c.mu.Unlock()
	c.log.Error("giving up locating the anchor", zap.String("anchor", id), zap.Error(err))
}

func (c *Coordinator) handleLocateEvent(ev LocateEvent) {
	resolutions.WithLabelValues(ev.Status.String()).Inc()

	c.mu.Lock()
	if ev.AnchorID == "" || ev.AnchorID != c.state.AnchorID {
		c.mu.Unlock()
		c.log.Debug("ignoring event for another anchor",
			zap.String("anchor", ev.AnchorID), zap.Stringer("status", ev.Status))
		return
	}
	if ev.Status.Resolved() {
		c.resolveLocked(ev)
		return
	}

	if !c.state.Relocating {
		c.mu.Unlock()
		c.log.Warn("anchor location unsuccessful",
			zap.String("anchor", ev.AnchorID), zap.Stringer("status", ev.Status))
		return
	}
	c.failures++
	gen := c.attempt
	if c.cfg.Retry.Exhausted(c.failures) {
		c.mu.Unlock()
		c.finishAttempt(gen, retry.ErrExhausted)
		return
	}
	if c.retryPending {
		c.mu.Unlock()
		return
	}
	c.retryPending = true
	c.mu.Unlock()

	c.log.Warn("anchor location unsuccessful, retry scheduled",
		zap.String("anchor", ev.AnchorID), zap.Stringer("status", ev.Status))
	c.clock.AfterFunc(c.cfg.Retry.Delay(), func() {
		c.mu.Lock()
		if gen != c.attempt || !c.state.Relocating {
			c.mu.Unlock()
			return
		}
		c.retryPending = false
		id := c.state.AnchorID
		c.mu.Unlock()
		c.launch(gen, id)
	})
}

// resolveLocked applies a resolved pose. It releases c.mu.
func (c *Coordinator) resolveLocked(ev LocateEvent) {
	c.handle = &LocalAnchor{ID: ev.AnchorID, Pose: ev.Pose}
	c.state.AnchorPose = ev.Pose
	c.state.Phase = PhaseLocated
	inAttempt := c.state.Relocating
	c.state.Relocating = false
	c.retryPending = false
	first := !c.state.FirstSyncDone
	c.state.FirstSyncDone = true
	var subs []func()
	if first {
		subs = append(subs, c.onFirstSync...)
	}
	c.mu.Unlock()

	c.origin.Set(ev.Pose)
	// Watchers keep reporting tracked anchors; only attempts are worth info.
	level := zap.DebugLevel
	if inAttempt || first {
		level = zap.InfoLevel
	}
	c.log.Log(level, "anchor resolved, shared origin updated",
		zap.String("anchor", ev.AnchorID),
		zap.Stringer("status", ev.Status),
		zap.Stringer("pose", ev.Pose))

	if !first {
		return
	}
	if !c.isHost() {
		c.notifyFirstSync()
	}
	for _, fn := range subs {
		fn()
	}
}

func (c *Coordinator) notifyFirstSync() {
	c.spawn(func() {
		err := retry.Do(c.ctx, c.clock, c.cfg.Retry, func(ctx context.Context) error {
			return c.channel.NotifyFirstSyncComplete(ctx, c.id)
		}, func(attempt int, err error) {
			c.log.Warn("failed to report first sync, retrying", zap.Int("attempt", attempt), zap.Error(err))
		})
		if err != nil {
			c.log.Error("failed to report first sync", zap.Error(err))
			return
		}
		c.log.Info("first sync reported to host")
	})
}
