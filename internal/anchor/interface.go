package anchor

import (
	"context"
	"fmt"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// LocateStatus is the outcome carried by a resolution event.
type LocateStatus int

const (
	StatusLocated LocateStatus = iota + 1
	StatusAlreadyTracked
	StatusNotLocated
	StatusError
)

// String returns the status name used in logs.
func (s LocateStatus) String() string {
	switch s {
	case StatusLocated:
		return "located"
	case StatusAlreadyTracked:
		return "already_tracked"
	case StatusNotLocated:
		return "not_located"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("LocateStatus(%d)", int(s))
}

// Resolved reports whether the event carries a trustworthy pose.
func (s LocateStatus) Resolved() bool {
	return s == StatusLocated || s == StatusAlreadyTracked
}

// LocateEvent is delivered by a backend watcher, zero or more times per id.
type LocateEvent struct {
	Status   LocateStatus
	AnchorID string
	Pose     cluster.Pose
}

// LocalAnchor is the backend's local representation of an anchor. It is the
// handle passed back to DeleteAnchor.
type LocalAnchor struct {
	ID   string
	Pose cluster.Pose
}

// Backend is the opaque spatial anchoring service. Calls may take as long
// as the physical world needs; none of them is cancelled by the
// coordinator once started.
type Backend interface {
	StartSession(ctx context.Context) error
	SessionStarted() bool
	// CaptureProgress reports how much environment data has been gathered
	// for anchor creation, in [0, 1], and whether creation may proceed.
	CaptureProgress() (progress float64, ready bool)
	CreateAnchorAt(ctx context.Context, pose cluster.Pose) (*LocalAnchor, error)
	HasWatcher() bool
	// CreateWatcher starts delivering events for ids. It is a no-op when a
	// watcher already exists for the session.
	CreateWatcher(ids []string) error
	StopWatcher()
	Events() <-chan LocateEvent
	DeleteAnchor(ctx context.Context, anchor *LocalAnchor) error
}

// Channel carries protocol messages between peers.
type Channel interface {
	Broadcast(ctx context.Context, msg cluster.Message) error
	NotifyFirstSyncComplete(ctx context.Context, id cluster.PeerID) error
}
