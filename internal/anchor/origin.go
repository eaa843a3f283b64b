package anchor

import (
	"sync"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// Origin is the shared-origin transform: the pose applied to the root of
// all synchronized content. It starts at the identity pose.
type Origin struct {
	pose    cluster.Pose
	mu      sync.RWMutex
	updates uint64
}

// NewOrigin returns an origin at the identity pose.
//
// Returns:
//   - Origin whose Get yields the identity pose until the first Set
//
// Example:
//
//	origin := anchor.NewOrigin()
//	origin.Set(located.Pose)
//	world := origin.Get()
func NewOrigin() *Origin {
	return &Origin{pose: cluster.Identity()}
}

// Set replaces the shared origin with pose.
func (o *Origin) Set(pose cluster.Pose) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pose = pose
	o.updates++
}

// Get returns the current world-origin pose.
//
// Thread safety:
//   - Uses read lock, safe to call from any goroutine
func (o *Origin) Get() cluster.Pose {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pose
}

// Updates counts calls to Set.
func (o *Origin) Updates() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updates
}
