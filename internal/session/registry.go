package session

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// PeerRegistry assigns client ids and tracks the clients currently in the
// session. The host is always peer 0 and never registered.
// Thread-safe: all methods may be called concurrently.
type PeerRegistry struct {
	mu     sync.RWMutex
	next   cluster.PeerID
	peers  []cluster.PeerInfo
	byAddr map[string]cluster.PeerID // every address ever seen, for rejoins
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		next:   cluster.HostID + 1,
		byAddr: make(map[string]cluster.PeerID),
	}
}

// Join registers a client at addr and returns its record. Ids are handed out
// in join order and never reused; a client rejoining from a known address
// gets its previous id back and rejoined is true.
func (r *PeerRegistry) Join(addr string) (info cluster.PeerInfo, rejoined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, known := r.byAddr[addr]
	if !known {
		id = r.next
		r.next++
		r.byAddr[addr] = id
	}
	info = cluster.PeerInfo{Addr: addr, ID: id, Role: cluster.RoleClient}

	idx := slices.IndexFunc(r.peers, func(p cluster.PeerInfo) bool { return p.ID == id })
	if idx >= 0 {
		r.peers[idx] = info
	} else {
		r.peers = append(r.peers, info)
		slices.SortFunc(r.peers, func(a, b cluster.PeerInfo) int { return int(a.ID) - int(b.ID) })
	}
	return info, known
}

// Remove drops id from the session. Its id stays reserved for its address.
func (r *PeerRegistry) Remove(id cluster.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.peers, func(p cluster.PeerInfo) bool { return p.ID == id })
	if idx < 0 {
		return false
	}
	r.peers = slices.Delete(r.peers, idx, idx+1)
	return true
}

// Get returns the peer with id and whether it is registered.
func (r *PeerRegistry) Get(id cluster.PeerID) (cluster.PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := slices.IndexFunc(r.peers, func(p cluster.PeerInfo) bool { return p.ID == id })
	if idx < 0 {
		return cluster.PeerInfo{}, false
	}
	return r.peers[idx], true
}

// All returns the registered clients ordered by id.
func (r *PeerRegistry) All() []cluster.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.peers)
}

// Len returns the number of registered peers.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
