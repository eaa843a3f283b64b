package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// ErrAnchorNotFound is returned when an id is unknown or its record expired.
var ErrAnchorNotFound = errors.New("anchor not found")

// DefaultExpiration is how long a stored anchor stays locatable.
const DefaultExpiration = 10 * 24 * time.Hour

// Record is a persisted anchor.
type Record struct {
	ID        string       `json:"id"`
	Pose      cluster.Pose `json:"pose"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the record is no longer valid at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists anchor records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put stores rec under rec.ID, replacing any previous record.
	Put(ctx context.Context, rec Record) error
	// Get returns ErrAnchorNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (Record, error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// StoreStats describes the content of a MemoryStore.
type StoreStats struct {
	Anchors int `json:"anchors"`
	Expired int `json:"expired"`
}

// MemoryStore keeps records in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	clock   clockwork.Clock
}

// NewMemoryStore returns an empty store stamping records with clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		records: make(map[string]Record),
		clock:   clock,
	}
}

// Put stores rec, replacing any record with the same id.
func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("anchor id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	storedAnchors.Set(float64(len(m.records)))
	return nil
}

// Get returns the record or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok || rec.Expired(m.clock.Now()) {
		return Record{}, ErrAnchorNotFound
	}
	return rec, nil
}

// Delete removes the record if present.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	storedAnchors.Set(float64(len(m.records)))
	return nil
}

// List returns the ids of records that have not expired. Order is not
// guaranteed.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	ids := make([]string, 0, len(m.records))
	for id, rec := range m.records {
		if !rec.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Stats counts live and expired records.
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	var stats StoreStats
	for _, rec := range m.records {
		if rec.Expired(now) {
			stats.Expired++
			continue
		}
		stats.Anchors++
	}
	return stats
}

// Purge drops expired records and returns how many were removed.
func (m *MemoryStore) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	removed := 0
	for id, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, id)
			removed++
		}
	}
	storedAnchors.Set(float64(len(m.records)))
	return removed
}

// Sweep purges expired records every interval until ctx is done.
func (m *MemoryStore) Sweep(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.Purge(); n > 0 {
				logger.Info("purged expired anchors", zap.Int("count", n))
			}
		}
	}
}
