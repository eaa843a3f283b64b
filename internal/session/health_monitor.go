package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// Health states reported for a peer.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// PeerHealth tracks the health of a single client.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type PeerHealth struct {
	LastCheck        time.Time      `json:"last_check"`
	LastHealthy      time.Time      `json:"last_healthy"`
	PeerID           cluster.PeerID `json:"peer_id"`
	Status           string         `json:"status"`
	ConsecutiveFails int            `json:"consecutive_fails"`
}

// HealthMonitor periodically checks the /health endpoint of every client in
// the session. A client failing maxFailures checks in a row is reported
// through the unhealthy callback, which drops it from the broadcast targets.
// Unhealthy clients keep being checked; the first success is reported
// through the recovered callback.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	peers       map[cluster.PeerID]*PeerHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(id cluster.PeerID)
	onRecovered func(peer cluster.PeerInfo)
	ctx         context.Context
	cancel      context.CancelFunc
	clock       clockwork.Clock
	log         *zap.Logger
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor checking every interval.
//
// Parameters:
//   - interval: How often to check each client
//   - clock: Time source for the check ticker
//   - logger: Destination of health transitions
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, clockwork.NewRealClock(), logger)
//	monitor.SetOnUnhealthy(func(id cluster.PeerID) { registry.Remove(id) })
//	go monitor.Start(ctx, registry.All)
func NewHealthMonitor(interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		peers:       make(map[cluster.PeerID]*PeerHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		clock:  clock,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, once per transition, when a peer
// becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(id cluster.PeerID)) {
	h.onUnhealthy = callback
}

// SetOnRecovered sets the callback invoked when an unhealthy peer passes a
// check again.
func (h *HealthMonitor) SetOnRecovered(callback func(peer cluster.PeerInfo)) {
	h.onRecovered = callback
}

// MarkUnhealthy flags id as unhealthy without waiting for failed checks, so
// its next successful check reports a recovery.
func (h *HealthMonitor) MarkUnhealthy(id cluster.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	health, ok := h.peers[id]
	if !ok {
		now := h.clock.Now()
		health = &PeerHealth{PeerID: id, LastCheck: now, LastHealthy: now}
		h.peers[id] = health
	}
	health.Status = StatusUnhealthy
	health.ConsecutiveFails = 0
}

// SetCheckFunction overrides the HTTP check. Tests use it to script peer
// health.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start checks every peer returned by peerProvider until ctx or the monitor
// is stopped. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, peerProvider func() []cluster.PeerInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", zap.Duration("interval", h.interval))
	h.checkAll(peerProvider())

	for {
		select {
		case <-ticker.Chan():
			h.checkAll(peerProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping")
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(peers []cluster.PeerInfo) {
	current := make(map[cluster.PeerID]bool, len(peers))
	for _, peer := range peers {
		current[peer.ID] = true
		h.checkPeer(peer)
	}

	// Forget peers that left the session.
	h.mu.Lock()
	for id := range h.peers {
		if !current[id] {
			delete(h.peers, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkPeer(peer cluster.PeerInfo) {
	h.mu.Lock()
	health, exists := h.peers[peer.ID]
	if !exists {
		now := h.clock.Now()
		health = &PeerHealth{
			PeerID:      peer.ID,
			Status:      StatusUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.peers[peer.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(peer.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = h.clock.Now()

	if err == nil {
		if health.Status == StatusUnhealthy {
			h.log.Info("peer recovered", zap.Uint64("peer", uint64(peer.ID)))
			if h.onRecovered != nil {
				go h.onRecovered(peer)
			}
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.log.Warn("health check failed",
		zap.Uint64("peer", uint64(peer.ID)),
		zap.Int("attempt", health.ConsecutiveFails),
		zap.Int("max", h.maxFailures),
		zap.Error(err))
	if health.ConsecutiveFails < h.maxFailures || health.Status == StatusUnhealthy {
		return
	}
	health.Status = StatusUnhealthy
	h.log.Warn("peer marked unhealthy", zap.Uint64("peer", uint64(peer.ID)))
	if h.onUnhealthy != nil {
		// Call back without holding the lock.
		go h.onUnhealthy(peer.ID)
	}
}

// defaultHealthCheck GETs <addr>/health and expects 200.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	url = strings.TrimRight(url, "/") + "/health"

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// PeerHealth returns a copy of the health record of id, or nil when the
// peer is not monitored.
func (h *HealthMonitor) PeerHealth(id cluster.PeerID) *PeerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.peers[id]
	if !ok {
		return nil
	}
	cp := *health
	return &cp
}

// AllPeerHealth returns a copy of every health record.
func (h *HealthMonitor) AllPeerHealth() map[cluster.PeerID]PeerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[cluster.PeerID]PeerHealth, len(h.peers))
	for id, health := range h.peers {
		result[id] = *health
	}
	return result
}

// IsHealthy reports whether the last check of id succeeded.
func (h *HealthMonitor) IsHealthy(id cluster.PeerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.peers[id]
	return ok && health.Status == StatusHealthy
}
