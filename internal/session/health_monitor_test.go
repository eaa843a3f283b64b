package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// scriptedCheck fails for the addresses in down.
type scriptedCheck struct {
	mu    sync.Mutex
	calls int
	down  map[string]bool
}

func (s *scriptedCheck) check(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.down[addr] {
		return errors.New("connection refused")
	}
	return nil
}

func (s *scriptedCheck) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedCheck) set(addr string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[addr] = down
}

func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(5*time.Second, clockwork.NewRealClock(), zap.NewNop())
	defer monitor.Stop()

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.Equal(t, 3, monitor.maxFailures)
	assert.Empty(t, monitor.AllPeerHealth())
	assert.Nil(t, monitor.PeerHealth(1))
	assert.False(t, monitor.IsHealthy(1))
}

// TestHealthMonitorMarksUnhealthy fails one peer three times in a row and
// expects exactly one unhealthy callback for it.
func TestHealthMonitorMarksUnhealthy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	monitor := NewHealthMonitor(time.Second, clock, zap.NewNop())
	defer monitor.Stop()

	script := &scriptedCheck{down: map[string]bool{"http://b": true}}
	monitor.SetCheckFunction(script.check)

	unhealthy := make(chan cluster.PeerID, 4)
	monitor.SetOnUnhealthy(func(id cluster.PeerID) { unhealthy <- id })

	peers := []cluster.PeerInfo{{ID: 1, Addr: "http://a"}, {ID: 2, Addr: "http://b"}}
	go monitor.Start(context.Background(), func() []cluster.PeerInfo { return peers })

	require.Eventually(t, func() bool { return script.Calls() == 2 }, time.Second, 5*time.Millisecond)
	for round := 2; round <= 4; round++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		want := round * 2
		require.Eventually(t, func() bool { return script.Calls() == want }, time.Second, 5*time.Millisecond)
	}

	select {
	case id := <-unhealthy:
		assert.Equal(t, cluster.PeerID(2), id)
	case <-time.After(time.Second):
		t.Fatal("no unhealthy callback")
	}
	assert.Empty(t, unhealthy, "callback fires once per transition")

	assert.True(t, monitor.IsHealthy(1))
	assert.False(t, monitor.IsHealthy(2))
	health := monitor.PeerHealth(2)
	require.NotNil(t, health)
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, 4, health.ConsecutiveFails)
}

func TestHealthMonitorRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	monitor := NewHealthMonitor(time.Second, clock, zap.NewNop())
	defer monitor.Stop()

	script := &scriptedCheck{down: map[string]bool{"http://a": true}}
	monitor.SetCheckFunction(script.check)
	peers := []cluster.PeerInfo{{ID: 1, Addr: "http://a"}}
	go monitor.Start(context.Background(), func() []cluster.PeerInfo { return peers })

	require.Eventually(t, func() bool { return script.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, monitor.PeerHealth(1).ConsecutiveFails)

	script.set("http://a", false)
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return monitor.IsHealthy(1) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, monitor.PeerHealth(1).ConsecutiveFails)
}

func TestHealthMonitorForgetsRemovedPeers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	monitor := NewHealthMonitor(time.Second, clock, zap.NewNop())
	defer monitor.Stop()

	script := &scriptedCheck{down: map[string]bool{}}
	monitor.SetCheckFunction(script.check)

	var mu sync.Mutex
	peers := []cluster.PeerInfo{{ID: 1, Addr: "http://a"}, {ID: 2, Addr: "http://b"}}
	provider := func() []cluster.PeerInfo {
		mu.Lock()
		defer mu.Unlock()
		return append([]cluster.PeerInfo(nil), peers...)
	}
	go monitor.Start(context.Background(), provider)
	require.Eventually(t, func() bool { return len(monitor.AllPeerHealth()) == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	peers = peers[:1]
	mu.Unlock()
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return len(monitor.AllPeerHealth()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDefaultHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	monitor := NewHealthMonitor(time.Second, clockwork.NewRealClock(), zap.NewNop())
	assert.NoError(t, monitor.defaultHealthCheck(healthy.URL+"/"))
	assert.NoError(t, monitor.defaultHealthCheck(healthy.Listener.Addr().String()))
	assert.Error(t, monitor.defaultHealthCheck(failing.URL))
	assert.Error(t, monitor.defaultHealthCheck("127.0.0.1:1"))
}

// TestHealthMonitorReportsRecovery brings a peer down until it is marked
// unhealthy, then back up, and expects one recovery per transition. A peer
// flagged with MarkUnhealthy recovers on its next good check too.
func TestHealthMonitorReportsRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	monitor := NewHealthMonitor(time.Second, clock, zap.NewNop())
	defer monitor.Stop()

	script := &scriptedCheck{down: map[string]bool{"http://a": true}}
	monitor.SetCheckFunction(script.check)
	unhealthy := make(chan cluster.PeerID, 4)
	monitor.SetOnUnhealthy(func(id cluster.PeerID) { unhealthy <- id })
	recovered := make(chan cluster.PeerInfo, 4)
	monitor.SetOnRecovered(func(peer cluster.PeerInfo) { recovered <- peer })

	peers := []cluster.PeerInfo{{ID: 1, Addr: "http://a"}}
	go monitor.Start(context.Background(), func() []cluster.PeerInfo { return peers })

	advance := func(calls int) {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		// The round is over once the check result is stored.
		require.Eventually(t, func() bool {
			health := monitor.PeerHealth(1)
			return script.Calls() == calls && health != nil && health.LastCheck.Equal(clock.Now())
		}, time.Second, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool { return script.Calls() == 1 }, time.Second, 5*time.Millisecond)
	advance(2)
	advance(3)
	select {
	case <-unhealthy:
	case <-time.After(time.Second):
		t.Fatal("no unhealthy callback")
	}

	script.set("http://a", false)
	advance(4)
	select {
	case peer := <-recovered:
		assert.Equal(t, peers[0], peer)
	case <-time.After(time.Second):
		t.Fatal("no recovered callback")
	}
	advance(5)
	assert.Empty(t, recovered, "healthy checks of a healthy peer report nothing")

	monitor.MarkUnhealthy(1)
	assert.False(t, monitor.IsHealthy(1))
	advance(6)
	select {
	case peer := <-recovered:
		assert.Equal(t, cluster.PeerID(1), peer.ID)
	case <-time.After(time.Second):
		t.Fatal("no recovered callback after MarkUnhealthy")
	}
}
