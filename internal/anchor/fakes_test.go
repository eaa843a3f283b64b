package anchor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// fakeBackend records every call in order and replays scripted capture
// progress values.
type fakeBackend struct {
	mu       sync.Mutex
	calls    []string
	started  bool
	watching bool
	progress []float64
	nextID   string
	pose     cluster.Pose

	startErr  error
	createErr error
	watchErr  error
	deleteErr error

	// startGate, when set, holds StartSession until it is closed.
	startGate    chan struct{}
	startEntered chan struct{}

	events chan LocateEvent
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID: "A1",
		pose:   cluster.Identity(),
		events: make(chan LocateEvent, 16),
	}
}

func (b *fakeBackend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) StartSession(ctx context.Context) error {
	b.mu.Lock()
	gate, entered := b.startGate, b.startEntered
	b.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("start")
	if b.startErr != nil {
		return b.startErr
	}
	b.started = true
	return nil
}

func (b *fakeBackend) SessionStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func (b *fakeBackend) CaptureProgress() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.progress) == 0 {
		return 1, true
	}
	p := b.progress[0]
	if len(b.progress) > 1 {
		b.progress = b.progress[1:]
	}
	return p, p >= 1
}

func (b *fakeBackend) CreateAnchorAt(ctx context.Context, pose cluster.Pose) (*LocalAnchor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create")
	if b.createErr != nil {
		return nil, b.createErr
	}
	return &LocalAnchor{ID: b.nextID, Pose: pose}, nil
}

func (b *fakeBackend) HasWatcher() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("watch-check")
	return b.watching
}

func (b *fakeBackend) CreateWatcher(ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(fmt.Sprintf("watch:%s", ids[0]))
	if b.watchErr != nil {
		return b.watchErr
	}
	b.watching = true
	return nil
}

func (b *fakeBackend) StopWatcher() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("stop")
	b.watching = false
}

func (b *fakeBackend) Events() <-chan LocateEvent { return b.events }

func (b *fakeBackend) DeleteAnchor(ctx context.Context, anchor *LocalAnchor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("delete:" + anchor.ID)
	return b.deleteErr
}

// holdStart makes StartSession block. It returns a channel signalled when a
// call is waiting and a function releasing every call.
func (b *fakeBackend) holdStart() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startGate = make(chan struct{})
	b.startEntered = make(chan struct{}, 1)
	return b.startEntered, func() { close(b.startGate) }
}

func (b *fakeBackend) setWatchErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchErr = err
}

func (b *fakeBackend) count(call string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeChannel records broadcasts and first sync notifications.
type fakeChannel struct {
	mu           sync.Mutex
	sent         []cluster.Message
	notified     []cluster.PeerID
	broadcastErr error
	notifyErrs   int
}

func (ch *fakeChannel) Broadcast(ctx context.Context, msg cluster.Message) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.broadcastErr != nil {
		return ch.broadcastErr
	}
	ch.sent = append(ch.sent, msg)
	return nil
}

func (ch *fakeChannel) NotifyFirstSyncComplete(ctx context.Context, id cluster.PeerID) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.notifyErrs > 0 {
		ch.notifyErrs--
		return fmt.Errorf("host unreachable")
	}
	ch.notified = append(ch.notified, id)
	return nil
}

func (ch *fakeChannel) Sent() []cluster.Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]cluster.Message(nil), ch.sent...)
}

func (ch *fakeChannel) Notified() []cluster.PeerID {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]cluster.PeerID(nil), ch.notified...)
}

func (ch *fakeChannel) kinds() []cluster.MessageKind {
	var kinds []cluster.MessageKind
	for _, m := range ch.Sent() {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// newTestCoordinator builds a coordinator with fakes and registers Close as
// test cleanup.
func newTestCoordinator(t *testing.T, id cluster.PeerID, role cluster.Role, opts ...Opt) (*Coordinator, *fakeBackend, *fakeChannel, *observer.ObservedLogs) {
	t.Helper()
	backend := newFakeBackend()
	channel := &fakeChannel{}
	logger, logs := observedLogger()
	opts = append([]Opt{WithLogger(logger)}, opts...)
	c := New(id, role, backend, channel, NewOrigin(), opts...)
	t.Cleanup(c.Close)
	return c, backend, channel, logs
}
