package channel

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// ErrClosed is returned by Broadcast after Close.
var ErrClosed = errors.New("channel closed")

const defaultQueueSize = 256

// Opt configures a Broadcaster.
type Opt func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(b *Broadcaster) {
		b.log = logger
	}
}

// WithQueueSize bounds every per-peer queue. A peer whose queue is full is
// removed rather than silently missing messages.
func WithQueueSize(n int) Opt {
	return func(b *Broadcaster) {
		b.queueSize = n
	}
}

// WithOverflowHandler sets fn to be told about every peer removed because
// its queue overflowed. It runs on the broadcasting goroutine, after the
// broadcaster lock is released, and must not block.
func WithOverflowHandler(fn func(peer cluster.PeerInfo)) Opt {
	return func(b *Broadcaster) {
		b.onOverflow = fn
	}
}

// Broadcaster is the host end of the channel.
type Broadcaster struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	seq    uint64
	closed bool
	peers  map[cluster.PeerID]*outbox
	local  *outbox

	queueSize  int
	onOverflow func(peer cluster.PeerInfo)
	log        *zap.Logger
}

// NewBroadcaster returns a host broadcaster looping every message back to
// local.
func NewBroadcaster(local Dispatcher, opts ...Opt) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		ctx:       ctx,
		cancel:    cancel,
		peers:     make(map[cluster.PeerID]*outbox),
		queueSize: defaultQueueSize,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.local = b.newOutbox(cluster.PeerInfo{ID: cluster.HostID, Role: cluster.RoleHost}, func(ctx context.Context, msg cluster.Message) error {
		local.Dispatch(ctx, msg)
		return nil
	})
	return b
}

// AddPeer starts delivering broadcasts to peer. A peer re-added under a new
// address gets a fresh queue.
func (b *Broadcaster) AddPeer(peer cluster.PeerInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if old, ok := b.peers[peer.ID]; ok {
		if old.peer.Addr == peer.Addr {
			return
		}
		old.close()
	}
	url := strings.TrimRight(peer.Addr, "/") + "/events"
	b.peers[peer.ID] = b.newOutbox(peer, func(ctx context.Context, msg cluster.Message) error {
		return cluster.PostJSON(ctx, url, msg, nil)
	})
	peerCount.Set(float64(len(b.peers)))
	b.log.Info("peer added", zap.Uint64("peer", uint64(peer.ID)), zap.String("addr", peer.Addr))
}

// RemovePeer stops delivering to id. Queued messages are discarded.
func (b *Broadcaster) RemovePeer(id cluster.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ob, ok := b.peers[id]
	if !ok {
		return
	}
	delete(b.peers, id)
	ob.close()
	peerCount.Set(float64(len(b.peers)))
	b.log.Info("peer removed", zap.Uint64("peer", uint64(id)))
}

// Peers returns the remote peers ordered by id.
func (b *Broadcaster) Peers() []cluster.PeerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := make([]cluster.PeerInfo, 0, len(b.peers))
	for _, ob := range b.peers {
		peers = append(peers, ob.peer)
	}
	slices.SortFunc(peers, func(a, b cluster.PeerInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return peers
}

// Broadcast stamps msg and queues it for every peer, the host included. It
// does not wait for delivery.
func (b *Broadcaster) Broadcast(ctx context.Context, msg cluster.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.seq++
	msg.Sender = cluster.HostID
	msg.Seq = b.seq

	var overflowed []cluster.PeerInfo
	for id, ob := range b.peers {
		if ob.enqueue(msg) {
			continue
		}
		// A peer missing a message would fall out of sync unnoticed.
		delete(b.peers, id)
		ob.close()
		overflowed = append(overflowed, ob.peer)
		b.log.Warn("peer queue full, removing peer",
			zap.Uint64("peer", uint64(id)), zap.String("kind", string(msg.Kind)), zap.Uint64("seq", msg.Seq))
	}
	if !b.local.enqueue(msg) {
		b.log.Warn("local queue full, message dropped",
			zap.String("kind", string(msg.Kind)), zap.Uint64("seq", msg.Seq))
	}
	peers := len(b.peers)
	if len(overflowed) > 0 {
		peerCount.Set(float64(peers))
	}
	b.mu.Unlock()

	b.log.Debug("message broadcast",
		zap.String("kind", string(msg.Kind)), zap.Uint64("seq", msg.Seq), zap.Int("peers", peers))
	if b.onOverflow != nil {
		for _, peer := range overflowed {
			b.onOverflow(peer)
		}
	}
	return nil
}

// NotifyFirstSyncComplete is a no-op: the host completes its first sync by
// creating the anchor.
func (b *Broadcaster) NotifyFirstSyncComplete(ctx context.Context, id cluster.PeerID) error {
	b.log.Debug("first sync on the host, nothing to report", zap.Uint64("peer", uint64(id)))
	return nil
}

// Close stops every queue and waits for in-flight deliveries.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	peers := b.peers
	b.peers = make(map[cluster.PeerID]*outbox)
	b.mu.Unlock()

	b.cancel()
	for _, ob := range peers {
		ob.close()
		ob.wait()
	}
	b.local.close()
	b.local.wait()
	peerCount.Set(0)
}

// outbox delivers messages to one peer in order.
type outbox struct {
	peer    cluster.PeerInfo
	queue   chan cluster.Message
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (b *Broadcaster) newOutbox(peer cluster.PeerInfo, deliver func(context.Context, cluster.Message) error) *outbox {
	ob := &outbox{
		peer:    peer,
		queue:   make(chan cluster.Message, b.queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	log := b.log.With(zap.Uint64("peer", uint64(peer.ID)))
	go func() {
		defer close(ob.stopped)
		for {
			select {
			case msg := <-ob.queue:
				if err := deliver(b.ctx, msg); err != nil {
					deliveryFailures.Inc()
					log.Warn("failed to deliver message",
						zap.String("kind", string(msg.Kind)), zap.Uint64("seq", msg.Seq), zap.Error(err))
					continue
				}
				delivered.WithLabelValues(string(msg.Kind)).Inc()
			case <-ob.done:
				return
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return ob
}

// enqueue reports false when the queue is full and msg was dropped.
func (ob *outbox) enqueue(msg cluster.Message) bool {
	select {
	case ob.queue <- msg:
		return true
	default:
		queueDropped.Inc()
		return false
	}
}

func (ob *outbox) close() {
	ob.once.Do(func() { close(ob.done) })
}

func (ob *outbox) wait() {
	<-ob.stopped
}
