package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/channel"
	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/retry"
)

// ErrNotJoined is returned by operations that need a host.
var ErrNotJoined = errors.New("client has not joined a host")

// maxPending bounds the messages buffered before the join completes.
const maxPending = 64

// ClientController runs the client side of a session. The coordinator only
// exists once the host has assigned an id; broadcasts arriving before that
// are buffered and replayed in order.
type ClientController struct {
	uplink   *channel.Uplink
	receiver *channel.Receiver
	backend  anchor.Backend
	origin   *anchor.Origin
	tracker  *sessionTracker

	// dmu serializes dispatch so replayed messages keep their order.
	dmu     sync.Mutex
	coord   *anchor.Coordinator
	pending []cluster.Message
	userID  string

	opts options
	log  *zap.Logger
}

// NewClientController prepares a client of the host at hostAddr. tracker
// may be nil.
func NewClientController(hostAddr string, backend anchor.Backend, origin *anchor.Origin, tracker Tracker, opts ...Opt) *ClientController {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &ClientController{
		uplink:  channel.NewUplink(hostAddr, o.log),
		backend: backend,
		origin:  origin,
		tracker: &sessionTracker{tracker: tracker},
		opts:    o,
		log:     o.log.With(zap.String("component", "client")),
	}
	c.receiver = channel.NewReceiver(c, o.log)
	return c
}

// Register mounts the client endpoints on mux.
func (c *ClientController) Register(mux *http.ServeMux) {
	mux.Handle("/events", c.receiver)
	mux.HandleFunc("/state", c.handleState)
	mux.HandleFunc("/health", handleHealth)
}

// Join registers selfAddr with the host, retrying per the setup policy, and
// builds the coordinator under the assigned id.
func (c *ClientController) Join(ctx context.Context, selfAddr string) error {
	var id cluster.PeerID
	err := retry.Do(ctx, c.opts.clock, c.opts.setupRetry, func(ctx context.Context) error {
		var err error
		id, err = c.uplink.Join(ctx, selfAddr)
		return err
	}, func(attempt int, err error) {
		c.log.Warn("failed to join host, retrying", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		return err
	}

	coord := anchor.New(id, cluster.RoleClient, c.backend, c.uplink, c.origin, c.opts.coordinatorOpts()...)

	c.dmu.Lock()
	defer c.dmu.Unlock()
	if c.coord != nil {
		c.coord.Close()
	}
	c.coord = coord
	pending := c.pending
	c.pending = nil
	for _, msg := range pending {
		c.dispatchLocked(ctx, msg)
	}
	c.log.Info("session joined", zap.Uint64("peer", uint64(id)), zap.Int("replayed", len(pending)))
	return nil
}

// Run drives the coordinator until ctx is done.
func (c *ClientController) Run(ctx context.Context) error {
	coord := c.Coordinator()
	if coord == nil {
		return ErrNotJoined
	}
	coord.Run(ctx)
	return nil
}

// Coordinator returns nil before Join succeeds.
func (c *ClientController) Coordinator() *anchor.Coordinator {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	return c.coord
}

// Close stops the coordinator.
func (c *ClientController) Close() {
	if coord := c.Coordinator(); coord != nil {
		coord.Close()
	}
}

// Dispatch handles a broadcast from the host.
func (c *ClientController) Dispatch(ctx context.Context, msg cluster.Message) {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	if c.coord == nil {
		if len(c.pending) >= maxPending {
			c.log.Warn("dropping message received before join", zap.String("kind", string(msg.Kind)))
			return
		}
		c.pending = append(c.pending, msg)
		return
	}
	c.dispatchLocked(ctx, msg)
}

func (c *ClientController) dispatchLocked(ctx context.Context, msg cluster.Message) {
	userID := dispatch(ctx, c.coord, msg, c.log)
	if userID == "" {
		return
	}
	c.userID = userID
	c.tracker.start(userID, cluster.RoleClient, c.log)
}

func (c *ClientController) handleState(w http.ResponseWriter, r *http.Request) {
	c.dmu.Lock()
	coord, userID := c.coord, c.userID
	c.dmu.Unlock()

	resp := StateResponse{
		Role:   cluster.RoleClient,
		Origin: c.origin.Get(),
		UserID: userID,
	}
	if coord != nil {
		resp.ID = coord.ID()
		resp.Joined = true
		resp.Anchor = coord.State()
	}
	writeJSON(w, http.StatusOK, resp)
}
