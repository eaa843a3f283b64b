package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/channel"
	"github.com/dreamware/sharedorigin/internal/cluster"
	"github.com/dreamware/sharedorigin/internal/retry"
)

// HostController runs the host side of a session: it owns the anchor,
// admits clients and finishes setup once the observer client is in sync.
type HostController struct {
	coord    *anchor.Coordinator
	bcast    *channel.Broadcaster
	registry *PeerRegistry
	monitor  *HealthMonitor
	tracker  *sessionTracker

	mu     sync.Mutex
	userID string

	opts options
	log  *zap.Logger
}

// NewHostController wires a host coordinator on backend. tracker may be nil.
func NewHostController(backend anchor.Backend, origin *anchor.Origin, tracker Tracker, opts ...Opt) *HostController {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	h := &HostController{
		registry: NewPeerRegistry(),
		tracker:  &sessionTracker{tracker: tracker},
		opts:     o,
		log:      o.log.With(zap.String("component", "host")),
	}
	h.bcast = channel.NewBroadcaster(channel.DispatcherFunc(h.Dispatch),
		channel.WithLogger(o.log),
		channel.WithOverflowHandler(h.suspendPeer))
	h.coord = anchor.New(cluster.HostID, cluster.RoleHost, backend, h.bcast, origin, o.coordinatorOpts()...)

	h.monitor = NewHealthMonitor(o.healthInterval, o.clock, h.log)
	if o.healthCheck != nil {
		h.monitor.SetCheckFunction(o.healthCheck)
	}
	h.monitor.SetOnUnhealthy(h.dropPeer)
	h.monitor.SetOnRecovered(h.restorePeer)
	return h
}

// Coordinator returns the host's anchor coordinator.
func (h *HostController) Coordinator() *anchor.Coordinator { return h.coord }

// Registry returns the joined clients.
func (h *HostController) Registry() *PeerRegistry { return h.registry }

// Register mounts the host endpoints on mux.
func (h *HostController) Register(mux *http.ServeMux) {
	mux.HandleFunc("/join", h.handleJoin)
	mux.HandleFunc("/events/first-sync", h.handleFirstSync)
	mux.HandleFunc("/peers", h.handlePeers)
	mux.HandleFunc("/state", h.handleState)
	mux.HandleFunc("/health", handleHealth)
}

// Run creates and sends the anchor, then keeps the coordinator and the
// health monitor going until ctx is done.
func (h *HostController) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		h.coord.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		h.monitor.Start(ctx, h.registry.All)
		return nil
	})
	eg.Go(func() error {
		return h.bootstrap(ctx)
	})
	return eg.Wait()
}

func (h *HostController) bootstrap(ctx context.Context) error {
	err := retry.Do(ctx, h.opts.clock, h.opts.setupRetry, func(ctx context.Context) error {
		err := h.coord.CreateAnchor(ctx)
		if errors.Is(err, anchor.ErrAnchorExists) {
			return nil
		}
		return err
	}, func(attempt int, err error) {
		h.log.Warn("anchor creation failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("create anchor: %w", err)
	}
	return h.coord.SendAnchor(ctx)
}

// Close stops the coordinator, the channel and the monitor.
func (h *HostController) Close() {
	h.coord.Close()
	h.bcast.Close()
	h.monitor.Stop()
}

// Dispatch handles the host's own broadcasts looped back by the channel.
func (h *HostController) Dispatch(ctx context.Context, msg cluster.Message) {
	if userID := dispatch(ctx, h.coord, msg, h.log); userID != "" {
		h.tracker.start(userID, cluster.RoleHost, h.log)
	}
}

// UserID returns the session user id, empty until setup completes.
func (h *HostController) UserID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userID
}

func (h *HostController) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Addr == "" {
		http.Error(w, "bad join request", http.StatusBadRequest)
		return
	}

	info, rejoined := h.registry.Join(req.Addr)
	h.bcast.AddPeer(info)
	registeredPeers.Set(float64(h.registry.Len()))
	if rejoined {
		rejoin.Inc()
	} else {
		firstJoin.Inc()
	}
	h.log.Info("client joined",
		zap.Uint64("peer", uint64(info.ID)), zap.String("addr", info.Addr), zap.Bool("rejoin", rejoined))

	// A late joiner gets the anchor right away; everyone else sees a
	// harmless reset and locate of the same id.
	if h.coord.IsAnchorReady() {
		if err := h.coord.SendAnchor(r.Context()); err != nil {
			h.log.Warn("failed to send anchor to late joiner", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, cluster.JoinResponse{ID: info.ID})
}

func (h *HostController) handleFirstSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.FirstSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	firstSyncs.Inc()
	h.log.Info("client finished first sync", zap.Uint64("peer", uint64(req.ClientID)))

	if req.ClientID == h.opts.observerID {
		if err := h.finishSetup(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// finishSetup picks the session user id and tells every peer the session is
// ready. Later reports from the observer re-send the same id.
func (h *HostController) finishSetup(ctx context.Context) error {
	h.mu.Lock()
	if h.userID == "" {
		h.userID = uuid.NewString()[:6]
		h.log.Info("observer in sync, session setup complete", zap.String("user", h.userID))
	}
	userID := h.userID
	h.mu.Unlock()

	return h.bcast.Broadcast(ctx, cluster.Message{Kind: cluster.KindSessionReady, UserID: userID})
}

func (h *HostController) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.registry.All())
}

func (h *HostController) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		ID:     cluster.HostID,
		Role:   cluster.RoleHost,
		Joined: true,
		Anchor: h.coord.State(),
		Origin: h.coord.CurrentSharedOriginTransform(),
		UserID: h.UserID(),
		Peers:  len(h.bcast.Peers()),
	})
}

// dropPeer stops broadcasting to an unhealthy client. It stays registered
// and checked so it can be restored.
func (h *HostController) dropPeer(id cluster.PeerID) {
	h.bcast.RemovePeer(id)
	unhealthyPeers.Inc()
	h.log.Warn("client dropped from broadcasts", zap.Uint64("peer", uint64(id)))
}

// suspendPeer handles a client the broadcaster removed for falling behind.
// It is restored like an unhealthy client on its next good health check.
func (h *HostController) suspendPeer(peer cluster.PeerInfo) {
	h.monitor.MarkUnhealthy(peer.ID)
	h.log.Warn("client fell behind, suspended until its next health check",
		zap.Uint64("peer", uint64(peer.ID)))
}

// restorePeer brings a recovered client back and re-syncs it: it may have
// missed any broadcast while it was out.
func (h *HostController) restorePeer(peer cluster.PeerInfo) {
	info, ok := h.registry.Get(peer.ID)
	if !ok {
		return
	}
	h.bcast.AddPeer(info)
	h.log.Info("client back in session", zap.Uint64("peer", uint64(info.ID)))

	ctx := context.Background()
	if h.coord.IsAnchorReady() {
		if err := h.coord.SendAnchor(ctx); err != nil {
			h.log.Warn("failed to resend anchor to recovered client", zap.Error(err))
		}
	}
	if userID := h.UserID(); userID != "" {
		msg := cluster.Message{Kind: cluster.KindSessionReady, UserID: userID}
		if err := h.bcast.Broadcast(ctx, msg); err != nil {
			h.log.Warn("failed to resend session user id", zap.Error(err))
		}
	}
}
