package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// ErrNotHost is returned when a client tries to broadcast.
var ErrNotHost = errors.New("only the host broadcasts")

// Uplink is the client end of the channel: it joins the host and reports
// back to it.
type Uplink struct {
	host string
	log  *zap.Logger

	mu sync.Mutex
	id cluster.PeerID
}

// NewUplink returns a client-side channel that reports to the host at host.
//
// Parameters:
//   - host: Host base URL, e.g. "http://127.0.0.1:8080"
//   - logger: Logger for send failures
func NewUplink(host string, logger *zap.Logger) *Uplink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uplink{host: strings.TrimRight(host, "/"), log: logger}
}

// Join registers selfAddr with the host and returns the assigned peer id.
func (u *Uplink) Join(ctx context.Context, selfAddr string) (cluster.PeerID, error) {
	var resp cluster.JoinResponse
	if err := cluster.PostJSON(ctx, u.host+"/join", cluster.JoinRequest{Addr: selfAddr}, &resp); err != nil {
		return 0, fmt.Errorf("join %s: %w", u.host, err)
	}
	if resp.ID == cluster.HostID {
		return 0, fmt.Errorf("join %s: host assigned its own id", u.host)
	}
	u.mu.Lock()
	u.id = resp.ID
	u.mu.Unlock()
	u.log.Info("joined host", zap.String("host", u.host), zap.Uint64("peer", uint64(resp.ID)))
	return resp.ID, nil
}

// ID returns the id the host assigned on join, or empty before that.
func (u *Uplink) ID() cluster.PeerID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.id
}

// Broadcast always fails: clients never send anchor instructions.
func (u *Uplink) Broadcast(ctx context.Context, msg cluster.Message) error {
	return ErrNotHost
}

// NotifyFirstSyncComplete tells the host this client has located the anchor.
func (u *Uplink) NotifyFirstSyncComplete(ctx context.Context, id cluster.PeerID) error {
	return cluster.PostJSON(ctx, u.host+"/events/first-sync", cluster.FirstSyncRequest{ClientID: id}, nil)
}
