package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/anchor"
	"github.com/dreamware/sharedorigin/internal/cluster"
)

// Tracker receives the session name once setup completes.
type Tracker interface {
	StartTracking(name string) error
}

// StateResponse is served on GET /state by both roles.
type StateResponse struct {
	ID     cluster.PeerID     `json:"id"`
	Role   cluster.Role       `json:"role"`
	Joined bool               `json:"joined"`
	Anchor anchor.AnchorState `json:"anchor"`
	Origin cluster.Pose       `json:"origin"`
	UserID string             `json:"user_id,omitempty"`
	// Peers counts the clients currently receiving broadcasts.
	Peers int `json:"peers"`
}

// TrackingName is the telemetry run name of a peer: <user id>-<role>.
func TrackingName(userID string, role cluster.Role) string {
	return userID + "-" + role.String()
}

// dispatch routes a channel message to the coordinator. It returns the user
// id carried by session_ready, if any.
func dispatch(ctx context.Context, coord *anchor.Coordinator, msg cluster.Message, log *zap.Logger) string {
	dispatched.WithLabelValues(string(msg.Kind)).Inc()
	switch msg.Kind {
	case cluster.KindResetAnchor:
		coord.OnResetAnchor(ctx)
	case cluster.KindLocateAnchor:
		coord.OnLocateAnchor(ctx, msg.AnchorID)
	case cluster.KindReLocateAnchor:
		coord.OnReLocateAnchor()
	case cluster.KindResetOrigin:
		coord.OnResetOrigin()
	case cluster.KindSessionReady:
		return msg.UserID
	default:
		log.Warn("unknown message dropped", zap.String("kind", string(msg.Kind)))
	}
	return ""
}

// sessionTracker starts a telemetry run once per session name.
type sessionTracker struct {
	mu      sync.Mutex
	tracker Tracker
	name    string
}

func (st *sessionTracker) start(userID string, role cluster.Role, log *zap.Logger) {
	if st.tracker == nil {
		return
	}
	name := TrackingName(userID, role)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.name == name {
		return
	}
	if err := st.tracker.StartTracking(name); err != nil {
		log.Warn("failed to start telemetry tracking", zap.String("name", name), zap.Error(err))
		return
	}
	st.name = name
	log.Info("session ready, telemetry tracking started", zap.String("name", name))
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
