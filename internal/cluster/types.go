package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the part a peer plays in a session. It is decided when the peer
// joins and never changes afterwards.
type Role int

const (
	RoleClient Role = iota
	RoleHost
)

// String returns "Host" or "Client".
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "Host"
	case RoleClient:
		return "Client"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole accepts "host" or "client" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return RoleHost, nil
	case "client":
		return RoleClient, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if r != RoleHost && r != RoleClient {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(strings.ToLower(r.String())), nil
}

// UnmarshalText parses a role name written by MarshalText.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PeerID is the stable numeric identity of a peer within a session.
type PeerID uint64

// HostID is the identity the host always holds.
const HostID PeerID = 0

// PeerInfo describes a member of the session.
type PeerInfo struct {
	Addr string `json:"addr"`
	ID   PeerID `json:"id"`
	Role Role   `json:"role"`
}

// Vec3 is a position in metres.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is a unit rotation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a world-space position and rotation.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// Identity is the pose at the world origin with no rotation.
func Identity() Pose {
	return Pose{Rotation: Quat{W: 1}}
}

// String formats the pose for logs.
func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f) [%.3f, %.3f, %.3f, %.3f]",
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Rotation.W)
}

// JoinRequest is sent by a client to the host to enter the session.
type JoinRequest struct {
	Addr string `json:"addr"`
}

// JoinResponse carries the identity the host assigned to the client.
type JoinResponse struct {
	ID PeerID `json:"id"`
}

// MessageKind names a message on the event channel.
type MessageKind string

const (
	KindResetAnchor    MessageKind = "reset_anchor"
	KindLocateAnchor   MessageKind = "locate_anchor"
	KindReLocateAnchor MessageKind = "relocate_anchor"
	KindResetOrigin    MessageKind = "reset_origin"
	KindSessionReady   MessageKind = "session_ready"
)

// Message is a host broadcast.
type Message struct {
	Kind     MessageKind `json:"kind"`
	AnchorID string      `json:"anchor_id,omitempty"`
	UserID   string      `json:"user_id,omitempty"`
	Sender   PeerID      `json:"sender"`
	Seq      uint64      `json:"seq"`
}

var (
	ErrUnknownKind     = errors.New("unknown message kind")
	ErrMissingAnchorID = errors.New("locate_anchor requires an anchor id")
	ErrMissingUserID   = errors.New("session_ready requires a user id")
)

// Validate checks that a message carries the fields its kind requires.
func (m Message) Validate() error {
	switch m.Kind {
	case KindResetAnchor, KindReLocateAnchor, KindResetOrigin:
		return nil
	case KindLocateAnchor:
		if m.AnchorID == "" {
			return ErrMissingAnchorID
		}
		return nil
	case KindSessionReady:
		if m.UserID == "" {
			return ErrMissingUserID
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
}

// FirstSyncRequest is posted by a client once it resolves the anchor for
// the first time in the session.
type FirstSyncRequest struct {
	ClientID PeerID `json:"client_id"`
}
