// Package cluster holds the wire vocabulary shared by every peer of a
// sharedorigin session: peer identities and roles, poses, the messages that
// travel over the event channel, and small HTTP/JSON helpers used by the
// transport and the remote anchor store.
//
// # Overview
//
// A session is one host and any number of clients. The host owns the
// session's spatial anchor; clients only locate it. Every peer carries a
// numeric PeerID assigned by the host when it joins (the host itself is
// always 0), and a Role fixed at join time.
//
//	              ┌──────────────┐
//	              │     Host     │
//	              │   (peer 0)   │
//	              │ - creates    │
//	              │ - broadcasts │
//	              └──────┬───────┘
//	                     │ reset / locate / relocate
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│ Client 1  │ │ Client 2  │ │ Client 3  │
//	│ locates   │ │ locates   │ │ locates   │
//	└───────────┘ └───────────┘ └───────────┘
//
// # Messages
//
// Host to all peers:
//   - reset_anchor: discard any locally held anchor
//   - locate_anchor: locate the anchor with the attached id
//   - relocate_anchor: re-run locate to correct drift
//   - reset_origin: re-apply the current anchor pose to the shared origin
//   - session_ready: setup handshake finished, carries the session user id
//
// Client to host:
//   - first_sync_complete: the client resolved the anchor for the first time
//
// Each broadcast carries the sender id and a per-sender sequence number so
// receivers can drop duplicates produced by transport retries.
//
// # Transport
//
// PostJSON, GetJSON and DeleteJSON wrap a retrying HTTP client. Non-2xx
// responses surface as *StatusError so callers can branch on the status
// code with errors.As.
package cluster
