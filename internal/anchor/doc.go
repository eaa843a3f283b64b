// Package anchor implements the shared-origin anchor protocol run by every
// peer of a session.
//
// The host creates one spatial anchor through the backend, broadcasts its id
// and from then on periodically asks every client to relocate it. A client
// locates the anchor through a backend watcher, applies the resolved pose to
// its shared origin and reports its first successful resolution back to the
// host.
//
// # State machine
//
// Each Coordinator owns an AnchorState:
//
//	Idle ──locate(id)──► AwaitingLocate ──resolved──► Located
//	                          ▲  │ not located / error      │ relocate
//	                          │  └── retry after interval    ▼
//	                          └──────────────────────── Relocating
//
// A reset from the host sends the peer back to Idle from any phase and
// releases the local anchor handle. The Relocating flag of AnchorState is
// set for the whole lifetime of a locate attempt, including its retries, and
// guarantees at most one attempt per peer at any time. A relocate received
// while an attempt is outstanding is dropped.
//
// # Concurrency
//
// Backend and channel calls are made without holding the coordinator lock.
// Background work (locate attempts, first sync reports) runs on an errgroup
// that Close waits for. Results of superseded attempts are discarded by
// comparing attempt generations.
package anchor
