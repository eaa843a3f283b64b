// Package channel carries anchor protocol messages between the host and its
// clients over HTTP.
//
// The host side is a Broadcaster: every peer gets its own outbound queue
// drained by one goroutine, so a broadcast never blocks on a slow peer and
// each peer observes messages in the order they were broadcast. The host
// also receives its own broadcasts through a loopback queue.
//
// Clients talk to the host through an Uplink and accept broadcasts with a
// Receiver mounted at POST /events. Messages carry the sender id and a
// per-sender sequence number; the Receiver drops anything it has already
// seen, so a message retried by the transport is dispatched at most once.
package channel

import (
	"context"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// Dispatcher consumes protocol messages on a peer.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg cluster.Message)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, msg cluster.Message)

// Dispatch calls f(ctx, msg).
func (f DispatcherFunc) Dispatch(ctx context.Context, msg cluster.Message) {
	f(ctx, msg)
}
