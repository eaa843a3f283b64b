// Package session runs a shared-origin session on top of the anchor
// coordinator.
//
// The host side (HostController) creates the anchor with retries, admits
// clients on POST /join and assigns them stable ids, re-sends the anchor to
// late joiners, drops clients failing their health checks, and completes
// session setup when the observer client (id 2 by default) reports its
// first sync: it picks a six character user id and broadcasts
// session_ready, upon which every peer starts telemetry tracking.
//
// The client side (ClientController) joins the host, builds its coordinator
// under the assigned id and feeds it the broadcasts received on
// POST /events.
package session
