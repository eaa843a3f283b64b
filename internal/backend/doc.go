// Package backend provides a simulated spatial anchoring backend and the
// anchor store behind it.
//
// Simulated implements anchor.Backend without any camera or cloud: capture
// progress grows by a fixed step on every poll, anchors are persisted to a
// Store, and a watcher scans the store to report locate results for the ids
// it was asked about.
//
// Two stores are available. MemoryStore keeps records in process and is
// used by tests and single-process demos. RemoteStore talks to the anchor
// service started by cmd/anchorsvc, which serves a MemoryStore through
// Handler:
//
//	PUT    /anchors/{id}   store a record
//	GET    /anchors/{id}   fetch a record (404 when unknown or expired)
//	DELETE /anchors/{id}   remove a record
//	GET    /anchors        list stored ids
package backend
