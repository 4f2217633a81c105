// ABOUTME: Package documentation for the websocket session layer
// ABOUTME: Covers connection lifecycle, handshake auth, and fan-out paths

// Package session owns the long-lived websocket connections and the routing
// of their events.
//
// # Connection lifecycle
//
// Every connection moves through unauthenticated, authenticated, closed. The
// handshake reads the first frame: an auth event supplies the bearer token
// in its payload; any other first frame falls back to the Authorization
// header and is dispatched as a normal event once the header authenticates.
// A connection with no usable credential is closed with a reason frame and
// never enters the authenticated state.
//
// On authentication the manager registers the connection with the presence
// registry, runs catch-up delivery (promoting messages that arrived while
// the user was offline and announcing them to the affected rooms),
// broadcasts user:online when this was the user's first connection, and
// sends the new connection the current presence snapshot.
//
// # Fan-out
//
// Room-scoped events (message:new, message:edited, message:deleted,
// messages:delivered, messages:read, typing relays) flow through rooms.Hub.
// User-targeted pushes (conversations:updated) go to the recipient's primary
// handle via the manager's live-connection table, which also carries the
// global user:online / user:offline broadcasts. Both paths enqueue without
// blocking; a connection that cannot drain its buffer loses events rather
// than stalling the sender.
//
// # Failure policy
//
// Per-event failures are sent back to the originating connection as an
// error event and never interrupt other sessions. Only authentication
// failures close the connection.
package session
