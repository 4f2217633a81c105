// Package gateway assembles the chat gateway: store, identity, presence,
// rooms, conversation service and session manager, behind one HTTP server
// with graceful shutdown.
package gateway
