// Package notify bridges new-message events to the external push channel.
// Deliveries are fire-and-forget: failures are logged and never surfaced to
// the sender.
package notify
