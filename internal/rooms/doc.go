// Package rooms provides the conversation-room multicast groups: dynamic
// sets of connection handles keyed by conversation id, with non-blocking
// publish.
package rooms
