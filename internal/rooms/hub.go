// ABOUTME: In-memory fan-out hub for conversation room broadcasts
// ABOUTME: Maps room keys to subscriber connection handles with non-blocking publish

package rooms

import (
	"log/slog"
	"sync"
)

// Event is one outbound real-time event: a wire-level name plus a payload
// serialized by the receiving connection's writer.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data,omitempty"`
}

// Hub provides in-memory pub/sub for conversation rooms. A room is a dynamic
// multicast group keyed by conversation id; subscribers are connection
// handles, each contributing the outbound sink it wants events delivered to.
// Publishing is non-blocking: events are dropped for subscribers whose sinks
// are full.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]chan<- Event // roomID -> handleID -> sink
	joined map[string]map[string]struct{}     // handleID -> roomIDs, for LeaveAll
	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]chan<- Event),
		joined: make(map[string]map[string]struct{}),
		logger: logger.With("component", "rooms"),
	}
}

// Join subscribes a connection handle to a room. Joining a room the handle is
// already in replaces its sink.
func (h *Hub) Join(roomID, handleID string, sink chan<- Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]chan<- Event)
	}
	h.rooms[roomID][handleID] = sink

	if _, ok := h.joined[handleID]; !ok {
		h.joined[handleID] = make(map[string]struct{})
	}
	h.joined[handleID][roomID] = struct{}{}

	h.logger.Debug("joined room", "room_id", roomID, "handle_id", handleID)
}

// Leave removes a handle from one room.
func (h *Hub) Leave(roomID, handleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(roomID, handleID)
}

// LeaveAll removes a handle from every room it joined. Called on disconnect
// so a dead connection stops receiving broadcasts implicitly.
func (h *Hub) LeaveAll(handleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range h.joined[handleID] {
		h.leaveLocked(roomID, handleID)
	}
}

func (h *Hub) leaveLocked(roomID, handleID string) {
	subs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, handleID)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}

	if set, ok := h.joined[handleID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(h.joined, handleID)
		}
	}
}

// Publish sends an event to every handle in the room. If excludeHandleID is
// non-empty, that subscriber is skipped (used for typing relays, where the
// originator must not hear itself).
func (h *Hub) Publish(roomID string, event Event, excludeHandleID string) {
	h.mu.RLock()
	subs, ok := h.rooms[roomID]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy sinks under read lock to avoid holding it during sends
	targets := make([]chan<- Event, 0, len(subs))
	for id, sink := range subs {
		if excludeHandleID != "" && id == excludeHandleID {
			continue
		}
		targets = append(targets, sink)
	}
	h.mu.RUnlock()

	for _, sink := range targets {
		select {
		case sink <- event:
			// Sent
		default:
			// Subscriber sink full — drop event for this subscriber
			h.logger.Debug("dropped event for slow subscriber",
				"room_id", roomID,
				"event", event.Name)
		}
	}
}

// Members returns the handle ids currently joined to a room.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.rooms[roomID]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// Contains reports whether a handle is joined to a room.
func (h *Hub) Contains(roomID, handleID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	_, in := subs[handleID]
	return in
}
