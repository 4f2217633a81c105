// ABOUTME: In-memory presence registry mapping users to live connection handles
// ABOUTME: Tracks per-user handle sets, a primary handle, and last-seen times

package presence

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is the presence record for one currently-connected user.
type Entry struct {
	UserID        string    `json:"userId"`
	DisplayName   string    `json:"displayName"`
	LastSeen      time.Time `json:"lastSeen"`
	Handles       []string  `json:"-"`
	PrimaryHandle string    `json:"-"`
}

// entry is the internal mutable form; Handles is a set.
type entry struct {
	userID      string
	displayName string
	lastSeen    time.Time
	handles     map[string]struct{}
	primary     string
}

// Registry tracks which users are online and through which connection
// handles. It holds no transport references: handles are opaque ids issued by
// the session layer. All methods are safe for concurrent use; an entry exists
// if and only if the user has at least one registered handle.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates a presence registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "presence"),
	}
}

// Register adds a connection handle to the user's active set. The first
// handle for a user creates the entry and becomes primary. Returns true when
// this registration brought the user online.
func (r *Registry) Register(userID, displayName, handleID string) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		e = &entry{
			userID:      userID,
			displayName: displayName,
			handles:     make(map[string]struct{}),
			primary:     handleID,
		}
		r.entries[userID] = e
		cameOnline = true
	}
	e.handles[handleID] = struct{}{}
	e.lastSeen = time.Now().UTC()

	r.logger.Debug("connection registered",
		"user_id", userID,
		"handle_id", handleID,
		"active_handles", len(e.handles))
	return cameOnline
}

// Deregister removes a handle from the user's active set. When the removed
// handle was primary and others remain, an arbitrary surviving handle is
// promoted. When the set becomes empty the entry is deleted and wentOffline
// is true; lastSeen is the moment of that final disconnect.
func (r *Registry) Deregister(userID, handleID string) (wentOffline bool, lastSeen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return false, time.Time{}
	}

	delete(e.handles, handleID)
	e.lastSeen = time.Now().UTC()

	if len(e.handles) == 0 {
		delete(r.entries, userID)
		r.logger.Debug("user went offline", "user_id", userID)
		return true, e.lastSeen
	}

	if e.primary == handleID {
		for h := range e.handles {
			e.primary = h
			break
		}
	}

	r.logger.Debug("connection deregistered",
		"user_id", userID,
		"handle_id", handleID,
		"active_handles", len(e.handles))
	return false, e.lastSeen
}

// IsOnline reports whether the user has at least one active handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[userID]
	return ok
}

// PrimaryHandle returns the handle designated for user-targeted pushes, or
// "" when the user is offline.
func (r *Registry) PrimaryHandle(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return ""
	}
	return e.primary
}

// Touch refreshes the user's last-seen timestamp.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[userID]; ok {
		e.lastSeen = time.Now().UTC()
	}
}

// Snapshot returns a copy of every presence entry.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.export())
	}
	return out
}

// Get returns the presence entry for one user, or false when offline.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return e.export(), true
}

func (e *entry) export() Entry {
	handles := make([]string, 0, len(e.handles))
	for h := range e.handles {
		handles = append(handles, h)
	}
	return Entry{
		UserID:        e.userID,
		DisplayName:   e.displayName,
		LastSeen:      e.lastSeen,
		Handles:       handles,
		PrimaryHandle: e.primary,
	}
}
