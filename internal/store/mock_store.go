// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	usersBySubj   map[string]string        // subject -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	convByApp     map[string]string        // application ID -> conversation ID
	messages      map[string]*Message      // keyed by message ID

	// FailNext, when set, makes the next mutating call return this error.
	FailNext error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		usersBySubj:   make(map[string]string),
		conversations: make(map[string]*Conversation),
		convByApp:     make(map[string]string),
		messages:      make(map[string]*Message),
	}
}

func (m *MockStore) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

// --- Users ---

func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	u := *user
	m.users[u.ID] = &u
	m.usersBySubj[u.Subject] = u.ID
	return nil
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MockStore) GetUserBySubject(ctx context.Context, subject string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersBySubj[subject]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m.users[id]
	return &copied, nil
}

// --- Conversations ---

func (m *MockStore) GetOrCreateConversation(ctx context.Context, applicationID, posterID, providerID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.convByApp[applicationID]; ok {
		copied := *m.conversations[id]
		return &copied, nil
	}

	now := time.Now().UTC()
	c := &Conversation{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		PosterID:      posterID,
		ProviderID:    providerID,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.conversations[c.ID] = c
	m.convByApp[applicationID] = c.ID

	copied := *c
	return &copied, nil
}

func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ConversationSummary
	for _, c := range m.conversations {
		if !c.HasParticipant(userID) {
			continue
		}
		copied := *c
		summary := &ConversationSummary{Conversation: &copied}
		for _, msg := range m.messages {
			if msg.ConversationID != c.ID || msg.Deleted {
				continue
			}
			if msg.SenderID != userID && msg.Status != StatusRead {
				summary.UnreadCount++
			}
		}
		if c.LastMessageID != nil {
			if msg, ok := m.messages[*c.LastMessageID]; ok {
				copiedMsg := *msg
				summary.LastMessage = &copiedMsg
			}
		}
		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		return lastActivity(out[i].Conversation).After(lastActivity(out[j].Conversation))
	})
	return out, nil
}

func lastActivity(c *Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (m *MockStore) SetConversationBlocked(ctx context.Context, id, blockedBy string, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Blocked = blocked
	if blocked {
		c.BlockedBy = &blockedBy
	} else {
		c.BlockedBy = nil
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockStore) SetConversationArchived(ctx context.Context, id string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Archived = archived
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Messages ---

func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.Status == "" {
		msg.Status = StatusSent
	}

	copied := *msg
	m.messages[copied.ID] = &copied

	conv.LastMessageID = &copied.ID
	at := copied.CreatedAt
	conv.LastMessageAt = &at
	conv.UpdatedAt = at
	return nil
}

func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID string, page Page) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var all []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && !msg.Deleted {
			copied := *msg
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	switch {
	case page.Before != "":
		anchor, ok := m.messages[page.Before]
		if !ok {
			return nil, ErrNotFound
		}
		var older []*Message
		for _, msg := range all {
			if msg.CreatedAt.Before(anchor.CreatedAt) {
				older = append(older, msg)
			}
		}
		if len(older) > limit {
			older = older[len(older)-limit:]
		}
		return older, nil

	case page.After != "":
		anchor, ok := m.messages[page.After]
		if !ok {
			return nil, ErrNotFound
		}
		var newer []*Message
		for _, msg := range all {
			if msg.CreatedAt.After(anchor.CreatedAt) {
				newer = append(newer, msg)
			}
		}
		if len(newer) > limit {
			newer = newer[:limit]
		}
		return newer, nil

	default:
		end := len(all) - page.Offset
		if end < 0 {
			end = 0
		}
		start := end - limit
		if start < 0 {
			start = 0
		}
		return all[start:end], nil
	}
}

func (m *MockStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	msg, ok := m.messages[id]
	if !ok || msg.Deleted {
		return ErrNotFound
	}
	msg.Content = content
	at := editedAt.UTC()
	msg.EditedAt = &at
	return nil
}

func (m *MockStore) SoftDeleteMessage(ctx context.Context, id string, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	msg, ok := m.messages[id]
	if !ok || msg.Deleted {
		return ErrNotFound
	}
	msg.Deleted = true
	at := deletedAt.UTC()
	msg.DeletedAt = &at
	return nil
}

// --- Delivery transitions ---

func (m *MockStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	ts := at.UTC()
	if readerID == conv.ProviderID {
		conv.ProviderLastReadAt = &ts
	} else {
		conv.PosterLastReadAt = &ts
	}

	var affected []*Message
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID || msg.Deleted {
			continue
		}
		if msg.SenderID == readerID {
			continue
		}
		if msg.Status == StatusSent || msg.Status == StatusDelivered {
			affected = append(affected, msg)
		}
	}
	sort.Slice(affected, func(i, j int) bool {
		return affected[i].CreatedAt.Before(affected[j].CreatedAt)
	})

	ids := make([]string, 0, len(affected))
	for _, msg := range affected {
		msg.Status = StatusRead
		msg.ReadAt = &ts
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &ts
		}
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (m *MockStore) MarkAllDelivered(ctx context.Context, userID string, at time.Time) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	ts := at.UTC()
	affected := make(map[string][]string)

	var pending []*Message
	for _, msg := range m.messages {
		conv, ok := m.conversations[msg.ConversationID]
		if !ok || !conv.HasParticipant(userID) {
			continue
		}
		if msg.Deleted || msg.SenderID == userID || msg.Status != StatusSent {
			continue
		}
		pending = append(pending, msg)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	for _, msg := range pending {
		msg.Status = StatusDelivered
		msg.DeliveredAt = &ts
		affected[msg.ConversationID] = append(affected[msg.ConversationID], msg.ID)
	}
	return affected, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }
