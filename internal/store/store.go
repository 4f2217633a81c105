// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, Message, User structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MessageStatus is the delivery lifecycle stage of a message relative to its
// non-sender participant. Transitions only move forward.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses for forward-only comparison: sent < delivered < read.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// MessageType constants for message content kinds
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
)

// User is the internal user record. The gateway does not own user lifecycle;
// rows are created by the wider marketplace and looked up here by the
// identity provider subject.
type User struct {
	ID          string    `json:"id"`
	Subject     string    `json:"-"` // identity provider subject claim
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"` // "poster" or "provider"
	PushToken   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation links exactly two participants over one job application.
// At most one conversation exists per application id.
type Conversation struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	PosterID      string `json:"poster_id"`   // job-poster-side participant
	ProviderID    string `json:"provider_id"` // healthcare-side participant

	LastMessageID *string    `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	PosterLastReadAt   *time.Time `json:"poster_last_read_at,omitempty"`
	ProviderLastReadAt *time.Time `json:"provider_last_read_at,omitempty"`

	Active    bool    `json:"active"`
	Archived  bool    `json:"archived"`
	Blocked   bool    `json:"blocked"`
	BlockedBy *string `json:"blocked_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.PosterID == userID || c.ProviderID == userID
}

// OtherParticipant returns the participant that is not userID. Callers must
// check HasParticipant first; an unknown userID returns the empty string.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.PosterID:
		return c.ProviderID
	case c.ProviderID:
		return c.PosterID
	}
	return ""
}

// Message is a single message within a conversation. Deleted messages keep
// their row (soft delete) but are excluded from reads and from delivery
// transition eligibility.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           string        `json:"type"` // text, image, file
	ReplyToID      *string       `json:"reply_to_id,omitempty"`
	Status         MessageStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ConversationSummary is the conversation-list projection: the conversation
// plus its last message and the viewer's unread count.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
}

// Page controls message history pagination. When Before or After is set,
// cursor pagination takes precedence and Offset is ignored. The cursor is
// resolved by the referenced message's creation timestamp with a strict
// comparison, so the anchor message is never part of the page.
type Page struct {
	Before string // message id: return messages strictly older
	After  string // message id: return messages strictly newer
	Limit  int
	Offset int
}

// DefaultPageLimit applies when Page.Limit is zero; MaxPageLimit caps it.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Store is the durable conversation/message store. Every multi-step mutation
// runs in a single transaction; the store never assumes it is the sole
// writer.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserBySubject(ctx context.Context, subject string) (*User, error)

	// Conversations
	GetOrCreateConversation(ctx context.Context, applicationID, posterID, providerID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error)
	SetConversationBlocked(ctx context.Context, id, blockedBy string, blocked bool) error
	SetConversationArchived(ctx context.Context, id string, archived bool) error

	// Messages
	// AppendMessage inserts the message and advances the conversation's
	// last-message pointer in one transaction.
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, page Page) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	SoftDeleteMessage(ctx context.Context, id string, deletedAt time.Time) error

	// Delivery transitions
	// MarkConversationRead bulk-transitions every non-deleted message in the
	// conversation authored by the other participant from sent/delivered to
	// read, updates the reader's last-read timestamp, and returns the
	// affected message ids. Idempotent.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
	// MarkAllDelivered bulk-transitions every non-deleted message addressed
	// to userID with status exactly sent to delivered, across all of the
	// user's conversations. Returns conversation id -> affected message ids.
	MarkAllDelivered(ctx context.Context, userID string, at time.Time) (map[string][]string, error)

	Close() error
}
