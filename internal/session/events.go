// ABOUTME: Wire-level event names, inbound payload shapes, and outbound constructors
// ABOUTME: Inbound payloads are fixed tagged structs validated before dispatch

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/carebridge/chat-gateway/internal/apperr"
	"github.com/carebridge/chat-gateway/internal/presence"
	"github.com/carebridge/chat-gateway/internal/rooms"
	"github.com/carebridge/chat-gateway/internal/store"
)

// Inbound event names.
const (
	EventAuth              = "auth"
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageEdit       = "message:edit"
	EventMessageDelete     = "message:delete"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessagesRead      = "messages:read"
)

// Outbound event names.
const (
	EventMessageNew           = "message:new"
	EventMessageEdited        = "message:edited"
	EventMessageDeleted       = "message:deleted"
	EventMessagesDelivered    = "messages:delivered"
	EventMessagesReadDone     = "messages:read"
	EventUserOnline           = "user:online"
	EventUserOffline          = "user:offline"
	EventUsersOnline          = "users:online"
	EventConversationsUpdated = "conversations:updated"
	EventError                = "error"
)

// envelope is the frame shape for every inbound and outbound event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodePayload unmarshals raw data into the given payload struct and runs
// struct validation. Any failure is reported as a validation error so the
// caller can surface it to the requesting connection.
func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return apperr.ValidationFailed("event payload is required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.CodeValidationFailed, "malformed event payload", err)
	}
	if err := validate.Struct(out); err != nil {
		return apperr.Wrap(apperr.CodeValidationFailed, fmt.Sprintf("invalid event payload: %v", err), err)
	}
	return nil
}

type authPayload struct {
	Token string `json:"token" validate:"required"`
}

type conversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

type sendPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=4000"`
	Type           string `json:"type" validate:"omitempty,oneof=text image file"`
	ReplyToID      string `json:"reply_to_id" validate:"omitempty"`
}

type editPayload struct {
	MessageID string `json:"message_id" validate:"required"`
	Content   string `json:"content" validate:"required,max=4000"`
}

type deletePayload struct {
	MessageID string `json:"message_id" validate:"required"`
}

// Outbound payload shapes.

type messageEventData struct {
	ConversationID string         `json:"conversation_id"`
	Message        *store.Message `json:"message"`
}

type deliveredEventData struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type readEventData struct {
	ConversationID string   `json:"conversation_id"`
	ReaderID       string   `json:"reader_id"`
	MessageIDs     []string `json:"message_ids"`
}

type typingEventData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type presenceEventData struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

type usersOnlineData struct {
	Users []presenceEventData `json:"users"`
}

type conversationsUpdatedData struct {
	Conversations []*store.ConversationSummary `json:"conversations"`
}

type errorEventData struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func newMessageEvent(name, conversationID string, msg *store.Message) rooms.Event {
	return rooms.Event{Name: name, Payload: messageEventData{ConversationID: conversationID, Message: msg}}
}

func deliveredEvent(conversationID string, messageIDs []string) rooms.Event {
	return rooms.Event{Name: EventMessagesDelivered, Payload: deliveredEventData{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	}}
}

func readEvent(conversationID, readerID string, messageIDs []string) rooms.Event {
	return rooms.Event{Name: EventMessagesReadDone, Payload: readEventData{
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     messageIDs,
	}}
}

func typingEvent(name, conversationID, userID string) rooms.Event {
	return rooms.Event{Name: name, Payload: typingEventData{ConversationID: conversationID, UserID: userID}}
}

func userOnlineEvent(userID, displayName string) rooms.Event {
	return rooms.Event{Name: EventUserOnline, Payload: presenceEventData{UserID: userID, DisplayName: displayName}}
}

func userOfflineEvent(userID string, lastSeen time.Time) rooms.Event {
	return rooms.Event{Name: EventUserOffline, Payload: presenceEventData{UserID: userID, LastSeen: &lastSeen}}
}

func usersOnlineEvent(entries []presence.Entry, excludeUserID string) rooms.Event {
	users := make([]presenceEventData, 0, len(entries))
	for _, e := range entries {
		if e.UserID == excludeUserID {
			continue
		}
		users = append(users, presenceEventData{UserID: e.UserID, DisplayName: e.DisplayName})
	}
	return rooms.Event{Name: EventUsersOnline, Payload: usersOnlineData{Users: users}}
}

func conversationsUpdatedEvent(summaries []*store.ConversationSummary) rooms.Event {
	return rooms.Event{Name: EventConversationsUpdated, Payload: conversationsUpdatedData{Conversations: summaries}}
}

func errorEvent(err error) rooms.Event {
	return rooms.Event{Name: EventError, Payload: errorEventData{
		Code:    apperr.CodeOf(err),
		Message: err.Error(),
	}}
}
