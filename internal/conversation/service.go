// ABOUTME: Conversation service owning the message delivery-state machine
// ABOUTME: All sends, edits, deletes, and read/delivered transitions flow through here

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/chat-gateway/internal/apperr"
	"github.com/carebridge/chat-gateway/internal/notify"
	"github.com/carebridge/chat-gateway/internal/store"
)

const (
	// editWindow bounds how long after creation a text message stays editable.
	editWindow = 15 * time.Minute

	// maxContentLength bounds message content size.
	maxContentLength = 4000
)

// Service coordinates conversation operations. Every durable mutation is a
// single transactional store call: state observed by clients is never
// partially applied.
type Service struct {
	store    store.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

// New creates a conversation service. Pass nil logger for default.
func New(s store.Store, n notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		store:    s,
		notifier: n,
		logger:   logger.With("component", "conversation"),
	}
}

// SendRequest carries everything needed to append a message.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           string // defaults to text
	ReplyToID      string
}

// GetOrCreate returns the single conversation for a job application, creating
// it on first use. Idempotent per application id.
func (s *Service) GetOrCreate(ctx context.Context, applicationID, posterID, providerID string) (*store.Conversation, error) {
	if applicationID == "" || posterID == "" || providerID == "" {
		return nil, apperr.ValidationFailed("application and both participants are required")
	}
	conv, err := s.store.GetOrCreateConversation(ctx, applicationID, posterID, providerID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	return conv, nil
}

// Get returns a conversation the requester participates in.
func (s *Service) Get(ctx context.Context, conversationID, requesterID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	if !conv.HasParticipant(requesterID) {
		return nil, apperr.AccessDenied("not a conversation participant")
	}
	return conv, nil
}

// Send appends a message with status sent, advances the conversation's
// last-message pointer in the same transaction, and notifies the other
// participant. Notification failures are logged, never surfaced: message
// delivery does not depend on notification delivery.
func (s *Service) Send(ctx context.Context, req SendRequest) (*store.Message, *store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, nil, mapStoreErr(err, "conversation")
	}
	if !conv.Active {
		return nil, nil, apperr.NotFound("conversation is no longer active")
	}
	if conv.Blocked {
		return nil, nil, apperr.Blocked("conversation is blocked")
	}
	if !conv.HasParticipant(req.SenderID) {
		return nil, nil, apperr.AccessDenied("sender is not a conversation participant")
	}

	if err := validateContent(req.Content); err != nil {
		return nil, nil, err
	}
	msgType := req.Type
	if msgType == "" {
		msgType = store.TypeText
	}
	switch msgType {
	case store.TypeText, store.TypeImage, store.TypeFile:
	default:
		return nil, nil, apperr.ValidationFailed(fmt.Sprintf("unknown message type %q", msgType))
	}

	var replyTo *string
	if req.ReplyToID != "" {
		target, err := s.store.GetMessage(ctx, req.ReplyToID)
		if err != nil {
			return nil, nil, mapStoreErr(err, "reply target")
		}
		if target.Deleted || target.ConversationID != conv.ID {
			return nil, nil, apperr.NotFound("reply target not available in this conversation")
		}
		replyTo = &req.ReplyToID
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Type:           msgType,
		ReplyToID:      replyTo,
		Status:         store.StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, mapStoreErr(err, "conversation")
	}

	recipient := conv.OtherParticipant(req.SenderID)
	if err := s.notifier.Notify(ctx, notify.Notification{
		UserID:  recipient,
		Kind:    notify.KindNewMessage,
		Title:   "New message",
		Body:    previewOf(msg),
		Context: map[string]string{"senderId": req.SenderID},
		Linkage: conv.ID,
	}); err != nil {
		s.logger.Warn("notification delivery failed",
			"user_id", recipient,
			"conversation_id", conv.ID,
			"error", err)
	}

	return msg, conv, nil
}

// previewOf renders the notification body for a message.
func previewOf(msg *store.Message) string {
	switch msg.Type {
	case store.TypeImage:
		return "Sent an image"
	case store.TypeFile:
		return "Sent a file"
	}
	if len(msg.Content) > 120 {
		return msg.Content[:120]
	}
	return msg.Content
}

// Edit updates a text message's content within the edit window. Only the
// original sender may edit; delivery status is untouched.
func (s *Service) Edit(ctx context.Context, messageID, editorID, newContent string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err, "message")
	}
	if msg.Deleted {
		return nil, apperr.NotFound("message not found")
	}
	if msg.SenderID != editorID {
		return nil, apperr.AccessDenied("only the sender may edit a message")
	}
	if msg.Type != store.TypeText {
		return nil, apperr.InvalidOperation("only text messages can be edited")
	}

	now := time.Now().UTC()
	if now.Sub(msg.CreatedAt) > editWindow {
		return nil, apperr.InvalidOperation("edit window expired")
	}
	if err := validateContent(newContent); err != nil {
		return nil, err
	}

	if err := s.store.UpdateMessageContent(ctx, messageID, newContent, now); err != nil {
		return nil, mapStoreErr(err, "message")
	}

	msg.Content = newContent
	msg.EditedAt = &now
	return msg, nil
}

// Delete soft-deletes a message. Only the sender may delete; content is
// retained in storage but excluded from all subsequent reads and from
// delivery/read transition eligibility.
func (s *Service) Delete(ctx context.Context, messageID, requesterID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err, "message")
	}
	if msg.Deleted {
		return nil, apperr.NotFound("message not found")
	}
	if msg.SenderID != requesterID {
		return nil, apperr.AccessDenied("only the sender may delete a message")
	}

	now := time.Now().UTC()
	if err := s.store.SoftDeleteMessage(ctx, messageID, now); err != nil {
		return nil, mapStoreErr(err, "message")
	}

	msg.Deleted = true
	msg.DeletedAt = &now
	return msg, nil
}

// MarkRead transitions every unread message addressed to readerID in the
// conversation to read and returns the affected message ids. Idempotent:
// with no new messages the second call returns an empty list.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	if !conv.HasParticipant(readerID) {
		return nil, apperr.AccessDenied("reader is not a conversation participant")
	}

	ids, err := s.store.MarkConversationRead(ctx, conversationID, readerID, time.Now().UTC())
	if err != nil {
		return nil, mapStoreErr(err, "conversation")
	}
	return ids, nil
}

// MarkAllDelivered is the catch-up transition run when a user comes online:
// every message addressed to them still in status sent becomes delivered.
// Returns conversation id -> affected message ids.
func (s *Service) MarkAllDelivered(ctx context.Context, userID string) (map[string][]string, error) {
	affected, err := s.store.MarkAllDelivered(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, mapStoreErr(err, "conversations")
	}
	return affected, nil
}

// History returns conversation messages oldest-first. Cursor pagination takes
// precedence over offset paging; see store.Page.
func (s *Service) History(ctx context.Context, conversationID, requesterID string, page store.Page) ([]*store.Message, error) {
	if _, err := s.Get(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, page)
	if err != nil {
		return nil, mapStoreErr(err, "messages")
	}
	return msgs, nil
}

// ListForUser returns the user's conversation list projection, most recent
// activity first. A soft-deleted last message keeps its slot but loses its
// content.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	summaries, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err, "conversations")
	}
	for _, summary := range summaries {
		if summary.LastMessage != nil && summary.LastMessage.Deleted {
			summary.LastMessage.Content = ""
		}
	}
	return summaries, nil
}

// Block marks the conversation blocked by userID. Further sends fail with
// Blocked until the blocker unblocks.
func (s *Service) Block(ctx context.Context, conversationID, userID string) error {
	conv, err := s.Get(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if conv.Blocked {
		return nil
	}
	if err := s.store.SetConversationBlocked(ctx, conversationID, userID, true); err != nil {
		return mapStoreErr(err, "conversation")
	}
	return nil
}

// Unblock lifts a block. Only the participant who blocked may unblock.
func (s *Service) Unblock(ctx context.Context, conversationID, userID string) error {
	conv, err := s.Get(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !conv.Blocked {
		return nil
	}
	if conv.BlockedBy != nil && *conv.BlockedBy != userID {
		return apperr.AccessDenied("only the blocking participant may unblock")
	}
	if err := s.store.SetConversationBlocked(ctx, conversationID, "", false); err != nil {
		return mapStoreErr(err, "conversation")
	}
	return nil
}

// SetArchived toggles the archived flag for a conversation the user
// participates in.
func (s *Service) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.store.SetConversationArchived(ctx, conversationID, archived); err != nil {
		return mapStoreErr(err, "conversation")
	}
	return nil
}

func validateContent(content string) error {
	if content == "" {
		return apperr.ValidationFailed("message content is required")
	}
	if len(content) > maxContentLength {
		return apperr.ValidationFailed(fmt.Sprintf("message content exceeds %d bytes", maxContentLength))
	}
	return nil
}

// mapStoreErr translates store sentinels into the wire taxonomy.
func mapStoreErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return apperr.TransientStore("store operation failed", err)
}
