// ABOUTME: Integration tests for SQLiteStore against in-memory SQLite
// ABOUTME: Covers conversations, pagination, delivery transitions, soft deletes

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLiteStore) *Conversation {
	t.Helper()
	conv, err := s.GetOrCreateConversation(context.Background(), "app-1", "poster-1", "provider-1")
	require.NoError(t, err)
	return conv
}

func appendText(t *testing.T, s *SQLiteStore, convID, senderID, content string, at time.Time) *Message {
	t.Helper()
	msg := &Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	return msg
}

func TestUsers_CreateAndLookupBySubject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &User{Subject: "auth0|abc123", DisplayName: "Dana", Role: "provider"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)

	got, err := s.GetUserBySubject(ctx, "auth0|abc123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Dana", got.DisplayName)

	_, err = s.GetUserBySubject(ctx, "auth0|nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateConversation_IdempotentPerApplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateConversation(ctx, "app-1", "poster-1", "provider-1")
	require.NoError(t, err)
	assert.True(t, first.Active)

	second, err := s.GetOrCreateConversation(ctx, "app-1", "poster-1", "provider-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := s.GetOrCreateConversation(ctx, "app-2", "poster-1", "provider-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestAppendMessage_AdvancesConversationPointer(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)

	now := time.Now().UTC()
	m1 := appendText(t, s, conv.ID, "poster-1", "hello", now)
	m2 := appendText(t, s, conv.ID, "provider-1", "hi there", now.Add(time.Second))

	got, err := s.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, m2.ID, *got.LastMessageID)

	fetched, err := s.GetMessage(context.Background(), m1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, fetched.Status)
	assert.Equal(t, TypeText, fetched.Type)
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMessage(context.Background(), &Message{
		ConversationID: "missing", SenderID: "poster-1", Content: "x",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessages_OldestFirstWithCursor(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var msgs []*Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, appendText(t, s, conv.ID, "poster-1", "msg", base.Add(time.Duration(i)*time.Second)))
	}

	// Default page: oldest-first, all ten
	all, err := s.ListMessages(ctx, conv.ID, Page{})
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].CreatedAt.Before(all[i].CreatedAt))
	}

	// Cursor before message 5: exactly the five strictly older, anchor excluded
	page, err := s.ListMessages(ctx, conv.ID, Page{Before: msgs[5].ID})
	require.NoError(t, err)
	require.Len(t, page, 5)
	for i, m := range page {
		assert.Equal(t, msgs[i].ID, m.ID)
	}

	// Consecutive cursor pages never overlap
	newest, err := s.ListMessages(ctx, conv.ID, Page{Limit: 4})
	require.NoError(t, err)
	require.Len(t, newest, 4)
	older, err := s.ListMessages(ctx, conv.ID, Page{Before: newest[0].ID, Limit: 4})
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, m := range append(newest, older...) {
		assert.False(t, seen[m.ID], "message %s appeared twice", m.ID)
		seen[m.ID] = true
	}

	// After cursor: strictly newer
	after, err := s.ListMessages(ctx, conv.ID, Page{After: msgs[7].ID})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, msgs[8].ID, after[0].ID)
	assert.Equal(t, msgs[9].ID, after[1].ID)
}

func TestListMessages_CursorTakesPrecedenceOverOffset(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)

	base := time.Now().UTC().Add(-time.Hour)
	var msgs []*Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, appendText(t, s, conv.ID, "poster-1", "msg", base.Add(time.Duration(i)*time.Second)))
	}

	// Offset would skip the newest two; the cursor must win instead.
	page, err := s.ListMessages(context.Background(), conv.ID, Page{Before: msgs[3].ID, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, msgs[0].ID, page[0].ID)
	assert.Equal(t, msgs[2].ID, page[2].ID)
}

func TestListMessages_UnknownCursor(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)
	_, err := s.ListMessages(context.Background(), conv.ID, Page{Before: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkConversationRead_TransitionsAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)
	ctx := context.Background()

	now := time.Now().UTC()
	m1 := appendText(t, s, conv.ID, "poster-1", "one", now)
	m2 := appendText(t, s, conv.ID, "poster-1", "two", now.Add(time.Second))
	mine := appendText(t, s, conv.ID, "provider-1", "mine", now.Add(2*time.Second))

	ids, err := s.MarkConversationRead(ctx, conv.ID, "provider-1", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, ids)

	got, err := s.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, got.Status)
	require.NotNil(t, got.ReadAt)
	require.NotNil(t, got.DeliveredAt)

	// The reader's own message is never a recipient of its own transition
	own, err := s.GetMessage(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, own.Status)

	// Second call with no new messages is a no-op with an empty id list
	again, err := s.MarkConversationRead(ctx, conv.ID, "provider-1", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Empty(t, again)

	// Reader's last-read timestamp recorded
	c, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, c.ProviderLastReadAt)
}

func TestMarkAllDelivered_OnlySentMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convA, err := s.GetOrCreateConversation(ctx, "app-a", "poster-1", "provider-1")
	require.NoError(t, err)
	convB, err := s.GetOrCreateConversation(ctx, "app-b", "poster-2", "provider-1")
	require.NoError(t, err)

	now := time.Now().UTC()
	a1 := appendText(t, s, convA.ID, "poster-1", "offline msg", now)
	b1 := appendText(t, s, convB.ID, "poster-2", "another", now.Add(time.Second))
	ownMsg := appendText(t, s, convA.ID, "provider-1", "sent by me", now.Add(2*time.Second))

	// A message already read stays read
	_, err = s.MarkConversationRead(ctx, convB.ID, "provider-1", now.Add(3*time.Second))
	require.NoError(t, err)

	affected, err := s.MarkAllDelivered(ctx, "provider-1", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{convA.ID: {a1.ID}}, affected)

	got, err := s.GetMessage(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)

	// Forward-only: the read message never regressed to delivered
	read, err := s.GetMessage(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, read.Status)

	own, err := s.GetMessage(ctx, ownMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, own.Status)
}

func TestSoftDelete_ExcludedFromReadsAndTransitions(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)
	ctx := context.Background()

	now := time.Now().UTC()
	kept := appendText(t, s, conv.ID, "poster-1", "kept", now)
	doomed := appendText(t, s, conv.ID, "poster-1", "doomed", now.Add(time.Second))

	require.NoError(t, s.SoftDeleteMessage(ctx, doomed.ID, now.Add(2*time.Second)))

	// Row retained but flagged
	raw, err := s.GetMessage(ctx, doomed.ID)
	require.NoError(t, err)
	assert.True(t, raw.Deleted)
	assert.Equal(t, "doomed", raw.Content)

	// Excluded from history
	msgs, err := s.ListMessages(ctx, conv.ID, Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, kept.ID, msgs[0].ID)

	// Excluded from both bulk transitions
	delivered, err := s.MarkAllDelivered(ctx, "provider-1", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{conv.ID: {kept.ID}}, delivered)

	ids, err := s.MarkConversationRead(ctx, conv.ID, "provider-1", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, ids)

	// Deleting twice is not possible
	err = s.SoftDeleteMessage(ctx, doomed.ID, now.Add(5*time.Second))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationFlags_BlockAndArchive(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetConversationBlocked(ctx, conv.ID, "poster-1", true))
	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	require.NotNil(t, got.BlockedBy)
	assert.Equal(t, "poster-1", *got.BlockedBy)

	require.NoError(t, s.SetConversationBlocked(ctx, conv.ID, "", false))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.Blocked)
	assert.Nil(t, got.BlockedBy)

	require.NoError(t, s.SetConversationArchived(ctx, conv.ID, true))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	assert.ErrorIs(t, s.SetConversationArchived(ctx, "missing", true), ErrNotFound)
}

func TestListConversations_UnreadCountsAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convA, err := s.GetOrCreateConversation(ctx, "app-a", "poster-1", "provider-1")
	require.NoError(t, err)
	convB, err := s.GetOrCreateConversation(ctx, "app-b", "poster-1", "provider-2")
	require.NoError(t, err)

	now := time.Now().UTC()
	appendText(t, s, convA.ID, "provider-1", "older", now)
	latest := appendText(t, s, convB.ID, "provider-2", "newer", now.Add(time.Minute))
	appendText(t, s, convB.ID, "poster-1", "reply", now.Add(2*time.Minute))

	summaries, err := s.ListConversations(ctx, "poster-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Most recent activity first
	assert.Equal(t, convB.ID, summaries[0].Conversation.ID)
	assert.Equal(t, convA.ID, summaries[1].Conversation.ID)

	// poster-1 has one unread in each (own messages don't count)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	assert.Equal(t, 1, summaries[1].UnreadCount)
	_ = latest

	require.NotNil(t, summaries[1].LastMessage)
	assert.Equal(t, "older", summaries[1].LastMessage.Content)
}

func TestUpdateMessageContent(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s)
	ctx := context.Background()

	now := time.Now().UTC()
	msg := appendText(t, s, conv.ID, "poster-1", "typo", now)

	require.NoError(t, s.UpdateMessageContent(ctx, msg.ID, "fixed", now.Add(time.Minute)))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Content)
	require.NotNil(t, got.EditedAt)
	assert.Equal(t, StatusSent, got.Status, "editing must not touch delivery status")
}

func TestStatusRank_ForwardOrdering(t *testing.T) {
	assert.Less(t, StatusSent.Rank(), StatusDelivered.Rank())
	assert.Less(t, StatusDelivered.Rank(), StatusRead.Rank())
	assert.Equal(t, -1, MessageStatus("bogus").Rank())
}
