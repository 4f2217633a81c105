// ABOUTME: Tests for the push notification bridge
// ABOUTME: Uses httptest to stand in for the external push endpoint

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/chat-gateway/internal/store"
)

func seedRecipient(t *testing.T, token string) (*store.MockStore, string) {
	t.Helper()
	mock := store.NewMockStore()
	u := &store.User{Subject: "auth0|x", DisplayName: "Dana", PushToken: token}
	require.NoError(t, mock.CreateUser(context.Background(), u))
	return mock, u.ID
}

func TestNotify_PostsToEndpoint(t *testing.T) {
	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mock, userID := seedRecipient(t, "ExponentPushToken[abc]")
	b := NewPushBridge(srv.URL, time.Second, mock, nil)

	err := b.Notify(context.Background(), Notification{
		UserID:  userID,
		Kind:    KindNewMessage,
		Title:   "New message",
		Body:    "Dana sent you a message",
		Linkage: "conv-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ExponentPushToken[abc]", got.To)
	assert.Equal(t, "New message", got.Title)
	assert.Equal(t, string(KindNewMessage), got.Data["kind"])
	assert.Equal(t, "conv-1", got.Data["conversationId"])
}

func TestNotify_NoPushTokenIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("endpoint must not be called")
	}))
	defer srv.Close()

	mock, userID := seedRecipient(t, "")
	b := NewPushBridge(srv.URL, time.Second, mock, nil)

	assert.NoError(t, b.Notify(context.Background(), Notification{UserID: userID, Kind: KindNewMessage}))
}

func TestNotify_EndpointFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mock, userID := seedRecipient(t, "tok")
	b := NewPushBridge(srv.URL, time.Second, mock, nil)

	err := b.Notify(context.Background(), Notification{UserID: userID, Kind: KindNewMessage})
	assert.Error(t, err)
}

func TestNotify_UnknownRecipient(t *testing.T) {
	mock := store.NewMockStore()
	b := NewPushBridge("http://127.0.0.1:0", time.Second, mock, nil)

	err := b.Notify(context.Background(), Notification{UserID: "ghost", Kind: KindNewMessage})
	assert.Error(t, err)
}
