// ABOUTME: Notification bridge boundary for cross-channel message alerts
// ABOUTME: Fire-and-forget from the core's perspective; failures are logged only

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carebridge/chat-gateway/internal/store"
)

// Kind identifies the notification template to render downstream.
type Kind string

const (
	KindNewMessage Kind = "message_received"
)

// Notification is one "notify user X of event Y" request.
type Notification struct {
	UserID  string            `json:"-"`
	Kind    Kind              `json:"kind"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Context map[string]string `json:"context,omitempty"`
	// Linkage carries the deep-link target (conversation id) for the client.
	Linkage string `json:"linkage,omitempty"`
}

// Notifier delivers notifications out of band. Implementations must never
// block message delivery on notification success; callers treat every
// returned error as log-only.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop is a Notifier that does nothing. Used in tests and when notifications
// are disabled by config.
type Nop struct{}

func (Nop) Notify(ctx context.Context, n Notification) error { return nil }

// PushBridge posts notifications to an external push endpoint, resolving the
// recipient's device token from the users table.
type PushBridge struct {
	endpoint string
	client   *http.Client
	store    store.Store
	logger   *slog.Logger
}

// NewPushBridge creates a bridge posting to endpoint with the given timeout.
func NewPushBridge(endpoint string, timeout time.Duration, s store.Store, logger *slog.Logger) *PushBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushBridge{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		store:    s,
		logger:   logger.With("component", "notify"),
	}
}

// pushRequest is the wire shape sent to the push endpoint.
type pushRequest struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify resolves the recipient's push token and posts the notification.
// A user without a push token is not an error: there is simply no device to
// reach.
func (b *PushBridge) Notify(ctx context.Context, n Notification) error {
	user, err := b.store.GetUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolving notification recipient %s: %w", n.UserID, err)
	}
	if user.PushToken == "" {
		b.logger.Debug("recipient has no push token", "user_id", n.UserID)
		return nil
	}

	data := make(map[string]string, len(n.Context)+2)
	for k, v := range n.Context {
		data[k] = v
	}
	data["kind"] = string(n.Kind)
	if n.Linkage != "" {
		data["conversationId"] = n.Linkage
	}

	payload, err := json.Marshal(pushRequest{
		To:    user.PushToken,
		Title: n.Title,
		Body:  n.Body,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("encoding push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}
