// ABOUTME: Session manager: websocket upgrade, handshake auth, event dispatch
// ABOUTME: Routes inbound events to the conversation service and fans results out

package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carebridge/chat-gateway/internal/apperr"
	"github.com/carebridge/chat-gateway/internal/config"
	"github.com/carebridge/chat-gateway/internal/conversation"
	"github.com/carebridge/chat-gateway/internal/identity"
	"github.com/carebridge/chat-gateway/internal/presence"
	"github.com/carebridge/chat-gateway/internal/rooms"
)

// Manager owns every live connection and the dispatch of their events.
type Manager struct {
	verifier  identity.Verifier
	directory identity.Directory
	registry  *presence.Registry
	hub       *rooms.Hub
	svc       *conversation.Service
	logger    *slog.Logger

	connCfg  connConfig
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewManager(
	verifier identity.Verifier,
	directory identity.Directory,
	registry *presence.Registry,
	hub *rooms.Hub,
	svc *conversation.Service,
	cfg config.SessionConfig,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		verifier:  verifier,
		directory: directory,
		registry:  registry,
		hub:       hub,
		svc:       svc,
		logger:    logger.With("component", "session"),
		connCfg: connConfig{
			writeTimeout: cfg.WriteTimeout,
			pingInterval: cfg.PingInterval,
			readDeadline: cfg.ReadDeadline,
			readLimit:    cfg.ReadLimit,
			sendBuffer:   cfg.SendBuffer,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin access is governed upstream; the gateway accepts
			// any origin and relies on credential verification.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// HandleWS upgrades the request and runs the connection to completion.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(ws, uuid.New().String(), m.connCfg, m.logger)
	conn.prepareRead(m.connCfg.readLimit)
	go conn.writePump()
	defer conn.close()

	firstFrame, err := m.authenticate(r, conn)
	if err != nil {
		conn.logger.Info("authentication failed", "code", apperr.CodeOf(err), "error", err)
		// The write pump may not flush before the close frame lands, so the
		// reason string carries the error to the client.
		conn.closeWithReason(websocket.ClosePolicyViolation, string(apperr.CodeOf(err))+": "+err.Error())
		return
	}

	m.register(conn)
	defer m.deregister(conn)

	conn.logger.Info("connection authenticated", "user_id", conn.userID, "role", conn.role)

	if firstFrame != nil {
		m.dispatch(r.Context(), conn, firstFrame)
	}

	for {
		env, err := conn.readFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Debug("connection read error", "error", err)
			}
			return
		}
		m.dispatch(r.Context(), conn, env)
	}
}

// authenticate performs the handshake: a token in the first frame's auth
// payload is preferred, with the Authorization header as fallback. When the
// first frame is not an auth event it is returned for dispatch after the
// header-based authentication succeeds.
func (m *Manager) authenticate(r *http.Request, conn *Conn) (*envelope, error) {
	env, err := conn.readFrame()
	if err != nil {
		return nil, apperr.AuthenticationRequired("no credential supplied before connection closed")
	}

	var token string
	var deferred *envelope
	if env.Event == EventAuth {
		var payload authPayload
		if err := decodePayload(env.Data, &payload); err != nil {
			return nil, apperr.AuthenticationRequired("auth event carried no token")
		}
		token = payload.Token
	} else {
		deferred = env
		token = bearerToken(r)
	}
	if token == "" {
		return nil, apperr.AuthenticationRequired("credential required")
	}

	claims, err := m.verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, err
	}

	user, err := m.directory.ResolveSubject(r.Context(), claims.Subject)
	if err != nil {
		return nil, err
	}

	conn.userID = user.ID
	conn.role = user.Role
	conn.displayName = user.DisplayName
	conn.state = stateAuthenticated
	return deferred, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// register adds the connection to the live set and runs the online ritual:
// catch-up delivery, online broadcast, and the presence snapshot.
func (m *Manager) register(conn *Conn) {
	m.mu.Lock()
	m.conns[conn.handleID] = conn
	m.mu.Unlock()

	cameOnline := m.registry.Register(conn.userID, conn.displayName, conn.handleID)

	ctx := context.Background()
	affected, err := m.svc.MarkAllDelivered(ctx, conn.userID)
	if err != nil {
		conn.logger.Warn("catch-up delivery failed", "error", err)
	}
	for convID, messageIDs := range affected {
		m.hub.Publish(convID, deliveredEvent(convID, messageIDs), "")
	}

	if cameOnline {
		m.broadcastAll(userOnlineEvent(conn.userID, conn.displayName), conn.handleID)
	}
	conn.enqueue(usersOnlineEvent(m.registry.Snapshot(), conn.userID))
}

// deregister tears the connection down and announces the user offline when
// this was their last handle.
func (m *Manager) deregister(conn *Conn) {
	m.mu.Lock()
	delete(m.conns, conn.handleID)
	m.mu.Unlock()

	m.hub.LeaveAll(conn.handleID)

	if conn.state != stateAuthenticated {
		return
	}
	conn.state = stateClosed

	wentOffline, lastSeen := m.registry.Deregister(conn.userID, conn.handleID)
	if wentOffline {
		m.broadcastAll(userOfflineEvent(conn.userID, lastSeen), conn.handleID)
		conn.logger.Info("user went offline", "user_id", conn.userID)
	}
}

// broadcastAll fans an event out to every live connection except the one
// identified by excludeHandleID.
func (m *Manager) broadcastAll(event rooms.Event, excludeHandleID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for handleID, conn := range m.conns {
		if handleID == excludeHandleID {
			continue
		}
		conn.enqueue(event)
	}
}

// sendTo pushes an event to one specific connection handle, if still live.
func (m *Manager) sendTo(handleID string, event rooms.Event) {
	m.mu.RLock()
	conn, ok := m.conns[handleID]
	m.mu.RUnlock()
	if ok {
		conn.enqueue(event)
	}
}

// dispatch routes one inbound envelope. Handler failures are reported to the
// requesting connection only and never interrupt the session.
func (m *Manager) dispatch(ctx context.Context, conn *Conn, env *envelope) {
	var err error
	switch env.Event {
	case EventAuth:
		err = apperr.InvalidOperation("connection is already authenticated")
	case EventConversationJoin:
		err = m.handleJoin(ctx, conn, env.Data)
	case EventConversationLeave:
		err = m.handleLeave(conn, env.Data)
	case EventMessageSend:
		err = m.handleSend(ctx, conn, env.Data)
	case EventMessageEdit:
		err = m.handleEdit(ctx, conn, env.Data)
	case EventMessageDelete:
		err = m.handleDelete(ctx, conn, env.Data)
	case EventTypingStart, EventTypingStop:
		err = m.handleTyping(ctx, conn, env.Event, env.Data)
	case EventMessagesRead:
		err = m.handleRead(ctx, conn, env.Data)
	default:
		err = apperr.ValidationFailed("unknown event: " + env.Event)
	}
	if err != nil {
		conn.logger.Debug("event handler failed", "event", env.Event, "code", apperr.CodeOf(err), "error", err)
		conn.sendError(err)
	}
}

func (m *Manager) handleJoin(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var payload conversationPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}

	// Authorize before subscribing: a non-participant must not observe the
	// room at all.
	if _, err := m.svc.Get(ctx, payload.ConversationID, conn.userID); err != nil {
		return err
	}
	m.hub.Join(payload.ConversationID, conn.handleID, conn.send)

	return m.readAndBroadcast(ctx, conn, payload.ConversationID)
}

func (m *Manager) handleLeave(conn *Conn, raw json.RawMessage) error {
	var payload conversationPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	m.hub.Leave(payload.ConversationID, conn.handleID)
	return nil
}

func (m *Manager) handleRead(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var payload conversationPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	return m.readAndBroadcast(ctx, conn, payload.ConversationID)
}

func (m *Manager) readAndBroadcast(ctx context.Context, conn *Conn, conversationID string) error {
	ids, err := m.svc.MarkRead(ctx, conversationID, conn.userID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		m.hub.Publish(conversationID, readEvent(conversationID, conn.userID, ids), "")
	}
	return nil
}

func (m *Manager) handleSend(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var payload sendPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}

	msg, conv, err := m.svc.Send(ctx, conversation.SendRequest{
		ConversationID: payload.ConversationID,
		SenderID:       conn.userID,
		Content:        payload.Content,
		Type:           payload.Type,
		ReplyToID:      payload.ReplyToID,
	})
	if err != nil {
		return err
	}

	m.hub.Publish(conv.ID, newMessageEvent(EventMessageNew, conv.ID, msg), "")

	recipient := conv.OtherParticipant(conn.userID)
	if !m.registry.IsOnline(recipient) {
		return nil
	}

	// The recipient gets a refreshed conversation list on their primary
	// handle even when they are not in the room, and their catch-up delivery
	// runs eagerly so the sender sees the delivered tick without waiting for
	// a reconnect.
	if primary := m.registry.PrimaryHandle(recipient); primary != "" {
		summaries, err := m.svc.ListForUser(ctx, recipient)
		if err != nil {
			conn.logger.Warn("conversation list refresh failed", "user_id", recipient, "error", err)
		} else {
			m.sendTo(primary, conversationsUpdatedEvent(summaries))
		}
	}

	affected, err := m.svc.MarkAllDelivered(ctx, recipient)
	if err != nil {
		conn.logger.Warn("eager delivery failed", "user_id", recipient, "error", err)
		return nil
	}
	for convID, messageIDs := range affected {
		m.hub.Publish(convID, deliveredEvent(convID, messageIDs), "")
	}
	return nil
}

func (m *Manager) handleEdit(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var payload editPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	msg, err := m.svc.Edit(ctx, payload.MessageID, conn.userID, payload.Content)
	if err != nil {
		return err
	}
	m.hub.Publish(msg.ConversationID, newMessageEvent(EventMessageEdited, msg.ConversationID, msg), "")
	return nil
}

func (m *Manager) handleDelete(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var payload deletePayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	msg, err := m.svc.Delete(ctx, payload.MessageID, conn.userID)
	if err != nil {
		return err
	}
	m.hub.Publish(msg.ConversationID, newMessageEvent(EventMessageDeleted, msg.ConversationID, msg), "")
	return nil
}

func (m *Manager) handleTyping(ctx context.Context, conn *Conn, name string, raw json.RawMessage) error {
	var payload conversationPayload
	if err := decodePayload(raw, &payload); err != nil {
		return err
	}
	if !m.hub.Contains(payload.ConversationID, conn.handleID) {
		return apperr.AccessDenied("join the conversation before typing events")
	}
	m.hub.Publish(payload.ConversationID, typingEvent(name, payload.ConversationID, conn.userID), conn.handleID)
	return nil
}

// ConnectionCount reports the number of live connections, for health output.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
