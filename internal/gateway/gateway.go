// ABOUTME: Gateway assembles the store, identity, presence and session layers
// ABOUTME: Owns the HTTP server lifecycle including graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carebridge/chat-gateway/internal/config"
	"github.com/carebridge/chat-gateway/internal/conversation"
	"github.com/carebridge/chat-gateway/internal/identity"
	"github.com/carebridge/chat-gateway/internal/notify"
	"github.com/carebridge/chat-gateway/internal/presence"
	"github.com/carebridge/chat-gateway/internal/rooms"
	"github.com/carebridge/chat-gateway/internal/session"
	"github.com/carebridge/chat-gateway/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Gateway wires every component together and runs the HTTP surface.
type Gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	manager *session.Manager
	server  *http.Server
}

// New builds a gateway from config. The context governs the identity
// provider's background key refresh and must outlive the gateway.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	verifier, err := identity.NewJWKSVerifier(ctx, cfg.Identity.JWKSURL, cfg.Identity.Issuer, cfg.Identity.Audience, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating identity verifier: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifications.Enabled {
		notifier = notify.NewPushBridge(cfg.Notifications.Endpoint, cfg.Notifications.Timeout, s, logger)
	}

	registry := presence.NewRegistry(logger)
	hub := rooms.NewHub(logger)
	svc := conversation.New(s, notifier, logger)

	manager := session.NewManager(verifier, identity.NewStoreDirectory(s), registry, hub, svc, cfg.Session, logger)

	g := &Gateway{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		store:   s,
		manager: manager,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", manager.HandleWS)
	mux.HandleFunc("/healthz", g.handleHealth)

	g.server = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return g, nil
}

// Run serves until the context is cancelled, then drains connections.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.server.Addr)
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = g.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.server.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("shutdown incomplete", "error", err)
	}
	if err := g.store.Close(); err != nil {
		g.logger.Warn("store close failed", "error", err)
	}
	g.logger.Info("shutdown complete")
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Connections: g.manager.ConnectionCount(),
	})
}
