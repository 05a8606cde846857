package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// HandlerConfig carries the real-time settings from the application config
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	OverflowPolicy string

	// RequireAuth rejects connections without a valid token, or whose user is
	// not a participant of the conversation.
	RequireAuth bool

	// CheckOrigin overrides the upgrader's origin check. Nil allows all origins.
	CheckOrigin func(r *http.Request) bool
}

// DefaultHandlerConfig mirrors config.DefaultConfig().WebSocket
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 1 << 20,
		OverflowPolicy: DropOldest,
	}
}

// Handler owns each connection from accept to close: authorize, upgrade,
// join, read loop, leave.
type Handler struct {
	registry  *Registry
	router    interfaces.MessageRouter
	auth      interfaces.AuthGateway
	directory interfaces.ConversationDirectory
	config    HandlerConfig
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandler creates a new WebSocket handler. auth and directory may be nil
// when RequireAuth is off.
func NewHandler(
	registry *Registry,
	router interfaces.MessageRouter,
	auth interfaces.AuthGateway,
	directory interfaces.ConversationDirectory,
	config HandlerConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		registry:  registry,
		router:    router,
		auth:      auth,
		directory: directory,
		config:    config,
		upgrader: websocket.Upgrader{
			CheckOrigin:      checkOrigin,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.Named("websocket"),
	}
}

// HandleWebSocket serves GET /ws/{conversationId}?user_id=...&token=...
// Every rejection happens before the upgrade so clients get a plain HTTP status.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if conversationID == "" {
		conversationID = strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	}
	if !types.IsValidExternalID(conversationID) {
		http.Error(w, "Invalid conversation id", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID != "" && !types.IsValidExternalID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	userID, status, msg := h.authorize(r, conversationID, userID)
	if status != http.StatusOK {
		http.Error(w, msg, status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, conversationID, userID, ConnectionOptions{
		BufferSize:     h.config.BufferSize,
		OverflowPolicy: h.config.OverflowPolicy,
		WriteTimeout:   h.config.WriteTimeout,
		PingInterval:   h.config.PingInterval,
	}, h.logger)

	if err := h.registry.Join(conversationID, conn); err != nil {
		h.logger.Error("failed to join connection", zap.Error(err))
		_ = conn.Close()
		return
	}

	h.logger.Info("connection joined",
		zap.String("conversation_id", conversationID),
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", userID),
	)

	h.handleConnection(conn)
}

// authorize resolves the effective user id. A presented token must be valid
// and overrides user_id. With RequireAuth, a token and conversation
// membership are mandatory.
func (h *Handler) authorize(r *http.Request, conversationID, userID string) (string, int, string) {
	token := bearerToken(r)

	if token != "" && h.auth != nil {
		verified, err := h.auth.Verify(token)
		if err != nil {
			return "", http.StatusUnauthorized, "Invalid or expired token"
		}
		userID = verified
	} else if h.config.RequireAuth {
		return "", http.StatusUnauthorized, "Authentication required"
	}

	if !h.config.RequireAuth || h.directory == nil {
		return userID, http.StatusOK, ""
	}

	ctx := r.Context()
	exists, err := h.directory.Exists(ctx, conversationID)
	if err != nil {
		h.logger.Error("conversation lookup failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return "", http.StatusInternalServerError, "Conversation validation failed"
	}
	if !exists {
		return "", http.StatusNotFound, "Conversation not found"
	}

	allowed, err := h.directory.MembersAuthorized(ctx, conversationID, userID)
	if err != nil {
		h.logger.Error("membership lookup failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return "", http.StatusInternalServerError, "Conversation validation failed"
	}
	if !allowed {
		return "", http.StatusForbidden, "Not a participant of this conversation"
	}
	return userID, http.StatusOK, ""
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// handleConnection runs the receive loop. Leave and Close run exactly once
// whichever way the connection ends: peer close, read error, router error,
// write failure, or server shutdown.
func (h *Handler) handleConnection(conn *Connection) {
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.registry.Leave(conn.ConversationID(), conn)
			_ = conn.Close()
			h.logger.Info("connection left",
				zap.String("conversation_id", conn.ConversationID()),
				zap.String("connection_id", conn.ID()),
			)
		})
	}
	defer cleanup()

	// Write failures and shutdown cancel the connection from other goroutines.
	go func() {
		<-conn.Done()
		cleanup()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("websocket read error", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if err := h.router.RouteMessage(conn.Context(), conn, data); err != nil {
			if !errors.Is(err, context.Canceled) {
				h.logger.Warn("routing failed, disconnecting", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}
	}
}
