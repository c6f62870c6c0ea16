package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Refresher runs a one-shot nearby query on client request.
type Refresher interface {
	RefreshNearby(ctx context.Context) error
}

// Handler upgrades requests to snapshot streams.
type Handler struct {
	log            *zap.SugaredLogger
	hub            *Hub
	refresher      Refresher
	pingInterval   time.Duration
	writeTimeout   time.Duration
	allowedOrigins []string
	isDevelopment  bool
}

// NewHandler creates a stream handler. refresher may be nil, in which case
// "refresh" messages are answered with an error.
func NewHandler(hub *Hub, serverCfg *config.ServerConfig, refresher Refresher) *Handler {
	return &Handler{
		log:            logger.GetLogger().Named("websocket_handler"),
		hub:            hub,
		refresher:      refresher,
		pingInterval:   hub.pingInterval,
		writeTimeout:   hub.writeTimeout,
		allowedOrigins: serverCfg.AllowedOrigins,
		isDevelopment:  serverCfg.Environment == config.EnvDevelopment,
	}
}

// getAcceptOptions allows every origin in development and only the
// configured ones otherwise.
func (h *Handler) getAcceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}

	if h.isDevelopment || containsWildcard(h.allowedOrigins) {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}

	return opts
}

// ClientMessage represents a message from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Message types
const (
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeRefresh   = "refresh"
	MessageTypeSnapshot  = "snapshot"
	MessageTypeConnected = "connected"
	MessageTypeError     = "error"
)

// HandleStream godoc
// @Summary Stream proximity snapshots
// @Description Upgrades to a websocket that receives a "snapshot" message on every state change. Clients may send "ping" or "refresh".
// @Tags proximity
// @Success 101 {string} string "Switching Protocols"
// @Router /v1/proximity/ws [get]
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, h.getAcceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept WebSocket connection", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	id := uuid.NewString()
	connection := h.hub.Register(id, conn)
	defer h.hub.Unregister(id)

	if err := h.sendMessage(ctx, conn, ServerMessage{
		Type:    MessageTypeConnected,
		Payload: map[string]string{"connectionId": id},
	}); err != nil {
		h.log.Errorw("Failed to send connected message", "connectionID", id, "error", err)
		return
	}

	errCh := make(chan error, 3)
	go func() { errCh <- h.readLoop(ctx, conn) }()
	go func() { errCh <- h.writeLoop(ctx, conn, connection) }()
	go func() { errCh <- h.pingLoop(ctx, conn) }()

	err = <-errCh
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
		h.log.Warnw("WebSocket connection error", "connectionID", id, "error", err)
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		h.handleClientMessage(ctx, conn, msg)
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connection *Connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-connection.SendChannel():
			if !ok {
				return nil
			}
			if err := h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypeSnapshot, Payload: snap}); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *Handler) handleClientMessage(ctx context.Context, conn *websocket.Conn, msg ClientMessage) {
	switch msg.Type {
	case MessageTypePing:
		_ = h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypePong})

	case MessageTypeRefresh:
		if h.refresher == nil {
			_ = h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypeError, Error: "refresh not available"})
			return
		}
		// The new snapshot arrives through the hub.
		if err := h.refresher.RefreshNearby(ctx); err != nil {
			_ = h.sendMessage(ctx, conn, ServerMessage{Type: MessageTypeError, Error: err.Error()})
		}

	default:
		h.log.Debugw("Unknown message type from client", "type", msg.Type)
	}
}

func (h *Handler) sendMessage(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
