// Package websocket streams proximity snapshots to local clients over
// nhooyr websockets.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// SnapshotSource is the part of the orchestrator the hub reads from.
type SnapshotSource interface {
	Snapshot() types.ProximitySnapshot
	Subscribe(fn func(types.ProximitySnapshot)) (unsubscribe func())
}

// Hub fans every published snapshot out to the connected clients.
// It holds a single subscription on the source regardless of how many
// clients are connected.
type Hub struct {
	log          *zap.SugaredLogger
	source       SnapshotSource
	connections  map[string]*Connection
	mu           sync.RWMutex
	unsubscribe  func()
	shutdownOnce sync.Once
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
}

// Connection is one streaming client.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	sendCh chan types.ProximitySnapshot
	mu     sync.Mutex
	closed bool
}

// HubConfig contains configuration options for the Hub.
type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultHubConfig returns sensible defaults for Hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   8,
	}
}

// NewHub creates a hub reading from source. Start must be called before
// clients receive updates.
func NewHub(source SnapshotSource, cfg ...HubConfig) *Hub {
	config := DefaultHubConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 1
	}

	return &Hub{
		log:          logger.GetLogger().Named("websocket_hub"),
		source:       source,
		connections:  make(map[string]*Connection),
		sendBuffer:   config.SendBuffer,
		pingInterval: config.PingInterval,
		writeTimeout: config.WriteTimeout,
	}
}

// Start subscribes to the snapshot source. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsubscribe != nil {
		return
	}
	h.unsubscribe = h.source.Subscribe(h.broadcast)
}

// Register adds a client. The current snapshot is queued right away so a
// new client never waits for the next change.
func (h *Hub) Register(id string, conn *websocket.Conn) *Connection {
	connection := &Connection{
		ID:     id,
		Conn:   conn,
		sendCh: make(chan types.ProximitySnapshot, h.sendBuffer),
	}

	h.mu.Lock()
	existing := h.connections[id]
	h.connections[id] = connection
	h.mu.Unlock()

	if existing != nil {
		h.closeConnection(existing, "replaced by new connection")
	}

	connection.offer(h.source.Snapshot())
	h.log.Infow("Snapshot stream registered", "connectionID", id)
	return connection
}

// Unregister removes a client.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	conn, ok := h.connections[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, id)
	h.mu.Unlock()

	h.closeConnection(conn, "unregistered")
}

func (h *Hub) broadcast(snap types.ProximitySnapshot) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.offer(snap) {
			h.log.Debugw("Dropped stale snapshot for slow client", "connectionID", c.ID)
		}
	}
}

// offer queues snap without blocking. When the buffer is full the oldest
// queued snapshot is dropped; it reports false in that case.
func (c *Connection) offer(snap types.ProximitySnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.sendCh <- snap:
		return true
	default:
	}
	select {
	case <-c.sendCh:
	default:
	}
	select {
	case c.sendCh <- snap:
	default:
	}
	return false
}

func (h *Hub) closeConnection(conn *Connection, reason string) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	close(conn.sendCh)
	conn.mu.Unlock()

	if conn.Conn != nil {
		_ = conn.Conn.Close(websocket.StatusNormalClosure, reason)
	}

	h.log.Infow("Snapshot stream closed",
		"connectionID", conn.ID,
		"reason", reason)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown drops the source subscription and closes every client.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		unsubscribe := h.unsubscribe
		h.unsubscribe = nil
		connections := make([]*Connection, 0, len(h.connections))
		for _, conn := range h.connections {
			connections = append(connections, conn)
		}
		h.connections = make(map[string]*Connection)
		h.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		for _, conn := range connections {
			h.closeConnection(conn, "server shutdown")
		}
	})

	h.log.Info("Snapshot hub shutdown complete")
	return nil
}

// SendChannel returns the queue of snapshots waiting to be written.
func (c *Connection) SendChannel() <-chan types.ProximitySnapshot {
	return c.sendCh
}

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
