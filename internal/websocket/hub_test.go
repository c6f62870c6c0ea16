package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func init() {
	logger.IsTest = true
	gin.SetMode(gin.TestMode)
}

// fakeSource records its listeners so tests can publish snapshots.
type fakeSource struct {
	mu        sync.Mutex
	current   types.ProximitySnapshot
	listeners map[int]func(types.ProximitySnapshot)
	next      int
}

func newFakeSource(snap types.ProximitySnapshot) *fakeSource {
	return &fakeSource{current: snap, listeners: make(map[int]func(types.ProximitySnapshot))}
}

func (f *fakeSource) Snapshot() types.ProximitySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) Subscribe(fn func(types.ProximitySnapshot)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeSource) publish(snap types.ProximitySnapshot) {
	f.mu.Lock()
	f.current = snap
	fns := make([]func(types.ProximitySnapshot), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (f *fakeSource) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) RefreshNearby(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func snapshotWith(festival string) types.ProximitySnapshot {
	return types.ProximitySnapshot{
		Permission:   types.PermissionForegroundGranted,
		SessionState: types.SessionStateIdle,
		FestivalID:   festival,
	}
}

func TestHub_RegisterQueuesCurrentSnapshot(t *testing.T) {
	source := newFakeSource(snapshotWith("f1"))
	hub := NewHub(source)

	conn := hub.Register("c1", nil)
	assert.Equal(t, 1, hub.GetConnectionCount())

	select {
	case snap := <-conn.SendChannel():
		assert.Equal(t, "f1", snap.FestivalID)
	default:
		t.Fatal("expected the current snapshot to be queued")
	}
}

func TestHub_StartSubscribesOnce(t *testing.T) {
	source := newFakeSource(snapshotWith("f1"))
	hub := NewHub(source)

	hub.Start()
	hub.Start()
	assert.Equal(t, 1, source.listenerCount())

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, 0, source.listenerCount())
}

func TestHub_BroadcastKeepsLatestForSlowClient(t *testing.T) {
	source := newFakeSource(snapshotWith("f0"))
	hub := NewHub(source, HubConfig{PingInterval: time.Second, WriteTimeout: time.Second, SendBuffer: 1})
	hub.Start()

	conn := hub.Register("c1", nil)
	source.publish(snapshotWith("f1"))
	source.publish(snapshotWith("f2"))

	snap := <-conn.SendChannel()
	assert.Equal(t, "f2", snap.FestivalID)
}

func TestHub_RegisterReplacesExisting(t *testing.T) {
	hub := NewHub(newFakeSource(snapshotWith("f1")))

	first := hub.Register("c1", nil)
	second := hub.Register("c1", nil)

	assert.True(t, first.IsClosed())
	assert.False(t, second.IsClosed())
	assert.Equal(t, 1, hub.GetConnectionCount())
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(newFakeSource(snapshotWith("f1")))
	conn := hub.Register("c1", nil)
	<-conn.SendChannel()

	hub.Unregister("c1")
	hub.Unregister("c1")

	_, ok := <-conn.SendChannel()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.GetConnectionCount())
}

func TestDefaultHubConfig(t *testing.T) {
	cfg := DefaultHubConfig()

	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 8, cfg.SendBuffer)
}

func streamServer(t *testing.T, source *fakeSource, refresher Refresher) (*Hub, string) {
	t.Helper()
	hub := NewHub(source)
	hub.Start()
	handler := NewHandler(hub, &config.ServerConfig{Environment: config.EnvDevelopment}, refresher)

	r := gin.New()
	r.GET("/v1/proximity/ws", handler.HandleStream)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		_ = hub.Shutdown(context.Background())
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/proximity/ws"
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) ServerMessage {
	t.Helper()
	var msg ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestHandler_StreamsSnapshots(t *testing.T) {
	source := newFakeSource(snapshotWith("f1"))
	_, url := streamServer(t, source, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	assert.Equal(t, MessageTypeConnected, readMessage(t, ctx, conn).Type)
	assert.Equal(t, MessageTypeSnapshot, readMessage(t, ctx, conn).Type)

	source.publish(snapshotWith("f2"))
	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "f2", payload["festivalId"])
}

func TestHandler_ClientMessages(t *testing.T) {
	refresher := new(MockRefresher)
	refresher.On("RefreshNearby", mock.Anything).Return(errors.New("no fix")).Once()

	source := newFakeSource(snapshotWith("f1"))
	_, url := streamServer(t, source, refresher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readMessage(t, ctx, conn)
	readMessage(t, ctx, conn)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, ctx, conn).Type)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: MessageTypeRefresh}))
	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, "no fix", msg.Error)
	refresher.AssertExpectations(t)
}
