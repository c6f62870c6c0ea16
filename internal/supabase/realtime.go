package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/internal/proximity"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	realtimePath      = "/realtime/v1/websocket"
	heartbeatInterval = 25 * time.Second
	joinTimeout       = 10 * time.Second
	eventBufferSize   = 64
	readLimitBytes    = 1 << 20
)

// Phoenix channel events used by Supabase Realtime.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
)

type outgoingMessage struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
}

type incomingMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type   string            `json:"type"`
		Table  string            `json:"table"`
		Record locationUpdateRow `json:"record"`
	} `json:"data"`
}

// Feed subscribes to location_updates inserts through Supabase Realtime.
type Feed struct {
	client *Client
	log    *zap.SugaredLogger
}

var _ proximity.Feed = (*Feed)(nil)

func NewFeed(client *Client) *Feed {
	return &Feed{
		client: client,
		log:    logger.GetLogger().Named("supabase_realtime"),
	}
}

// Subscribe joins one channel filtered to sessionIDs and waits for the join
// to be acknowledged.
func (f *Feed) Subscribe(ctx context.Context, sessionIDs []string) (proximity.Subscription, error) {
	if len(sessionIDs) == 0 {
		return nil, errors.ValidationFailed("invalid subscription", "no session ids")
	}

	endpoint, err := f.endpoint()
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	joinCtx, joinCancel := context.WithTimeout(subCtx, joinTimeout)
	defer joinCancel()

	conn, _, err := websocket.Dial(joinCtx, endpoint, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, errors.NetworkError, "realtime dial")
	}
	conn.SetReadLimit(readLimitBytes)

	sub := &realtimeSubscription{
		conn:   conn,
		topic:  "realtime:proximity-" + uuid.NewString(),
		events: make(chan types.PeerLocationEvent, eventBufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    f.log,
	}

	if err := sub.join(joinCtx, f.client.accessToken, sessionIDs); err != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "join failed")
		return nil, err
	}

	go sub.readLoop(subCtx)
	go sub.heartbeatLoop(subCtx)

	f.log.Infow("Realtime subscription joined", "topic", sub.topic, "sessions", len(sessionIDs))
	return sub, nil
}

func (f *Feed) endpoint() (string, error) {
	u, err := url.Parse(f.client.baseURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ValidationError, "invalid supabase url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + realtimePath
	q := u.Query()
	q.Set("apikey", f.client.anonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sessionFilter renders a PostgREST in-filter on session_id.
func sessionFilter(sessionIDs []string) string {
	ids := append([]string(nil), sessionIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("session_id=in.(%s)", strings.Join(ids, ","))
}

type realtimeSubscription struct {
	conn    *websocket.Conn
	topic   string
	events  chan types.PeerLocationEvent
	cancel  context.CancelFunc
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
	log     *zap.SugaredLogger
}

func (s *realtimeSubscription) Events() <-chan types.PeerLocationEvent {
	return s.events
}

// Close leaves the channel and closes the socket. Safe to call repeatedly.
func (s *realtimeSubscription) Close() error {
	s.once.Do(func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.write(leaveCtx, outgoingMessage{Topic: s.topic, Event: eventLeave, Payload: struct{}{}, Ref: uuid.NewString()})
		cancel()

		s.cancel()
		// The socket may already be gone once the read loop saw the cancel.
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		<-s.done
	})
	return nil
}

func (s *realtimeSubscription) write(ctx context.Context, msg outgoingMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, msg)
}

func (s *realtimeSubscription) join(ctx context.Context, accessToken string, sessionIDs []string) error {
	ref := uuid.NewString()
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": []map[string]string{{
				"event":  "INSERT",
				"schema": "public",
				"table":  locationUpdatesTable,
				"filter": sessionFilter(sessionIDs),
			}},
		},
		"access_token": accessToken,
	}
	if err := s.write(ctx, outgoingMessage{Topic: s.topic, Event: eventJoin, Payload: payload, Ref: ref}); err != nil {
		return errors.Wrap(err, errors.NetworkError, "realtime join")
	}

	for {
		var msg incomingMessage
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			return errors.Wrap(err, errors.NetworkError, "realtime join")
		}
		if msg.Event != eventReply || msg.Ref == nil || *msg.Ref != ref {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return errors.Wrap(err, errors.APIError, "realtime join")
		}
		if reply.Status != "ok" {
			return errors.NewAPIError("realtime join", 0, string(reply.Response))
		}
		return nil
	}
}

// readLoop owns the events channel and closes it on exit.
func (s *realtimeSubscription) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		var msg incomingMessage
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			if ctx.Err() == nil {
				s.log.Warnw("Realtime connection lost", "topic", s.topic, "error", err)
				s.cancel()
			}
			return
		}

		switch msg.Event {
		case eventPostgresChanges:
			event, ok := s.decodeChange(msg.Payload)
			if !ok {
				continue
			}
			select {
			case s.events <- event:
			default:
				s.log.Warnw("Realtime event buffer full, dropping event",
					"session_id", logger.MaskID(event.SessionID))
			}
		case eventError, eventClose:
			if msg.Topic == s.topic {
				s.log.Warnw("Realtime channel closed by server", "topic", s.topic, "event", msg.Event)
				s.cancel()
				return
			}
		}
	}
}

func (s *realtimeSubscription) decodeChange(raw json.RawMessage) (types.PeerLocationEvent, bool) {
	var change changePayload
	if err := json.Unmarshal(raw, &change); err != nil {
		s.log.Warnw("Failed to decode realtime change", "error", err)
		return types.PeerLocationEvent{}, false
	}
	if change.Data.Type != "INSERT" || change.Data.Table != locationUpdatesTable {
		return types.PeerLocationEvent{}, false
	}
	rec := change.Data.Record
	if rec.SessionID == "" {
		return types.PeerLocationEvent{}, false
	}
	return types.PeerLocationEvent{
		SessionID:  rec.SessionID,
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
		Accuracy:   rec.Accuracy,
		RecordedAt: rec.RecordedAt,
	}, true
}

func (s *realtimeSubscription) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := outgoingMessage{Topic: "phoenix", Event: eventHeartbeat, Payload: struct{}{}, Ref: uuid.NewString()}
			if err := s.write(ctx, msg); err != nil {
				if ctx.Err() == nil {
					s.log.Warnw("Realtime heartbeat failed", "error", err)
				}
				return
			}
		}
	}
}
