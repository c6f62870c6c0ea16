package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/internal/proximity"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenTimeout        = 10 * time.Second
	listenerPingInterval = 90 * time.Second
	notifyBufferSize     = 64
)

// NotifyFeed delivers location_updates inserts published by the
// notify_location_update trigger.
type NotifyFeed struct {
	dsn     string
	channel string
	log     *zap.SugaredLogger
}

var _ proximity.Feed = (*NotifyFeed)(nil)

func NewNotifyFeed(dsn, channel string) *NotifyFeed {
	return &NotifyFeed{
		dsn:     dsn,
		channel: channel,
		log:     logger.GetLogger().Named("postgres_notify"),
	}
}

// Subscribe opens a dedicated listener connection. Notifications for
// sessions outside sessionIDs are dropped.
func (f *NotifyFeed) Subscribe(ctx context.Context, sessionIDs []string) (proximity.Subscription, error) {
	if len(sessionIDs) == 0 {
		return nil, errors.ValidationFailed("invalid subscription", "no session ids")
	}

	listener := pq.NewListener(f.dsn, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				f.log.Warnw("Listener connection event", "event", ev, "error", err)
			}
		})

	// Listen blocks while the connection is down; bound it.
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- listener.Listen(f.channel)
	}()
	select {
	case err := <-listenErr:
		if err != nil {
			_ = listener.Close()
			return nil, errors.Wrap(err, errors.NetworkError, "listen")
		}
	case <-time.After(listenTimeout):
		_ = listener.Close()
		return nil, errors.New(errors.NetworkError, "listen", "timed out waiting for database")
	case <-ctx.Done():
		_ = listener.Close()
		return nil, errors.Wrap(ctx.Err(), errors.NetworkError, "listen")
	}

	tracked := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		tracked[id] = struct{}{}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &notifySubscription{
		listener: listener,
		tracked:  tracked,
		events:   make(chan types.PeerLocationEvent, notifyBufferSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      f.log,
	}
	go sub.loop(subCtx)

	f.log.Infow("Listening for location updates", "channel", f.channel, "sessions", len(sessionIDs))
	return sub, nil
}

type notifyPayload struct {
	SessionID  string    `json:"session_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

// decodeNotification parses a trigger payload and keeps it only when it
// belongs to a tracked session.
func decodeNotification(extra string, tracked map[string]struct{}) (types.PeerLocationEvent, bool) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(extra), &p); err != nil {
		return types.PeerLocationEvent{}, false
	}
	if _, ok := tracked[p.SessionID]; !ok {
		return types.PeerLocationEvent{}, false
	}
	return types.PeerLocationEvent{
		SessionID:  p.SessionID,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Accuracy:   p.Accuracy,
		RecordedAt: p.RecordedAt,
	}, true
}

type notifySubscription struct {
	listener *pq.Listener
	tracked  map[string]struct{}
	events   chan types.PeerLocationEvent
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	log      *zap.SugaredLogger
}

func (s *notifySubscription) Events() <-chan types.PeerLocationEvent {
	return s.events
}

func (s *notifySubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *notifySubscription) loop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer func() {
		if err := s.listener.Close(); err != nil {
			s.log.Debugw("Listener close failed", "error", err)
		}
	}()

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.listener.Notify:
			// nil after a reconnect; inserts made meanwhile are lost and the
			// next periodic refresh covers them.
			if n == nil {
				continue
			}
			event, ok := decodeNotification(n.Extra, s.tracked)
			if !ok {
				continue
			}
			select {
			case s.events <- event:
			default:
				s.log.Warnw("Notification buffer full, dropping event",
					"session_id", logger.MaskID(event.SessionID))
			}
		case <-ping.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.log.Warnw("Listener ping failed", "error", err)
				}
			}()
		}
	}
}
