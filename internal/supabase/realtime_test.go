package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// realtimeServer accepts one socket, answers the join with status and then
// pushes the given frames.
func realtimeServer(t *testing.T, status string, frames []map[string]interface{}, joins chan<- incomingMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != realtimePath || r.URL.Query().Get("apikey") != "anon-key" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		var join incomingMessage
		if err := wsjson.Read(ctx, conn, &join); err != nil {
			return
		}
		joins <- join

		reply := map[string]interface{}{
			"topic":   join.Topic,
			"event":   eventReply,
			"payload": map[string]interface{}{"status": status, "response": map[string]interface{}{}},
			"ref":     join.Ref,
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			return
		}
		for _, frame := range frames {
			frame["topic"] = join.Topic
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
}

func insertFrame(sessionID string, lat float64) map[string]interface{} {
	return map[string]interface{}{
		"event": eventPostgresChanges,
		"payload": map[string]interface{}{
			"data": map[string]interface{}{
				"type":  "INSERT",
				"table": locationUpdatesTable,
				"record": map[string]interface{}{
					"session_id":  sessionID,
					"latitude":    lat,
					"longitude":   11.55,
					"accuracy":    6,
					"recorded_at": "2026-07-01T18:05:00Z",
				},
			},
		},
		"ref": nil,
	}
}

func TestFeed_SubscribeDeliversInserts(t *testing.T) {
	joins := make(chan incomingMessage, 1)
	srv := realtimeServer(t, "ok", []map[string]interface{}{
		{"event": "presence_state", "payload": map[string]interface{}{}, "ref": nil},
		insertFrame("p1", 48.1302),
	}, joins)
	defer srv.Close()

	feed := NewFeed(newTestClient(t, srv.URL))
	sub, err := feed.Subscribe(context.Background(), []string{"p2", "p1"})
	require.NoError(t, err)

	join := <-joins
	assert.Equal(t, eventJoin, join.Event)
	var payload struct {
		Config struct {
			PostgresChanges []map[string]string `json:"postgres_changes"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	require.Len(t, payload.Config.PostgresChanges, 1)
	assert.Equal(t, "session_id=in.(p1,p2)", payload.Config.PostgresChanges[0]["filter"])
	assert.Equal(t, locationUpdatesTable, payload.Config.PostgresChanges[0]["table"])

	select {
	case event := <-sub.Events():
		assert.Equal(t, "p1", event.SessionID)
		assert.Equal(t, 48.1302, event.Latitude)
		assert.Equal(t, time.Date(2026, 7, 1, 18, 5, 0, 0, time.UTC), event.RecordedAt.UTC())
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestFeed_JoinRejected(t *testing.T) {
	joins := make(chan incomingMessage, 1)
	srv := realtimeServer(t, "error", nil, joins)
	defer srv.Close()

	feed := NewFeed(newTestClient(t, srv.URL))
	sub, err := feed.Subscribe(context.Background(), []string{"p1"})
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, errors.CategoryAPI, errors.Categorize(err))
}

func TestFeed_RequiresSessions(t *testing.T) {
	feed := NewFeed(newTestClient(t, "http://127.0.0.1:1"))
	_, err := feed.Subscribe(context.Background(), nil)
	assert.Error(t, err)
}

func TestFeed_Endpoint(t *testing.T) {
	feed := NewFeed(newTestClient(t, "https://project.supabase.co"))
	endpoint, err := feed.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://project.supabase.co/realtime/v1/websocket?apikey=anon-key&vsn=1.0.0", endpoint)
}
