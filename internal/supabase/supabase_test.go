package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

const testSecret = "test-secret-key-that-is-long-enough-for-testing"

func signToken(t *testing.T, claims jwt.RegisteredClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testSecret)

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC))

	c, err := NewClient(config.SupabaseConfig{
		URL:         url,
		AnonKey:     "anon-key",
		AccessToken: token,
		JWTSecret:   testSecret,
	}, WithClock(mock))
	require.NoError(t, err)
	return c
}

func TestUserIDFromToken(t *testing.T) {
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		token   string
		secret  string
		want    string
		wantErr error
	}{
		{
			name:   "verified with secret",
			token:  signToken(t, jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: future}, testSecret),
			secret: testSecret,
			want:   "user-1",
		},
		{
			name:  "decoded without secret",
			token: signToken(t, jwt.RegisteredClaims{Subject: "user-2", ExpiresAt: future}, "other-secret"),
			want:  "user-2",
		},
		{
			name:    "wrong secret",
			token:   signToken(t, jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: future}, "other-secret"),
			secret:  testSecret,
			wantErr: ErrTokenInvalid,
		},
		{
			name:    "expired",
			token:   signToken(t, jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: past}, testSecret),
			secret:  testSecret,
			wantErr: ErrTokenExpired,
		},
		{
			name:    "no subject",
			token:   signToken(t, jwt.RegisteredClaims{ExpiresAt: future}, testSecret),
			secret:  testSecret,
			wantErr: ErrTokenMissingClaim,
		},
		{
			name:    "garbage",
			token:   "not-a-token",
			wantErr: ErrTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromToken(tt.token, tt.secret)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, errors.CategoryPermission, errors.Categorize(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_RequiresURLAndKey(t *testing.T) {
	_, err := NewClient(config.SupabaseConfig{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestSessionAPI_Create(t *testing.T) {
	var sessionBody, updateBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		body, _ := io.ReadAll(r.Body)

		switch r.URL.Path {
		case "/rest/v1/sharing_sessions":
			_ = json.Unmarshal(body, &sessionBody)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"s1","user_id":"user-1","festival_id":"f1","started_at":"2026-07-01T18:00:00Z","duration_minutes":90,"active":true}]`))
		case "/rest/v1/location_updates":
			_ = json.Unmarshal(body, &updateBody)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := NewSessionAPI(newTestClient(t, srv.URL))
	fix := types.LocationFix{Latitude: 48.13, Longitude: 11.55, AccuracyMeters: 8, CapturedAt: time.Date(2026, 7, 1, 17, 59, 0, 0, time.UTC)}

	session, err := api.Create(context.Background(), "f1", 90, &fix)
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, 90, session.DurationMinutes)
	assert.True(t, session.Active)

	assert.Equal(t, "user-1", sessionBody["user_id"])
	assert.Equal(t, "f1", sessionBody["festival_id"])
	assert.Equal(t, "s1", updateBody["session_id"])
	assert.Equal(t, 48.13, updateBody["latitude"])
}

func TestSessionAPI_CreateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"42501","message":"new row violates row-level security policy"}`))
	}))
	defer srv.Close()

	api := NewSessionAPI(newTestClient(t, srv.URL))
	session, err := api.Create(context.Background(), "f1", 30, nil)
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, errors.CategoryAPI, errors.Categorize(err))
}

func TestSessionAPI_End(t *testing.T) {
	var method, query string
	var body map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		query = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	api := NewSessionAPI(newTestClient(t, srv.URL))
	require.NoError(t, api.End(context.Background(), "s1"))

	assert.Equal(t, http.MethodPatch, method)
	assert.Contains(t, query, "id=eq.s1")
	assert.Equal(t, false, body["active"])
}

func TestSessionAPI_CancelledContext(t *testing.T) {
	api := NewSessionAPI(newTestClient(t, "http://127.0.0.1:1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := api.Update(ctx, "s1", types.LocationFix{})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNetwork, errors.Categorize(err))
}

func TestProximityAPI_NearbyPointsOfInterest(t *testing.T) {
	var args map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/nearby_points_of_interest", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &args)
		_, _ = w.Write([]byte(`[
			{"id":"p1","name":"Main Stage","latitude":48.131,"longitude":11.549,"distance_meters":42.5},
			{"id":"p2","name":"Tent 7","latitude":48.132,"longitude":11.551,"distance_meters":180}
		]`))
	}))
	defer srv.Close()

	api := NewProximityAPI(newTestClient(t, srv.URL))
	points, err := api.NearbyPointsOfInterest(context.Background(), 48.13, 11.55, 500, "f1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "Main Stage", points[0].Name)
	assert.Equal(t, 42.5, points[0].DistanceMeters)
	assert.Equal(t, types.Coordinates{Lat: 48.132, Lng: 11.551}, points[1].Location)

	assert.Equal(t, "f1", args["festival_id"])
	assert.Equal(t, 500.0, args["radius_meters"])
}

func TestProximityAPI_NearbyPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/nearby_sharing_peers", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"session_id":"p1","latitude":48.1301,"longitude":11.5501,"accuracy":5,"recorded_at":"2026-07-01T18:01:00Z"},
			{"session_id":"p2","latitude":null,"longitude":null,"accuracy":null,"recorded_at":null}
		]`))
	}))
	defer srv.Close()

	api := NewProximityAPI(newTestClient(t, srv.URL))
	peers, err := api.NearbyPeers(context.Background(), "s1", 48.13, 11.55, 1000)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	require.NotNil(t, peers[0].LastLocation)
	assert.Equal(t, 48.1301, peers[0].LastLocation.Latitude)
	assert.Equal(t, time.Date(2026, 7, 1, 18, 1, 0, 0, time.UTC), peers[0].LastLocation.CapturedAt.UTC())
	assert.Nil(t, peers[1].LastLocation)
}

func TestProximityAPI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()

	api := NewProximityAPI(newTestClient(t, srv.URL))
	_, err := api.NearbyPeers(context.Background(), "s1", 48.13, 11.55, 1000)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryAPI, errors.Categorize(err))
}
