package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	apperrors "github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/middleware"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
	gin.SetMode(gin.TestMode)
}

func newTestRouter(register func(r *gin.Engine)) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	register(r)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponse {
	t.Helper()
	var resp middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

var activeSession = &types.SharingSession{
	ID:              "s1",
	FestivalID:      "f1",
	StartedAt:       time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC),
	DurationMinutes: 120,
	Active:          true,
}

func TestGetStateHandler(t *testing.T) {
	core := new(MockProximityController)
	core.On("Snapshot").Return(types.ProximitySnapshot{
		Permission:   types.PermissionBackgroundGranted,
		SessionState: types.SessionStateActive,
		Session:      activeSession,
		NearbyMembers: []types.NearbyMember{
			{SessionID: "p1"},
		},
		NearbyPointsOfInterest: []types.NearbyPointOfInterest{},
	})
	h := NewProximityHandler(core)
	r := newTestRouter(func(r *gin.Engine) { r.GET("/v1/proximity/state", h.GetStateHandler) })

	w := doJSON(r, http.MethodGet, "/v1/proximity/state", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var snap types.ProximitySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.IsSharing())
	assert.Len(t, snap.NearbyMembers, 1)
}

func TestRequestPermissionsHandler(t *testing.T) {
	core := new(MockProximityController)
	core.On("RequestPermissions", mock.Anything).Return(types.PermissionForegroundGranted)
	h := NewProximityHandler(core)
	r := newTestRouter(func(r *gin.Engine) { r.POST("/v1/permissions/request", h.RequestPermissionsHandler) })

	w := doJSON(r, http.MethodPost, "/v1/permissions/request", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"permission":"FOREGROUND_GRANTED"}`, w.Body.String())
}

func TestStartSharingHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		setup      func(core *MockProximityController)
		wantStatus int
		wantType   string
	}{
		{
			name: "started",
			body: types.StartSharingRequest{FestivalID: "f1", DurationMinutes: 120},
			setup: func(core *MockProximityController) {
				core.On("StartSharing", mock.Anything, "f1", 120).Return(true)
				core.On("Snapshot").Return(types.ProximitySnapshot{
					Permission:   types.PermissionForegroundGranted,
					SessionState: types.SessionStateActive,
					Session:      activeSession,
				})
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "refused without permission",
			body: types.StartSharingRequest{FestivalID: "f1"},
			setup: func(core *MockProximityController) {
				core.On("StartSharing", mock.Anything, "f1", 0).Return(false)
				core.On("Snapshot").Return(types.ProximitySnapshot{
					Permission:   types.PermissionDenied,
					SessionState: types.SessionStateIdle,
				})
			},
			wantStatus: http.StatusForbidden,
			wantType:   string(apperrors.PermissionError),
		},
		{
			name: "refused while transitioning",
			body: types.StartSharingRequest{FestivalID: "f1"},
			setup: func(core *MockProximityController) {
				core.On("StartSharing", mock.Anything, "f1", 0).Return(false)
				core.On("Snapshot").Return(types.ProximitySnapshot{
					Permission:   types.PermissionForegroundGranted,
					SessionState: types.SessionStateStopping,
				})
			},
			wantStatus: http.StatusConflict,
			wantType:   string(apperrors.ConflictError),
		},
		{
			name:       "duration out of range",
			body:       map[string]interface{}{"festivalId": "f1", "durationMinutes": -5},
			setup:      func(core *MockProximityController) {},
			wantStatus: http.StatusBadRequest,
			wantType:   string(apperrors.ValidationError),
		},
		{
			name:       "malformed body",
			body:       "not an object",
			setup:      func(core *MockProximityController) {},
			wantStatus: http.StatusBadRequest,
			wantType:   string(apperrors.ValidationError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := new(MockProximityController)
			tt.setup(core)
			h := NewProximityHandler(core)
			r := newTestRouter(func(r *gin.Engine) { r.POST("/v1/sessions", h.StartSharingHandler) })

			w := doJSON(r, http.MethodPost, "/v1/sessions", tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeError(t, w).Type)
				return
			}
			var s types.SharingSession
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
			assert.Equal(t, "s1", s.ID)
			core.AssertExpectations(t)
		})
	}
}

func TestStopSharingHandler(t *testing.T) {
	core := new(MockProximityController)
	core.On("StopSharing", mock.Anything).Return()
	h := NewProximityHandler(core)
	r := newTestRouter(func(r *gin.Engine) { r.DELETE("/v1/sessions/current", h.StopSharingHandler) })

	w := doJSON(r, http.MethodDelete, "/v1/sessions/current", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	core.AssertExpectations(t)
}

func TestLocalTrackingHandlers(t *testing.T) {
	t.Run("start with festival", func(t *testing.T) {
		core := new(MockProximityController)
		core.On("StartLocalTracking", mock.Anything, "f2").Return(true)
		core.On("Snapshot").Return(types.ProximitySnapshot{LocalTracking: true, FestivalID: "f2"})
		h := NewProximityHandler(core)
		r := newTestRouter(func(r *gin.Engine) { r.POST("/v1/tracking/local", h.StartLocalTrackingHandler) })

		w := doJSON(r, http.MethodPost, "/v1/tracking/local", types.LocalTrackingRequest{FestivalID: "f2"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"localTracking":true`)
	})

	t.Run("start without body uses selected festival", func(t *testing.T) {
		core := new(MockProximityController)
		core.On("StartLocalTracking", mock.Anything, "").Return(true)
		core.On("Snapshot").Return(types.ProximitySnapshot{LocalTracking: true})
		h := NewProximityHandler(core)
		r := newTestRouter(func(r *gin.Engine) { r.POST("/v1/tracking/local", h.StartLocalTrackingHandler) })

		w := doJSON(r, http.MethodPost, "/v1/tracking/local", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		core.AssertExpectations(t)
	})

	t.Run("refused while sharing", func(t *testing.T) {
		core := new(MockProximityController)
		core.On("StartLocalTracking", mock.Anything, "").Return(false)
		core.On("Snapshot").Return(types.ProximitySnapshot{
			Permission:   types.PermissionForegroundGranted,
			SessionState: types.SessionStateActive,
		})
		h := NewProximityHandler(core)
		r := newTestRouter(func(r *gin.Engine) { r.POST("/v1/tracking/local", h.StartLocalTrackingHandler) })

		w := doJSON(r, http.MethodPost, "/v1/tracking/local", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("stop", func(t *testing.T) {
		core := new(MockProximityController)
		core.On("StopLocalTracking").Return()
		h := NewProximityHandler(core)
		r := newTestRouter(func(r *gin.Engine) { r.DELETE("/v1/tracking/local", h.StopLocalTrackingHandler) })

		w := doJSON(r, http.MethodDelete, "/v1/tracking/local", nil)

		assert.Equal(t, http.StatusNoContent, w.Code)
		core.AssertExpectations(t)
	})
}

func TestSelectFestivalHandler(t *testing.T) {
	core := new(MockProximityController)
	core.On("SetFestival", "f3").Return()
	core.On("Snapshot").Return(types.ProximitySnapshot{FestivalID: "f3"})
	h := NewProximityHandler(core)
	r := newTestRouter(func(r *gin.Engine) { r.PUT("/v1/festival", h.SelectFestivalHandler) })

	w := doJSON(r, http.MethodPut, "/v1/festival", types.SelectFestivalRequest{FestivalID: "f3"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPut, "/v1/festival", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	core.AssertNumberOfCalls(t, "SetFestival", 1)
}

func TestRefreshHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"api failure", apperrors.NewAPIError("nearby_sharing_peers", 500, "boom"), http.StatusBadGateway, string(apperrors.APIError)},
		{"network failure", syscall.ECONNREFUSED, http.StatusBadGateway, string(apperrors.NetworkError)},
		{"unclassified failure", errors.New("odd"), http.StatusBadGateway, string(apperrors.APIError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := new(MockProximityController)
			core.On("RefreshNearby", mock.Anything).Return(tt.err)
			core.On("Snapshot").Return(types.ProximitySnapshot{}).Maybe()
			h := NewProximityHandler(core)
			r := newTestRouter(func(r *gin.Engine) { r.POST("/v1/proximity/refresh", h.RefreshHandler) })

			w := doJSON(r, http.MethodPost, "/v1/proximity/refresh", nil)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeError(t, w).Type)
			}
		})
	}
}
