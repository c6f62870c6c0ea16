package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		name           string
		err            error
		ginErrorType   gin.ErrorType
		expectedStatus int
		expectedType   string
		expectedDetail string
	}{
		{
			name:           "validation error keeps details",
			err:            apperrors.ValidationFailed("invalid_request", "festivalId missing"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   string(apperrors.ValidationError),
			expectedDetail: "festivalId missing",
		},
		{
			name:           "permission error",
			err:            apperrors.PermissionDenied("DENIED"),
			expectedStatus: http.StatusForbidden,
			expectedType:   string(apperrors.PermissionError),
			expectedDetail: "DENIED",
		},
		{
			name:           "conflict error",
			err:            apperrors.NewConflictError("sharing not started", "session state STARTING"),
			expectedStatus: http.StatusConflict,
			expectedType:   string(apperrors.ConflictError),
			expectedDetail: "session state STARTING",
		},
		{
			name:           "api error hides details",
			err:            apperrors.NewAPIError("create_session", 503, "upstream body"),
			expectedStatus: http.StatusBadGateway,
			expectedType:   string(apperrors.APIError),
		},
		{
			name:           "wrapped app error",
			err:            fmt.Errorf("refresh: %w", apperrors.NotFound("session", "s1")),
			expectedStatus: http.StatusNotFound,
			expectedType:   string(apperrors.NotFoundError),
			expectedDetail: "ID: s1",
		},
		{
			name:           "bind error",
			err:            errors.New("json: cannot unmarshal"),
			ginErrorType:   gin.ErrorTypeBind,
			expectedStatus: http.StatusBadRequest,
			expectedType:   string(apperrors.ValidationError),
		},
		{
			name:           "plain error",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   string(apperrors.ServerError),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestIDMiddleware())
			r.Use(ErrorHandler())
			r.GET("/test", func(c *gin.Context) {
				ginErr := c.Error(tc.err)
				if tc.ginErrorType != 0 {
					ginErr.Type = tc.ginErrorType
				}
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			require.Equal(t, tc.expectedStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.expectedType, body.Type)
			assert.Equal(t, fmt.Sprint(tc.expectedStatus), body.Code)
			assert.Equal(t, tc.expectedDetail, body.Details)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestErrorHandler_ResponseAlreadyWritten(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
