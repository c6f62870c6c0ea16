package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/go-redis/redismock/v9"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHealthService(t *testing.T) {
	service := NewHealthService(nil, nil, "1.0.0")

	assert.NotNil(t, service)
	assert.Equal(t, "1.0.0", service.version)
	assert.NotNil(t, service.log)
	assert.True(t, time.Since(service.startTime) < time.Second)
}

func TestHealthService_CheckHealth(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(pgxmock.PgxPoolIface, redismock.ClientMock)
		expectedStatus types.HealthStatus
		expectedComps  map[string]types.HealthStatus
	}{
		{
			name: "All services healthy",
			setupMocks: func(dbMock pgxmock.PgxPoolIface, redisMock redismock.ClientMock) {
				dbMock.ExpectPing()
				redisMock.ExpectPing().SetVal("PONG")
			},
			expectedStatus: types.HealthStatusUp,
			expectedComps: map[string]types.HealthStatus{
				"database": types.HealthStatusUp,
				"redis":    types.HealthStatusUp,
			},
		},
		{
			name: "Database down, Redis up",
			setupMocks: func(dbMock pgxmock.PgxPoolIface, redisMock redismock.ClientMock) {
				dbMock.ExpectPing().WillReturnError(errors.New("connection refused"))
				redisMock.ExpectPing().SetVal("PONG")
			},
			expectedStatus: types.HealthStatusDown,
			expectedComps: map[string]types.HealthStatus{
				"database": types.HealthStatusDown,
				"redis":    types.HealthStatusUp,
			},
		},
		{
			name: "Redis unreachable degrades",
			setupMocks: func(dbMock pgxmock.PgxPoolIface, redisMock redismock.ClientMock) {
				dbMock.ExpectPing()
				redisMock.ExpectPing().SetErr(errors.New("connection refused"))
			},
			expectedStatus: types.HealthStatusDegraded,
			expectedComps: map[string]types.HealthStatus{
				"database": types.HealthStatusUp,
				"redis":    types.HealthStatusDegraded,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbMock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer dbMock.Close()
			redisClient, redisMock := redismock.NewClientMock()

			tt.setupMocks(dbMock, redisMock)

			service := NewHealthService(dbMock, redisClient, "1.0.0")
			result := service.CheckHealth(context.Background())

			assert.Equal(t, tt.expectedStatus, result.Status)
			assert.Equal(t, "1.0.0", result.Version)
			for comp, status := range tt.expectedComps {
				assert.Equal(t, status, result.Components[comp].Status, comp)
			}
			assert.NoError(t, dbMock.ExpectationsWereMet())
			assert.NoError(t, redisMock.ExpectationsWereMet())
		})
	}
}

func TestHealthService_NoStoresReportsSession(t *testing.T) {
	service := NewHealthService(nil, nil, "dev")
	service.SetSessionStateGetter(func() types.SessionState { return types.SessionStateActive })

	result := service.CheckHealth(context.Background())

	assert.Equal(t, types.HealthStatusUp, result.Status)
	assert.Empty(t, result.Components)
	assert.Equal(t, types.SessionStateActive, result.SessionState)
	_, err := time.Parse(time.RFC3339, result.Timestamp)
	assert.NoError(t, err)
}
