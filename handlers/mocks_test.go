package handlers

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/mock"
)

// MockProximityController is the canonical orchestrator mock for handler tests.
type MockProximityController struct {
	mock.Mock
}

var _ ProximityController = (*MockProximityController)(nil)

func (m *MockProximityController) Snapshot() types.ProximitySnapshot {
	return m.Called().Get(0).(types.ProximitySnapshot)
}

func (m *MockProximityController) RequestPermissions(ctx context.Context) types.PermissionState {
	return m.Called(ctx).Get(0).(types.PermissionState)
}

func (m *MockProximityController) StartSharing(ctx context.Context, festivalID string, durationMinutes int) bool {
	return m.Called(ctx, festivalID, durationMinutes).Bool(0)
}

func (m *MockProximityController) StopSharing(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockProximityController) StartLocalTracking(ctx context.Context, festivalID string) bool {
	return m.Called(ctx, festivalID).Bool(0)
}

func (m *MockProximityController) StopLocalTracking() {
	m.Called()
}

func (m *MockProximityController) SetFestival(id string) {
	m.Called(id)
}

func (m *MockProximityController) RefreshNearby(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockDeviceBridge struct {
	mock.Mock
}

var _ DeviceBridge = (*MockDeviceBridge)(nil)

func (m *MockDeviceBridge) SetPermissions(foreground, background types.AuthorizationStatus) {
	m.Called(foreground, background)
}

func (m *MockDeviceBridge) PushFixes(ctx context.Context, fixes []types.LocationFix) int {
	return m.Called(ctx, fixes).Int(0)
}

type MockPermissionReconciler struct {
	mock.Mock
}

func (m *MockPermissionReconciler) Reconcile(ctx context.Context) types.PermissionState {
	return m.Called(ctx).Get(0).(types.PermissionState)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) CheckHealth(ctx context.Context) types.HealthCheck {
	return m.Called(ctx).Get(0).(types.HealthCheck)
}
