package permission

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/mock"
)

type MockPermissionProvider struct {
	mock.Mock
}

func (m *MockPermissionProvider) ForegroundStatus(ctx context.Context) (types.AuthorizationStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AuthorizationStatus), args.Error(1)
}

func (m *MockPermissionProvider) BackgroundStatus(ctx context.Context) (types.AuthorizationStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AuthorizationStatus), args.Error(1)
}

func (m *MockPermissionProvider) RequestForeground(ctx context.Context) (types.AuthorizationStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AuthorizationStatus), args.Error(1)
}

func (m *MockPermissionProvider) RequestBackground(ctx context.Context) (types.AuthorizationStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AuthorizationStatus), args.Error(1)
}
