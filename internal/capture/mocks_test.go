package capture

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/internal/device"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/mock"
)

type MockBackgroundUpdates struct {
	mock.Mock
	handler device.TaskHandler
}

func (m *MockBackgroundUpdates) Register(taskName string, handler device.TaskHandler) error {
	m.handler = handler
	args := m.Called(taskName)
	return args.Error(0)
}

func (m *MockBackgroundUpdates) Start(ctx context.Context, taskName string, opts types.BackgroundUpdateOptions) error {
	args := m.Called(ctx, taskName, opts)
	return args.Error(0)
}

func (m *MockBackgroundUpdates) Stop(ctx context.Context, taskName string) error {
	args := m.Called(ctx, taskName)
	return args.Error(0)
}

func (m *MockBackgroundUpdates) HasStarted(ctx context.Context, taskName string) (bool, error) {
	args := m.Called(ctx, taskName)
	return args.Bool(0), args.Error(1)
}

type fakeSubscription struct {
	removed int
}

func (s *fakeSubscription) Remove() { s.removed++ }

type MockLocationProvider struct {
	mock.Mock
	callbacks []func(types.LocationFix)
}

func (m *MockLocationProvider) CurrentFix(ctx context.Context, accuracy types.LocationAccuracy) (*types.LocationFix, error) {
	args := m.Called(ctx, accuracy)
	fix, _ := args.Get(0).(*types.LocationFix)
	return fix, args.Error(1)
}

func (m *MockLocationProvider) Watch(ctx context.Context, opts types.WatchOptions, fn func(types.LocationFix)) (device.Subscription, error) {
	m.callbacks = append(m.callbacks, fn)
	args := m.Called(ctx, opts)
	sub, _ := args.Get(0).(device.Subscription)
	return sub, args.Error(1)
}
