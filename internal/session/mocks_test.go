package session

import (
	"context"
	"sync"

	"github.com/NomadCrew/nomad-crew-proximity/services"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/mock"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Create(ctx context.Context, festivalID string, durationMinutes int, initialFix *types.LocationFix) (*types.SharingSession, error) {
	args := m.Called(ctx, festivalID, durationMinutes, initialFix)
	s, _ := args.Get(0).(*types.SharingSession)
	return s, args.Error(1)
}

func (m *MockAPI) Update(ctx context.Context, sessionID string, fix types.LocationFix) error {
	args := m.Called(ctx, sessionID, fix)
	return args.Error(0)
}

func (m *MockAPI) End(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SharingStarted(ctx context.Context, userID string, session types.SharingSession) error {
	args := m.Called(ctx, userID, session)
	return args.Error(0)
}

type staticPermissions struct {
	mu    sync.Mutex
	state types.PermissionState
}

func (p *staticPermissions) State() types.PermissionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// inlineSubmitter runs jobs on the submitting goroutine.
type inlineSubmitter struct {
	mu     sync.Mutex
	jobs   []string
	refuse bool
}

func (s *inlineSubmitter) Submit(job services.Job) bool {
	s.mu.Lock()
	if s.refuse {
		s.mu.Unlock()
		return false
	}
	s.jobs = append(s.jobs, job.Name)
	s.mu.Unlock()
	_ = job.Execute(context.Background())
	return true
}

func (s *inlineSubmitter) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.jobs...)
}

// stoppingPermissions grants everything and runs stop from inside the
// stopAt-th State call, the way a StopSharing racing a start lands.
type stoppingPermissions struct {
	mu     sync.Mutex
	calls  int
	stopAt int
	stop   func()
}

func (p *stoppingPermissions) State() types.PermissionState {
	p.mu.Lock()
	p.calls++
	fire := p.calls == p.stopAt && p.stop != nil
	p.mu.Unlock()
	if fire {
		p.stop()
	}
	return types.PermissionBackgroundGranted
}
