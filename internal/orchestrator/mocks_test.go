package orchestrator

import (
	"context"
	"sync"

	"github.com/NomadCrew/nomad-crew-proximity/internal/proximity"
	"github.com/NomadCrew/nomad-crew-proximity/services"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/mock"
)

type MockSessionAPI struct {
	mock.Mock
}

func (m *MockSessionAPI) Create(ctx context.Context, festivalID string, durationMinutes int, initialFix *types.LocationFix) (*types.SharingSession, error) {
	args := m.Called(ctx, festivalID, durationMinutes, initialFix)
	s, _ := args.Get(0).(*types.SharingSession)
	return s, args.Error(1)
}

func (m *MockSessionAPI) Update(ctx context.Context, sessionID string, fix types.LocationFix) error {
	args := m.Called(ctx, sessionID, fix)
	return args.Error(0)
}

func (m *MockSessionAPI) End(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type MockProximityAPI struct {
	mock.Mock
}

func (m *MockProximityAPI) NearbyPointsOfInterest(ctx context.Context, lat, lng, radiusMeters float64, festivalID string) ([]types.NearbyPointOfInterest, error) {
	args := m.Called(ctx, lat, lng, radiusMeters, festivalID)
	pois, _ := args.Get(0).([]types.NearbyPointOfInterest)
	return pois, args.Error(1)
}

func (m *MockProximityAPI) NearbyPeers(ctx context.Context, sessionID string, lat, lng, radiusMeters float64) ([]types.NearbyMember, error) {
	args := m.Called(ctx, sessionID, lat, lng, radiusMeters)
	peers, _ := args.Get(0).([]types.NearbyMember)
	return peers, args.Error(1)
}

type inlineSubmitter struct{}

func (inlineSubmitter) Submit(job services.Job) bool {
	_ = job.Execute(context.Background())
	return true
}

type nopSubscription struct {
	events chan types.PeerLocationEvent
	once   sync.Once
}

func (s *nopSubscription) Events() <-chan types.PeerLocationEvent { return s.events }

func (s *nopSubscription) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type countingFeed struct {
	mu   sync.Mutex
	sets [][]string
}

func (f *countingFeed) Subscribe(ctx context.Context, sessionIDs []string) (proximity.Subscription, error) {
	f.mu.Lock()
	f.sets = append(f.sets, append([]string(nil), sessionIDs...))
	f.mu.Unlock()
	return &nopSubscription{events: make(chan types.PeerLocationEvent)}, nil
}

func (f *countingFeed) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}
