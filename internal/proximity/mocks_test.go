package proximity

import (
	"context"
	"sync"

	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/mock"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) NearbyPointsOfInterest(ctx context.Context, lat, lng, radiusMeters float64, festivalID string) ([]types.NearbyPointOfInterest, error) {
	args := m.Called(ctx, lat, lng, radiusMeters, festivalID)
	pois, _ := args.Get(0).([]types.NearbyPointOfInterest)
	return pois, args.Error(1)
}

func (m *MockAPI) NearbyPeers(ctx context.Context, sessionID string, lat, lng, radiusMeters float64) ([]types.NearbyMember, error) {
	args := m.Called(ctx, sessionID, lat, lng, radiusMeters)
	peers, _ := args.Get(0).([]types.NearbyMember)
	return peers, args.Error(1)
}

type fakeLocation struct {
	mu  sync.Mutex
	fix *types.LocationFix
}

func (f *fakeLocation) Get() *types.LocationFix {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fix
}

type fakeSessions struct {
	mu      sync.Mutex
	session *types.SharingSession
}

func (f *fakeSessions) Session() *types.SharingSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSessions) set(s *types.SharingSession) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

type fakeSubscription struct {
	ids    []string
	events chan types.PeerLocationEvent
	once   sync.Once
	closed bool
}

func (s *fakeSubscription) Events() <-chan types.PeerLocationEvent { return s.events }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		s.closed = true
		close(s.events)
	})
	return nil
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSubscription
	err  error
}

func (f *fakeFeed) Subscribe(ctx context.Context, sessionIDs []string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSubscription{
		ids:    append([]string(nil), sessionIDs...),
		events: make(chan types.PeerLocationEvent, 8),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) last() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}
