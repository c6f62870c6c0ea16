package proximity

import (
	"context"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options holds query radii and the periodic refresh cadence.
type Options struct {
	PointOfInterestRadiusMeters float64
	PeerRadiusMeters            float64
	RefreshInterval             time.Duration
}

func DefaultOptions() Options {
	return Options{
		PointOfInterestRadiusMeters: 500,
		PeerRadiusMeters:            1000,
		RefreshInterval:             30 * time.Second,
	}
}

// Service holds the latest nearby snapshots. Every query result replaces
// its snapshot wholesale; realtime events patch single peers in place.
type Service struct {
	api      API
	location LocationSource
	sessions SessionSource
	clock    clock.Clock
	opts     Options
	log      *zap.SugaredLogger
	metrics  *proximityMetrics

	mu    sync.RWMutex
	pois  []types.NearbyPointOfInterest
	peers []types.NearbyMember

	listenersMu sync.Mutex
	nextID      int
	listeners   map[int]func()

	periodicMu   sync.Mutex
	ticker       *clock.Ticker
	stopPeriodic chan struct{}
}

func NewService(api API, location LocationSource, sessions SessionSource, clk clock.Clock, opts Options) *Service {
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultOptions()
	if opts.PointOfInterestRadiusMeters <= 0 {
		opts.PointOfInterestRadiusMeters = def.PointOfInterestRadiusMeters
	}
	if opts.PeerRadiusMeters <= 0 {
		opts.PeerRadiusMeters = def.PeerRadiusMeters
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = def.RefreshInterval
	}
	return &Service{
		api:       api,
		location:  location,
		sessions:  sessions,
		clock:     clk,
		opts:      opts,
		log:       logger.GetLogger().Named("proximity"),
		metrics:   newProximityMetrics(),
		listeners: make(map[int]func()),
	}
}

// OnChange registers fn to run after any snapshot changes.
func (s *Service) OnChange(fn func()) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Service) changed() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// RefreshNearby queries points of interest, and peers when a session is
// active, around override or the cached fix. festivalID falls back to the
// active session's festival. Without a location or a festival it does
// nothing. A failed query keeps its previous snapshot; the first failure is
// returned.
func (s *Service) RefreshNearby(ctx context.Context, festivalID string, override *types.LocationFix) error {
	loc := override
	if loc == nil {
		loc = s.location.Get()
	}
	if loc == nil {
		return nil
	}

	active := s.sessions.Session()
	if festivalID == "" && active != nil {
		festivalID = active.FestivalID
	}
	if festivalID == "" {
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		pois, err := s.api.NearbyPointsOfInterest(ctx, loc.Latitude, loc.Longitude, s.opts.PointOfInterestRadiusMeters, festivalID)
		if err != nil {
			s.queryFailed("points_of_interest", err)
			return err
		}
		s.metrics.queries.WithLabelValues("points_of_interest", "ok").Inc()
		s.mu.Lock()
		s.pois = pois
		s.mu.Unlock()
		return nil
	})

	if active != nil {
		g.Go(func() error {
			peers, err := s.api.NearbyPeers(ctx, active.ID, loc.Latitude, loc.Longitude, s.opts.PeerRadiusMeters)
			if err != nil {
				s.queryFailed("peers", err)
				return err
			}
			s.metrics.queries.WithLabelValues("peers", "ok").Inc()
			// The session may have ended while the query was in flight.
			if current := s.sessions.Session(); current == nil || current.ID != active.ID {
				peers = nil
			}
			s.mu.Lock()
			s.peers = peers
			s.mu.Unlock()
			return nil
		})
	} else {
		s.mu.Lock()
		s.peers = nil
		s.mu.Unlock()
	}

	err := g.Wait()
	s.changed()
	return err
}

func (s *Service) queryFailed(kind string, err error) {
	s.metrics.queries.WithLabelValues(kind, "error").Inc()
	s.log.Warnw("Nearby query failed, keeping previous results",
		"kind", kind,
		"category", errors.Categorize(err),
		"error", err)
}

// NearbyMembers returns a copy of the peer snapshot.
func (s *Service) NearbyMembers() []types.NearbyMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.NearbyMember, len(s.peers))
	for i, p := range s.peers {
		out[i] = p
		if p.LastLocation != nil {
			fix := *p.LastLocation
			out[i].LastLocation = &fix
		}
	}
	return out
}

// NearbyPointsOfInterest returns a copy of the point of interest snapshot.
func (s *Service) NearbyPointsOfInterest() []types.NearbyPointOfInterest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.NearbyPointOfInterest{}, s.pois...)
}

// ClosestPointOfInterest returns the head of the snapshot. The query
// boundary's ordering is trusted and not re-checked.
func (s *Service) ClosestPointOfInterest() *types.NearbyPointOfInterest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.pois) == 0 {
		return nil
	}
	head := s.pois[0]
	return &head
}

// PatchPeer replaces one peer's last location. Unknown ids are ignored.
func (s *Service) PatchPeer(event types.PeerLocationEvent) bool {
	s.mu.Lock()
	patched := false
	for i := range s.peers {
		if s.peers[i].SessionID == event.SessionID {
			fix := event.Fix()
			s.peers[i].LastLocation = &fix
			patched = true
			break
		}
	}
	s.mu.Unlock()

	if patched {
		s.changed()
	}
	return patched
}

// ClearPeers drops the peer snapshot.
func (s *Service) ClearPeers() {
	s.mu.Lock()
	had := len(s.peers) > 0
	s.peers = nil
	s.mu.Unlock()
	if had {
		s.changed()
	}
}

// StartPeriodic refreshes every RefreshInterval until StopPeriodic. It is a
// no-op when already running.
func (s *Service) StartPeriodic(ctx context.Context) {
	s.periodicMu.Lock()
	defer s.periodicMu.Unlock()
	if s.ticker != nil {
		return
	}

	ticker := s.clock.Ticker(s.opts.RefreshInterval)
	stop := make(chan struct{})
	s.ticker, s.stopPeriodic = ticker, stop

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := s.RefreshNearby(ctx, "", nil); err != nil {
					s.log.Debugw("Periodic refresh incomplete", "error", err)
				}
			}
		}
	}()
	s.log.Infow("Periodic nearby refresh started", "interval", s.opts.RefreshInterval)
}

// StopPeriodic stops the refresh loop. A refresh already in flight is not
// waited for. Safe to call when not running.
func (s *Service) StopPeriodic() {
	s.periodicMu.Lock()
	defer s.periodicMu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stopPeriodic)
	s.ticker, s.stopPeriodic = nil, nil
	s.log.Info("Periodic nearby refresh stopped")
}

// PeriodicRunning reports whether the refresh loop is active.
func (s *Service) PeriodicRunning() bool {
	s.periodicMu.Lock()
	defer s.periodicMu.Unlock()
	return s.ticker != nil
}
