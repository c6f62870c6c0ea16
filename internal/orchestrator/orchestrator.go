// Package orchestrator composes permission, session, capture and proximity
// state into a single observable snapshot and exposes the user actions.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/internal/session"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
)

// ErrNotInitialized is the panic value of any action invoked before
// Initialize.
var ErrNotInitialized = errors.New("orchestrator: not initialized")

type PermissionManager interface {
	State() types.PermissionState
	Subscribe(fn func(types.PermissionState)) (unsubscribe func())
	Reconcile(ctx context.Context) types.PermissionState
	RequestAll(ctx context.Context) types.PermissionState
}

type SessionController interface {
	Start(ctx context.Context, festivalID string, durationMinutes int) bool
	Stop(ctx context.Context)
	Recover(ctx context.Context) bool
	State() types.SessionState
	Session() *types.SharingSession
	OnStateChange(fn session.StateListener) (unsubscribe func())
}

type NearbyService interface {
	RefreshNearby(ctx context.Context, festivalID string, override *types.LocationFix) error
	NearbyMembers() []types.NearbyMember
	NearbyPointsOfInterest() []types.NearbyPointOfInterest
	ClosestPointOfInterest() *types.NearbyPointOfInterest
	ClearPeers()
	StartPeriodic(ctx context.Context)
	StopPeriodic()
	OnChange(fn func()) (unsubscribe func())
}

type RealtimeSyncer interface {
	Sync(ctx context.Context, active bool, peers []types.NearbyMember)
	Close()
}

// Watcher is the foreground location subscription shared by local
// tracking and the session.
type Watcher interface {
	Start(ctx context.Context, fn func(types.LocationFix), opts types.WatchOptions) error
	Stop()
}

type LocationCache interface {
	Get() *types.LocationFix
	Subscribe(fn func(types.LocationFix)) (unsubscribe func())
}

// Dependencies bundles the components the orchestrator drives.
type Dependencies struct {
	Permissions PermissionManager
	Sessions    SessionController
	Proximity   NearbyService
	Realtime    RealtimeSyncer
	Watcher     Watcher
	Cache       LocationCache
}

// Options tunes the orchestrator.
type Options struct {
	// FestivalID is the festival selected at start-up, if any.
	FestivalID           string
	LocalTrackingOptions types.WatchOptions
}

// LocalTrackingWatchOptions is the cadence of map-only tracking.
var LocalTrackingWatchOptions = types.WatchOptions{
	Accuracy:               types.AccuracyBalanced,
	DistanceIntervalMeters: 20,
	TimeInterval:           10 * time.Second,
}

// Orchestrator is the single state holder of the proximity core. It is
// driven by discrete events: permission changes, session transitions,
// fixes, nearby updates and timer ticks.
type Orchestrator struct {
	deps Dependencies
	opts Options
	log  *zap.SugaredLogger

	// lifetime scopes the periodic refresh and realtime subscription.
	lifetime context.Context
	cancel   context.CancelFunc

	// actionMu serializes the actions that hand the watcher over.
	actionMu sync.Mutex

	mu                  sync.Mutex
	initialized         bool
	owner               subscriptionOwner
	festivalID          string
	pendingLocalRefresh bool
	unsubs              []func()
	nextID              int
	listeners           map[int]func(types.ProximitySnapshot)
}

func New(deps Dependencies, opts Options) *Orchestrator {
	if opts.LocalTrackingOptions == (types.WatchOptions{}) {
		opts.LocalTrackingOptions = LocalTrackingWatchOptions
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		log:        logger.GetLogger().Named("orchestrator"),
		lifetime:   lifetime,
		cancel:     cancel,
		festivalID: opts.FestivalID,
		listeners:  make(map[int]func(types.ProximitySnapshot)),
	}
}

func (o *Orchestrator) mustBeInitialized() {
	o.mu.Lock()
	ok := o.initialized
	o.mu.Unlock()
	if !ok {
		panic(ErrNotInitialized)
	}
}

// Initialize reconciles permissions, wires the event sources and resumes a
// session left by a previous process. Calling it again is a no-op.
func (o *Orchestrator) Initialize(ctx context.Context) {
	o.mu.Lock()
	if o.initialized {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	permission := o.deps.Permissions.Reconcile(ctx)

	unsubs := []func(){
		o.deps.Permissions.Subscribe(o.onPermissionChanged),
		o.deps.Sessions.OnStateChange(o.onSessionChanged),
		o.deps.Proximity.OnChange(o.onNearbyChanged),
		o.deps.Cache.Subscribe(o.onFix),
	}

	o.mu.Lock()
	o.unsubs = unsubs
	o.initialized = true
	o.mu.Unlock()

	resumed := o.deps.Sessions.Recover(ctx)
	o.log.Infow("Proximity core initialized",
		"permission", permission,
		"session_resumed", resumed,
		"festival_id", o.Festival())
	o.publish()
}

// Snapshot returns the current observable state.
func (o *Orchestrator) Snapshot() types.ProximitySnapshot {
	o.mustBeInitialized()
	return o.snapshot()
}

func (o *Orchestrator) snapshot() types.ProximitySnapshot {
	o.mu.Lock()
	festivalID := o.festivalID
	local := o.owner == ownerLocal
	o.mu.Unlock()

	return types.ProximitySnapshot{
		Permission:             o.deps.Permissions.State(),
		SessionState:           o.deps.Sessions.State(),
		Session:                o.deps.Sessions.Session(),
		FestivalID:             festivalID,
		CurrentLocation:        o.deps.Cache.Get(),
		NearbyMembers:          o.deps.Proximity.NearbyMembers(),
		NearbyPointsOfInterest: o.deps.Proximity.NearbyPointsOfInterest(),
		ClosestPointOfInterest: o.deps.Proximity.ClosestPointOfInterest(),
		LocalTracking:          local,
	}
}

// Subscribe registers fn to receive every new snapshot.
func (o *Orchestrator) Subscribe(fn func(types.ProximitySnapshot)) (unsubscribe func()) {
	o.mustBeInitialized()
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.listeners[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

func (o *Orchestrator) publish() {
	snap := o.snapshot()
	o.mu.Lock()
	fns := make([]func(types.ProximitySnapshot), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// RequestPermissions asks for foreground then background authorization.
func (o *Orchestrator) RequestPermissions(ctx context.Context) types.PermissionState {
	o.mustBeInitialized()
	return o.deps.Permissions.RequestAll(ctx)
}

// SetFestival selects the festival used by local tracking and refreshes.
func (o *Orchestrator) SetFestival(id string) {
	o.mustBeInitialized()
	o.mu.Lock()
	o.festivalID = id
	o.mu.Unlock()
	o.publish()
}

// Festival returns the selected festival.
func (o *Orchestrator) Festival() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.festivalID
}

// StartSharing opens a session. festivalID falls back to the selected
// festival. A running local tracking subscription is superseded, and put
// back if the session does not start.
func (o *Orchestrator) StartSharing(ctx context.Context, festivalID string, durationMinutes int) bool {
	o.mustBeInitialized()
	o.actionMu.Lock()
	defer o.actionMu.Unlock()
	if festivalID == "" {
		festivalID = o.Festival()
	}
	if o.deps.Sessions.Start(ctx, festivalID, durationMinutes) {
		return true
	}
	o.restoreLocalTracking(ctx)
	return false
}

// restoreLocalTracking re-opens the local watch after a failed session
// start, which may already have replaced it. Ownership is dropped when the
// watch cannot be re-opened. Callers hold actionMu.
func (o *Orchestrator) restoreLocalTracking(ctx context.Context) {
	o.mu.Lock()
	local := o.owner == ownerLocal
	o.mu.Unlock()
	if !local {
		return
	}

	err := o.deps.Watcher.Start(ctx, func(types.LocationFix) {}, o.opts.LocalTrackingOptions)
	if err == nil {
		return
	}
	o.log.Warnw("Local tracking lost after failed session start", "error", err)
	o.mu.Lock()
	if o.owner == ownerLocal {
		o.owner = ownerNone
		o.pendingLocalRefresh = false
	}
	o.mu.Unlock()
	o.publish()
}

// StopSharing ends the session. Safe to call when not sharing.
func (o *Orchestrator) StopSharing(ctx context.Context) {
	o.mustBeInitialized()
	o.deps.Sessions.Stop(ctx)
}

// StartLocalTracking follows the device for the map without sharing. It is
// refused while a session is active or without foreground permission.
func (o *Orchestrator) StartLocalTracking(ctx context.Context, festivalID string) bool {
	o.mustBeInitialized()
	o.actionMu.Lock()
	defer o.actionMu.Unlock()

	if o.deps.Sessions.State() == types.SessionStateActive {
		o.log.Info("Local tracking refused while sharing")
		return false
	}
	if !o.deps.Permissions.State().HasForeground() {
		o.log.Info("Local tracking refused without foreground permission")
		return false
	}

	o.mu.Lock()
	if festivalID != "" {
		o.festivalID = festivalID
	}
	canAcquire := o.owner.canAcquire(ownerLocal)
	o.mu.Unlock()
	if !canAcquire {
		return false
	}

	if err := o.deps.Watcher.Start(ctx, func(types.LocationFix) {}, o.opts.LocalTrackingOptions); err != nil {
		o.log.Warnw("Failed to start local tracking", "error", err)
		return false
	}

	o.mu.Lock()
	o.owner = ownerLocal
	festival := o.festivalID
	loc := o.deps.Cache.Get()
	o.pendingLocalRefresh = festival != "" && loc == nil
	o.mu.Unlock()

	o.log.Infow("Local tracking started", "festival_id", festival)
	o.publish()

	if festival != "" && loc != nil {
		o.refresh(ctx, festival)
	}
	return true
}

// StopLocalTracking releases the local tracking subscription, if held.
func (o *Orchestrator) StopLocalTracking() {
	o.mustBeInitialized()
	o.actionMu.Lock()
	defer o.actionMu.Unlock()
	o.mu.Lock()
	if o.owner != ownerLocal {
		o.mu.Unlock()
		return
	}
	o.owner = ownerNone
	o.pendingLocalRefresh = false
	o.mu.Unlock()

	o.deps.Watcher.Stop()
	o.log.Info("Local tracking stopped")
	o.publish()
}

// RefreshNearby runs a one-shot nearby query for the selected festival.
func (o *Orchestrator) RefreshNearby(ctx context.Context) error {
	o.mustBeInitialized()
	return o.deps.Proximity.RefreshNearby(ctx, o.Festival(), nil)
}

// Shutdown releases foreground resources. A sharing session is left to
// the background agent and picked up again by the next Initialize.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mustBeInitialized()
	o.mu.Lock()
	unsubs := o.unsubs
	o.unsubs = nil
	owner := o.owner
	o.owner = ownerNone
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	o.deps.Proximity.StopPeriodic()
	o.deps.Realtime.Close()
	if owner != ownerNone {
		o.deps.Watcher.Stop()
	}
	o.cancel()
	o.log.Info("Proximity core shut down")
}

func (o *Orchestrator) refresh(ctx context.Context, festivalID string) {
	if err := o.deps.Proximity.RefreshNearby(ctx, festivalID, nil); err != nil {
		o.log.Warnw("Nearby refresh failed", "error", err)
	}
}

func (o *Orchestrator) onPermissionChanged(state types.PermissionState) {
	if !state.HasForeground() {
		o.mu.Lock()
		local := o.owner == ownerLocal
		o.mu.Unlock()
		if local {
			o.StopLocalTracking()
		}
		if o.deps.Sessions.State() == types.SessionStateActive {
			o.log.Warn("Foreground permission revoked, ending session")
			o.deps.Sessions.Stop(o.lifetime)
		}
	}
	o.publish()
}

func (o *Orchestrator) onSessionChanged(state types.SessionState, s *types.SharingSession) {
	switch state {
	case types.SessionStateActive:
		o.mu.Lock()
		if o.owner == ownerLocal {
			o.log.Info("Local tracking superseded by sharing session")
		}
		o.owner = ownerSession
		o.pendingLocalRefresh = false
		if s != nil && s.FestivalID != "" {
			o.festivalID = s.FestivalID
		}
		o.mu.Unlock()

		o.deps.Proximity.StartPeriodic(o.lifetime)
		o.refresh(o.lifetime, "")
	case types.SessionStateIdle, types.SessionStateExpired:
		o.mu.Lock()
		if o.owner == ownerSession {
			o.owner = ownerNone
		}
		o.mu.Unlock()

		o.deps.Proximity.StopPeriodic()
		o.deps.Proximity.ClearPeers()
		o.deps.Realtime.Sync(o.lifetime, false, nil)
	}
	o.publish()
}

func (o *Orchestrator) onNearbyChanged() {
	active := o.deps.Sessions.State() == types.SessionStateActive
	o.deps.Realtime.Sync(o.lifetime, active, o.deps.Proximity.NearbyMembers())
	o.publish()
}

func (o *Orchestrator) onFix(types.LocationFix) {
	o.mu.Lock()
	pending := o.pendingLocalRefresh && o.owner == ownerLocal
	o.pendingLocalRefresh = false
	festival := o.festivalID
	o.mu.Unlock()

	if pending {
		go o.refresh(o.lifetime, festival)
	}
	o.publish()
}
