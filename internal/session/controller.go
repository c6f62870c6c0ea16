// Package session owns the lifecycle of a location sharing session: it
// creates the remote session, arms both capture paths and uploads every fix.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/internal/capture"
	"github.com/NomadCrew/nomad-crew-proximity/internal/device"
	"github.com/NomadCrew/nomad-crew-proximity/internal/storage"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-proximity/services"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// API is the remote session backend.
type API interface {
	Create(ctx context.Context, festivalID string, durationMinutes int, initialFix *types.LocationFix) (*types.SharingSession, error)
	Update(ctx context.Context, sessionID string, fix types.LocationFix) error
	End(ctx context.Context, sessionID string) error
}

// PermissionSource reports the current location authorization.
type PermissionSource interface {
	State() types.PermissionState
}

type Watcher interface {
	Start(ctx context.Context, fn func(types.LocationFix), opts types.WatchOptions) error
	Stop()
}

type Agent interface {
	Start(ctx context.Context, taskCtx types.BackgroundTaskContext) error
	Stop(ctx context.Context) error
	SetCallback(cb capture.Callback)
}

// JobSubmitter runs uploads off the calling goroutine. *services.WorkerPool
// satisfies it.
type JobSubmitter interface {
	Submit(job services.Job) bool
}

// Notifier is told when a session starts.
type Notifier interface {
	SharingStarted(ctx context.Context, userID string, session types.SharingSession) error
}

// StateListener observes state transitions. session is nil outside Active.
type StateListener func(state types.SessionState, session *types.SharingSession)

// Dependencies bundles the collaborators of a Controller. Agent, Notifier
// and Clock are optional.
type Dependencies struct {
	API         API
	Permissions PermissionSource
	Locations   device.LocationProvider
	Watcher     Watcher
	Agent       Agent
	Store       storage.Store
	Uploads     JobSubmitter
	Notifier    Notifier
	Clock       clock.Clock
}

// Options tunes a Controller.
type Options struct {
	UserID                 string
	DefaultDurationMinutes int
	WatchOptions           types.WatchOptions
}

func DefaultOptions(userID string) Options {
	return Options{
		UserID:                 userID,
		DefaultDurationMinutes: types.DefaultSessionDurationMinutes,
		WatchOptions:           capture.SessionWatchOptions,
	}
}

type lastUpload struct {
	sessionID  string
	capturedAt time.Time
}

// Controller drives Idle → Starting → Active → Stopping → Idle, with
// Active → Expired when the session runs out.
type Controller struct {
	deps Dependencies
	opts Options
	log  *zap.SugaredLogger

	mu            sync.Mutex
	state         types.SessionState
	session       *types.SharingSession
	stopRequested bool
	expiry        *clock.Timer
	last          lastUpload
	nextID        int
	listeners     map[int]StateListener
}

// NewController wires the controller and installs the background upload
// callback, so that a cold process can upload before any Start.
func NewController(deps Dependencies, opts Options) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if opts.DefaultDurationMinutes <= 0 {
		opts.DefaultDurationMinutes = types.DefaultSessionDurationMinutes
	}
	if opts.WatchOptions == (types.WatchOptions{}) {
		opts.WatchOptions = capture.SessionWatchOptions
	}
	c := &Controller{
		deps:      deps,
		opts:      opts,
		log:       logger.GetLogger().Named("session"),
		state:     types.SessionStateIdle,
		listeners: make(map[int]StateListener),
	}
	if deps.Agent != nil {
		deps.Agent.SetCallback(c.handleBackgroundFix)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the active session, or nil.
func (c *Controller) Session() *types.SharingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// OnStateChange registers fn for every transition.
func (c *Controller) OnStateChange(fn StateListener) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Start opens a sharing session for festivalID. It never panics or returns
// an error: failures are logged and leave nothing running. A Start while a
// session is active reports true without creating another one.
func (c *Controller) Start(ctx context.Context, festivalID string, durationMinutes int) bool {
	if durationMinutes <= 0 {
		durationMinutes = c.opts.DefaultDurationMinutes
	}

	c.mu.Lock()
	switch state := c.state; state {
	case types.SessionStateActive:
		c.mu.Unlock()
		return true
	case types.SessionStateStarting, types.SessionStateStopping:
		c.mu.Unlock()
		c.log.Warnw("Session start ignored while transitioning", "state", state)
		return false
	}
	if festivalID == "" {
		c.mu.Unlock()
		c.log.Warn("Session start requires a festival")
		return false
	}
	permission := c.deps.Permissions.State()
	if !permission.HasForeground() {
		c.mu.Unlock()
		c.logFailure("start", errors.PermissionDenied(string(permission)))
		return false
	}
	c.stopRequested = false
	c.setStateLocked(types.SessionStateStarting)
	c.mu.Unlock()
	c.emit()

	initialFix, err := c.deps.Locations.CurrentFix(ctx, types.AccuracyBalanced)
	if err != nil {
		c.log.Infow("Starting session without an initial fix", "error", err)
		initialFix = nil
	}

	created, err := c.deps.API.Create(ctx, festivalID, durationMinutes, initialFix)
	if err != nil {
		c.logFailure("create", err)
		c.reset()
		return false
	}
	if created == nil || created.ID == "" {
		c.logFailure("create", errors.NewAPIError("create_session", 200, "empty session id"))
		c.reset()
		return false
	}
	s := *created
	s.Active = true
	if s.FestivalID == "" {
		s.FestivalID = festivalID
	}
	if s.DurationMinutes <= 0 {
		s.DurationMinutes = durationMinutes
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = c.deps.Clock.Now()
	}

	if err := c.deps.Store.Set(ctx, storage.KeyActiveSessionID, s); err != nil {
		c.logFailure("persist", err)
		c.endRemote(ctx, s.ID)
		c.reset()
		return false
	}

	if err := c.deps.Watcher.Start(ctx, c.handleForegroundFix, c.opts.WatchOptions); err != nil {
		c.logFailure("watch", err)
		c.endRemote(ctx, s.ID)
		c.removePersisted(ctx)
		c.reset()
		return false
	}
	c.armBackground(ctx, s)

	c.mu.Lock()
	if c.stopRequested {
		c.mu.Unlock()
		c.log.Infow("Session stopped while starting", "session_id", logger.MaskID(s.ID))
		c.abortStart(ctx, s.ID)
		return false
	}
	c.session = &s
	if initialFix != nil {
		c.last = lastUpload{sessionID: s.ID, capturedAt: initialFix.CapturedAt}
	}
	c.armExpiryLocked(s)
	c.setStateLocked(types.SessionStateActive)
	c.mu.Unlock()

	c.log.Infow("Sharing session started",
		"session_id", logger.MaskID(s.ID),
		"festival_id", s.FestivalID,
		"duration_minutes", s.DurationMinutes)
	c.emit()
	c.notifyStarted(s)
	return true
}

// Stop ends sharing. It is safe to call any number of times. Local state is
// cleared even when the remote end call fails.
func (c *Controller) Stop(ctx context.Context) {
	c.teardown(ctx, types.SessionStateIdle, "stop")
}

// Expire tears the session down like Stop but passes through Expired so
// listeners can tell the two apart.
func (c *Controller) Expire(ctx context.Context) {
	c.teardown(ctx, types.SessionStateExpired, "expire")
}

func (c *Controller) teardown(ctx context.Context, via types.SessionState, reason string) {
	c.mu.Lock()
	switch c.state {
	case types.SessionStateStopping:
		c.mu.Unlock()
		return
	case types.SessionStateStarting:
		c.stopRequested = true
		c.mu.Unlock()
		return
	}
	s := c.session
	hadSession := s != nil
	if hadSession {
		c.setStateLocked(types.SessionStateStopping)
	}
	c.stopExpiryLocked()
	c.mu.Unlock()
	if hadSession {
		c.emit()
	}

	c.disarmAgent(ctx)

	if hadSession {
		c.deps.Watcher.Stop()
		c.endRemote(ctx, s.ID)
	}
	c.removePersisted(ctx)

	if !hadSession {
		return
	}

	c.mu.Lock()
	c.session = nil
	c.last = lastUpload{}
	c.setStateLocked(via)
	c.mu.Unlock()
	c.emit()

	c.log.Infow("Sharing session ended", "session_id", logger.MaskID(s.ID), "reason", reason)

	if via != types.SessionStateIdle {
		c.mu.Lock()
		c.setStateLocked(types.SessionStateIdle)
		c.mu.Unlock()
		c.emit()
	}
}

// Recover inspects the session persisted by a previous process. A session
// that is still running is resumed; an expired one, one the current
// permission no longer allows, or one whose watch cannot be re-opened is
// ended remotely and forgotten. It reports whether a session was resumed.
func (c *Controller) Recover(ctx context.Context) bool {
	var s types.SharingSession
	found, err := c.deps.Store.Get(ctx, storage.KeyActiveSessionID, &s)
	if err != nil {
		c.log.Warnw("Failed to read persisted session", "error", err)
		return false
	}
	if !found || s.ID == "" {
		return false
	}

	c.mu.Lock()
	if c.state != types.SessionStateIdle {
		c.mu.Unlock()
		return c.State() == types.SessionStateActive
	}
	now := c.deps.Clock.Now()
	expired := !now.Before(s.ExpiresAt())
	if expired || !c.deps.Permissions.State().HasForeground() {
		c.mu.Unlock()
		c.log.Infow("Discarding persisted session",
			"session_id", logger.MaskID(s.ID),
			"expired", expired)
		c.discard(ctx, s.ID)
		return false
	}
	c.stopRequested = false
	c.setStateLocked(types.SessionStateStarting)
	c.mu.Unlock()
	c.emit()

	if err := c.deps.Watcher.Start(ctx, c.handleForegroundFix, c.opts.WatchOptions); err != nil {
		c.logFailure("recover", err)
		c.discard(ctx, s.ID)
		c.reset()
		return false
	}
	c.armBackground(ctx, s)

	c.mu.Lock()
	if c.stopRequested {
		c.mu.Unlock()
		c.log.Infow("Session stopped while resuming", "session_id", logger.MaskID(s.ID))
		c.abortStart(ctx, s.ID)
		return false
	}
	s.Active = true
	c.session = &s
	c.armExpiryLocked(s)
	c.setStateLocked(types.SessionStateActive)
	c.mu.Unlock()

	c.log.Infow("Sharing session resumed",
		"session_id", logger.MaskID(s.ID),
		"remaining", s.ExpiresAt().Sub(now).Round(time.Second))
	c.emit()
	return true
}

func (c *Controller) handleForegroundFix(fix types.LocationFix) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.upload(s.ID, fix, "foreground")
}

// handleBackgroundFix trusts the resolved task context rather than the
// in-memory session, which is absent in a cold process.
func (c *Controller) handleBackgroundFix(_ context.Context, taskCtx types.BackgroundTaskContext, fix types.LocationFix) error {
	if !c.upload(taskCtx.SessionID, fix, "background") {
		return fmt.Errorf("upload for session %s not queued", logger.MaskID(taskCtx.SessionID))
	}
	return nil
}

// upload queues a fire-and-forget update. A fix not newer than the last
// one queued for the same session is skipped; it reports false only when
// the queue refused the job.
func (c *Controller) upload(sessionID string, fix types.LocationFix, source string) bool {
	c.mu.Lock()
	if c.last.sessionID == sessionID && !fix.CapturedAt.After(c.last.capturedAt) {
		c.mu.Unlock()
		return true
	}
	prev := c.last
	c.last = lastUpload{sessionID: sessionID, capturedAt: fix.CapturedAt}
	c.mu.Unlock()

	queued := c.deps.Uploads.Submit(services.Job{
		Name: "location_update_" + source,
		Execute: func(ctx context.Context) error {
			if err := c.deps.API.Update(ctx, sessionID, fix); err != nil {
				c.log.Warnw("Location upload failed",
					"session_id", logger.MaskID(sessionID),
					"source", source,
					"location", valueobjects.CoarseLocation(fix),
					"category", errors.Categorize(err),
					"error", err)
				return err
			}
			return nil
		},
	})
	if !queued {
		c.mu.Lock()
		if c.last.sessionID == sessionID && c.last.capturedAt.Equal(fix.CapturedAt) {
			c.last = prev
		}
		c.mu.Unlock()
	}
	return queued
}

func (c *Controller) notifyStarted(s types.SharingSession) {
	if c.deps.Notifier == nil {
		return
	}
	userID := c.opts.UserID
	c.deps.Uploads.Submit(services.Job{
		Name: "sharing_started_notification",
		Execute: func(ctx context.Context) error {
			return c.deps.Notifier.SharingStarted(ctx, userID, s)
		},
	})
}

func (c *Controller) taskContext(s types.SharingSession) types.BackgroundTaskContext {
	return types.BackgroundTaskContext{
		SessionID:  s.ID,
		UserID:     c.opts.UserID,
		FestivalID: s.FestivalID,
	}
}

func (c *Controller) armExpiryLocked(s types.SharingSession) {
	c.stopExpiryLocked()
	remaining := s.ExpiresAt().Sub(c.deps.Clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	id := s.ID
	c.expiry = c.deps.Clock.AfterFunc(remaining, func() {
		c.mu.Lock()
		current := c.session != nil && c.session.ID == id
		c.mu.Unlock()
		if current {
			c.Expire(context.Background())
		}
	})
}

func (c *Controller) stopExpiryLocked() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

// armBackground starts the background agent when background permission is
// held. It runs before the session is committed so that a Stop arriving in
// between is seen by the stopRequested check.
func (c *Controller) armBackground(ctx context.Context, s types.SharingSession) {
	if c.deps.Agent == nil || !c.deps.Permissions.State().HasBackground() {
		return
	}
	c.deps.Agent.SetCallback(c.handleBackgroundFix)
	if err := c.deps.Agent.Start(ctx, c.taskContext(s)); err != nil {
		c.log.Warnw("Background capture not armed, foreground only",
			"session_id", logger.MaskID(s.ID),
			"error", err)
	}
}

func (c *Controller) disarmAgent(ctx context.Context) {
	if c.deps.Agent == nil {
		return
	}
	if err := c.deps.Agent.Stop(ctx); err != nil {
		c.log.Warnw("Failed to stop background capture", "error", err)
	}
	c.deps.Agent.SetCallback(nil)
}

// abortStart undoes a start that lost to a Stop before it was committed.
func (c *Controller) abortStart(ctx context.Context, sessionID string) {
	c.deps.Watcher.Stop()
	c.discard(ctx, sessionID)
	c.reset()
}

// discard forgets a session this controller does not hold.
func (c *Controller) discard(ctx context.Context, sessionID string) {
	c.disarmAgent(ctx)
	c.endRemote(ctx, sessionID)
	c.removePersisted(ctx)
}

func (c *Controller) endRemote(ctx context.Context, sessionID string) {
	if err := c.deps.API.End(ctx, sessionID); err != nil {
		c.logFailure("end", err)
	}
}

func (c *Controller) removePersisted(ctx context.Context) {
	if err := c.deps.Store.Remove(ctx, storage.KeyActiveSessionID); err != nil {
		c.log.Warnw("Failed to clear persisted session", "error", err)
	}
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.session = nil
	c.stopRequested = false
	c.setStateLocked(types.SessionStateIdle)
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) logFailure(op string, err error) {
	c.log.Warnw("Session operation failed",
		"operation", op,
		"category", errors.Categorize(err),
		"error", err)
}

func (c *Controller) setStateLocked(state types.SessionState) {
	c.state = state
}

func (c *Controller) emit() {
	c.mu.Lock()
	state := c.state
	var s *types.SharingSession
	if c.session != nil && state == types.SessionStateActive {
		cp := *c.session
		s = &cp
	}
	listeners := make([]StateListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state, s)
	}
}
