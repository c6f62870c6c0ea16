package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/internal/device"
	"github.com/NomadCrew/nomad-crew-proximity/internal/storage"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
)

// BackgroundTaskName is the OS task the agent registers under.
const BackgroundTaskName = "festival-background-location"

// DefaultMaxMissedDeliveries is how many consecutive unresolvable
// deliveries the agent tolerates before it stops OS updates.
const DefaultMaxMissedDeliveries = 5

// Callback receives the newest fix of each background delivery together
// with the resolved task context.
type Callback func(ctx context.Context, taskCtx types.BackgroundTaskContext, fix types.LocationFix) error

// AgentOptions configures a BackgroundCaptureAgent.
type AgentOptions struct {
	Updates             types.BackgroundUpdateOptions
	MaxMissedDeliveries int
}

// DefaultAgentOptions returns the OS update settings used for sharing.
func DefaultAgentOptions() AgentOptions {
	return AgentOptions{
		Updates: types.BackgroundUpdateOptions{
			Accuracy:               types.AccuracyBalanced,
			TimeInterval:           30 * time.Second,
			DistanceIntervalMeters: 50,
			DeferredBatchInterval:  60 * time.Second,
			PausesAutomatically:    false,
		},
		MaxMissedDeliveries: DefaultMaxMissedDeliveries,
	}
}

// BackgroundCaptureAgent receives OS-scheduled location batches, possibly
// in a process that has just been cold-started. Its task context lives in
// two tiers: an in-memory mirror and the durable store.
type BackgroundCaptureAgent struct {
	updates device.BackgroundUpdates
	store   storage.Store
	cache   *LocationCache
	opts    AgentOptions
	log     *zap.SugaredLogger
	metrics *agentMetrics

	mu          sync.Mutex
	mirror      *types.BackgroundTaskContext
	callback    Callback
	missed      int
	selfStopped bool
}

// NewBackgroundCaptureAgent creates the agent and registers its task
// handler. Only one agent may be registered per process.
func NewBackgroundCaptureAgent(updates device.BackgroundUpdates, store storage.Store, cache *LocationCache, opts AgentOptions) (*BackgroundCaptureAgent, error) {
	if opts.MaxMissedDeliveries <= 0 {
		opts.MaxMissedDeliveries = DefaultMaxMissedDeliveries
	}
	a := &BackgroundCaptureAgent{
		updates: updates,
		store:   store,
		cache:   cache,
		opts:    opts,
		log:     logger.GetLogger().Named("background_agent"),
		metrics: newAgentMetrics(),
	}
	if err := updates.Register(BackgroundTaskName, a.HandleDelivery); err != nil {
		return nil, fmt.Errorf("failed to register background task: %w", err)
	}
	return a, nil
}

// SetCallback installs the delivery callback. nil clears it.
func (a *BackgroundCaptureAgent) SetCallback(cb Callback) {
	a.mu.Lock()
	a.callback = cb
	a.mu.Unlock()
}

// Start persists taskCtx to both tiers and begins OS updates. A running
// subscription is stopped first.
func (a *BackgroundCaptureAgent) Start(ctx context.Context, taskCtx types.BackgroundTaskContext) error {
	if taskCtx.IsZero() {
		return fmt.Errorf("background task context requires a session id")
	}

	if running, err := a.updates.HasStarted(ctx, BackgroundTaskName); err == nil && running {
		if err := a.updates.Stop(ctx, BackgroundTaskName); err != nil {
			a.log.Warnw("Failed to stop previous background updates", "error", err)
		}
	}

	if err := a.store.Set(ctx, storage.KeyBackgroundContext, taskCtx); err != nil {
		return fmt.Errorf("failed to persist background context: %w", err)
	}
	a.mu.Lock()
	c := taskCtx
	a.mirror = &c
	a.missed = 0
	a.selfStopped = false
	a.mu.Unlock()

	if err := a.updates.Start(ctx, BackgroundTaskName, a.opts.Updates); err != nil {
		a.clearContext(ctx)
		return fmt.Errorf("failed to start background updates: %w", err)
	}

	a.log.Infow("Background capture started",
		"session_id", logger.MaskID(taskCtx.SessionID),
		"festival_id", taskCtx.FestivalID)
	return nil
}

// Stop ends OS updates if running and clears both context tiers.
func (a *BackgroundCaptureAgent) Stop(ctx context.Context) error {
	var stopErr error
	running, err := a.updates.HasStarted(ctx, BackgroundTaskName)
	if err != nil {
		a.log.Warnw("Failed to query background updates", "error", err)
	}
	if running || err != nil {
		if err := a.updates.Stop(ctx, BackgroundTaskName); err != nil {
			stopErr = fmt.Errorf("failed to stop background updates: %w", err)
		}
	}

	if err := a.clearContext(ctx); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// IsRunning reports whether OS updates are started for the agent's task.
func (a *BackgroundCaptureAgent) IsRunning(ctx context.Context) bool {
	running, err := a.updates.HasStarted(ctx, BackgroundTaskName)
	return err == nil && running
}

// Context resolves the task context: mirror first, then the durable store,
// repopulating the mirror on a store hit.
func (a *BackgroundCaptureAgent) Context(ctx context.Context) (types.BackgroundTaskContext, bool) {
	a.mu.Lock()
	if a.mirror != nil {
		c := *a.mirror
		a.mu.Unlock()
		return c, true
	}
	a.mu.Unlock()

	var stored types.BackgroundTaskContext
	found, err := a.store.Get(ctx, storage.KeyBackgroundContext, &stored)
	if err != nil {
		a.log.Warnw("Failed to read background context", "error", err)
		return types.BackgroundTaskContext{}, false
	}
	if !found || stored.IsZero() {
		return types.BackgroundTaskContext{}, false
	}

	a.mu.Lock()
	if a.mirror == nil {
		c := stored
		a.mirror = &c
	}
	a.mu.Unlock()
	return stored, true
}

func (a *BackgroundCaptureAgent) clearContext(ctx context.Context) error {
	a.mu.Lock()
	a.mirror = nil
	a.mu.Unlock()
	if err := a.store.Remove(ctx, storage.KeyBackgroundContext); err != nil {
		return fmt.Errorf("failed to clear background context: %w", err)
	}
	return nil
}

// HandleDelivery is the OS entry point. Only the newest fix of a batch is
// used. Faults are contained to the invocation.
func (a *BackgroundCaptureAgent) HandleDelivery(ctx context.Context, batch []types.LocationFix, deliveryErr error) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.deliveries.WithLabelValues("panic").Inc()
			a.log.Errorw("Background delivery panicked", "panic", r)
		}
	}()

	if deliveryErr != nil {
		a.log.Warnw("Background delivery reported an error", "error", deliveryErr, "fixes", len(batch))
		if len(batch) == 0 {
			a.miss(ctx, "delivery_error")
			return
		}
	}
	if len(batch) == 0 {
		a.metrics.deliveries.WithLabelValues("empty").Inc()
		return
	}

	fix := latestFix(batch)
	if a.cache != nil {
		a.cache.Set(fix)
	}

	a.mu.Lock()
	cb := a.callback
	a.mu.Unlock()
	if cb == nil {
		a.miss(ctx, "no_callback")
		return
	}

	taskCtx, ok := a.Context(ctx)
	if !ok {
		a.miss(ctx, "no_context")
		return
	}

	a.mu.Lock()
	a.missed = 0
	a.mu.Unlock()

	if err := a.invoke(ctx, cb, taskCtx, fix); err != nil {
		a.metrics.deliveries.WithLabelValues("callback_error").Inc()
		a.log.Warnw("Background callback failed",
			"session_id", logger.MaskID(taskCtx.SessionID),
			"location", valueobjects.CoarseLocation(fix),
			"error", err)
		return
	}
	a.metrics.deliveries.WithLabelValues("delivered").Inc()
}

func (a *BackgroundCaptureAgent) invoke(ctx context.Context, cb Callback, taskCtx types.BackgroundTaskContext, fix types.LocationFix) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("background callback panicked: %v", r)
		}
	}()
	return cb(ctx, taskCtx, fix)
}

// miss counts an unresolvable delivery and stops OS updates exactly once
// when the limit is reached.
func (a *BackgroundCaptureAgent) miss(ctx context.Context, reason string) {
	a.metrics.missed.WithLabelValues(reason).Inc()

	a.mu.Lock()
	a.missed++
	missed := a.missed
	shouldStop := missed >= a.opts.MaxMissedDeliveries && !a.selfStopped
	if shouldStop {
		a.selfStopped = true
	}
	a.mu.Unlock()

	a.log.Warnw("Background delivery could not be handled",
		"reason", reason,
		"consecutive_misses", missed,
		"limit", a.opts.MaxMissedDeliveries)

	if !shouldStop {
		return
	}
	a.metrics.selfStops.Inc()
	a.log.Warnw("Stopping background updates after repeated missed deliveries", "consecutive_misses", missed)
	if err := a.updates.Stop(ctx, BackgroundTaskName); err != nil {
		a.log.Errorw("Failed to stop background updates", "error", err)
	}
}

// MissedDeliveries returns the current consecutive miss count.
func (a *BackgroundCaptureAgent) MissedDeliveries() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.missed
}

func latestFix(batch []types.LocationFix) types.LocationFix {
	latest := batch[len(batch)-1]
	for _, f := range batch {
		if f.CapturedAt.After(latest.CapturedAt) {
			latest = f
		}
	}
	return latest
}
