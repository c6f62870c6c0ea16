package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/internal/device"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
)

// SessionWatchOptions are used while a sharing session is active.
var SessionWatchOptions = types.WatchOptions{
	Accuracy:               types.AccuracyBalanced,
	DistanceIntervalMeters: 50,
	TimeInterval:           30 * time.Second,
}

// ForegroundWatcher owns at most one continuous location subscription.
type ForegroundWatcher struct {
	provider device.LocationProvider
	cache    *LocationCache
	log      *zap.SugaredLogger

	mu   sync.Mutex
	sub  device.Subscription
	opts types.WatchOptions
	// gen invalidates callbacks from a replaced subscription.
	gen uint64
}

func NewForegroundWatcher(provider device.LocationProvider, cache *LocationCache) *ForegroundWatcher {
	return &ForegroundWatcher{
		provider: provider,
		cache:    cache,
		log:      logger.GetLogger().Named("foreground_watcher"),
	}
}

// Start replaces any existing subscription with a new one. Every fix is
// written to the location cache before fn runs.
func (w *ForegroundWatcher) Start(ctx context.Context, fn func(types.LocationFix), opts types.WatchOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.removeLocked()
	w.gen++
	gen := w.gen

	sub, err := w.provider.Watch(ctx, opts, func(fix types.LocationFix) {
		w.mu.Lock()
		current := w.gen == gen && w.sub != nil
		w.mu.Unlock()
		if !current {
			return
		}
		w.cache.Set(fix)
		if fn != nil {
			fn(fix)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch location: %w", err)
	}

	w.sub = sub
	w.opts = opts
	w.log.Infow("Foreground watch started",
		"accuracy", opts.Accuracy,
		"distance_meters", opts.DistanceIntervalMeters,
		"interval", opts.TimeInterval)
	return nil
}

// Stop removes the subscription. It is a no-op when nothing is subscribed.
func (w *ForegroundWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		return
	}
	w.removeLocked()
	w.gen++
	w.log.Info("Foreground watch stopped")
}

func (w *ForegroundWatcher) removeLocked() {
	if w.sub != nil {
		w.sub.Remove()
		w.sub = nil
	}
}

func (w *ForegroundWatcher) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub != nil
}

// Options returns the options of the live subscription.
func (w *ForegroundWatcher) Options() types.WatchOptions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts
}
