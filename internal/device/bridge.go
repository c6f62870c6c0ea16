package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// PromptFunc answers a permission dialog. kind is "foreground" or
// "background".
type PromptFunc func(ctx context.Context, kind string) (types.AuthorizationStatus, error)

// HostBridge plays the operating system for the proximity core. The native
// shell reports permission truth and pushes fixes; the bridge fans them out
// to watchers and batches them for started background tasks.
type HostBridge struct {
	log   *zap.SugaredLogger
	clock clock.Clock

	mu         sync.Mutex
	foreground types.AuthorizationStatus
	background types.AuthorizationStatus
	prompt     PromptFunc
	lastFix    *types.LocationFix

	nextWatchID int
	watchers    map[int]*watcher

	tasks   map[string]TaskHandler
	started map[string]*backgroundTask

	// deliverMu serializes task handler invocations like a single OS queue.
	deliverMu sync.Mutex
}

type watcher struct {
	opts types.WatchOptions
	fn   func(types.LocationFix)
	last *types.LocationFix
}

type backgroundTask struct {
	opts    types.BackgroundUpdateOptions
	pending []types.LocationFix
	timer   *clock.Timer
}

// NewHostBridge creates a bridge with undetermined permissions.
func NewHostBridge(clk clock.Clock) *HostBridge {
	if clk == nil {
		clk = clock.New()
	}
	return &HostBridge{
		log:        logger.GetLogger().Named("device"),
		clock:      clk,
		foreground: types.AuthorizationUndetermined,
		background: types.AuthorizationUndetermined,
		watchers:   make(map[int]*watcher),
		tasks:      make(map[string]TaskHandler),
		started:    make(map[string]*backgroundTask),
	}
}

// SetPrompt installs the dialog handler used by Request calls while a
// permission is still undetermined.
func (b *HostBridge) SetPrompt(fn PromptFunc) {
	b.mu.Lock()
	b.prompt = fn
	b.mu.Unlock()
}

// SetPermissions records the device's current authorization truth.
func (b *HostBridge) SetPermissions(foreground, background types.AuthorizationStatus) {
	b.mu.Lock()
	b.foreground = foreground
	b.background = background
	b.mu.Unlock()
	b.log.Infow("Device permissions updated", "foreground", foreground, "background", background)
}

func (b *HostBridge) ForegroundStatus(ctx context.Context) (types.AuthorizationStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.foreground, nil
}

func (b *HostBridge) BackgroundStatus(ctx context.Context) (types.AuthorizationStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.background, nil
}

func (b *HostBridge) RequestForeground(ctx context.Context) (types.AuthorizationStatus, error) {
	return b.request(ctx, "foreground")
}

func (b *HostBridge) RequestBackground(ctx context.Context) (types.AuthorizationStatus, error) {
	return b.request(ctx, "background")
}

func (b *HostBridge) request(ctx context.Context, kind string) (types.AuthorizationStatus, error) {
	b.mu.Lock()
	current := b.foreground
	if kind == "background" {
		current = b.background
	}
	prompt := b.prompt
	b.mu.Unlock()

	// Once answered the OS does not ask again.
	if current != types.AuthorizationUndetermined || prompt == nil {
		return current, nil
	}

	answer, err := prompt(ctx, kind)
	if err != nil {
		return current, err
	}

	b.mu.Lock()
	if kind == "background" {
		b.background = answer
	} else {
		b.foreground = answer
	}
	b.mu.Unlock()
	return answer, nil
}

func (b *HostBridge) CurrentFix(ctx context.Context, accuracy types.LocationAccuracy) (*types.LocationFix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.foreground != types.AuthorizationGranted {
		return nil, fmt.Errorf("foreground location not authorized")
	}
	if b.lastFix == nil {
		return nil, ErrNoFix
	}
	fix := *b.lastFix
	return &fix, nil
}

type bridgeSubscription struct {
	bridge *HostBridge
	id     int
	once   sync.Once
}

func (s *bridgeSubscription) Remove() {
	s.once.Do(func() {
		s.bridge.mu.Lock()
		delete(s.bridge.watchers, s.id)
		s.bridge.mu.Unlock()
	})
}

func (b *HostBridge) Watch(ctx context.Context, opts types.WatchOptions, fn func(types.LocationFix)) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("watch callback is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.foreground != types.AuthorizationGranted {
		return nil, fmt.Errorf("foreground location not authorized")
	}
	b.nextWatchID++
	id := b.nextWatchID
	b.watchers[id] = &watcher{opts: opts, fn: fn}
	return &bridgeSubscription{bridge: b, id: id}, nil
}

// WatcherCount returns the number of live watch subscriptions.
func (b *HostBridge) WatcherCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

func (b *HostBridge) Register(taskName string, handler TaskHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.tasks[taskName]; exists {
		return fmt.Errorf("task %s already registered", taskName)
	}
	b.tasks[taskName] = handler
	return nil
}

func (b *HostBridge) Start(ctx context.Context, taskName string, opts types.BackgroundUpdateOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[taskName]; !ok {
		return ErrTaskNotRegistered
	}
	if b.background != types.AuthorizationGranted {
		return fmt.Errorf("background location not authorized")
	}
	if existing, ok := b.started[taskName]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	b.started[taskName] = &backgroundTask{opts: opts}
	b.log.Infow("Background updates started", "task", taskName, "interval", opts.TimeInterval, "distance", opts.DistanceIntervalMeters)
	return nil
}

func (b *HostBridge) Stop(ctx context.Context, taskName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.started[taskName]
	if !ok {
		return nil
	}
	if task.timer != nil {
		task.timer.Stop()
	}
	delete(b.started, taskName)
	b.log.Infow("Background updates stopped", "task", taskName)
	return nil
}

func (b *HostBridge) HasStarted(ctx context.Context, taskName string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.started[taskName]
	return ok, nil
}

// PushFixes records fixes reported by the native shell. Invalid fixes are
// dropped. Valid ones go to every watcher whose interval filters pass, and
// are queued for every started background task. It returns how many fixes
// were accepted.
func (b *HostBridge) PushFixes(ctx context.Context, fixes []types.LocationFix) int {
	type delivery struct {
		fn  func(types.LocationFix)
		fix types.LocationFix
	}
	var deliveries []delivery
	accepted := 0

	b.mu.Lock()
	for _, fix := range fixes {
		if _, err := valueobjects.NewGeoPointFromFix(fix); err != nil {
			b.log.Warnw("Dropping invalid fix", "error", err)
			continue
		}
		accepted++
		f := fix
		if b.lastFix == nil || !f.CapturedAt.Before(b.lastFix.CapturedAt) {
			b.lastFix = &f
		}
		for _, w := range b.watchers {
			if !w.due(f) {
				continue
			}
			w.last = &f
			deliveries = append(deliveries, delivery{fn: w.fn, fix: f})
		}
		for name, task := range b.started {
			task.pending = append(task.pending, f)
			b.armFlush(name, task)
		}
	}
	b.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.fix)
	}
	return accepted
}

// due applies the watch interval filters: both the time and the distance
// threshold must be met since the last delivered fix.
func (w *watcher) due(fix types.LocationFix) bool {
	if w.last == nil {
		return true
	}
	if w.opts.TimeInterval > 0 && fix.CapturedAt.Sub(w.last.CapturedAt) < w.opts.TimeInterval {
		return false
	}
	if w.opts.DistanceIntervalMeters > 0 {
		from, err1 := valueobjects.NewGeoPointFromFix(*w.last)
		to, err2 := valueobjects.NewGeoPointFromFix(fix)
		if err1 == nil && err2 == nil && from.DistanceTo(*to) < w.opts.DistanceIntervalMeters {
			return false
		}
	}
	return true
}

// armFlush schedules delivery of a task's pending batch. Caller holds b.mu.
func (b *HostBridge) armFlush(name string, task *backgroundTask) {
	if task.timer != nil {
		return
	}
	wait := task.opts.DeferredBatchInterval
	if wait <= 0 {
		wait = time.Millisecond
	}
	task.timer = b.clock.AfterFunc(wait, func() {
		b.FlushBackground(context.Background(), name)
	})
}

// FlushBackground hands the pending batch of a started task to its handler
// right away.
func (b *HostBridge) FlushBackground(ctx context.Context, taskName string) {
	b.mu.Lock()
	task, ok := b.started[taskName]
	handler := b.tasks[taskName]
	if !ok || handler == nil || len(task.pending) == 0 {
		if ok && task.timer != nil {
			task.timer.Stop()
			task.timer = nil
		}
		b.mu.Unlock()
		return
	}
	batch := task.pending
	task.pending = nil
	if task.timer != nil {
		task.timer.Stop()
		task.timer = nil
	}
	b.mu.Unlock()

	b.invoke(ctx, handler, batch, nil)
}

// FailBackground reports an OS-side delivery error to a started task.
func (b *HostBridge) FailBackground(ctx context.Context, taskName string, deliveryErr error) {
	b.mu.Lock()
	_, ok := b.started[taskName]
	handler := b.tasks[taskName]
	b.mu.Unlock()
	if !ok || handler == nil {
		return
	}
	b.invoke(ctx, handler, nil, deliveryErr)
}

func (b *HostBridge) invoke(ctx context.Context, handler TaskHandler, batch []types.LocationFix, err error) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("Background task handler panicked", "panic", r)
		}
	}()
	handler(ctx, batch, err)
}

// Close stops every pending batch timer.
func (b *HostBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, task := range b.started {
		if task.timer != nil {
			task.timer.Stop()
			task.timer = nil
		}
	}
}
