// Package permission tracks the device's location authorization and keeps
// the persisted belief in line with device truth.
package permission

import (
	"context"
	"sync"

	"github.com/NomadCrew/nomad-crew-proximity/internal/device"
	"github.com/NomadCrew/nomad-crew-proximity/internal/storage"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
)

// Manager is the only writer of PermissionState. None of its operations
// return errors: a failed device call leaves the state as it was.
type Manager struct {
	provider device.PermissionProvider
	store    storage.Store
	log      *zap.SugaredLogger

	mu     sync.Mutex
	state  types.PermissionState
	nextID int
	subs   map[int]func(types.PermissionState)
}

// NewManager creates a Manager in the Undetermined state. Call Reconcile
// before relying on State.
func NewManager(provider device.PermissionProvider, store storage.Store) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		log:      logger.GetLogger().Named("permission"),
		state:    types.PermissionUndetermined,
		subs:     make(map[int]func(types.PermissionState)),
	}
}

// State returns the last known permission state.
func (m *Manager) State() types.PermissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to run after every state change.
func (m *Manager) Subscribe(fn func(types.PermissionState)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Reconcile compares the persisted belief with device truth. Device truth
// wins and the persisted value is corrected.
func (m *Manager) Reconcile(ctx context.Context) types.PermissionState {
	var persisted types.PermissionState
	found, err := m.store.Get(ctx, storage.KeyPermissionState, &persisted)
	if err != nil {
		m.log.Warnw("Failed to read persisted permission state", "error", err)
	}

	truth, ok := m.deviceTruth(ctx)
	if !ok {
		if found && persisted.IsValid() {
			m.setState(persisted)
			return persisted
		}
		return m.State()
	}

	if !found || persisted != truth {
		if found {
			m.log.Infow("Persisted permission state differs from device, correcting",
				"persisted", persisted,
				"device", truth)
		}
		m.persist(ctx, truth)
	}
	m.setState(truth)
	return truth
}

// RequestForeground asks for foreground authorization.
func (m *Manager) RequestForeground(ctx context.Context) bool {
	status, err := m.provider.RequestForeground(ctx)
	if err != nil {
		m.log.Warnw("Foreground permission request failed", "error", err)
		return false
	}
	m.refresh(ctx)
	return status == types.AuthorizationGranted
}

// RequestBackground asks for background authorization. Without foreground
// authorization it returns false and asks nothing.
func (m *Manager) RequestBackground(ctx context.Context) bool {
	fg, err := m.provider.ForegroundStatus(ctx)
	if err != nil {
		m.log.Warnw("Failed to read foreground permission", "error", err)
		return false
	}
	if fg != types.AuthorizationGranted {
		m.log.Infow("Background permission requires foreground permission first", "foreground", fg)
		return false
	}

	status, err := m.provider.RequestBackground(ctx)
	if err != nil {
		m.log.Warnw("Background permission request failed", "error", err)
		return false
	}
	m.refresh(ctx)
	return status == types.AuthorizationGranted
}

// RequestAll requests foreground and then, if granted, background
// authorization, returning the resulting state.
func (m *Manager) RequestAll(ctx context.Context) types.PermissionState {
	if m.RequestForeground(ctx) {
		m.RequestBackground(ctx)
	}
	return m.State()
}

func (m *Manager) refresh(ctx context.Context) {
	truth, ok := m.deviceTruth(ctx)
	if !ok {
		return
	}
	if truth != m.State() {
		m.persist(ctx, truth)
	}
	m.setState(truth)
}

func (m *Manager) deviceTruth(ctx context.Context) (types.PermissionState, bool) {
	fg, err := m.provider.ForegroundStatus(ctx)
	if err != nil {
		m.log.Warnw("Failed to read foreground permission", "error", err)
		return "", false
	}
	bg, err := m.provider.BackgroundStatus(ctx)
	if err != nil {
		m.log.Warnw("Failed to read background permission", "error", err)
		bg = types.AuthorizationUndetermined
	}
	return types.PermissionStateFrom(fg, bg), true
}

func (m *Manager) persist(ctx context.Context, state types.PermissionState) {
	if err := m.store.Set(ctx, storage.KeyPermissionState, state); err != nil {
		m.log.Warnw("Failed to persist permission state", "state", state, "error", err)
	}
}

func (m *Manager) setState(state types.PermissionState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	subs := make([]func(types.PermissionState), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.log.Infow("Permission state changed", "state", state)
	for _, fn := range subs {
		fn(state)
	}
}
