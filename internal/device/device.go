// Package device declares what the proximity core needs from the operating
// system: permission truth, location fixes and scheduled background
// delivery. HostBridge implements all of it in-process.
package device

import (
	"context"
	"errors"

	"github.com/NomadCrew/nomad-crew-proximity/types"
)

// ErrNoFix is returned by CurrentFix when no reading is available yet.
var ErrNoFix = errors.New("no location fix available")

// ErrTaskNotRegistered is returned when starting updates for an unknown task.
var ErrTaskNotRegistered = errors.New("background task not registered")

// PermissionProvider reports and requests location authorization.
// Request calls may block on a user-facing dialog.
type PermissionProvider interface {
	ForegroundStatus(ctx context.Context) (types.AuthorizationStatus, error)
	BackgroundStatus(ctx context.Context) (types.AuthorizationStatus, error)
	RequestForeground(ctx context.Context) (types.AuthorizationStatus, error)
	RequestBackground(ctx context.Context) (types.AuthorizationStatus, error)
}

// Subscription is a live watch. Remove is idempotent.
type Subscription interface {
	Remove()
}

// LocationProvider yields fixes while the process is foregrounded.
type LocationProvider interface {
	CurrentFix(ctx context.Context, accuracy types.LocationAccuracy) (*types.LocationFix, error)
	Watch(ctx context.Context, opts types.WatchOptions, fn func(types.LocationFix)) (Subscription, error)
}

// TaskHandler is invoked by the OS with a batch of fixes or a delivery error.
type TaskHandler func(ctx context.Context, batch []types.LocationFix, err error)

// BackgroundUpdates schedules location delivery to a named task that may run
// in a process the user never opened.
type BackgroundUpdates interface {
	Register(taskName string, handler TaskHandler) error
	Start(ctx context.Context, taskName string, opts types.BackgroundUpdateOptions) error
	Stop(ctx context.Context, taskName string) error
	HasStarted(ctx context.Context, taskName string) (bool, error)
}
