package handlers

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/types"
)

// ProximityController is the part of the orchestrator the control API drives.
type ProximityController interface {
	Snapshot() types.ProximitySnapshot
	RequestPermissions(ctx context.Context) types.PermissionState
	StartSharing(ctx context.Context, festivalID string, durationMinutes int) bool
	StopSharing(ctx context.Context)
	StartLocalTracking(ctx context.Context, festivalID string) bool
	StopLocalTracking()
	SetFestival(id string)
	RefreshNearby(ctx context.Context) error
}

// DeviceBridge receives permission answers and fixes from the native shell.
type DeviceBridge interface {
	SetPermissions(foreground, background types.AuthorizationStatus)
	PushFixes(ctx context.Context, fixes []types.LocationFix) int
}

// PermissionReconciler re-reads device permissions after the shell reports
// a change.
type PermissionReconciler interface {
	Reconcile(ctx context.Context) types.PermissionState
}
