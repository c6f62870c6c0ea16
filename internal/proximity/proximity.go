// Package proximity computes the peers and points of interest around the
// device and keeps the peer list fresh from the realtime feed.
package proximity

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/types"
)

// API answers radius queries. Points of interest come back sorted ascending
// by distance; peers come back nearest first.
type API interface {
	NearbyPointsOfInterest(ctx context.Context, lat, lng, radiusMeters float64, festivalID string) ([]types.NearbyPointOfInterest, error)
	NearbyPeers(ctx context.Context, sessionID string, lat, lng, radiusMeters float64) ([]types.NearbyMember, error)
}

// Feed opens push subscriptions for location inserts of the given sessions.
// The subscription lives until ctx is cancelled or Close is called.
type Feed interface {
	Subscribe(ctx context.Context, sessionIDs []string) (Subscription, error)
}

// Subscription is a live feed. Events is closed once the subscription ends.
// Close is idempotent.
type Subscription interface {
	Events() <-chan types.PeerLocationEvent
	Close() error
}

// LocationSource supplies the last known fix. *capture.LocationCache
// satisfies it.
type LocationSource interface {
	Get() *types.LocationFix
}

// SessionSource supplies the active sharing session, or nil.
// *session.Controller satisfies it.
type SessionSource interface {
	Session() *types.SharingSession
}
