package types

import (
	"time"
)

// LocationAccuracy is the accuracy class requested from the device
// location provider.
type LocationAccuracy string

const (
	AccuracyLowest   LocationAccuracy = "lowest"
	AccuracyLow      LocationAccuracy = "low"
	AccuracyBalanced LocationAccuracy = "balanced"
	AccuracyHigh     LocationAccuracy = "high"
	AccuracyHighest  LocationAccuracy = "highest"
)

// LocationFix is a single timestamped reading from either capture path.
// Fixes are never persisted.
type LocationFix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// Coordinates is a bare latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NearbyMember is a peer currently sharing within the proximity radius.
// LastLocation is nil when the peer has not uploaded a fix yet.
type NearbyMember struct {
	SessionID    string       `json:"sessionId"`
	LastLocation *LocationFix `json:"lastLocation,omitempty"`
}

// NearbyPointOfInterest is a tent, stage or other festival place near the
// user. Lists of these arrive sorted ascending by DistanceMeters.
type NearbyPointOfInterest struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Location       Coordinates `json:"location"`
	DistanceMeters float64     `json:"distanceMeters"`
}

// PeerLocationEvent is a single insert delivered by the realtime feed.
type PeerLocationEvent struct {
	SessionID  string    `json:"sessionId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Fix converts the event into the LocationFix stored on a NearbyMember.
func (e PeerLocationEvent) Fix() LocationFix {
	return LocationFix{
		Latitude:       e.Latitude,
		Longitude:      e.Longitude,
		AccuracyMeters: e.Accuracy,
		CapturedAt:     e.RecordedAt,
	}
}

// WatchOptions configures a continuous location subscription.
type WatchOptions struct {
	Accuracy               LocationAccuracy `json:"accuracy"`
	DistanceIntervalMeters float64          `json:"distanceIntervalMeters"`
	TimeInterval           time.Duration    `json:"timeInterval"`
}

// BackgroundUpdateOptions configures OS-level background location updates.
type BackgroundUpdateOptions struct {
	Accuracy               LocationAccuracy `json:"accuracy"`
	TimeInterval           time.Duration    `json:"timeInterval"`
	DistanceIntervalMeters float64          `json:"distanceIntervalMeters"`
	DeferredBatchInterval  time.Duration    `json:"deferredBatchInterval"`
	PausesAutomatically    bool             `json:"pausesAutomatically"`
}
