package types

import (
	"time"
)

// DefaultSessionDurationMinutes is used when a caller does not pick a
// sharing duration.
const DefaultSessionDurationMinutes = 120

// SessionState is the lifecycle state of the sharing session controller.
type SessionState string

const (
	SessionStateIdle     SessionState = "IDLE"
	SessionStateStarting SessionState = "STARTING"
	SessionStateActive   SessionState = "ACTIVE"
	SessionStateStopping SessionState = "STOPPING"
	SessionStateExpired  SessionState = "EXPIRED"
)

// SharingSession is a time-boxed opt-in period during which the user's
// fixes are uploaded and visible to peers of the same festival.
type SharingSession struct {
	ID              string    `json:"id"`
	FestivalID      string    `json:"festivalId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Active          bool      `json:"active"`
}

// ExpiresAt returns the instant the session runs out.
func (s SharingSession) ExpiresAt() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// BackgroundTaskContext is everything the background capture agent needs to
// upload a fix from a cold process. It is stored durably.
type BackgroundTaskContext struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	FestivalID string `json:"festivalId"`
}

// IsZero reports whether the context carries no session.
func (c BackgroundTaskContext) IsZero() bool {
	return c.SessionID == ""
}
