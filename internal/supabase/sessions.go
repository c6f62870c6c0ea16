package supabase

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
)

const (
	sessionsTable        = "sharing_sessions"
	locationUpdatesTable = "location_updates"
)

type sessionRow struct {
	ID              string    `json:"id,omitempty"`
	UserID          string    `json:"user_id"`
	FestivalID      string    `json:"festival_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Active          bool      `json:"active"`
}

func (r sessionRow) toSession() *types.SharingSession {
	return &types.SharingSession{
		ID:              r.ID,
		FestivalID:      r.FestivalID,
		StartedAt:       r.StartedAt,
		DurationMinutes: r.DurationMinutes,
		Active:          r.Active,
	}
}

type locationUpdateRow struct {
	SessionID  string    `json:"session_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

func newLocationUpdateRow(sessionID string, fix types.LocationFix) locationUpdateRow {
	return locationUpdateRow{
		SessionID:  sessionID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Accuracy:   fix.AccuracyMeters,
		RecordedAt: fix.CapturedAt.UTC(),
	}
}

// SessionAPI stores sharing sessions in the sharing_sessions table and fixes
// in location_updates.
type SessionAPI struct {
	client *Client
}

func NewSessionAPI(client *Client) *SessionAPI {
	return &SessionAPI{client: client}
}

// Create inserts an active session. The initial fix, when given, is uploaded
// right after; its failure is logged and does not fail the create.
func (a *SessionAPI) Create(ctx context.Context, festivalID string, durationMinutes int, initial *types.LocationFix) (*types.SharingSession, error) {
	row := sessionRow{
		UserID:          a.client.userID,
		FestivalID:      festivalID,
		StartedAt:       a.client.clock.Now().UTC(),
		DurationMinutes: durationMinutes,
		Active:          true,
	}

	var created []sessionRow
	err := a.client.run(ctx, "create_session", func() error {
		_, err := a.client.rest.From(sessionsTable).
			Insert(row, false, "", "representation", "").
			ExecuteTo(&created)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 || created[0].ID == "" {
		return nil, errors.NewAPIError("create_session", 200, "no session row returned")
	}

	session := created[0].toSession()
	if initial != nil {
		if err := a.Update(ctx, session.ID, *initial); err != nil {
			a.client.log.Warnw("Failed to upload initial fix",
				"session_id", logger.MaskID(session.ID),
				"category", errors.Categorize(err),
				"error", err)
		}
	}
	return session, nil
}

// Update inserts one fix for the session.
func (a *SessionAPI) Update(ctx context.Context, sessionID string, fix types.LocationFix) error {
	row := newLocationUpdateRow(sessionID, fix)
	return a.client.run(ctx, "update_location", func() error {
		_, _, err := a.client.rest.From(locationUpdatesTable).
			Insert(row, false, "", "minimal", "").
			Execute()
		return err
	})
}

// End marks the session inactive.
func (a *SessionAPI) End(ctx context.Context, sessionID string) error {
	patch := map[string]interface{}{
		"active":   false,
		"ended_at": a.client.clock.Now().UTC(),
	}
	return a.client.run(ctx, "end_session", func() error {
		_, _, err := a.client.rest.From(sessionsTable).
			Update(patch, "minimal", "").
			Eq("id", sessionID).
			Execute()
		return err
	})
}
