package postgres

import (
	"context"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	insertSessionSQL = `
		INSERT INTO sharing_sessions (user_id, festival_id, started_at, duration_minutes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id::text, started_at`

	insertLocationUpdateSQL = `
		INSERT INTO location_updates (session_id, latitude, longitude, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`

	endSessionSQL = `
		UPDATE sharing_sessions
		SET active = FALSE, ended_at = $2
		WHERE id = $1`
)

// SessionAPI stores sharing sessions and their fixes.
type SessionAPI struct {
	db     DB
	userID string
	clock  clock.Clock
	log    *zap.SugaredLogger
}

func NewSessionAPI(db DB, userID string, clk clock.Clock) *SessionAPI {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionAPI{
		db:     db,
		userID: userID,
		clock:  clk,
		log:    logger.GetLogger().Named("postgres_sessions"),
	}
}

// Create inserts the session and, when given, its initial fix in one
// transaction.
func (a *SessionAPI) Create(ctx context.Context, festivalID string, durationMinutes int, initial *types.LocationFix) (*types.SharingSession, error) {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return nil, dbError("create_session", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	session := &types.SharingSession{
		FestivalID:      festivalID,
		DurationMinutes: durationMinutes,
		Active:          true,
	}
	err = tx.QueryRow(ctx, insertSessionSQL,
		a.userID,
		festivalID,
		a.clock.Now().UTC(),
		durationMinutes,
	).Scan(&session.ID, &session.StartedAt)
	if err != nil {
		return nil, dbError("create_session", err)
	}

	if initial != nil {
		if _, err := tx.Exec(ctx, insertLocationUpdateSQL,
			session.ID,
			initial.Latitude,
			initial.Longitude,
			initial.AccuracyMeters,
			initial.CapturedAt.UTC(),
		); err != nil {
			return nil, dbError("create_session", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, dbError("create_session", err)
	}

	a.log.Infow("Sharing session created",
		"session_id", logger.MaskID(session.ID),
		"festival_id", festivalID,
		"duration_minutes", durationMinutes)
	return session, nil
}

// Update inserts one fix. The insert trigger notifies listeners.
func (a *SessionAPI) Update(ctx context.Context, sessionID string, fix types.LocationFix) error {
	_, err := a.db.Exec(ctx, insertLocationUpdateSQL,
		sessionID,
		fix.Latitude,
		fix.Longitude,
		fix.AccuracyMeters,
		fix.CapturedAt.UTC(),
	)
	return dbError("update_location", err)
}

// End deactivates the session. An unknown session is reported as not found.
func (a *SessionAPI) End(ctx context.Context, sessionID string) error {
	tag, err := a.db.Exec(ctx, endSessionSQL, sessionID, a.clock.Now().UTC())
	if err != nil {
		return dbError("end_session", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("sharing session", sessionID)
	}
	return nil
}
