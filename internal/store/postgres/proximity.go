package postgres

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/types"
)

const (
	nearbyPointsOfInterestSQL = `
		SELECT id, name, latitude, longitude, distance_meters
		FROM nearby_points_of_interest($1, $2, $3, $4)`

	nearbySharingPeersSQL = `
		SELECT session_id::text, latitude, longitude, accuracy, recorded_at
		FROM nearby_sharing_peers($1, $2, $3, $4)`
)

// ProximityAPI runs the haversine radius functions from the migrations.
type ProximityAPI struct {
	db DB
}

func NewProximityAPI(db DB) *ProximityAPI {
	return &ProximityAPI{db: db}
}

func (a *ProximityAPI) NearbyPointsOfInterest(ctx context.Context, lat, lng, radiusMeters float64, festivalID string) ([]types.NearbyPointOfInterest, error) {
	rows, err := a.db.Query(ctx, nearbyPointsOfInterestSQL, lat, lng, radiusMeters, festivalID)
	if err != nil {
		return nil, dbError("nearby_points_of_interest", err)
	}
	defer rows.Close()

	points := []types.NearbyPointOfInterest{}
	for rows.Next() {
		var p types.NearbyPointOfInterest
		if err := rows.Scan(&p.ID, &p.Name, &p.Location.Lat, &p.Location.Lng, &p.DistanceMeters); err != nil {
			return nil, dbError("nearby_points_of_interest", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("nearby_points_of_interest", err)
	}
	return points, nil
}

func (a *ProximityAPI) NearbyPeers(ctx context.Context, sessionID string, lat, lng, radiusMeters float64) ([]types.NearbyMember, error) {
	rows, err := a.db.Query(ctx, nearbySharingPeersSQL, sessionID, lat, lng, radiusMeters)
	if err != nil {
		return nil, dbError("nearby_sharing_peers", err)
	}
	defer rows.Close()

	members := []types.NearbyMember{}
	for rows.Next() {
		var (
			id         string
			lat, lng   float64
			accuracy   float64
			recordedAt time.Time
		)
		if err := rows.Scan(&id, &lat, &lng, &accuracy, &recordedAt); err != nil {
			return nil, dbError("nearby_sharing_peers", err)
		}
		members = append(members, types.NearbyMember{
			SessionID: id,
			LastLocation: &types.LocationFix{
				Latitude:       lat,
				Longitude:      lng,
				AccuracyMeters: accuracy,
				CapturedAt:     recordedAt,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("nearby_sharing_peers", err)
	}
	return members, nil
}
