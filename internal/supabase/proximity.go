package supabase

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/types"
)

const (
	rpcNearbyPointsOfInterest = "nearby_points_of_interest"
	rpcNearbySharingPeers     = "nearby_sharing_peers"
)

type pointOfInterestRow struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
}

// peerRow carries the peer's latest upload. The location columns are null
// when the peer has not uploaded yet.
type peerRow struct {
	SessionID  string     `json:"session_id"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	Accuracy   *float64   `json:"accuracy"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (r peerRow) toMember() types.NearbyMember {
	member := types.NearbyMember{SessionID: r.SessionID}
	if r.Latitude == nil || r.Longitude == nil {
		return member
	}
	fix := types.LocationFix{Latitude: *r.Latitude, Longitude: *r.Longitude}
	if r.Accuracy != nil {
		fix.AccuracyMeters = *r.Accuracy
	}
	if r.RecordedAt != nil {
		fix.CapturedAt = *r.RecordedAt
	}
	member.LastLocation = &fix
	return member
}

// ProximityAPI answers radius queries through database functions. Both
// functions return rows ordered nearest first.
type ProximityAPI struct {
	client *Client
}

func NewProximityAPI(client *Client) *ProximityAPI {
	return &ProximityAPI{client: client}
}

func (a *ProximityAPI) NearbyPointsOfInterest(ctx context.Context, lat, lng, radiusMeters float64, festivalID string) ([]types.NearbyPointOfInterest, error) {
	args := map[string]interface{}{
		"lat":           lat,
		"lng":           lng,
		"radius_meters": radiusMeters,
		"festival_id":   festivalID,
	}

	var rows []pointOfInterestRow
	if err := a.client.rpc(ctx, rpcNearbyPointsOfInterest, args, &rows); err != nil {
		return nil, err
	}

	points := make([]types.NearbyPointOfInterest, 0, len(rows))
	for _, r := range rows {
		points = append(points, types.NearbyPointOfInterest{
			ID:             r.ID,
			Name:           r.Name,
			Location:       types.Coordinates{Lat: r.Latitude, Lng: r.Longitude},
			DistanceMeters: r.DistanceMeters,
		})
	}
	return points, nil
}

// NearbyPeers lists other active sessions of the caller's festival within
// the radius. The caller's own session is excluded by the function.
func (a *ProximityAPI) NearbyPeers(ctx context.Context, sessionID string, lat, lng, radiusMeters float64) ([]types.NearbyMember, error) {
	args := map[string]interface{}{
		"session_id":    sessionID,
		"lat":           lat,
		"lng":           lng,
		"radius_meters": radiusMeters,
	}

	var rows []peerRow
	if err := a.client.rpc(ctx, rpcNearbySharingPeers, args, &rows); err != nil {
		return nil, err
	}

	members := make([]types.NearbyMember, 0, len(rows))
	for _, r := range rows {
		members = append(members, r.toMember())
	}
	return members, nil
}
