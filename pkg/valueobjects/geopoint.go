// pkg/valueobjects/geopoint.go
package valueobjects

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/NomadCrew/nomad-crew-proximity/types"
)

const earthRadiusMeters = 6371000

// DefaultGeohashPrecision keeps roughly ±0.61 km of precision, enough to
// tell festivals apart in logs without pinpointing a person.
const DefaultGeohashPrecision = 6

const geohashBase32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// GeoPoint represents a validated geographic point.
type GeoPoint struct {
	latitude  float64
	longitude float64
}

// NewGeoPoint creates a new GeoPoint with validation
func NewGeoPoint(lat, lng float64) (*GeoPoint, error) {
	if err := validateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	return &GeoPoint{
		latitude:  lat,
		longitude: lng,
	}, nil
}

// NewGeoPointFromFix validates a location fix and returns its point.
// Negative accuracy is rejected as well.
func NewGeoPointFromFix(fix types.LocationFix) (*GeoPoint, error) {
	if fix.AccuracyMeters < 0 || math.IsNaN(fix.AccuracyMeters) {
		return nil, errors.ValidationFailed(
			"invalid accuracy",
			fmt.Sprintf("accuracy %f must not be negative", fix.AccuracyMeters),
		)
	}
	return NewGeoPoint(fix.Latitude, fix.Longitude)
}

// NewGeoPointFromCoordinates builds a point from API coordinates.
func NewGeoPointFromCoordinates(coords *types.Coordinates) (*GeoPoint, error) {
	if coords == nil {
		return nil, errors.ValidationFailed(
			"invalid coordinates",
			"coordinates cannot be nil",
		)
	}
	return NewGeoPoint(coords.Lat, coords.Lng)
}

func (g GeoPoint) Latitude() float64 {
	return g.latitude
}

func (g GeoPoint) Longitude() float64 {
	return g.longitude
}

// DistanceTo calculates the distance to another point in meters using the Haversine formula
func (g GeoPoint) DistanceTo(other GeoPoint) float64 {
	lat1 := degreesToRadians(g.latitude)
	lng1 := degreesToRadians(g.longitude)
	lat2 := degreesToRadians(other.latitude)
	lng2 := degreesToRadians(other.longitude)

	dlat := lat2 - lat1
	dlng := lng2 - lng1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// IsWithinRadius checks if another point is within the specified radius in meters
func (g GeoPoint) IsWithinRadius(other GeoPoint, radius float64) bool {
	if radius < 0 {
		return false
	}
	return g.DistanceTo(other) <= radius
}

// Geohash encodes the point with the standard base32 geohash alphabet.
// precision < 1 falls back to DefaultGeohashPrecision.
func (g GeoPoint) Geohash(precision int) string {
	if precision < 1 {
		precision = DefaultGeohashPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var hash strings.Builder
	hash.Grow(precision)

	bits := 0
	var ch uint
	even := true
	for hash.Len() < precision {
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if g.longitude > mid {
				ch |= 1 << (4 - bits)
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if g.latitude > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++
		if bits == 5 {
			hash.WriteByte(geohashBase32[ch])
			bits = 0
			ch = 0
		}
	}

	return hash.String()
}

func (g GeoPoint) String() string {
	return fmt.Sprintf("(%f, %f)", g.latitude, g.longitude)
}

func (g GeoPoint) ToCoordinates() *types.Coordinates {
	return &types.Coordinates{
		Lat: g.latitude,
		Lng: g.longitude,
	}
}

func (g GeoPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	}{
		Latitude:  g.latitude,
		Longitude: g.longitude,
	})
}

// CoarseLocation returns a log-safe geohash for a fix, or "invalid".
func CoarseLocation(fix types.LocationFix) string {
	p, err := NewGeoPoint(fix.Latitude, fix.Longitude)
	if err != nil {
		return "invalid"
	}
	return p.Geohash(DefaultGeohashPrecision)
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		return errors.ValidationFailed(
			"invalid latitude",
			fmt.Sprintf("latitude %f is outside valid range [-90, 90]", lat),
		)
	}

	if lng < -180 || lng > 180 || math.IsNaN(lng) {
		return errors.ValidationFailed(
			"invalid longitude",
			fmt.Sprintf("longitude %f is outside valid range [-180, 180]", lng),
		)
	}

	return nil
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
