// pkg/valueobjects/geopoint_test.go
package valueobjects

import (
	"math"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-crew-proximity/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeoPoint(t *testing.T) {
	tests := []struct {
		name        string
		latitude    float64
		longitude   float64
		shouldError bool
	}{
		{"valid coordinates", 48.1315, 11.5497, false},
		{"invalid latitude - too high", 91.0, 0.0, true},
		{"invalid latitude - too low", -91.0, 0.0, true},
		{"invalid longitude - too high", 0.0, 181.0, true},
		{"invalid longitude - too low", 0.0, -181.0, true},
		{"NaN latitude", math.NaN(), 0.0, true},
		{"edge case - max valid values", 90.0, 180.0, false},
		{"edge case - min valid values", -90.0, -180.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			point, err := NewGeoPoint(tt.latitude, tt.longitude)
			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, point)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.latitude, point.Latitude())
			assert.Equal(t, tt.longitude, point.Longitude())
		})
	}
}

func TestNewGeoPointFromFix(t *testing.T) {
	fix := types.LocationFix{Latitude: 48.1315, Longitude: 11.5497, AccuracyMeters: 12, CapturedAt: time.Now()}
	point, err := NewGeoPointFromFix(fix)
	require.NoError(t, err)
	assert.Equal(t, 48.1315, point.Latitude())

	fix.AccuracyMeters = -1
	_, err = NewGeoPointFromFix(fix)
	assert.Error(t, err)
}

func TestGeoPointDistance(t *testing.T) {
	tests := []struct {
		name         string
		point1       GeoPoint
		point2       GeoPoint
		expectDist   float64
		expectMargin float64
	}{
		{
			name:         "London to Paris",
			point1:       GeoPoint{51.5074, -0.1278},
			point2:       GeoPoint{48.8566, 2.3522},
			expectDist:   343457.0,
			expectMargin: 100.0,
		},
		{
			name:         "Same point",
			point1:       GeoPoint{48.1315, 11.5497},
			point2:       GeoPoint{48.1315, 11.5497},
			expectDist:   0.0,
			expectMargin: 0.1,
		},
		{
			name:         "One thousandth of a degree of latitude",
			point1:       GeoPoint{48.1310, 11.5497},
			point2:       GeoPoint{48.1320, 11.5497},
			expectDist:   111.2,
			expectMargin: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			distance := tt.point1.DistanceTo(tt.point2)
			assert.InDelta(t, tt.expectDist, distance, tt.expectMargin)
			assert.InDelta(t, distance, tt.point2.DistanceTo(tt.point1), 0.1)
		})
	}
}

func TestGeoPointIsWithinRadius(t *testing.T) {
	gate, err := NewGeoPoint(48.1310, 11.5497)
	require.NoError(t, err)
	tent, err := NewGeoPoint(48.1320, 11.5497)
	require.NoError(t, err)

	assert.True(t, gate.IsWithinRadius(*tent, 500))
	assert.False(t, gate.IsWithinRadius(*tent, 100))
	assert.True(t, gate.IsWithinRadius(*tent, gate.DistanceTo(*tent)))
	assert.False(t, gate.IsWithinRadius(*tent, -1))
	assert.True(t, gate.IsWithinRadius(*gate, 0))
}

func TestGeoPointGeohash(t *testing.T) {
	point, err := NewGeoPoint(57.64911, 10.40744)
	require.NoError(t, err)

	assert.Equal(t, "u4pruydqqvj", point.Geohash(11))
	assert.Equal(t, "u4pruy", point.Geohash(0))
}

func TestCoarseLocation(t *testing.T) {
	assert.Equal(t, "u4pruy", CoarseLocation(types.LocationFix{Latitude: 57.64911, Longitude: 10.40744}))
	assert.Equal(t, "invalid", CoarseLocation(types.LocationFix{Latitude: 120}))
}

func TestGeoPointString(t *testing.T) {
	point, err := NewGeoPoint(51.5074, -0.1278)
	require.NoError(t, err)
	assert.Equal(t, "(51.507400, -0.127800)", point.String())
}
