package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractWKTPriorityOrder(t *testing.T) {
	logEntry := map[string]interface{}{
		"geo": map[string]interface{}{
			"Geometrie_log": []interface{}{
				map[string]interface{}{
					"DtcLog_geometrie": map[string]interface{}{
						"DtcLog_punt": "POINT Z (649328 665262 0)",
					},
				},
			},
		},
		"loc": map[string]interface{}{
			"Locatie_geometrie": "POINT Z (1 1 1)",
		},
	}
	assert.Equal(t, "POINT Z (649328 665262 0)", ExtractWKT(logEntry),
		"geometry log wins over locatie geometry")

	locOnly := map[string]interface{}{
		"loc": map[string]interface{}{
			"Locatie_geometrie": "LINESTRING (0 0, 1 1)",
		},
	}
	assert.Equal(t, "LINESTRING (0 0, 1 1)", ExtractWKT(locOnly))

	lambert72 := map[string]interface{}{
		"loc": map[string]interface{}{
			"Locatie_puntlocatie": map[string]interface{}{
				"3Dpunt_puntgeometrie": map[string]interface{}{
					"DtcCoord_lambert72": map[string]interface{}{
						"DtcCoordLambert72_xcoordinaat": 152000.5,
						"DtcCoordLambert72_ycoordinaat": 170000.25,
						"DtcCoordLambert72_zcoordinaat": 3.0,
					},
				},
			},
		},
	}
	assert.Equal(t, "POINT Z (152000.5 170000.25 3)", ExtractWKT(lambert72))

	assert.Empty(t, ExtractWKT(map[string]interface{}{}))
	assert.Empty(t, ExtractWKT(map[string]interface{}{"loc": map[string]interface{}{}}))
}

func TestStripSRID(t *testing.T) {
	assert.Equal(t, "POINT Z(1000.123 2000.456 0.0)",
		StripSRID("SRID=3812;POINT Z(1000.123 2000.456 0.0)"))
	assert.Equal(t, "POINT (1 2)", StripSRID("POINT (1 2)"))
}

func TestToWGS84GeoJSONPointIsTwoDimensional(t *testing.T) {
	geometry, err := ToWGS84GeoJSON("SRID=3812;POINT Z(1000.123 2000.456 0.0)")
	require.NoError(t, err)

	assert.Equal(t, "Point", geometry["type"])
	coords, ok := geometry["coordinates"].([]interface{})
	require.True(t, ok)
	assert.Len(t, coords, 2, "points are emitted with 2D coordinates")
}

func TestToWGS84GeoJSONFalseOriginRoundTrips(t *testing.T) {
	// At the false origin the inverse must reproduce the projection origin
	geometry, err := ToWGS84GeoJSON("POINT (649328 665262)")
	require.NoError(t, err)

	coords := geometry["coordinates"].([]interface{})
	lon := coords[0].(float64)
	lat := coords[1].(float64)
	assert.InDelta(t, 4.0+21.0/60+33.177/3600, lon, 1e-9)
	assert.InDelta(t, 50.0+47.0/60+52.134/3600, lat, 1e-9)
}

func TestLambertInverseWithinBelgium(t *testing.T) {
	points := [][2]float64{
		{649328, 665262},
		{550000, 560000},
		{750000, 780000},
		{600000, 700000},
	}
	for _, p := range points {
		lon, lat := lambert2008.Inverse(p[0], p[1])
		assert.Greater(t, lon, 2.0, "lon of %v", p)
		assert.Less(t, lon, 7.0, "lon of %v", p)
		assert.Greater(t, lat, 49.0, "lat of %v", p)
		assert.Less(t, lat, 52.0, "lat of %v", p)
	}
}

func TestLambertForwardInverseRoundTrip(t *testing.T) {
	points := [][2]float64{
		{4.35, 50.85},  // Brussels
		{3.72, 51.05},  // Ghent
		{5.57, 50.63},  // Liège
		{4.40, 51.22},  // Antwerp
	}
	for _, p := range points {
		east, north := lambert2008.Forward(p[0], p[1])
		lon, lat := lambert2008.Inverse(east, north)
		assert.True(t, math.Abs(lon-p[0]) < 1e-9, "lon round trip of %v: got %v", p, lon)
		assert.True(t, math.Abs(lat-p[1]) < 1e-9, "lat round trip of %v: got %v", p, lat)
	}
}

func TestToWGS84GeoJSONLineString(t *testing.T) {
	geometry, err := ToWGS84GeoJSON("LINESTRING (649328 665262, 650000 666000)")
	require.NoError(t, err)
	assert.Equal(t, "LineString", geometry["type"])

	coords, ok := geometry["coordinates"].([]interface{})
	require.True(t, ok)
	require.Len(t, coords, 2)
	first := coords[0].([]interface{})
	lon := first[0].(float64)
	lat := first[1].(float64)
	assert.InDelta(t, 4.3592, lon, 1e-3)
	assert.InDelta(t, 50.7978, lat, 1e-3)
}

func TestToWGS84GeoJSONMalformedInput(t *testing.T) {
	_, err := ToWGS84GeoJSON("POINT (not numbers)")
	assert.Error(t, err)

	_, err = ToWGS84GeoJSON("NOT A GEOMETRY")
	assert.Error(t, err)
}

func TestSynthesizePointOrdersCoordinatesBySortedKeys(t *testing.T) {
	coord := map[string]interface{}{
		"DtcCoordLambert2008_xcoordinaat": 100.0,
		"DtcCoordLambert2008_ycoordinaat": 200.0,
	}
	assert.Equal(t, "POINT Z (100 200 0)", synthesizePoint(coord))
}
