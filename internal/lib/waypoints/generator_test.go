package waypoints

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

var (
	angelsCamp = geo.Point{Latitude: 38.0675, Longitude: -120.5436}
	murphys    = geo.Point{Latitude: 38.1391, Longitude: -120.4561}
)

func TestGenerate_ZeroCount(t *testing.T) {
	g := NewGenerator(WithSeed(1))

	points, err := g.Generate(angelsCamp, murphys, 0, 0.5)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestGenerate_ZeroRandomnessLiesOnSegment(t *testing.T) {
	g := NewGenerator(WithSeed(1))

	points, err := g.Generate(angelsCamp, murphys, 4, 0)
	require.NoError(t, err)
	require.Len(t, points, 4)

	dx := murphys.Latitude - angelsCamp.Latitude
	dy := murphys.Longitude - angelsCamp.Longitude
	for i, p := range points {
		fraction := float64(i+1) / 5
		assert.True(t, geo.Interpolate(angelsCamp, murphys, fraction).Equal(p, 1e-12), "point %d should be on the line", i)

		// Collinear with the segment
		cross := (p.Latitude-angelsCamp.Latitude)*dy - (p.Longitude-angelsCamp.Longitude)*dx
		assert.InDelta(t, 0, cross, 1e-12)
	}
}

func TestGenerate_OrderedFromStart(t *testing.T) {
	g := NewGenerator(WithSeed(7))

	points, err := g.Generate(angelsCamp, murphys, 5, 0.05)
	require.NoError(t, err)
	require.Len(t, points, 5)

	prev := 0.0
	for _, p := range points {
		d := geo.DistanceKm(angelsCamp, p)
		assert.Greater(t, d, prev, "waypoints should move away from start")
		prev = d
	}
}

func TestGenerate_DeviationBounded(t *testing.T) {
	g := NewGenerator(WithSeed(42))
	start := geo.Point{Latitude: 0, Longitude: 0}
	end := geo.Point{Latitude: 0, Longitude: 1}
	randomness := 0.2
	maxDeviation := geo.DistanceKm(start, end) * randomness

	for run := 0; run < 50; run++ {
		points, err := g.Generate(start, end, 3, randomness)
		require.NoError(t, err)
		for i, p := range points {
			base := geo.Interpolate(start, end, float64(i+1)/4)
			// Route runs along the equator so the deviation is purely in latitude
			assert.InDelta(t, base.Longitude, p.Longitude, 1e-9)
			assert.LessOrEqual(t, math.Abs(p.Latitude-base.Latitude)*KmPerDegreeLatitude, maxDeviation+1e-9)
		}
	}
}

func TestGenerate_SeedIsReproducible(t *testing.T) {
	a, err := NewGenerator(WithSeed(99)).Generate(angelsCamp, murphys, 3, 0.3)
	require.NoError(t, err)
	b, err := NewGenerator(WithSeed(99)).Generate(angelsCamp, murphys, 3, 0.3)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerate_DegenerateSamePoint(t *testing.T) {
	g := NewGenerator(WithSeed(3))

	points, err := g.Generate(angelsCamp, angelsCamp, 3, 1)
	require.NoError(t, err)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.True(t, angelsCamp.Equal(p, 1e-12))
		assert.False(t, math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude))
	}
}

func TestGenerate_NearPoleStaysValid(t *testing.T) {
	g := NewGenerator(WithSeed(5))

	points, err := g.Generate(geo.Point{Latitude: 89.9, Longitude: 0}, geo.Point{Latitude: 90, Longitude: 0}, 3, 1)
	require.NoError(t, err)
	for _, p := range points {
		assert.True(t, p.Valid(), "generated point %+v should be a valid coordinate", p)
	}
}

func TestGenerate_InvalidArguments(t *testing.T) {
	g := NewGenerator()

	_, err := g.Generate(angelsCamp, murphys, -1, 0.2)
	assert.ErrorIs(t, err, ErrNegativeCount)

	_, err = g.Generate(angelsCamp, murphys, 2, 1.5)
	assert.ErrorIs(t, err, ErrInvalidRandomness)

	_, err = g.Generate(angelsCamp, murphys, 2, -0.1)
	assert.ErrorIs(t, err, ErrInvalidRandomness)
}

func TestLabel(t *testing.T) {
	waypoints := Label([]geo.Point{angelsCamp, murphys})

	require.Len(t, waypoints, 2)
	assert.Equal(t, "Waypoint 1", waypoints[0].Label)
	assert.Equal(t, "Waypoint 2", waypoints[1].Label)
	assert.Equal(t, geo.WaypointTypeStop, waypoints[0].Type)
	assert.False(t, waypoints[1].Completed)
	assert.Equal(t, murphys, waypoints[1].Point)
}
