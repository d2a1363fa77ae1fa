package waypoints

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

const (
	// KmPerDegreeLatitude approximates the length of one degree of latitude
	KmPerDegreeLatitude = 111.32

	// DefaultRandomness is the fraction of the start-end distance used as maximum deviation
	DefaultRandomness = 0.2

	// minCosLatitude guards the longitude conversion near the poles
	minCosLatitude = 1e-9
)

var (
	ErrNegativeCount     = errors.New("waypoint count must not be negative")
	ErrInvalidRandomness = errors.New("randomness must be within [0, 1]")
)

// Generator synthesizes intermediate stops along the straight line between two points
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Generator
type Option func(*Generator)

// WithRand sets the random source used for perpendicular deviation
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = r
	}
}

// WithSeed makes the deviation sequence reproducible
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// NewGenerator creates a waypoint generator
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns count points between start and end ordered from start-adjacent to end-adjacent.
//
// Each point sits at fraction i/(count+1) along the line and is pushed along the unit
// perpendicular by a uniform deviation in [-1, 1] * DistanceKm(start, end) * randomness km.
// When start and end coincide there is no perpendicular, so points are emitted on the line.
func (g *Generator) Generate(start, end geo.Point, count int, randomness float64) ([]geo.Point, error) {
	if count < 0 {
		return nil, ErrNegativeCount
	}
	if randomness < 0 || randomness > 1 || math.IsNaN(randomness) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRandomness, randomness)
	}

	points := make([]geo.Point, 0, count)
	if count == 0 {
		return points, nil
	}

	maxDeviation := geo.DistanceKm(start, end) * randomness

	dx := end.Latitude - start.Latitude
	dy := end.Longitude - start.Longitude
	length := math.Sqrt(dx*dx + dy*dy)

	var perpX, perpY float64
	if length > 0 {
		perpX = -dy / length
		perpY = dx / length
	}

	for i := 1; i <= count; i++ {
		fraction := float64(i) / float64(count+1)
		base := geo.Interpolate(start, end, fraction)

		if length == 0 || maxDeviation == 0 {
			points = append(points, base)
			continue
		}

		deviation := (g.float64()*2 - 1) * maxDeviation

		latOffset := deviation * perpX / KmPerDegreeLatitude
		lngOffset := 0.0
		if cosLat := math.Cos(geo.DegreesToRadians(base.Latitude)); math.Abs(cosLat) > minCosLatitude {
			lngOffset = deviation * perpY / (KmPerDegreeLatitude * cosLat)
		}

		points = append(points, geo.Clamp(geo.Point{
			Latitude:  base.Latitude + latOffset,
			Longitude: base.Longitude + lngOffset,
		}))
	}

	return points, nil
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rng == nil {
		return rand.Float64()
	}
	return g.rng.Float64()
}

// Label converts generated points to waypoints named "Waypoint 1".."Waypoint N"
func Label(points []geo.Point) []geo.Waypoint {
	waypoints := make([]geo.Waypoint, len(points))
	for i, p := range points {
		waypoints[i] = geo.Waypoint{
			Point: p,
			Label: fmt.Sprintf("Waypoint %d", i+1),
			Type:  geo.WaypointTypeStop,
		}
	}
	return waypoints
}
