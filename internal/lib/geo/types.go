package geo

import "math"

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Equal reports whether both components are within tolerance of other
func (p Point) Equal(other Point, tolerance float64) bool {
	return math.Abs(p.Latitude-other.Latitude) <= tolerance &&
		math.Abs(p.Longitude-other.Longitude) <= tolerance
}

// Valid reports whether the point lies within latitude [-90, 90] and longitude [-180, 180]
func (p Point) Valid() bool {
	return isValidCoordinate(p)
}

// WaypointTypeStop is the category tag given to generated intermediate stops
const WaypointTypeStop = "stop"

// Waypoint is an intermediate stop along a route.
// JSON shape matches what the route forms submit: location, lat, lng, type, completed.
type Waypoint struct {
	Point
	Label     string `json:"location"`
	Type      string `json:"type"`
	Completed bool   `json:"completed"`
}

// Polyline represents an encoded polyline with optional decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline"`
	Points          []Point `json:"points"`
}
