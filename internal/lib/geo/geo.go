package geo

import (
	"errors"
	"math"

	"github.com/twpayne/go-polyline"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula
	EarthRadiusKm = 6371.0

	// DefaultAverageSpeedKmh is the travel speed assumed when estimating route time
	DefaultAverageSpeedKmh = 50.0
)

// ErrInvalidSpeed is returned when a travel time is requested for a non-positive speed
var ErrInvalidSpeed = errors.New("average speed must be greater than zero")

// ErrInvalidCoordinate is returned when a coordinate is outside the valid lat/lng range
var ErrInvalidCoordinate = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// DegreesToRadians converts degrees to radians
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadiansToDegrees converts radians to degrees
func RadiansToDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// DistanceKm calculates great-circle distance between two points using Haversine formula
func DistanceKm(a, b Point) float64 {
	// If points are the same, distance is 0
	if a.Latitude == b.Latitude && a.Longitude == b.Longitude {
		return 0
	}

	lat1 := DegreesToRadians(a.Latitude)
	lat2 := DegreesToRadians(b.Latitude)
	dlat := DegreesToRadians(b.Latitude - a.Latitude)
	dlon := DegreesToRadians(b.Longitude - a.Longitude)

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// TotalDistanceKm sums the distance between consecutive points
func TotalDistanceKm(points []Point) float64 {
	total := 0.0
	for i := 0; i < len(points)-1; i++ {
		total += DistanceKm(points[i], points[i+1])
	}
	return total
}

// EstimateTravelMinutes converts a distance to whole minutes at the given average speed
func EstimateTravelMinutes(distanceKm, avgSpeedKmh float64) (int, error) {
	if avgSpeedKmh <= 0 || math.IsNaN(avgSpeedKmh) {
		return 0, ErrInvalidSpeed
	}
	if distanceKm <= 0 {
		return 0, nil
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60)), nil
}

// Interpolate returns the point a fraction t of the way from start to end in raw lat/lng space.
// t=0 returns start, t=1 returns end.
func Interpolate(start, end Point, t float64) Point {
	return Point{
		Latitude:  start.Latitude + t*(end.Latitude-start.Latitude),
		Longitude: start.Longitude + t*(end.Longitude-start.Longitude),
	}
}

// Clamp pins latitude into [-90, 90] and wraps longitude into [-180, 180]
func Clamp(p Point) Point {
	lat := math.Max(-90, math.Min(90, p.Latitude))
	lng := p.Longitude
	if lng > 180 || lng < -180 {
		lng = math.Mod(lng+180, 360)
		if lng < 0 {
			lng += 360
		}
		lng -= 180
	}
	return Point{Latitude: lat, Longitude: lng}
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !isValidCoordinate(point) {
		return Point{}, ErrInvalidCoordinate
	}
	return point, nil
}

// EncodePolyline encodes a point sequence as a Google polyline string
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline decodes Google polyline string to point sequence
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{
			Latitude:  coord[0],
			Longitude: coord[1],
		}

		if !isValidCoordinate(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}
