package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

// Config represents the complete server configuration.
// Each section is loaded from prefab.yaml (or PF__ environment variables) by key.
type Config struct {
	Geocoding GeocodingConfig `koanf:"geocoding"`
	Routing   RoutingConfig   `koanf:"routing"`
	Cache     CacheConfig     `koanf:"cache"`
	Warmer    WarmerConfig    `koanf:"warmer"`
}

// GeocodingConfig holds the text geocoder and short-link resolver settings
type GeocodingConfig struct {
	NominatimURL string `koanf:"nominatim_url"`

	// UserAgent identifies the CRM to Nominatim, as its usage policy requires
	UserAgent string `koanf:"user_agent"`

	// RateLimit is requests per second against Nominatim; 0 disables the limit
	RateLimit float64 `koanf:"rate_limit"`

	ShortLinkResolverURL string        `koanf:"short_link_resolver_url"`
	Timeout              time.Duration `koanf:"timeout"`
}

// RoutingConfig holds route session defaults
type RoutingConfig struct {
	Center          CoordinatesYAML `koanf:"center"`
	Zoom            int             `koanf:"zoom"`
	WaypointCount   int             `koanf:"waypoint_count"`
	MaxWaypoints    int             `koanf:"max_waypoints"`
	Randomness      float64         `koanf:"randomness"`
	AverageSpeedKmh float64         `koanf:"average_speed_kmh"`
}

// CacheConfig holds geocode cache lifetimes
type CacheConfig struct {
	HitTTL          time.Duration `koanf:"hit_ttl"`
	MissTTL         time.Duration `koanf:"miss_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// WarmerConfig lists saved locations that are geocoded ahead of use
type WarmerConfig struct {
	RefreshInterval time.Duration   `koanf:"refresh_interval"`
	Locations       []SavedLocation `koanf:"locations"`
}

// SavedLocation is a depot or customer address the CRM looks up often
type SavedLocation struct {
	ID      string `koanf:"id"`
	Name    string `koanf:"name"`
	Address string `koanf:"address"`
}

// CoordinatesYAML represents lat/lon coordinates in YAML config
type CoordinatesYAML struct {
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`
}

// ToPoint converts CoordinatesYAML to a geo.Point
func (c CoordinatesYAML) ToPoint() geo.Point {
	return geo.Point{
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
	}
}

// Validate reports every setting that would make the server misbehave
func (c *Config) Validate() error {
	var errs []error

	if c.Geocoding.UserAgent == "" {
		errs = append(errs, errors.New("geocoding.user_agent is required"))
	}
	if c.Geocoding.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("geocoding.rate_limit must not be negative, got %v", c.Geocoding.RateLimit))
	}
	if c.Geocoding.Timeout < 0 {
		errs = append(errs, fmt.Errorf("geocoding.timeout must not be negative, got %v", c.Geocoding.Timeout))
	}

	if !c.Routing.Center.ToPoint().Valid() {
		errs = append(errs, fmt.Errorf("routing.center %+v is not a valid coordinate", c.Routing.Center))
	}
	if c.Routing.WaypointCount < 0 {
		errs = append(errs, fmt.Errorf("routing.waypoint_count must not be negative, got %d", c.Routing.WaypointCount))
	}
	if c.Routing.MaxWaypoints < c.Routing.WaypointCount {
		errs = append(errs, fmt.Errorf("routing.max_waypoints (%d) is below routing.waypoint_count (%d)",
			c.Routing.MaxWaypoints, c.Routing.WaypointCount))
	}
	if c.Routing.Randomness < 0 || c.Routing.Randomness > 1 {
		errs = append(errs, fmt.Errorf("routing.randomness must be within [0, 1], got %v", c.Routing.Randomness))
	}
	if c.Routing.AverageSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("routing.average_speed_kmh must be positive, got %v", c.Routing.AverageSpeedKmh))
	}

	if c.Warmer.RefreshInterval <= 0 && len(c.Warmer.Locations) > 0 {
		errs = append(errs, errors.New("warmer.refresh_interval must be positive when locations are configured"))
	}
	seen := make(map[string]bool, len(c.Warmer.Locations))
	for i, loc := range c.Warmer.Locations {
		if loc.ID == "" || loc.Address == "" {
			errs = append(errs, fmt.Errorf("warmer.locations[%d] needs an id and an address", i))
		}
		if seen[loc.ID] {
			errs = append(errs, fmt.Errorf("warmer.locations[%d] duplicates id %q", i, loc.ID))
		}
		seen[loc.ID] = true
	}

	return errors.Join(errs...)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Geocoding: GeocodingConfig{
			NominatimURL:         "https://nominatim.openstreetmap.org",
			UserAgent:            "Logistics CRM",
			RateLimit:            1,
			ShortLinkResolverURL: "http://localhost:5000/routes/process-short-url",
			Timeout:              10 * time.Second,
		},
		Routing: RoutingConfig{
			Center: CoordinatesYAML{
				Latitude:  51.505,
				Longitude: -0.09,
			},
			Zoom:            13,
			WaypointCount:   3,
			MaxWaypoints:    25,
			Randomness:      0.2,
			AverageSpeedKmh: 50,
		},
		Cache: CacheConfig{
			HitTTL:          24 * time.Hour,
			MissTTL:         10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Warmer: WarmerConfig{
			RefreshInterval: 6 * time.Hour,
		},
	}
}
