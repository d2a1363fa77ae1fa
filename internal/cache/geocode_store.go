package cache

import (
	"context"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/mapsurl"
)

const geocodeKeyPrefix = "geocode:"

// GeocodeResult is what the geocoder remembers about a query, misses included
type GeocodeResult struct {
	Point  geo.Point `json:"point"`
	Found  bool      `json:"found"`
	Source string    `json:"source"`
}

// GeocodeStore keeps geocoding answers in the shared cache.
// Misses get their own, usually shorter, TTL.
type GeocodeStore struct {
	cache   *Cache
	hitTTL  time.Duration
	missTTL time.Duration
}

// NewGeocodeStore creates a store backed by cache
func NewGeocodeStore(cache *Cache, hitTTL, missTTL time.Duration) *GeocodeStore {
	return &GeocodeStore{
		cache:   cache,
		hitTTL:  hitTTL,
		missTTL: missTTL,
	}
}

// Lookup returns the remembered answer for query, if still fresh
func (s *GeocodeStore) Lookup(ctx context.Context, query string) (GeocodeResult, bool) {
	ctx = logging.EnsureLogger(ctx)
	var result GeocodeResult
	found, err := s.cache.Get(GeocodeKey(query), &result)
	if err != nil {
		logging.Warnw(ctx, "Geocode cache: dropping unreadable entry", "query", query, "error", err)
		s.cache.Delete(GeocodeKey(query))
		return GeocodeResult{}, false
	}
	return result, found
}

// Save remembers the answer for query
func (s *GeocodeStore) Save(ctx context.Context, query string, result GeocodeResult) error {
	ttl := s.hitTTL
	if !result.Found {
		ttl = s.missTTL
	}
	if ttl <= 0 {
		return nil
	}
	return s.cache.Set(GeocodeKey(query), result, ttl, result.Source)
}

// GeocodeKey normalizes a query so trivially different spellings share an entry.
// Maps URLs are kept verbatim apart from surrounding whitespace: short-link codes
// are case-sensitive.
func GeocodeKey(query string) string {
	query = strings.TrimSpace(query)
	if mapsurl.LooksLikeMapsURL(query) {
		return geocodeKeyPrefix + query
	}
	return geocodeKeyPrefix + strings.ToLower(strings.Join(strings.Fields(query), " "))
}
