package geocode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"google.golang.org/grpc/codes"

	"github.com/dpup/crm-maps/server/internal/cache"
	"github.com/dpup/crm-maps/server/internal/clients/nominatim"
	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/mapsurl"
	"github.com/dpup/crm-maps/server/internal/observability"
)

// DefaultTimeout bounds each upstream call made while resolving one query
const DefaultTimeout = 10 * time.Second

// ErrLookupFailed wraps every network or service failure. Zero matches is not a failure.
var ErrLookupFailed = errors.NewC("geocoding lookup failed", codes.Unavailable)

// TextSearcher geocodes free text
type TextSearcher interface {
	Search(ctx context.Context, query string) (nominatim.Place, bool, error)
}

// ShortLinkResolver expands shortened maps links
type ShortLinkResolver interface {
	Resolve(ctx context.Context, shortURL string) (geo.Point, bool, error)
}

// ResultStore remembers previous answers
type ResultStore interface {
	Lookup(ctx context.Context, query string) (cache.GeocodeResult, bool)
	Save(ctx context.Context, query string, result cache.GeocodeResult) error
}

// Geocoder resolves an address or a Google Maps URL to a coordinate
type Geocoder struct {
	extractor  *mapsurl.Extractor
	text       TextSearcher
	shortLinks ShortLinkResolver
	store      ResultStore
	metrics    *observability.GeocodeCollector
	timeout    time.Duration
}

// Option configures a Geocoder
type Option func(*Geocoder)

// WithShortLinkResolver enables expansion of maps.app.goo.gl style links
func WithShortLinkResolver(r ShortLinkResolver) Option {
	return func(g *Geocoder) { g.shortLinks = r }
}

// WithStore caches answers, including misses
func WithStore(s ResultStore) Option {
	return func(g *Geocoder) { g.store = s }
}

// WithMetrics records lookups on collector
func WithMetrics(collector *observability.GeocodeCollector) Option {
	return func(g *Geocoder) { g.metrics = collector }
}

// WithTimeout sets the per-call upstream timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(g *Geocoder) { g.timeout = d }
}

// NewGeocoder creates a geocoder that falls back to text search
func NewGeocoder(text TextSearcher, opts ...Option) *Geocoder {
	g := &Geocoder{
		extractor: mapsurl.NewExtractor(),
		text:      text,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Resolve turns input into a coordinate.
//
// Maps URLs are parsed locally first; short links go to the resolver. When neither
// yields coordinates, the place name from the URL, or else the raw input, is text geocoded.
// The boolean is false when nothing matched. Errors wrap ErrLookupFailed.
func (g *Geocoder) Resolve(ctx context.Context, input string) (geo.Point, bool, error) {
	ctx = logging.EnsureLogger(ctx)
	input = strings.TrimSpace(input)
	if input == "" {
		return geo.Point{}, false, nil
	}

	if g.store != nil {
		if cached, ok := g.store.Lookup(ctx, input); ok {
			g.metrics.RecordLookup(observability.SourceCache, outcome(cached.Found, nil))
			return cached.Point, cached.Found, nil
		}
	}

	point, found, source, err := g.resolve(ctx, input)
	g.metrics.RecordLookup(source, outcome(found, err))
	if err != nil {
		return geo.Point{}, false, err
	}

	if g.store != nil {
		result := cache.GeocodeResult{Point: point, Found: found, Source: source}
		if err := g.store.Save(ctx, input, result); err != nil {
			logging.Warnw(ctx, "geocode: failed to cache result", "query", input, "error", err)
		}
	}

	return point, found, nil
}

func (g *Geocoder) resolve(ctx context.Context, input string) (geo.Point, bool, string, error) {
	query := input

	if mapsurl.LooksLikeMapsURL(input) {
		result := g.extractor.Extract(ctx, input)
		switch result.Kind {
		case mapsurl.Found:
			return result.Point, true, observability.SourceURL, nil

		case mapsurl.Deferred:
			if g.shortLinks != nil {
				point, found, err := g.resolveShortLink(ctx, input)
				if err != nil {
					return geo.Point{}, false, observability.SourceShortLink, err
				}
				if found {
					return point, true, observability.SourceShortLink, nil
				}
			}

		case mapsurl.NotFound:
			if result.Place != "" {
				query = result.Place
			}
		}
	}

	place, found, err := g.searchText(ctx, query)
	if err != nil {
		return geo.Point{}, false, observability.SourceText, err
	}
	return place.Point, found, observability.SourceText, nil
}

func (g *Geocoder) resolveShortLink(ctx context.Context, shortURL string) (geo.Point, bool, error) {
	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	point, found, err := g.shortLinks.Resolve(callCtx, shortURL)
	g.metrics.ObserveUpstream(observability.SourceShortLink, time.Since(start))
	if err != nil {
		logging.Warnw(ctx, "geocode: short-link resolution failed", "url", shortURL, "error", err)
		return geo.Point{}, false, fmt.Errorf("%w: resolving short link: %w", ErrLookupFailed, err)
	}
	return point, found, nil
}

func (g *Geocoder) searchText(ctx context.Context, query string) (nominatim.Place, bool, error) {
	if g.text == nil {
		return nominatim.Place{}, false, fmt.Errorf("%w: no text geocoding service configured", ErrLookupFailed)
	}

	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	place, found, err := g.text.Search(callCtx, query)
	g.metrics.ObserveUpstream(observability.SourceText, time.Since(start))
	if err != nil {
		logging.Warnw(ctx, "geocode: text search failed", "query", query, "error", err)
		return nominatim.Place{}, false, fmt.Errorf("%w: searching %q: %w", ErrLookupFailed, query, err)
	}
	if !found {
		logging.Infow(ctx, "geocode: no matches", "query", query)
	}
	return place, found, nil
}

func (g *Geocoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func outcome(found bool, err error) string {
	switch {
	case err != nil:
		return observability.OutcomeError
	case found:
		return observability.OutcomeFound
	default:
		return observability.OutcomeNotFound
	}
}
