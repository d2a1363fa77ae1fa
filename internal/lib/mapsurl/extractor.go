package mapsurl

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

// Kind describes the outcome of a URL extraction
type Kind int

const (
	// NotFound means the URL carries no recognizable coordinates
	NotFound Kind = iota
	// Found means literal coordinates were read from the URL text
	Found
	// Deferred means the URL is a short link that must be expanded by a remote resolver
	Deferred
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Deferred:
		return "deferred"
	default:
		return "not_found"
	}
}

// Result is the outcome of Extract
type Result struct {
	Kind  Kind      `json:"kind"`
	Point geo.Point `json:"point"`

	// Pattern names the URL shape that matched when Kind is Found
	Pattern string `json:"pattern,omitempty"`

	// Place is the place name from /place/{name}/ when no coordinates were present
	Place string `json:"place,omitempty"`
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Checked in order; the first match wins.
var patterns = []pattern{
	{name: "query", re: regexp.MustCompile(`maps\?(?:[^#]*&)?q=(-?\d+\.\d+),(-?\d+\.\d+)`)},
	{name: "viewport", re: regexp.MustCompile(`maps/(?:[^?#]*/)?@(-?\d+\.\d+),(-?\d+\.\d+)`)},
	{name: "search", re: regexp.MustCompile(`maps/search/(-?\d+\.\d+),(?:\s|\+|%20)?(-?\d+\.\d+)`)},
	{name: "place_data", re: regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)},
	{name: "ll", re: regexp.MustCompile(`[?&/]ll=(-?\d+\.\d+),(-?\d+\.\d+)`)},
	{name: "fragment", re: regexp.MustCompile(`#(-?\d+\.\d+),(-?\d+\.\d+)`)},
}

var (
	shortLinkHosts = []string{"maps.app.goo.gl", "goo.gl/maps"}
	mapsLike       = regexp.MustCompile(`(?i)(google\.[a-z.]+/maps|maps\.google\.[a-z.]+|maps\.app\.goo\.gl|goo\.gl/maps)`)
	placePath      = regexp.MustCompile(`/maps/place/([^/?#]+)`)
)

// Extractor pulls coordinates out of Google Maps URLs
type Extractor struct{}

// NewExtractor creates a new URL coordinate extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// LooksLikeMapsURL reports whether text contains a Google-Maps-like URL fragment
func LooksLikeMapsURL(text string) bool {
	return mapsLike.MatchString(text)
}

// IsShortLink reports whether the URL is a shortened Google Maps link
func IsShortLink(rawURL string) bool {
	for _, host := range shortLinkHosts {
		if strings.Contains(rawURL, host) {
			return true
		}
	}
	return false
}

// Extract reads coordinates from the URL text. It never fails: malformed input yields NotFound.
func (e *Extractor) Extract(ctx context.Context, rawURL string) Result {
	ctx = logging.EnsureLogger(ctx)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		logging.Debugw(ctx, "mapsurl: empty url")
		return Result{Kind: NotFound}
	}

	if IsShortLink(rawURL) {
		logging.Debugw(ctx, "mapsurl: short link needs remote resolution", "url", rawURL)
		return Result{Kind: Deferred}
	}

	if point, name, ok := MatchCoordinates(rawURL); ok {
		return Result{Kind: Found, Point: point, Pattern: name}
	}

	result := Result{Kind: NotFound, Place: placeName(rawURL)}
	logging.Infow(ctx, "mapsurl: coordinates not found in url", "url", rawURL, "place", result.Place)
	return result
}

// MatchCoordinates applies the literal coordinate patterns in priority order.
// A match whose components fall outside the valid range is skipped.
func MatchCoordinates(text string) (geo.Point, string, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		lat, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		point, err := geo.NewPoint(lat, lng)
		if err != nil {
			continue
		}
		return point, p.name, true
	}
	return geo.Point{}, "", false
}

func placeName(rawURL string) string {
	m := placePath.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	name, err := url.PathUnescape(strings.ReplaceAll(m[1], "+", " "))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(name)
}
