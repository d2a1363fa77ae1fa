package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

const (
	// DefaultBaseURL is the public OpenStreetMap Nominatim instance
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent identifies this client per the Nominatim usage policy
	DefaultUserAgent = "Logistics CRM"
)

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to the Nominatim free-text search API
type Client struct {
	baseURL    string
	userAgent  string
	httpClient HTTPDoer
	limiter    *rate.Limiter
}

// Place is a single geocoding match
type Place struct {
	Point       geo.Point
	DisplayName string
}

// NewClient creates a new Nominatim client.
// The public instance allows at most one request per second.
func NewClient(baseURL, userAgent string) *Client {
	return NewClientWithHTTPDoer(baseURL, userAgent, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a caller-supplied HTTP implementation
func NewClientWithHTTPDoer(baseURL, userAgent string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: doer,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// SetRateLimit changes the permitted request rate. A non-positive rps disables limiting.
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	c.limiter.SetLimit(rate.Limit(rps))
}

// Search geocodes a free-text query, returning the first match.
// The boolean is false when the service answered with zero matches.
func (c *Client) Search(ctx context.Context, query string) (Place, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Place{}, false, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("limit", "1")

	requestURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return Place{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Place{}, false, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return Place{}, false, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var results []SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Place{}, false, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(results) == 0 {
		return Place{}, false, nil
	}

	return processSearchResult(results[0])
}

func processSearchResult(result SearchResult) (Place, bool, error) {
	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return Place{}, false, fmt.Errorf("failed to parse latitude %q: %w", result.Lat, err)
	}
	lon, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return Place{}, false, fmt.Errorf("failed to parse longitude %q: %w", result.Lon, err)
	}
	point, err := geo.NewPoint(lat, lon)
	if err != nil {
		return Place{}, false, err
	}
	return Place{Point: point, DisplayName: result.DisplayName}, true, nil
}

// SearchResult represents one candidate in the search response.
// Nominatim encodes coordinates as strings.
type SearchResult struct {
	PlaceID     int64  `json:"place_id"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}
