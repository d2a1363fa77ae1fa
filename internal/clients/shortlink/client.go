package shortlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client asks the application server to expand a shortened Google Maps link
type Client struct {
	endpoint   string
	httpClient HTTPDoer
}

// NewClient creates a resolver client posting to endpoint
func NewClient(endpoint string) *Client {
	return NewClientWithHTTPDoer(endpoint, &http.Client{
		Timeout: 15 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a caller-supplied HTTP implementation
func NewClientWithHTTPDoer(endpoint string, doer HTTPDoer) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: doer,
	}
}

// Resolve posts the short link and returns the coordinates the server found.
// A non-2xx status or success=false means "not found", not an error; only transport
// and decoding problems are returned as errors.
func (c *Client) Resolve(ctx context.Context, shortURL string) (geo.Point, bool, error) {
	ctx = logging.EnsureLogger(ctx)
	jsonBody, err := json.Marshal(ResolveRequest{URL: shortURL})
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logging.Infow(ctx, "shortlink: resolver returned non-success status",
			"url", shortURL, "status", resp.StatusCode, "body", string(body))
		return geo.Point{}, false, nil
	}

	var response ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return geo.Point{}, false, fmt.Errorf("failed to decode response: %w", err)
	}

	if !response.Success || response.Latitude == nil || response.Longitude == nil {
		logging.Infow(ctx, "shortlink: coordinates not found", "url", shortURL, "error", response.Error)
		return geo.Point{}, false, nil
	}

	point, err := geo.NewPoint(*response.Latitude, *response.Longitude)
	if err != nil {
		logging.Warnw(ctx, "shortlink: resolver returned invalid coordinates",
			"url", shortURL, "lat", *response.Latitude, "lng", *response.Longitude)
		return geo.Point{}, false, nil
	}

	return point, true, nil
}

// ResolveRequest is the JSON body posted to the resolver
type ResolveRequest struct {
	URL string `json:"url"`
}

// ResolveResponse is the resolver's JSON answer
type ResolveResponse struct {
	Success   bool     `json:"success"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Error     string   `json:"error,omitempty"`
}
