package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/crm-maps/server/internal/config"
	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

// LocationResolver geocodes an address
type LocationResolver interface {
	Resolve(ctx context.Context, input string) (geo.Point, bool, error)
}

// WarmedLocation is the last lookup result for a saved location
type WarmedLocation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Found     bool      `json:"found"`
	Point     geo.Point `json:"point"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// LocationWarmer periodically geocodes the configured saved locations so that
// CRM pages find them in the geocode cache.
type LocationWarmer struct {
	resolver LocationResolver
	config   *config.WarmerConfig

	// perLookupTimeout bounds each address; Nominatim's rate limit makes a full pass slow
	perLookupTimeout time.Duration

	mu       sync.Mutex
	results  map[string]WarmedLocation
	stopChan chan struct{}
	running  bool
}

// NewLocationWarmer creates a warmer for the locations in cfg
func NewLocationWarmer(resolver LocationResolver, cfg *config.WarmerConfig) *LocationWarmer {
	return &LocationWarmer{
		resolver:         resolver,
		config:           cfg,
		perLookupTimeout: 30 * time.Second,
		results:          make(map[string]WarmedLocation),
	}
}

// Start begins warming in the background. It returns immediately; a second call is a no-op.
func (w *LocationWarmer) Start(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if len(w.config.Locations) == 0 {
		logging.Infow(ctx, "Location warmer: no saved locations configured")
		return nil
	}

	w.running = true
	w.stopChan = make(chan struct{})

	logging.Infow(ctx, "Location warmer: starting",
		"locations", len(w.config.Locations), "interval", w.config.RefreshInterval.String())

	go w.refreshLoop(ctx, w.config.RefreshInterval, w.stopChan)
	return nil
}

// Stop ends the background loop
func (w *LocationWarmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopChan)
}

// IsRunning returns whether the background loop is active
func (w *LocationWarmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *LocationWarmer) refreshLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.WarmOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Location warmer: stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Location warmer: stopping due to stop signal")
			return
		case <-ticker.C:
			w.WarmOnce(ctx)
		}
	}
}

// WarmOnce geocodes every saved location sequentially and records the outcome
func (w *LocationWarmer) WarmOnce(ctx context.Context) []WarmedLocation {
	ctx = logging.EnsureLogger(ctx)
	var found, failed int

	for _, loc := range w.config.Locations {
		if ctx.Err() != nil {
			break
		}

		lookupCtx, cancel := context.WithTimeout(ctx, w.perLookupTimeout)
		point, ok, err := w.resolver.Resolve(lookupCtx, loc.Address)
		cancel()

		result := WarmedLocation{
			ID:        loc.ID,
			Name:      loc.Name,
			Address:   loc.Address,
			Found:     ok,
			Point:     point,
			CheckedAt: time.Now(),
		}
		switch {
		case err != nil:
			failed++
			result.Error = err.Error()
			logging.Warnw(ctx, "Location warmer: lookup failed", "id", loc.ID, "error", err)
		case !ok:
			logging.Warnw(ctx, "Location warmer: address not found", "id", loc.ID, "address", loc.Address)
		default:
			found++
		}

		w.mu.Lock()
		w.results[loc.ID] = result
		w.mu.Unlock()
	}

	logging.Infow(ctx, "Location warmer: pass complete",
		"locations", len(w.config.Locations), "found", found, "failed", failed)
	return w.Locations()
}

// Locations returns the latest result for each saved location, in configured order
func (w *LocationWarmer) Locations() []WarmedLocation {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WarmedLocation, 0, len(w.results))
	for _, loc := range w.config.Locations {
		if r, ok := w.results[loc.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
