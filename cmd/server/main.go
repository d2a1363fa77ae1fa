package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dpup/crm-maps/server/internal/cache"
	"github.com/dpup/crm-maps/server/internal/clients/nominatim"
	"github.com/dpup/crm-maps/server/internal/clients/shortlink"
	"github.com/dpup/crm-maps/server/internal/config"
	"github.com/dpup/crm-maps/server/internal/lib/geocode"
	"github.com/dpup/crm-maps/server/internal/observability"
	"github.com/dpup/crm-maps/server/internal/services"
)

func main() {
	// Load configuration using Prefab's config system
	appConfig := loadConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := logging.EnsureLogger(context.Background())

	metrics, err := observability.NewGeocodeCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	// Geocode answers are cached; stale entries are swept in the background
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Cache.CleanupInterval)
	store := cache.NewGeocodeStore(cacheInstance, appConfig.Cache.HitTTL, appConfig.Cache.MissTTL)
	if err := observability.RegisterCacheCollector(prometheus.DefaultRegisterer, cacheInstance); err != nil {
		log.Fatalf("Failed to register cache metrics: %v", err)
	}

	// External lookup clients
	nominatimClient := nominatim.NewClient(appConfig.Geocoding.NominatimURL, appConfig.Geocoding.UserAgent)
	nominatimClient.SetRateLimit(appConfig.Geocoding.RateLimit)

	geocoderOpts := []geocode.Option{
		geocode.WithStore(store),
		geocode.WithMetrics(metrics),
		geocode.WithTimeout(appConfig.Geocoding.Timeout),
	}
	if appConfig.Geocoding.ShortLinkResolverURL != "" {
		geocoderOpts = append(geocoderOpts,
			geocode.WithShortLinkResolver(shortlink.NewClient(appConfig.Geocoding.ShortLinkResolverURL)))
	}
	geocoder := geocode.NewGeocoder(nominatimClient, geocoderOpts...)

	// Keep saved depot addresses warm in the cache
	warmer := services.NewLocationWarmer(geocoder, &appConfig.Warmer)
	if err := warmer.Start(ctx); err != nil {
		log.Printf("Failed to start location warmer: %v", err)
	}

	mapsService := services.NewMapsService(services.MapsDeps{
		Geocoder: geocoder,
		Routing:  appConfig.Routing,
		Metrics:  metrics,
		Warmer:   warmer,
		Logger:   logging.FromContext(ctx),
	})
	router := mapsService.Router()

	log.Printf("CRM maps server starting")
	log.Printf("Geocoding via %s (rate limit %.1f/s)", appConfig.Geocoding.NominatimURL, appConfig.Geocoding.RateLimit)
	log.Printf("Saved locations: %d", len(appConfig.Warmer.Locations))

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/api/v1/", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/metrics", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/healthz", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	warmer.Stop()
}

// loadConfig overlays Prefab's config onto the defaults.
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix.
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := []struct {
		key    string
		target any
	}{
		{"geocoding", &appConfig.Geocoding},
		{"routing", &appConfig.Routing},
		{"cache", &appConfig.Cache},
		{"warmer", &appConfig.Warmer},
	}
	for _, section := range sections {
		if err := prefab.Config.Unmarshal(section.key, section.target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", section.key, err)
		}
	}

	return appConfig
}

// homepageHandler serves a simple HTML index at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>CRM maps</title>
    <style>
        body { font-family: 'Courier New', Consolas, monospace; padding: 20px; line-height: 1.4; }
        pre { margin: 0; }
        .header { font-weight: bold; }
    </style>
</head>
<body>
<pre>
<span class="header">CRM maps</span>

Geocoding and route construction for the logistics CRM.

<span class="header">API Endpoints:</span>
  POST /api/v1/geocode          {"address": "..."}
  POST /api/v1/maps-url         {"url": "https://maps.app.goo.gl/..."}
  POST /api/v1/routes/preview   {"start": {"lat", "lng"}, "end_address": "...", "waypoint_count": 3}
  POST /api/v1/routes/export?format=kml|geojson|gpx
  GET  /api/v1/locations        saved locations and their last lookup
  GET  /metrics                 Prometheus metrics
  GET  /healthz
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
