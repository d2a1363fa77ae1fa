package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dpup/crm-maps/server/internal/cache"
	"github.com/dpup/crm-maps/server/internal/clients/nominatim"
	"github.com/dpup/crm-maps/server/internal/clients/shortlink"
	"github.com/dpup/crm-maps/server/internal/lib/geocode"
	"github.com/dpup/crm-maps/server/internal/observability"
)

func main() {
	var (
		query     = flag.String("q", "Tower of London", "Address or Google Maps URL to resolve")
		baseURL   = flag.String("nominatim", nominatim.DefaultBaseURL, "Nominatim base URL")
		userAgent = flag.String("user-agent", "", "User-Agent sent to Nominatim (or set NOMINATIM_USER_AGENT env var)")
		resolver  = flag.String("resolver", "", "Short-link resolver endpoint, e.g. http://localhost:5000/routes/process-short-url")
		repeat    = flag.Int("repeat", 2, "Resolve the query this many times to exercise the cache")
		timeout   = flag.Duration("timeout", geocode.DefaultTimeout, "Per-call upstream timeout")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Geocoding Test Tool\n\n")
		fmt.Printf("Resolves an address or maps URL the same way the server does.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -q \"10 Downing Street, London\"\n", os.Args[0])
		fmt.Printf("  %s -q \"https://www.google.com/maps/place/Big+Ben/\"\n", os.Args[0])
		fmt.Printf("  %s -q https://maps.app.goo.gl/xyz -resolver http://localhost:5000/routes/process-short-url\n", os.Args[0])
		return
	}

	agent := *userAgent
	if agent == "" {
		agent = os.Getenv("NOMINATIM_USER_AGENT")
	}

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewGeocodeCollector(reg)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	geocodeCache := cache.NewCache()
	opts := []geocode.Option{
		geocode.WithStore(cache.NewGeocodeStore(geocodeCache, time.Hour, time.Hour)),
		geocode.WithMetrics(metrics),
		geocode.WithTimeout(*timeout),
	}
	if *resolver != "" {
		opts = append(opts, geocode.WithShortLinkResolver(shortlink.NewClient(*resolver)))
	}
	geocoder := geocode.NewGeocoder(nominatim.NewClient(*baseURL, agent), opts...)

	fmt.Printf("Geocoding Test\n")
	fmt.Printf("==============\n")
	fmt.Printf("Query: %s\n", *query)
	fmt.Printf("Nominatim: %s\n\n", *baseURL)

	ctx := logging.EnsureLogger(context.Background())
	for i := 1; i <= *repeat; i++ {
		start := time.Now()
		point, found, err := geocoder.Resolve(ctx, *query)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			log.Fatalf("Attempt %d failed after %v: %v", i, elapsed, err)
		case !found:
			fmt.Printf("Attempt %d: no match (%v)\n", i, elapsed)
		default:
			fmt.Printf("Attempt %d: (%.6f, %.6f) in %v\n", i, point.Latitude, point.Longitude, elapsed)
		}
	}

	fmt.Printf("\nLookups by source:\n")
	for _, source := range []string{observability.SourceCache, observability.SourceURL, observability.SourceShortLink, observability.SourceText} {
		var total float64
		for _, outcome := range []string{observability.OutcomeFound, observability.OutcomeNotFound, observability.OutcomeError} {
			total += testutil.ToFloat64(metrics.Lookups.WithLabelValues(source, outcome))
		}
		if total > 0 {
			fmt.Printf("  %s: %.0f\n", source, total)
		}
	}

	stats := geocodeCache.Stats()
	fmt.Printf("\nCache: %d entries (%d fresh, %d stale)\n", stats.TotalEntries, stats.FreshEntries, stats.StaleEntries)
}
