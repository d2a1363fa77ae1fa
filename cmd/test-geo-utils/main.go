package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/crm-maps/server/internal/lib/export"
	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/mapsurl"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
	"github.com/dpup/crm-maps/server/internal/lib/scene"
	"github.com/dpup/crm-maps/server/internal/lib/waypoints"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "point-distance":
		handlePointDistance()
	case "waypoints":
		handleWaypoints()
	case "extract-url":
		handleExtractURL()
	case "decode-polyline":
		handleDecodePolyline()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handlePointDistance() {
	fs := flag.NewFlagSet("point-distance", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 0, "Latitude of first point")
	lng1 := fs.Float64("lng1", 0, "Longitude of first point")
	lat2 := fs.Float64("lat2", 0, "Latitude of second point")
	lng2 := fs.Float64("lng2", 0, "Longitude of second point")
	speed := fs.Float64("speed", geo.DefaultAverageSpeedKmh, "Average speed in km/h for the ETA")

	fs.Parse(os.Args[2:])

	if *lat1 == 0 && *lng1 == 0 && *lat2 == 0 && *lng2 == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils point-distance --lat1 51.505 --lng1 -0.09 --lat2 48.8566 --lng2 2.3522")
		fmt.Println("  (London to Paris)")
		os.Exit(1)
	}

	p1, err := geo.NewPoint(*lat1, *lng1)
	if err != nil {
		log.Fatalf("Invalid first point: %v", err)
	}
	p2, err := geo.NewPoint(*lat2, *lng2)
	if err != nil {
		log.Fatalf("Invalid second point: %v", err)
	}

	distance := geo.DistanceKm(p1, p2)
	eta, err := geo.EstimateTravelMinutes(distance, *speed)
	if err != nil {
		log.Fatalf("Error estimating travel time: %v", err)
	}

	fmt.Printf("Distance between points:\n")
	fmt.Printf("  Point 1: (%.6f, %.6f)\n", p1.Latitude, p1.Longitude)
	fmt.Printf("  Point 2: (%.6f, %.6f)\n", p2.Latitude, p2.Longitude)
	fmt.Printf("  Distance: %.2f km (%.2f miles)\n", distance, distance*0.621371)
	fmt.Printf("  ETA at %.0f km/h: %d minutes\n", *speed, eta)
}

func handleWaypoints() {
	fs := flag.NewFlagSet("waypoints", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 51.505, "Start latitude")
	lng1 := fs.Float64("lng1", -0.1, "Start longitude")
	lat2 := fs.Float64("lat2", 51.505, "End latitude")
	lng2 := fs.Float64("lng2", -0.08, "End longitude")
	count := fs.Int("count", 3, "Number of waypoints")
	randomness := fs.Float64("randomness", waypoints.DefaultRandomness, "Maximum deviation as a fraction of the distance")
	seed := fs.Uint64("seed", 0, "Random seed (0 for a random sequence)")
	format := fs.String("format", "", "Also write the route as kml, geojson or gpx")

	fs.Parse(os.Args[2:])

	var opts []waypoints.Option
	if *seed != 0 {
		opts = append(opts, waypoints.WithSeed(*seed))
	}

	snap, err := buildSnapshot(
		geo.Point{Latitude: *lat1, Longitude: *lng1},
		geo.Point{Latitude: *lat2, Longitude: *lng2},
		*count, *randomness, waypoints.NewGenerator(opts...))
	if err != nil {
		log.Fatalf("Error generating route: %v", err)
	}

	fmt.Printf("Route with %d waypoints:\n", len(snap.Waypoints))
	fmt.Printf("  Start: (%.6f, %.6f)\n", snap.Start.Latitude, snap.Start.Longitude)
	for _, wp := range snap.Waypoints {
		fmt.Printf("  %s: (%.6f, %.6f)\n", wp.Label, wp.Latitude, wp.Longitude)
	}
	fmt.Printf("  End: (%.6f, %.6f)\n", snap.End.Latitude, snap.End.Longitude)
	fmt.Printf("  Distance: %.2f km\n", snap.DistanceKm)
	fmt.Printf("  ETA: %d minutes\n", snap.ETAMinutes)
	fmt.Printf("  Encoded path: %s\n", snap.EncodedPath)

	if *format != "" {
		f, err := export.ParseFormat(*format)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println()
		if err := export.Write(os.Stdout, f, "test-geo-utils route", snap); err != nil {
			log.Fatalf("Error exporting route: %v", err)
		}
		fmt.Println()
	}
}

// buildSnapshot runs a route session against an in-memory view
func buildSnapshot(start, end geo.Point, count int, randomness float64, gen *waypoints.Generator) (routing.Snapshot, error) {
	registry := routing.NewRegistry(scene.NewCanvas())
	session, err := routing.NewSession(logging.EnsureLogger(context.Background()), registry, "cli", nil,
		routing.WithEndpoints(start, end),
		routing.WithWaypointCount(count),
		routing.WithRandomness(randomness),
		routing.WithGenerator(gen))
	if err != nil {
		return routing.Snapshot{}, err
	}
	defer session.Close()
	return session.Snapshot(), nil
}

func handleExtractURL() {
	fs := flag.NewFlagSet("extract-url", flag.ExitOnError)
	url := fs.String("url", "", "Google Maps URL")

	fs.Parse(os.Args[2:])

	if *url == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils extract-url --url \"https://www.google.com/maps/@48.8566,2.3522,15z\"")
		os.Exit(1)
	}

	result := mapsurl.NewExtractor().Extract(logging.EnsureLogger(context.Background()), *url)

	fmt.Printf("URL extraction:\n")
	fmt.Printf("  Looks like a maps URL: %t\n", mapsurl.LooksLikeMapsURL(*url))
	fmt.Printf("  Result: %s\n", result.Kind)
	switch result.Kind {
	case mapsurl.Found:
		fmt.Printf("  Pattern: %s\n", result.Pattern)
		fmt.Printf("  Coordinates: (%.6f, %.6f)\n", result.Point.Latitude, result.Point.Longitude)
	case mapsurl.Deferred:
		fmt.Printf("  Short link: needs the resolver endpoint\n")
	default:
		if result.Place != "" {
			fmt.Printf("  Place name for text geocoding: %s\n", result.Place)
		}
	}
}

func handleDecodePolyline() {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polylineStr := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils decode-polyline --polyline \"_p~iF~ps|U_ulLnnqC_mqNvxq`@\"")
		os.Exit(1)
	}

	points, err := geo.DecodePolyline(*polylineStr)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}

	fmt.Printf("Decoded polyline:\n")
	fmt.Printf("  Encoded: %s\n", *polylineStr)
	fmt.Printf("  Points: %d\n", len(points))
	fmt.Printf("  Length: %.2f km\n", geo.TotalDistanceKm(points))

	for i, point := range points {
		fmt.Printf("  [%d] (%.6f, %.6f)\n", i, point.Latitude, point.Longitude)
	}
}

func printUsage() {
	fmt.Println("test-geo-utils - route geometry testing tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  test-geo-utils <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  point-distance    Haversine distance and ETA between two points")
	fmt.Println("  waypoints         Generate waypoints between two points")
	fmt.Println("  extract-url       Extract coordinates from a Google Maps URL")
	fmt.Println("  decode-polyline   Decode an encoded polyline")
	fmt.Println("  help              Show this help message")
	fmt.Println()
	fmt.Println("Use 'test-geo-utils <command>' without options to see examples")
}
