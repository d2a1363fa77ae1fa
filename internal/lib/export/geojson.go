package export

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
)

// WriteGeoJSON renders the route as a FeatureCollection holding the line first,
// followed by the start, each waypoint and the end as points
func WriteGeoJSON(w io.Writer, name string, snap routing.Snapshot) error {
	fc := geojson.NewFeatureCollection()

	path := snap.Path()
	line := make(orb.LineString, len(path))
	for i, p := range path {
		line[i] = toOrb(p)
	}

	route := geojson.NewFeature(line)
	route.Properties["name"] = name
	route.Properties["distance_km"] = snap.DistanceKm
	route.Properties["eta_minutes"] = snap.ETAMinutes
	route.Properties["encoded_path"] = snap.EncodedPath
	fc.Append(route)

	fc.Append(pointFeature(snap.Start, "Start", "start", false))
	for _, wp := range snap.Waypoints {
		fc.Append(pointFeature(wp.Point, wp.Label, wp.Type, wp.Completed))
	}
	fc.Append(pointFeature(snap.End, "End", "end", false))

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write GeoJSON: %w", err)
	}
	return nil
}

func pointFeature(p geo.Point, label, kind string, completed bool) *geojson.Feature {
	f := geojson.NewFeature(toOrb(p))
	f.Properties["location"] = label
	f.Properties["type"] = kind
	f.Properties["completed"] = completed
	return f
}

func toOrb(p geo.Point) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}
