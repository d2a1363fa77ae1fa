package export

import (
	"fmt"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
)

// WriteKML renders the route as a KML document: one placemark per stop and a
// tessellated line through all of them
func WriteKML(w io.Writer, name string, snap routing.Snapshot) error {
	children := []kml.Element{
		kml.Name(name),
		kml.Description(summary(snap)),
		pointPlacemark("Start", snap.Start),
	}
	for _, wp := range snap.Waypoints {
		children = append(children, pointPlacemark(wp.Label, wp.Point))
	}
	children = append(children,
		pointPlacemark("End", snap.End),
		kml.Placemark(
			kml.Name(name),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coordinates(snap.Path())...),
			),
		),
	)

	doc := kml.KML(kml.Document(children...))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

func pointPlacemark(name string, p geo.Point) kml.Element {
	return kml.Placemark(
		kml.Name(name),
		kml.Point(kml.Coordinates(kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude})),
	)
}

func coordinates(points []geo.Point) []kml.Coordinate {
	coords := make([]kml.Coordinate, len(points))
	for i, p := range points {
		coords[i] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
	}
	return coords
}

func summary(snap routing.Snapshot) string {
	return fmt.Sprintf("%.1f km, about %d min, %d stops", snap.DistanceKm, snap.ETAMinutes, len(snap.Waypoints))
}
