package export

import (
	"fmt"
	"io"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
)

const gpxCreator = "crm-maps"

// WriteGPX renders the route as a GPX 1.1 <rte> whose points are the start,
// the waypoints and the end
func WriteGPX(w io.Writer, name string, snap routing.Snapshot) error {
	points := make([]gpx.GPXPoint, 0, len(snap.Waypoints)+2)
	points = append(points, gpxPoint(snap.Start, "Start"))
	for _, wp := range snap.Waypoints {
		points = append(points, gpxPoint(wp.Point, wp.Label))
	}
	points = append(points, gpxPoint(snap.End, "End"))

	doc := &gpx.GPX{
		Creator: gpxCreator,
		Name:    name,
		Routes: []gpx.GPXRoute{{
			Name:        name,
			Description: summary(snap),
			Points:      points,
		}},
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("failed to marshal GPX: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write GPX: %w", err)
	}
	return nil
}

func gpxPoint(p geo.Point, name string) gpx.GPXPoint {
	return gpx.GPXPoint{
		Point: gpx.Point{Latitude: p.Latitude, Longitude: p.Longitude},
		Name:  name,
	}
}
