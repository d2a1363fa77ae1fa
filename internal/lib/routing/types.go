package routing

import (
	"slices"
	"time"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

// Endpoint identifies one end of a route
type Endpoint int

const (
	Start Endpoint = iota
	End
)

func (e Endpoint) String() string {
	if e == End {
		return "end"
	}
	return "start"
}

// ViewHandle identifies a map view created by a Renderer
type ViewHandle string

// Handle identifies a marker or path drawn on a view
type Handle string

// MarkerKind tells the renderer what a marker stands for
type MarkerKind string

const (
	MarkerStart    MarkerKind = "start"
	MarkerEnd      MarkerKind = "end"
	MarkerWaypoint MarkerKind = "waypoint"
)

// MarkerOptions describes a marker to place
type MarkerOptions struct {
	Kind      MarkerKind
	Title     string
	Draggable bool
}

// DragEndFunc receives the final position of a dragged marker
type DragEndFunc func(to geo.Point)

// Renderer draws route state onto a map. It is a sink: apart from drag-end
// notifications it never feeds information back into the session.
type Renderer interface {
	CreateView(containerID string, center geo.Point, zoom int) (ViewHandle, error)

	// SetView re-centers an existing view
	SetView(view ViewHandle, center geo.Point, zoom int) error

	PlaceMarker(view ViewHandle, at geo.Point, opts MarkerOptions, onDragEnd DragEndFunc) (Handle, error)
	MoveMarker(view ViewHandle, marker Handle, at geo.Point) error
	DrawPath(view ViewHandle, coords []geo.Point) (Handle, error)
	RemoveHandle(view ViewHandle, handle Handle) error
	FitToPath(view ViewHandle, path Handle) error

	// RemoveView tears down a view and everything still drawn on it
	RemoveView(view ViewHandle) error
}

// Snapshot is the result of one route recomputation. It is never modified after
// it has been published.
type Snapshot struct {
	Start       geo.Point      `json:"start_point"`
	End         geo.Point      `json:"end_point"`
	Waypoints   []geo.Waypoint `json:"waypoints"`
	DistanceKm  float64        `json:"distance_km"`
	ETAMinutes  int            `json:"eta_minutes"`
	EncodedPath string         `json:"encoded_path"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// Path returns start, the waypoints in order, then end
func (s Snapshot) Path() []geo.Point {
	path := make([]geo.Point, 0, len(s.Waypoints)+2)
	path = append(path, s.Start)
	for _, w := range s.Waypoints {
		path = append(path, w.Point)
	}
	return append(path, s.End)
}

func (s Snapshot) clone() Snapshot {
	s.Waypoints = slices.Clone(s.Waypoints)
	return s
}
