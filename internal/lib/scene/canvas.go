package scene

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
)

// Marker is a point drawn on a view
type Marker struct {
	Handle    routing.Handle     `json:"id"`
	Kind      routing.MarkerKind `json:"kind"`
	Title     string             `json:"title,omitempty"`
	Position  geo.Point          `json:"position"`
	Draggable bool               `json:"draggable"`

	onDragEnd routing.DragEndFunc
}

// Path is a polyline drawn on a view
type Path struct {
	Handle routing.Handle `json:"id"`
	Points []geo.Point    `json:"points"`
}

// View is the drawable state of one map container
type View struct {
	Handle      routing.ViewHandle `json:"id"`
	ContainerID string             `json:"container_id"`
	Center      geo.Point          `json:"center"`
	Zoom        int                `json:"zoom"`
	Bounds      *Bounds            `json:"bounds,omitempty"`
	Markers     []Marker           `json:"markers"`
	Paths       []Path             `json:"paths"`
}

// Bounds is the box a view was last fitted to
type Bounds struct {
	SouthWest geo.Point `json:"south_west"`
	NorthEast geo.Point `json:"north_east"`
}

type view struct {
	handle      routing.ViewHandle
	containerID string
	center      geo.Point
	zoom        int
	bounds      *Bounds
	markers     map[routing.Handle]*Marker
	paths       map[routing.Handle]*Path
	order       []routing.Handle
}

// Canvas is an in-memory Renderer. It records what a browser map would show so
// the result can be serialized or inspected.
type Canvas struct {
	mu    sync.Mutex
	views map[routing.ViewHandle]*view
}

var _ routing.Renderer = (*Canvas)(nil)

// NewCanvas creates an empty canvas
func NewCanvas() *Canvas {
	return &Canvas{
		views: make(map[routing.ViewHandle]*view),
	}
}

func (c *Canvas) CreateView(containerID string, center geo.Point, zoom int) (routing.ViewHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := routing.ViewHandle(uuid.NewString())
	c.views[handle] = &view{
		handle:      handle,
		containerID: containerID,
		center:      center,
		zoom:        zoom,
		markers:     make(map[routing.Handle]*Marker),
		paths:       make(map[routing.Handle]*Path),
	}
	return handle, nil
}

func (c *Canvas) SetView(handle routing.ViewHandle, center geo.Point, zoom int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return err
	}
	v.center = center
	v.zoom = zoom
	return nil
}

func (c *Canvas) PlaceMarker(handle routing.ViewHandle, at geo.Point, opts routing.MarkerOptions, onDragEnd routing.DragEndFunc) (routing.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return "", err
	}
	id := routing.Handle(uuid.NewString())
	v.markers[id] = &Marker{
		Handle:    id,
		Kind:      opts.Kind,
		Title:     opts.Title,
		Position:  at,
		Draggable: opts.Draggable,
		onDragEnd: onDragEnd,
	}
	v.order = append(v.order, id)
	return id, nil
}

func (c *Canvas) MoveMarker(handle routing.ViewHandle, marker routing.Handle, at geo.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return err
	}
	m, ok := v.markers[marker]
	if !ok {
		return fmt.Errorf("unknown marker %s", marker)
	}
	m.Position = at
	return nil
}

func (c *Canvas) DrawPath(handle routing.ViewHandle, coords []geo.Point) (routing.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return "", err
	}
	id := routing.Handle(uuid.NewString())
	v.paths[id] = &Path{Handle: id, Points: slices.Clone(coords)}
	v.order = append(v.order, id)
	return id, nil
}

func (c *Canvas) RemoveHandle(handle routing.ViewHandle, id routing.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return err
	}
	_, isMarker := v.markers[id]
	_, isPath := v.paths[id]
	if !isMarker && !isPath {
		return fmt.Errorf("unknown handle %s", id)
	}
	delete(v.markers, id)
	delete(v.paths, id)
	v.order = slices.DeleteFunc(v.order, func(h routing.Handle) bool { return h == id })
	return nil
}

func (c *Canvas) FitToPath(handle routing.ViewHandle, path routing.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return err
	}
	p, ok := v.paths[path]
	if !ok {
		return fmt.Errorf("unknown path %s", path)
	}
	if len(p.Points) == 0 {
		return nil
	}

	b := Bounds{SouthWest: p.Points[0], NorthEast: p.Points[0]}
	for _, pt := range p.Points[1:] {
		b.SouthWest.Latitude = min(b.SouthWest.Latitude, pt.Latitude)
		b.SouthWest.Longitude = min(b.SouthWest.Longitude, pt.Longitude)
		b.NorthEast.Latitude = max(b.NorthEast.Latitude, pt.Latitude)
		b.NorthEast.Longitude = max(b.NorthEast.Longitude, pt.Longitude)
	}
	v.bounds = &b
	v.center = geo.Point{
		Latitude:  (b.SouthWest.Latitude + b.NorthEast.Latitude) / 2,
		Longitude: (b.SouthWest.Longitude + b.NorthEast.Longitude) / 2,
	}
	return nil
}

// Drag moves a draggable marker and delivers the drag-end notification.
// The callback runs after the canvas lock is released.
func (c *Canvas) Drag(handle routing.ViewHandle, marker routing.Handle, to geo.Point) error {
	c.mu.Lock()
	v, err := c.view(handle)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	m, ok := v.markers[marker]
	if !ok || !m.Draggable {
		c.mu.Unlock()
		return fmt.Errorf("marker %s is not draggable", marker)
	}
	m.Position = to
	onDragEnd := m.onDragEnd
	c.mu.Unlock()

	if onDragEnd != nil {
		onDragEnd(to)
	}
	return nil
}

// View returns a copy of the drawable state of handle, markers and paths in draw order
func (c *Canvas) View(handle routing.ViewHandle) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.view(handle)
	if err != nil {
		return View{}, err
	}

	out := View{
		Handle:      v.handle,
		ContainerID: v.containerID,
		Center:      v.center,
		Zoom:        v.zoom,
		Markers:     []Marker{},
		Paths:       []Path{},
	}
	if v.bounds != nil {
		b := *v.bounds
		out.Bounds = &b
	}
	for _, id := range v.order {
		if m, ok := v.markers[id]; ok {
			marker := *m
			marker.onDragEnd = nil
			out.Markers = append(out.Markers, marker)
		}
		if p, ok := v.paths[id]; ok {
			out.Paths = append(out.Paths, Path{Handle: p.Handle, Points: slices.Clone(p.Points)})
		}
	}
	return out, nil
}

// FindMarker returns the first marker of kind on handle
func (c *Canvas) FindMarker(handle routing.ViewHandle, kind routing.MarkerKind) (Marker, bool) {
	v, err := c.View(handle)
	if err != nil {
		return Marker{}, false
	}
	for _, m := range v.Markers {
		if m.Kind == kind {
			return m, true
		}
	}
	return Marker{}, false
}

// RemoveView forgets everything drawn on handle
func (c *Canvas) RemoveView(handle routing.ViewHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.view(handle); err != nil {
		return err
	}
	delete(c.views, handle)
	return nil
}

func (c *Canvas) view(handle routing.ViewHandle) (*view, error) {
	v, ok := c.views[handle]
	if !ok {
		return nil, fmt.Errorf("unknown view %s", handle)
	}
	return v, nil
}
