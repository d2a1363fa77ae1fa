package scene

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
	"github.com/dpup/crm-maps/server/internal/lib/waypoints"
)

func TestCanvas_DrawAndRemove(t *testing.T) {
	c := NewCanvas()
	view, err := c.CreateView("map", geo.Point{Latitude: 1, Longitude: 1}, 13)
	require.NoError(t, err)

	marker, err := c.PlaceMarker(view, geo.Point{Latitude: 1, Longitude: 2}, routing.MarkerOptions{Kind: routing.MarkerWaypoint, Title: "Waypoint 1"}, nil)
	require.NoError(t, err)
	path, err := c.DrawPath(view, []geo.Point{{Latitude: 0, Longitude: 0}, {Latitude: 2, Longitude: 4}})
	require.NoError(t, err)
	require.NoError(t, c.FitToPath(view, path))

	state, err := c.View(view)
	require.NoError(t, err)
	assert.Equal(t, "map", state.ContainerID)
	require.Len(t, state.Markers, 1)
	assert.Equal(t, "Waypoint 1", state.Markers[0].Title)
	require.Len(t, state.Paths, 1)
	require.NotNil(t, state.Bounds)
	assert.Equal(t, geo.Point{Latitude: 2, Longitude: 4}, state.Bounds.NorthEast)
	assert.Equal(t, geo.Point{Latitude: 1, Longitude: 2}, state.Center)

	require.NoError(t, c.RemoveHandle(view, marker))
	require.NoError(t, c.RemoveHandle(view, path))
	assert.Error(t, c.RemoveHandle(view, path), "handles are removed once")

	state, err = c.View(view)
	require.NoError(t, err)
	assert.Empty(t, state.Markers)
	assert.Empty(t, state.Paths)
}

func TestCanvas_UnknownView(t *testing.T) {
	c := NewCanvas()

	_, err := c.PlaceMarker("nope", geo.Point{}, routing.MarkerOptions{}, nil)
	assert.Error(t, err)
	_, err = c.View("nope")
	assert.Error(t, err)
}

func TestCanvas_DragRequiresDraggable(t *testing.T) {
	c := NewCanvas()
	view, _ := c.CreateView("map", geo.Point{}, 13)
	marker, _ := c.PlaceMarker(view, geo.Point{}, routing.MarkerOptions{Kind: routing.MarkerWaypoint}, nil)

	assert.Error(t, c.Drag(view, marker, geo.Point{Latitude: 1}))
}

func TestCanvas_DrivesRouteSession(t *testing.T) {
	canvas := NewCanvas()
	registry := routing.NewRegistry(canvas)

	var dragged []routing.Endpoint
	session, err := routing.NewSession(context.Background(), registry, "delivery-map", nil,
		routing.WithGenerator(waypoints.NewGenerator(waypoints.WithSeed(1))),
		routing.OnEndpointChanged(func(which routing.Endpoint, at geo.Point) {
			dragged = append(dragged, which)
		}))
	require.NoError(t, err)

	view := session.View()

	state, err := canvas.View(view)
	require.NoError(t, err)
	assert.Len(t, state.Markers, 2+routing.DefaultWaypointCount)
	assert.Len(t, state.Paths, 1)

	start, ok := canvas.FindMarker(view, routing.MarkerStart)
	require.True(t, ok)
	assert.True(t, start.Draggable)

	target := geo.Point{Latitude: 51.49, Longitude: -0.14}
	require.NoError(t, canvas.Drag(view, start.Handle, target))

	assert.Equal(t, []routing.Endpoint{routing.Start}, dragged)
	assert.Equal(t, target, session.Snapshot().Start)

	state, err = canvas.View(view)
	require.NoError(t, err)
	assert.Len(t, state.Markers, 2+routing.DefaultWaypointCount, "waypoint markers are replaced, not accumulated")
	require.Len(t, state.Paths, 1)
	assert.Equal(t, session.Snapshot().Path(), state.Paths[0].Points)

	session.Close()
	_, err = canvas.View(view)
	assert.Error(t, err, "closing the session removes its view")
}

func TestCanvas_ReusedContainerGetsFreshView(t *testing.T) {
	canvas := NewCanvas()
	registry := routing.NewRegistry(canvas)

	first, err := routing.NewSession(context.Background(), registry, "dispatch-map", nil)
	require.NoError(t, err)
	first.Close()

	second, err := routing.NewSession(context.Background(), registry, "dispatch-map", nil)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.View(), second.View())
	_, err = canvas.View(first.View())
	assert.Error(t, err)

	state, err := canvas.View(second.View())
	require.NoError(t, err)
	assert.Equal(t, "dispatch-map", state.ContainerID)
	assert.Len(t, state.Markers, 2+routing.DefaultWaypointCount)
}

func TestView_JSON(t *testing.T) {
	c := NewCanvas()
	view, _ := c.CreateView("map", geo.Point{Latitude: 1, Longitude: 2}, 9)
	_, _ = c.PlaceMarker(view, geo.Point{Latitude: 1, Longitude: 2}, routing.MarkerOptions{Kind: routing.MarkerStart, Draggable: true}, func(geo.Point) {})

	state, err := c.View(view)
	require.NoError(t, err)

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"container_id":"map"`)
	assert.Contains(t, string(data), `"kind":"start"`)
	assert.Contains(t, string(data), `"position":{"lat":1,"lng":2}`)
}
