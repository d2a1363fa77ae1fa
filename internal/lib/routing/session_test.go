package routing

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/waypoints"
)

// recordingRenderer keeps track of live handles so tests can check nothing leaks
type recordingRenderer struct {
	mu        sync.Mutex
	next      int
	views     map[ViewHandle]geo.Point
	live      map[Handle]MarkerKind
	positions map[Handle]geo.Point
	drags     map[Handle]DragEndFunc
	paths     map[Handle][]geo.Point
	fits      int
}

const pathKind MarkerKind = "path"

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		views:     make(map[ViewHandle]geo.Point),
		live:      make(map[Handle]MarkerKind),
		positions: make(map[Handle]geo.Point),
		drags:     make(map[Handle]DragEndFunc),
		paths:     make(map[Handle][]geo.Point),
	}
}

func (r *recordingRenderer) id(prefix string) string {
	r.next++
	return fmt.Sprintf("%s-%d", prefix, r.next)
}

func (r *recordingRenderer) CreateView(containerID string, center geo.Point, zoom int) (ViewHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := ViewHandle(r.id("view"))
	r.views[view] = center
	return view, nil
}

func (r *recordingRenderer) SetView(view ViewHandle, center geo.Point, zoom int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[view] = center
	return nil
}

func (r *recordingRenderer) PlaceMarker(view ViewHandle, at geo.Point, opts MarkerOptions, onDragEnd DragEndFunc) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Handle(r.id("marker"))
	r.live[h] = opts.Kind
	r.positions[h] = at
	if onDragEnd != nil {
		r.drags[h] = onDragEnd
	}
	return h, nil
}

func (r *recordingRenderer) MoveMarker(view ViewHandle, marker Handle, at geo.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[marker] = at
	return nil
}

func (r *recordingRenderer) DrawPath(view ViewHandle, coords []geo.Point) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Handle(r.id("path"))
	r.live[h] = pathKind
	r.paths[h] = coords
	return h, nil
}

func (r *recordingRenderer) RemoveHandle(view ViewHandle, handle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[handle]; !ok {
		return fmt.Errorf("unknown handle %s", handle)
	}
	delete(r.live, handle)
	delete(r.drags, handle)
	delete(r.paths, handle)
	return nil
}

func (r *recordingRenderer) RemoveView(view ViewHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[view]; !ok {
		return fmt.Errorf("unknown view %s", view)
	}
	delete(r.views, view)
	return nil
}

func (r *recordingRenderer) FitToPath(view ViewHandle, path Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fits++
	return nil
}

func (r *recordingRenderer) count(kind MarkerKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.live {
		if k == kind {
			n++
		}
	}
	return n
}

// drag simulates the user dropping the marker of the given kind at to
func (r *recordingRenderer) drag(kind MarkerKind, to geo.Point) {
	r.mu.Lock()
	var fn DragEndFunc
	for h, k := range r.live {
		if k == kind {
			fn = r.drags[h]
			r.positions[h] = to
		}
	}
	r.mu.Unlock()
	fn(to)
}

type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Resolve(ctx context.Context, input string) (geo.Point, bool, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(geo.Point), args.Bool(1), args.Error(2)
}

var (
	origin   = geo.Point{Latitude: 0, Longitude: 0}
	oneDegE  = geo.Point{Latitude: 0, Longitude: 1}
	london   = geo.Point{Latitude: 51.505, Longitude: -0.09}
	paris    = geo.Point{Latitude: 48.8566, Longitude: 2.3522}
	anything = mock.Anything
)

func newSession(t *testing.T, geocoder Geocoder, opts ...Option) (*Session, *recordingRenderer) {
	t.Helper()
	renderer := newRecordingRenderer()
	opts = append([]Option{WithGenerator(waypoints.NewGenerator(waypoints.WithSeed(7)))}, opts...)
	s, err := NewSession(context.Background(), NewRegistry(renderer), "route-map", geocoder, opts...)
	require.NoError(t, err)
	return s, renderer
}

func TestNewSession_Defaults(t *testing.T) {
	s, renderer := newSession(t, &MockGeocoder{})

	assert.Equal(t, Ready, s.State())
	snap := s.Snapshot()
	assert.True(t, snap.Start.Equal(geo.Point{Latitude: 51.505, Longitude: -0.1}, 1e-9))
	assert.True(t, snap.End.Equal(geo.Point{Latitude: 51.505, Longitude: -0.08}, 1e-9))
	assert.Len(t, snap.Waypoints, DefaultWaypointCount)
	assert.Equal(t, "Waypoint 1", snap.Waypoints[0].Label)
	assert.Equal(t, geo.WaypointTypeStop, snap.Waypoints[0].Type)
	assert.False(t, snap.Waypoints[0].Completed)

	assert.Equal(t, 1, renderer.count(MarkerStart))
	assert.Equal(t, 1, renderer.count(MarkerEnd))
	assert.Equal(t, DefaultWaypointCount, renderer.count(MarkerWaypoint))
	assert.Equal(t, 1, renderer.count(pathKind))
}

func TestSession_EquatorRoute(t *testing.T) {
	var published []Snapshot
	s, _ := newSession(t, &MockGeocoder{},
		WithEndpoints(origin, oneDegE),
		WithWaypointCount(1),
		WithRandomness(0),
		OnRouteChanged(func(snap Snapshot) { published = append(published, snap) }))

	snap := s.Snapshot()
	require.Len(t, snap.Waypoints, 1)
	assert.True(t, snap.Waypoints[0].Point.Equal(geo.Point{Latitude: 0, Longitude: 0.5}, 1e-9))
	assert.InDelta(t, 111.2, snap.DistanceKm, 0.1)
	assert.Equal(t, 133, snap.ETAMinutes)
	assert.NotEmpty(t, snap.EncodedPath)
	assert.False(t, snap.ComputedAt.IsZero())

	require.Len(t, published, 1)
	assert.Equal(t, snap.DistanceKm, published[0].DistanceKm)
}

func TestSession_DistanceFollowsWaypoints(t *testing.T) {
	s, _ := newSession(t, &MockGeocoder{}, WithEndpoints(london, paris), WithWaypointCount(4))

	snap := s.Snapshot()
	assert.Len(t, snap.Waypoints, 4)
	assert.InDelta(t, geo.TotalDistanceKm(snap.Path()), snap.DistanceKm, 1e-9)
	assert.GreaterOrEqual(t, snap.DistanceKm, geo.DistanceKm(london, paris)-1e-9)
}

func TestSession_SetStartRecomputesSynchronously(t *testing.T) {
	s, renderer := newSession(t, &MockGeocoder{}, WithEndpoints(origin, oneDegE), WithRandomness(0))

	require.NoError(t, s.SetStart(geo.Point{Latitude: 0, Longitude: -1}))

	snap := s.Snapshot()
	assert.Equal(t, geo.Point{Latitude: 0, Longitude: -1}, snap.Start)
	assert.InDelta(t, 222.4, snap.DistanceKm, 0.1)

	// The start marker follows explicit sets
	renderer.mu.Lock()
	startMarker := s.endpointMarkers[Start]
	assert.Equal(t, geo.Point{Latitude: 0, Longitude: -1}, renderer.positions[startMarker])
	renderer.mu.Unlock()
}

func TestSession_SetInvalidCoordinate(t *testing.T) {
	s, _ := newSession(t, &MockGeocoder{})
	before := s.Snapshot()

	err := s.SetEnd(geo.Point{Latitude: 91, Longitude: 0})

	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
	assert.Equal(t, before, s.Snapshot())
}

func TestSession_SetWaypointCount(t *testing.T) {
	s, renderer := newSession(t, &MockGeocoder{})

	require.NoError(t, s.SetWaypointCount(6))
	assert.Len(t, s.Snapshot().Waypoints, 6)
	assert.Equal(t, 6, renderer.count(MarkerWaypoint))

	require.NoError(t, s.SetWaypointCount(0))
	snap := s.Snapshot()
	assert.Empty(t, snap.Waypoints)
	assert.InDelta(t, geo.DistanceKm(snap.Start, snap.End), snap.DistanceKm, 1e-9)
	assert.Equal(t, 0, renderer.count(MarkerWaypoint))
	assert.Equal(t, 1, renderer.count(pathKind), "old paths are removed before new ones are drawn")

	err := s.SetWaypointCount(-1)
	assert.ErrorIs(t, err, ErrInvalidWaypointCount)
	assert.Equal(t, 0, s.WaypointCount())
}

func TestSession_SetStartByAddress(t *testing.T) {
	geocoder := &MockGeocoder{}
	geocoder.On("Resolve", anything, "Gare du Nord, Paris").Return(paris, true, nil)

	s, _ := newSession(t, geocoder)

	ok, err := s.SetStartByAddress(context.Background(), "Gare du Nord, Paris")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, paris, s.Snapshot().Start)
	geocoder.AssertExpectations(t)
}

func TestSession_AddressNotFoundLeavesStateUnchanged(t *testing.T) {
	geocoder := &MockGeocoder{}
	geocoder.On("Resolve", anything, "Atlantis").Return(geo.Point{}, false, nil)

	var calls int
	s, _ := newSession(t, geocoder, OnRouteChanged(func(Snapshot) { calls++ }))
	before := s.Snapshot()

	ok, err := s.SetStartByAddress(context.Background(), "Atlantis")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 1, calls, "no recompute after a miss")
}

func TestSession_AddressFailureLeavesStateUnchanged(t *testing.T) {
	lookupErr := stderrors.New("geocoding lookup failed: API error 503")
	geocoder := &MockGeocoder{}
	geocoder.On("Resolve", anything, "London").Return(geo.Point{}, false, lookupErr)

	s, _ := newSession(t, geocoder)
	before := s.Snapshot()

	ok, err := s.SetEndByAddress(context.Background(), "London")

	assert.ErrorIs(t, err, lookupErr)
	assert.False(t, ok)
	assert.Equal(t, before, s.Snapshot())
}

func TestSession_StaleAddressLookupIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	geocoder := &MockGeocoder{}
	geocoder.On("Resolve", anything, "Paris").Run(func(args mock.Arguments) {
		close(started)
		<-release
	}).Return(paris, true, nil)

	s, renderer := newSession(t, geocoder)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result)
	go func() {
		ok, err := s.SetStartByAddress(context.Background(), "Paris")
		done <- result{ok, err}
	}()

	<-started
	dropped := geo.Point{Latitude: 51.4, Longitude: -0.2}
	renderer.drag(MarkerStart, dropped)
	close(release)

	r := <-done
	assert.False(t, r.ok)
	assert.ErrorIs(t, r.err, ErrSuperseded)
	assert.Equal(t, dropped, s.Snapshot().Start, "the newer drag wins")
}

func TestSession_DragInvokesEndpointCallback(t *testing.T) {
	var (
		routeCalls int
		moved      []Endpoint
		movedTo    geo.Point
	)
	s, renderer := newSession(t, &MockGeocoder{},
		OnRouteChanged(func(Snapshot) { routeCalls++ }),
		OnEndpointChanged(func(which Endpoint, at geo.Point) {
			moved = append(moved, which)
			movedTo = at
		}))

	target := geo.Point{Latitude: 51.52, Longitude: -0.05}
	renderer.drag(MarkerEnd, target)

	assert.Equal(t, []Endpoint{End}, moved)
	assert.Equal(t, target, movedTo)
	assert.Equal(t, target, s.Snapshot().End)
	assert.Equal(t, 2, routeCalls)
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s, _ := newSession(t, &MockGeocoder{})

	snap := s.Snapshot()
	snap.Waypoints[0].Label = "mutated"

	assert.Equal(t, "Waypoint 1", s.Snapshot().Waypoints[0].Label)
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	renderer := newRecordingRenderer()
	registry := NewRegistry(renderer)
	s, err := NewSession(context.Background(), registry, "route-map", &MockGeocoder{})
	require.NoError(t, err)
	require.Equal(t, 1, registry.Len())

	s.Close()
	s.Close()

	assert.Equal(t, Closed, s.State())
	assert.Equal(t, 0, registry.Len())
	renderer.mu.Lock()
	assert.Empty(t, renderer.live)
	assert.Empty(t, renderer.views, "the view is removed from the renderer")
	renderer.mu.Unlock()

	assert.ErrorIs(t, s.SetStart(london), ErrSessionClosed)
	assert.ErrorIs(t, s.SetWaypointCount(2), ErrSessionClosed)
	_, err = s.SetEndByAddress(context.Background(), "Paris")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewSession_InvalidOptions(t *testing.T) {
	registry := NewRegistry(newRecordingRenderer())
	ctx := context.Background()

	_, err := NewSession(ctx, registry, "a", nil, WithWaypointCount(-1))
	assert.ErrorIs(t, err, ErrInvalidWaypointCount)

	_, err = NewSession(ctx, registry, "b", nil, WithRandomness(1.5))
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = NewSession(ctx, registry, "c", nil, WithAverageSpeed(0))
	assert.ErrorIs(t, err, geo.ErrInvalidSpeed)

	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_ReusesViews(t *testing.T) {
	renderer := newRecordingRenderer()
	registry := NewRegistry(renderer)

	first, err := registry.View("map", london, 13)
	require.NoError(t, err)
	second, err := registry.View("map", paris, 10)
	require.NoError(t, err)
	other, err := registry.View("other-map", london, 13)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Equal(t, paris, renderer.views[first], "existing views are re-centered")
	assert.Equal(t, 2, registry.Len())

	require.NoError(t, registry.Release("map"))
	assert.Contains(t, renderer.views, first, "still held by the second View call")
	require.NoError(t, registry.Release("map"))
	assert.NotContains(t, renderer.views, first)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_ReleaseRemovesView(t *testing.T) {
	renderer := newRecordingRenderer()
	registry := NewRegistry(renderer)

	first, err := registry.View("map", london, 13)
	require.NoError(t, err)
	require.NoError(t, registry.Release("map"))
	require.NoError(t, registry.Release("map"), "releasing twice is harmless")
	assert.NotContains(t, renderer.views, first)

	second, err := registry.View("map", paris, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "a reused container id gets a fresh view")
	assert.Len(t, renderer.views, 1)
}

func TestEndpointString(t *testing.T) {
	assert.Equal(t, "start", Start.String())
	assert.Equal(t, "end", End.String())
	assert.Equal(t, "ready", Ready.String())
}

type pathlessRenderer struct {
	*recordingRenderer
}

func (r pathlessRenderer) DrawPath(ViewHandle, []geo.Point) (Handle, error) {
	return "", fmt.Errorf("path layer unavailable")
}

func TestSession_RendererFailuresAreLogged(t *testing.T) {
	renderer := pathlessRenderer{newRecordingRenderer()}

	s, err := NewSession(context.Background(), NewRegistry(renderer), "route-map", nil,
		WithEndpoints(origin, oneDegE), WithWaypointCount(1), WithRandomness(0))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetEnd(paris))
	assert.Equal(t, paris, s.Snapshot().End)
	assert.Equal(t, 0, renderer.count(pathKind))
	assert.Equal(t, 1, renderer.count(MarkerWaypoint))
}
