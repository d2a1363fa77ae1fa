package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"google.golang.org/grpc/codes"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/waypoints"
	"github.com/dpup/crm-maps/server/internal/observability"
)

const (
	DefaultWaypointCount = 3
	DefaultZoom          = 13

	// endpointOffsetDegrees is how far either side of the center the initial markers sit
	endpointOffsetDegrees = 0.01
)

// DefaultCenter is central London
var DefaultCenter = geo.Point{Latitude: 51.505, Longitude: -0.09}

var (
	ErrSuperseded           = errors.NewC("endpoint was changed by a newer update", codes.Aborted)
	ErrSessionClosed        = errors.NewC("route session is closed", codes.FailedPrecondition)
	ErrInvalidWaypointCount = errors.NewC("waypoint count must not be negative", codes.InvalidArgument)
	ErrInvalidOption        = errors.NewC("invalid route session option", codes.InvalidArgument)
)

// State is the lifecycle stage of a Session
type State int

const (
	Uninitialized State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Geocoder resolves an address or maps URL
type Geocoder interface {
	Resolve(ctx context.Context, input string) (geo.Point, bool, error)
}

// RouteChangedFunc receives every new snapshot
type RouteChangedFunc func(Snapshot)

// EndpointChangedFunc is told when the user drags an endpoint
type EndpointChangedFunc func(which Endpoint, at geo.Point)

// Option configures a Session
type Option func(*Session)

// WithWaypointCount sets the initial number of intermediate stops
func WithWaypointCount(n int) Option {
	return func(s *Session) { s.count = n }
}

// WithRandomness sets the maximum deviation as a fraction of the start-end distance
func WithRandomness(r float64) Option {
	return func(s *Session) { s.randomness = r }
}

// WithAverageSpeed sets the speed used for ETA estimates, in km/h
func WithAverageSpeed(kmh float64) Option {
	return func(s *Session) { s.speedKmh = kmh }
}

// WithCenter sets where the view opens; the endpoints start either side of it
func WithCenter(p geo.Point) Option {
	return func(s *Session) { s.center = p }
}

// WithZoom sets the initial zoom level
func WithZoom(z int) Option {
	return func(s *Session) { s.zoom = z }
}

// WithGenerator replaces the waypoint generator
func WithGenerator(g *waypoints.Generator) Option {
	return func(s *Session) { s.generator = g }
}

// WithEndpoints places the endpoints explicitly instead of around the center
func WithEndpoints(start, end geo.Point) Option {
	return func(s *Session) {
		s.start = start
		s.end = end
		s.explicitEndpoints = true
	}
}

// OnRouteChanged registers the callback invoked after every recompute
func OnRouteChanged(fn RouteChangedFunc) Option {
	return func(s *Session) { s.onRouteChanged = fn }
}

// OnEndpointChanged registers the callback invoked after a drag
func OnEndpointChanged(fn EndpointChangedFunc) Option {
	return func(s *Session) { s.onEndpointChanged = fn }
}

// WithMetrics counts recomputes on collector
func WithMetrics(collector *observability.GeocodeCollector) Option {
	return func(s *Session) { s.metrics = collector }
}

// Session binds two movable endpoints to a recomputed route drawn on one view.
//
// Every mutation recomputes synchronously under the session lock, so callbacks run
// while the lock is held and must not call back into the session. Address lookups
// run outside the lock; each endpoint carries a generation number so a lookup that
// finishes after a newer update for the same endpoint is discarded.
type Session struct {
	mu sync.Mutex

	logger logging.Logger

	registry    *Registry
	renderer    Renderer
	containerID string
	view        ViewHandle
	geocoder    Geocoder
	generator   *waypoints.Generator
	metrics     *observability.GeocodeCollector

	start, end        geo.Point
	explicitEndpoints bool
	count             int
	randomness        float64
	speedKmh          float64
	center            geo.Point
	zoom              int

	state       State
	snapshot    Snapshot
	generations [2]uint64

	endpointMarkers [2]Handle
	pathHandle      Handle
	waypointMarkers []Handle

	onRouteChanged    RouteChangedFunc
	onEndpointChanged EndpointChangedFunc
}

// NewSession creates the view for containerID, places draggable start and end
// markers and computes the first route.
func NewSession(ctx context.Context, registry *Registry, containerID string, geocoder Geocoder, opts ...Option) (*Session, error) {
	ctx = logging.EnsureLogger(ctx)
	s := &Session{
		logger:      logging.FromContext(ctx),
		registry:    registry,
		renderer:    registry.Renderer(),
		containerID: containerID,
		geocoder:    geocoder,
		count:       DefaultWaypointCount,
		randomness:  waypoints.DefaultRandomness,
		speedKmh:    geo.DefaultAverageSpeedKmh,
		center:      DefaultCenter,
		zoom:        DefaultZoom,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.generator == nil {
		s.generator = waypoints.NewGenerator()
	}
	if !s.explicitEndpoints {
		s.start = geo.Clamp(geo.Point{Latitude: s.center.Latitude, Longitude: s.center.Longitude - endpointOffsetDegrees})
		s.end = geo.Clamp(geo.Point{Latitude: s.center.Latitude, Longitude: s.center.Longitude + endpointOffsetDegrees})
	}

	view, err := registry.View(containerID, s.center, s.zoom)
	if err != nil {
		return nil, err
	}
	s.view = view

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, which := range []Endpoint{Start, End} {
		markerOpts := MarkerOptions{Kind: MarkerStart, Title: "Start", Draggable: true}
		if which == End {
			markerOpts = MarkerOptions{Kind: MarkerEnd, Title: "End", Draggable: true}
		}
		marker, err := s.renderer.PlaceMarker(view, s.endpoint(which), markerOpts, func(to geo.Point) {
			if err := s.OnEndpointDragged(which, to); err != nil {
				s.logger.Warnw("routing: ignoring drag", "container", containerID, "endpoint", which.String(), "error", err)
			}
		})
		if err != nil {
			s.releaseLocked()
			return nil, fmt.Errorf("failed to place %s marker: %w", which, err)
		}
		s.endpointMarkers[which] = marker
	}

	if err := s.recomputeLocked(); err != nil {
		s.releaseLocked()
		return nil, err
	}
	s.state = Ready

	logging.Debugw(ctx, "routing: session ready", "container", containerID, "waypoints", s.count)
	return s, nil
}

func (s *Session) validate() error {
	if s.count < 0 {
		return ErrInvalidWaypointCount
	}
	if s.randomness < 0 || s.randomness > 1 || math.IsNaN(s.randomness) {
		return fmt.Errorf("%w: randomness %v outside [0, 1]", ErrInvalidOption, s.randomness)
	}
	if s.speedKmh <= 0 || math.IsNaN(s.speedKmh) {
		return fmt.Errorf("%w: %w", ErrInvalidOption, geo.ErrInvalidSpeed)
	}
	if !s.center.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidOption, geo.ErrInvalidCoordinate)
	}
	if s.explicitEndpoints && (!s.start.Valid() || !s.end.Valid()) {
		return fmt.Errorf("%w: %w", ErrInvalidOption, geo.ErrInvalidCoordinate)
	}
	return nil
}

// State reports the lifecycle stage
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the most recent route
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// WaypointCount returns the desired number of intermediate stops
func (s *Session) WaypointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// SetStart moves the start and recomputes
func (s *Session) SetStart(p geo.Point) error {
	return s.setEndpoint(Start, p)
}

// SetEnd moves the end and recomputes
func (s *Session) SetEnd(p geo.Point) error {
	return s.setEndpoint(End, p)
}

func (s *Session) setEndpoint(which Endpoint, p geo.Point) error {
	if !p.Valid() {
		return geo.ErrInvalidCoordinate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return ErrSessionClosed
	}

	s.generations[which]++
	return s.applyEndpointLocked(which, p, true)
}

// SetWaypointCount changes the number of intermediate stops and recomputes.
// A negative count is rejected and leaves the session unchanged.
func (s *Session) SetWaypointCount(n int) error {
	if n < 0 {
		return ErrInvalidWaypointCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return ErrSessionClosed
	}

	previous := s.count
	s.count = n
	if err := s.recomputeLocked(); err != nil {
		s.count = previous
		return err
	}
	return nil
}

// SetStartByAddress geocodes text and moves the start there.
// It returns false with a nil error when nothing matched; the session is untouched
// unless it returns true.
func (s *Session) SetStartByAddress(ctx context.Context, text string) (bool, error) {
	return s.setEndpointByAddress(ctx, Start, text)
}

// SetEndByAddress geocodes text and moves the end there
func (s *Session) SetEndByAddress(ctx context.Context, text string) (bool, error) {
	return s.setEndpointByAddress(ctx, End, text)
}

func (s *Session) setEndpointByAddress(ctx context.Context, which Endpoint, text string) (bool, error) {
	if s.geocoder == nil {
		return false, fmt.Errorf("%w: no geocoder configured", ErrInvalidOption)
	}
	if logging.FromContext(ctx) == nil {
		ctx = logging.With(ctx, s.logger)
	}

	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	s.generations[which]++
	generation := s.generations[which]
	s.mu.Unlock()

	point, found, err := s.geocoder.Resolve(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state != Ready:
		return false, ErrSessionClosed
	case s.generations[which] != generation:
		logging.Infow(ctx, "routing: discarding stale address lookup",
			"container", s.containerID, "endpoint", which.String(), "address", text)
		return false, ErrSuperseded
	case err != nil:
		logging.Warnw(ctx, "routing: address lookup failed",
			"container", s.containerID, "endpoint", which.String(), "address", text, "error", err)
		return false, err
	case !found:
		logging.Infow(ctx, "routing: address not found",
			"container", s.containerID, "endpoint", which.String(), "address", text)
		return false, nil
	}

	if err := s.applyEndpointLocked(which, point, true); err != nil {
		return false, err
	}
	return true, nil
}

// OnEndpointDragged handles a drag-end notification from the renderer. After the
// route is recomputed the endpoint-changed callback is invoked.
func (s *Session) OnEndpointDragged(which Endpoint, to geo.Point) error {
	to = geo.Clamp(to)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return ErrSessionClosed
	}

	s.generations[which]++
	if err := s.applyEndpointLocked(which, to, false); err != nil {
		return err
	}
	if s.onEndpointChanged != nil {
		s.onEndpointChanged(which, to)
	}
	return nil
}

// Close removes everything the session drew and releases its view. Further
// mutations fail with ErrSessionClosed.
// View returns the handle of the view the session draws on
func (s *Session) View() ViewHandle {
	return s.view
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.releaseLocked()
	s.state = Closed
}

func (s *Session) endpoint(which Endpoint) geo.Point {
	if which == End {
		return s.end
	}
	return s.start
}

func (s *Session) setEndpointValue(which Endpoint, p geo.Point) {
	if which == End {
		s.end = p
	} else {
		s.start = p
	}
}

// applyEndpointLocked sets an endpoint and recomputes, restoring the old value on failure
func (s *Session) applyEndpointLocked(which Endpoint, p geo.Point, moveMarker bool) error {
	previous := s.endpoint(which)
	s.setEndpointValue(which, p)

	if err := s.recomputeLocked(); err != nil {
		s.setEndpointValue(which, previous)
		return err
	}

	if moveMarker && s.endpointMarkers[which] != "" {
		if err := s.renderer.MoveMarker(s.view, s.endpointMarkers[which], p); err != nil {
			s.logger.Warnw("routing: failed to move endpoint marker",
				"container", s.containerID, "endpoint", which.String(), "error", err)
		}
	}
	return nil
}

// recomputeLocked builds a fresh snapshot, then replaces the drawn path and
// waypoint markers. Rendering problems are logged; the snapshot still stands.
func (s *Session) recomputeLocked() error {
	generated, err := s.generator.Generate(s.start, s.end, s.count, s.randomness)
	if err != nil {
		return fmt.Errorf("failed to generate waypoints: %w", err)
	}

	snapshot := Snapshot{
		Start:     s.start,
		End:       s.end,
		Waypoints: waypoints.Label(generated),
	}
	path := snapshot.Path()
	snapshot.DistanceKm = geo.TotalDistanceKm(path)
	snapshot.ETAMinutes, err = geo.EstimateTravelMinutes(snapshot.DistanceKm, s.speedKmh)
	if err != nil {
		return err
	}
	snapshot.EncodedPath = geo.EncodePolyline(path)
	snapshot.ComputedAt = time.Now()

	s.snapshot = snapshot
	s.metrics.IncRouteRecomputes()
	s.redrawLocked(path, snapshot.Waypoints)

	if s.onRouteChanged != nil {
		s.onRouteChanged(snapshot.clone())
	}
	return nil
}

func (s *Session) redrawLocked(path []geo.Point, stops []geo.Waypoint) {
	s.clearRouteLocked()

	pathHandle, err := s.renderer.DrawPath(s.view, path)
	if err != nil {
		s.logger.Warnw("routing: failed to draw path", "container", s.containerID, "error", err)
	} else {
		s.pathHandle = pathHandle
	}

	for _, stop := range stops {
		marker, err := s.renderer.PlaceMarker(s.view, stop.Point, MarkerOptions{
			Kind:  MarkerWaypoint,
			Title: stop.Label,
		}, nil)
		if err != nil {
			s.logger.Warnw("routing: failed to place waypoint marker",
				"container", s.containerID, "waypoint", stop.Label, "error", err)
			continue
		}
		s.waypointMarkers = append(s.waypointMarkers, marker)
	}

	if s.pathHandle != "" {
		if err := s.renderer.FitToPath(s.view, s.pathHandle); err != nil {
			s.logger.Debugw("routing: failed to fit view", "container", s.containerID, "error", err)
		}
	}
}

// clearRouteLocked removes the path and waypoint markers from the last recompute
func (s *Session) clearRouteLocked() {
	if s.pathHandle != "" {
		s.removeLocked(s.pathHandle)
		s.pathHandle = ""
	}
	for _, marker := range s.waypointMarkers {
		s.removeLocked(marker)
	}
	s.waypointMarkers = nil
}

func (s *Session) releaseLocked() {
	s.clearRouteLocked()
	for i, marker := range s.endpointMarkers {
		if marker != "" {
			s.removeLocked(marker)
			s.endpointMarkers[i] = ""
		}
	}
	if err := s.registry.Release(s.containerID); err != nil {
		s.logger.Warnw("routing: failed to release view", "container", s.containerID, "error", err)
	}
}

func (s *Session) removeLocked(handle Handle) {
	if err := s.renderer.RemoveHandle(s.view, handle); err != nil {
		s.logger.Warnw("routing: failed to remove handle",
			"container", s.containerID, "handle", string(handle), "error", err)
	}
}
