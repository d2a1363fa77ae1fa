package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/crm-maps/server/internal/config"
	"github.com/dpup/crm-maps/server/internal/lib/export"
	"github.com/dpup/crm-maps/server/internal/lib/geo"
	"github.com/dpup/crm-maps/server/internal/lib/geocode"
	"github.com/dpup/crm-maps/server/internal/lib/mapsurl"
	"github.com/dpup/crm-maps/server/internal/lib/routing"
	"github.com/dpup/crm-maps/server/internal/lib/scene"
	"github.com/dpup/crm-maps/server/internal/lib/waypoints"
	"github.com/dpup/crm-maps/server/internal/observability"
)

// maxRequestBytes caps JSON request bodies
const maxRequestBytes = 64 << 10

// MapsDeps wires the HTTP API
type MapsDeps struct {
	Geocoder routing.Geocoder
	Routing  config.RoutingConfig
	Metrics  *observability.GeocodeCollector
	Warmer   *LocationWarmer

	// Logger is attached to requests that arrive without one. Defaults to a dev logger.
	Logger logging.Logger
}

// MapsService serves geocoding, URL extraction and route previews over HTTP
type MapsService struct {
	geocoder  routing.Geocoder
	extractor *mapsurl.Extractor
	routing   config.RoutingConfig
	metrics   *observability.GeocodeCollector
	warmer    *LocationWarmer
	logger    logging.Logger
}

// NewMapsService creates the service
func NewMapsService(deps MapsDeps) *MapsService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDevLogger()
	}
	return &MapsService{
		logger:    logger,
		geocoder:  deps.Geocoder,
		extractor: mapsurl.NewExtractor(),
		routing:   deps.Routing,
		metrics:   deps.Metrics,
		warmer:    deps.Warmer,
	}
}

// Router returns the chi router with every endpoint mounted
func (s *MapsService) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.attachLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gatherer := prometheus.DefaultGatherer
	if g := s.metrics.Gatherer(); g != nil {
		gatherer = g
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/geocode", s.handleGeocode)
		api.Post("/maps-url", s.handleMapsURL)
		api.Post("/routes/preview", s.handleRoutePreview)
		api.Post("/routes/export", s.handleRouteExport)
		api.Get("/locations", s.handleLocations)
	})

	return r
}

// attachLogger makes sure handlers can log through the request context
func (s *MapsService) attachLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.FromContext(r.Context()) == nil {
			r = r.WithContext(logging.With(r.Context(), s.logger))
		}
		next.ServeHTTP(w, r)
	})
}

// ---------- geocoding ----------

type geocodeRequest struct {
	Address string `json:"address"`
}

type geocodeResponse struct {
	Found     bool     `json:"found"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (s *MapsService) handleGeocode(w http.ResponseWriter, r *http.Request) {
	var req geocodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "address is required")
		return
	}

	point, found, err := s.geocoder.Resolve(r.Context(), req.Address)
	if err != nil {
		writeLookupError(r.Context(), w, err)
		return
	}

	resp := geocodeResponse{Found: found}
	if found {
		resp.Latitude = &point.Latitude
		resp.Longitude = &point.Longitude
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- maps URLs ----------

type mapsURLRequest struct {
	URL string `json:"url"`
}

// mapsURLResponse keeps the success/latitude/longitude shape the CRM pages already consume
type mapsURLResponse struct {
	Success   bool     `json:"success"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Kind      string   `json:"kind"`
	Pattern   string   `json:"pattern,omitempty"`
	Place     string   `json:"place,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (s *MapsService) handleMapsURL(w http.ResponseWriter, r *http.Request) {
	var req mapsURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "url is required")
		return
	}

	result := s.extractor.Extract(r.Context(), req.URL)
	resp := mapsURLResponse{
		Kind:    result.Kind.String(),
		Pattern: result.Pattern,
		Place:   result.Place,
	}

	point, found := result.Point, result.Kind == mapsurl.Found
	if !found && (result.Kind == mapsurl.Deferred || result.Place != "") {
		var err error
		point, found, err = s.geocoder.Resolve(r.Context(), req.URL)
		if err != nil {
			writeLookupError(r.Context(), w, err)
			return
		}
	}

	if found {
		resp.Success = true
		resp.Latitude = &point.Latitude
		resp.Longitude = &point.Longitude
	} else {
		resp.Error = "Could not extract coordinates from URL"
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- routes ----------

type routeRequest struct {
	Name            string     `json:"name"`
	Start           *geo.Point `json:"start"`
	End             *geo.Point `json:"end"`
	StartAddress    string     `json:"start_address"`
	EndAddress      string     `json:"end_address"`
	WaypointCount   *int       `json:"waypoint_count"`
	Randomness      *float64   `json:"randomness"`
	AverageSpeedKmh *float64   `json:"avg_speed_kmh"`

	// Seed makes the waypoint deviation reproducible
	Seed *uint64 `json:"seed"`
}

type routePreviewResponse struct {
	Route routing.Snapshot `json:"route"`
	View  scene.View       `json:"view"`
}

// errAddressNotFound marks an address that geocoded to nothing
var errAddressNotFound = errors.New("address not found")

func (s *MapsService) handleRoutePreview(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	canvas := scene.NewCanvas()
	session, view, err := s.buildRoute(r.Context(), canvas, req)
	if err != nil {
		writeRouteError(r.Context(), w, err)
		return
	}
	defer session.Close()

	state, err := canvas.View(view)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, routePreviewResponse{Route: session.Snapshot(), View: state})
}

func (s *MapsService) handleRouteExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	var req routeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, _, err := s.buildRoute(r.Context(), scene.NewCanvas(), req)
	if err != nil {
		writeRouteError(r.Context(), w, err)
		return
	}
	defer session.Close()

	name := req.Name
	if name == "" {
		name = "Route"
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="route.%s"`, format.Extension()))
	if err := export.Write(w, format, name, session.Snapshot()); err != nil {
		logging.Errorw(r.Context(), "Route export failed", "format", string(format), "error", err)
	}
}

// buildRoute runs a throwaway session on canvas: explicit coordinates first, then
// addresses, exactly as a user filling in the route form would
func (s *MapsService) buildRoute(ctx context.Context, canvas *scene.Canvas, req routeRequest) (*routing.Session, routing.ViewHandle, error) {
	opts := []routing.Option{
		routing.WithCenter(s.routing.Center.ToPoint()),
		routing.WithZoom(s.routing.Zoom),
		routing.WithWaypointCount(s.routing.WaypointCount),
		routing.WithRandomness(s.routing.Randomness),
		routing.WithAverageSpeed(s.routing.AverageSpeedKmh),
		routing.WithMetrics(s.metrics),
	}
	if req.WaypointCount != nil {
		if *req.WaypointCount > s.routing.MaxWaypoints {
			return nil, "", fmt.Errorf("%w: at most %d waypoints are allowed", routing.ErrInvalidOption, s.routing.MaxWaypoints)
		}
		opts = append(opts, routing.WithWaypointCount(*req.WaypointCount))
	}
	if req.Randomness != nil {
		opts = append(opts, routing.WithRandomness(*req.Randomness))
	}
	if req.AverageSpeedKmh != nil {
		opts = append(opts, routing.WithAverageSpeed(*req.AverageSpeedKmh))
	}
	if req.Seed != nil {
		opts = append(opts, routing.WithGenerator(waypoints.NewGenerator(waypoints.WithSeed(*req.Seed))))
	}

	containerID := "preview-" + uuid.NewString()
	registry := routing.NewRegistry(canvas)
	session, err := routing.NewSession(ctx, registry, containerID, s.geocoder, opts...)
	if err != nil {
		return nil, "", err
	}

	view := session.View()
	if err := s.placeEndpoints(ctx, session, req); err != nil {
		session.Close()
		return nil, "", err
	}
	return session, view, nil
}

func (s *MapsService) placeEndpoints(ctx context.Context, session *routing.Session, req routeRequest) error {
	if req.Start != nil {
		if err := session.SetStart(*req.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if req.End != nil {
		if err := session.SetEnd(*req.End); err != nil {
			return fmt.Errorf("end: %w", err)
		}
	}

	setters := []struct {
		address string
		label   string
		set     func(context.Context, string) (bool, error)
	}{
		{req.StartAddress, "start_address", session.SetStartByAddress},
		{req.EndAddress, "end_address", session.SetEndByAddress},
	}
	for _, setter := range setters {
		if strings.TrimSpace(setter.address) == "" {
			continue
		}
		ok, err := setter.set(ctx, setter.address)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %q: %w", setter.label, setter.address, errAddressNotFound)
		}
	}
	return nil
}

// ---------- saved locations ----------

func (s *MapsService) handleLocations(w http.ResponseWriter, r *http.Request) {
	locations := []WarmedLocation{}
	if s.warmer != nil {
		locations = append(locations, s.warmer.Locations()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
}

// ---------- helpers ----------

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var e apiError
	e.Error.Code = code
	e.Error.Message = message
	writeJSON(w, status, e)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func writeLookupError(ctx context.Context, w http.ResponseWriter, err error) {
	logging.Warnw(ctx, "Geocoding request failed", "error", err)
	if errors.Is(err, context.Canceled) {
		writeAPIError(w, http.StatusRequestTimeout, "cancelled", "request cancelled")
		return
	}
	writeAPIError(w, http.StatusBadGateway, "lookup_failed", "geocoding service unavailable")
}

func writeRouteError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errAddressNotFound):
		writeAPIError(w, http.StatusUnprocessableEntity, "address_not_found", err.Error())
	case errors.Is(err, routing.ErrInvalidOption),
		errors.Is(err, routing.ErrInvalidWaypointCount),
		errors.Is(err, geo.ErrInvalidCoordinate):
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, geocode.ErrLookupFailed):
		writeLookupError(ctx, w, err)
	default:
		logging.Errorw(ctx, "Route request failed", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "internal", "route computation failed")
	}
}
