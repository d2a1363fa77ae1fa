package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lookup sources
const (
	SourceCache     = "cache"
	SourceURL       = "url"
	SourceShortLink = "shortlink"
	SourceText      = "text"
)

// Lookup outcomes
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// GeocodeCollector exposes geocoding and route metrics.
type GeocodeCollector struct {
	gatherer prometheus.Gatherer

	Lookups          *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	RouteRecomputes  prometheus.Counter
}

// NewGeocodeCollector registers geocoding metrics against the provided registerer.
func NewGeocodeCollector(reg prometheus.Registerer) (*GeocodeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_lookups_total",
		Help: "Geocoding lookups partitioned by the source that answered and the outcome.",
	}, []string{"source", "outcome"})
	lookups, err := registerCounterVec(reg, lookups, "geocode_lookups_total")
	if err != nil {
		return nil, err
	}

	upstream := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocode_upstream_duration_seconds",
		Help:    "Latency of calls to the text geocoding service and the short-link resolver.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"source"})
	upstream, err = registerHistogramVec(reg, upstream, "geocode_upstream_duration_seconds")
	if err != nil {
		return nil, err
	}

	recomputes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "route_recomputes_total",
		Help: "Number of route snapshots computed by route sessions.",
	})
	if err := reg.Register(recomputes); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("collector route_recomputes_total already registered with incompatible type")
		}
		recomputes = existing
	}

	return &GeocodeCollector{
		gatherer:         gatherer,
		Lookups:          lookups,
		UpstreamDuration: upstream,
		RouteRecomputes:  recomputes,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *GeocodeCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordLookup counts one resolved lookup.
func (c *GeocodeCollector) RecordLookup(source, outcome string) {
	if c == nil || c.Lookups == nil {
		return
	}
	c.Lookups.WithLabelValues(source, outcome).Inc()
}

// ObserveUpstream records how long an upstream call took.
func (c *GeocodeCollector) ObserveUpstream(source string, d time.Duration) {
	if c == nil || c.UpstreamDuration == nil {
		return
	}
	c.UpstreamDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncRouteRecomputes counts a route recompute.
func (c *GeocodeCollector) IncRouteRecomputes() {
	if c == nil || c.RouteRecomputes == nil {
		return
	}
	c.RouteRecomputes.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
