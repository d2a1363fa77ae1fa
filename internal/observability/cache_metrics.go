package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dpup/crm-maps/server/internal/cache"
)

// CacheStatsSource reports cache occupancy
type CacheStatsSource interface {
	Stats() cache.CacheStats
}

// CacheCollector reads cache statistics at scrape time.
type CacheCollector struct {
	source  CacheStatsSource
	entries *prometheus.Desc
	oldest  *prometheus.Desc
}

// NewCacheCollector creates a collector for source. It is not registered.
func NewCacheCollector(source CacheStatsSource) *CacheCollector {
	return &CacheCollector{
		source: source,
		entries: prometheus.NewDesc(
			"geocode_cache_entries",
			"Entries held in the geocode cache by freshness.",
			[]string{"state"}, nil,
		),
		oldest: prometheus.NewDesc(
			"geocode_cache_oldest_entry_timestamp_seconds",
			"Creation time of the oldest cache entry.",
			nil, nil,
		),
	}
}

// RegisterCacheCollector registers a collector for source. A collector already
// registered under the same descriptors is left in place.
func RegisterCacheCollector(reg prometheus.Registerer, source CacheStatsSource) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	err := reg.Register(NewCacheCollector(source))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.oldest
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.FreshEntries), "fresh")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.StaleEntries), "stale")
	if !stats.OldestEntry.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.oldest, prometheus.GaugeValue, float64(stats.OldestEntry.Unix()))
	}
}
