// Package metrics exposes Prometheus collectors for link maintenance.
//
// Collectors live on a private registry so tests and multiple stores in one
// process never collide on the default registry. All methods are nil-safe:
// a nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Link paths.
const (
	PathInsert   = "insert"
	PathBackfill = "backfill"
)

// Metrics holds all chatlink collectors.
type Metrics struct {
	registry *prometheus.Registry

	linksAssigned    *prometheus.CounterVec
	linkFailures     *prometheus.CounterVec
	linkDuration     prometheus.Histogram
	backfillRuns     *prometheus.CounterVec
	backfillChanged  prometheus.Counter
	backfillDuration prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		linksAssigned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_links_assigned_total",
			Help: "Predecessor links computed, by path",
		}, []string{"path"}),
		linkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_link_failures_total",
			Help: "Insert-time link failures by error code",
		}, []string{"code"}),
		linkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatlink_link_duration_seconds",
			Help:    "Insert-time link computation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
		}),
		backfillRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatlink_backfill_runs_total",
			Help: "Backfill runs by result",
		}, []string{"result"}),
		backfillChanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_backfill_links_changed_total",
			Help: "Links rewritten by backfill runs",
		}),
		backfillDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatlink_backfill_duration_seconds",
			Help:    "Backfill run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4min
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LinkAssigned counts one computed link on the given path.
func (m *Metrics) LinkAssigned(path string, d time.Duration) {
	if m == nil {
		return
	}
	m.linksAssigned.WithLabelValues(path).Inc()
	if path == PathInsert {
		m.linkDuration.Observe(d.Seconds())
	}
}

// LinkFailed counts an insert-time failure.
func (m *Metrics) LinkFailed(code string) {
	if m == nil {
		return
	}
	m.linkFailures.WithLabelValues(code).Inc()
}

// BackfillFinished records the outcome of one backfill run.
func (m *Metrics) BackfillFinished(err error, scanned, changed int64, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.backfillRuns.WithLabelValues(result).Inc()
	m.backfillDuration.Observe(d.Seconds())
	if err == nil {
		m.backfillChanged.Add(float64(changed))
		m.linksAssigned.WithLabelValues(PathBackfill).Add(float64(scanned))
	}
}
