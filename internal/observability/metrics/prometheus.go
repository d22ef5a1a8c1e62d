// Package metrics provides Prometheus metrics for the PBS lookup service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup kinds and outcomes used as label values.
const (
	KindCode = "code"
	KindName = "name"

	OutcomeHit      = "hit"
	OutcomeNotFound = "not_found"
	OutcomeFailure  = "failure"
	OutcomeInvalid  = "invalid"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	Lookups               *prometheus.CounterVec
	UpstreamDuration      *prometheus.HistogramVec
	ScheduleCacheHits     prometheus.Counter
	ScheduleCacheMisses   prometheus.Counter
	ApplicationsFormatted prometheus.Counter
	BreakerState          *prometheus.GaugeVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pbs_lookups_total",
			Help: "Total item lookups by kind and outcome",
		}, []string{"kind", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pbs_upstream_request_duration_seconds",
			Help:    "PBS data API request duration by resource",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"resource"}),
		ScheduleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pbs_schedule_cache_hits_total",
			Help: "Latest-schedule lookups served from cache",
		}),
		ScheduleCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pbs_schedule_cache_misses_total",
			Help: "Latest-schedule lookups that hit the data API",
		}),
		ApplicationsFormatted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authority_applications_formatted_total",
			Help: "Total authority applications formatted",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.Lookups,
		m.UpstreamDuration,
		m.ScheduleCacheHits,
		m.ScheduleCacheMisses,
		m.ApplicationsFormatted,
		m.BreakerState,
	)

	return m
}

// RecordLookup counts one lookup by kind and outcome.
func (m *Metrics) RecordLookup(kind, outcome string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(kind, outcome).Inc()
}

// ObserveUpstream records the duration of one data API request.
func (m *Metrics) ObserveUpstream(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// RecordScheduleCache counts a schedule cache hit or miss.
func (m *Metrics) RecordScheduleCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ScheduleCacheHits.Inc()
	} else {
		m.ScheduleCacheMisses.Inc()
	}
}

// RecordApplication counts one formatted authority application.
func (m *Metrics) RecordApplication() {
	if m == nil {
		return
	}
	m.ApplicationsFormatted.Inc()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
