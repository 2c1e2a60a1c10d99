// Package metrics exposes gate counters to Prometheus. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkgate"

type Metrics struct {
	registry   *prometheus.Registry
	access     *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	challenges *prometheus.CounterVec
	membership *prometheus.CounterVec
	lookupTime prometheus.Histogram
	reaped     *prometheus.CounterVec
	links      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		access: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_requests_total",
			Help:      "Access requests by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Access session transitions by target state.",
		}, []string{"state"}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Challenge issues and verification results.",
		}, []string{"result"}),
		membership: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_checks_total",
			Help:      "Per-group membership lookups by result.",
		}, []string{"result"}),
		lookupTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "membership_lookup_seconds",
			Help:      "Latency of membership lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_records_total",
			Help:      "Records deleted by the reaper.",
		}, []string{"collection"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_events_total",
			Help:      "Link registry events.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.access, m.sessions, m.challenges, m.membership, m.lookupTime, m.reaped, m.links)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Access(outcome string) {
	if m == nil {
		return
	}
	m.access.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Session(state string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state).Inc()
}

func (m *Metrics) Challenge(result string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(result).Inc()
}

func (m *Metrics) Membership(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.membership.WithLabelValues(result).Inc()
	m.lookupTime.Observe(elapsed.Seconds())
}

func (m *Metrics) Reaped(collection string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) Link(event string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(event).Inc()
}
