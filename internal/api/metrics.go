package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/centralreports/reportd/internal/policy"
)

// Registry is what Metrics registers into and serves from. Both
// *prometheus.Registry and the default registry satisfy it.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Metrics holds the HTTP, policy and action collectors.
type Metrics struct {
	gatherer  prometheus.Gatherer
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	decisions *prometheus.CounterVec
	actions   *prometheus.CounterVec
}

// NewMetrics registers the reportd collectors in reg.
func NewMetrics(reg Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportd_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportd_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportd_policy_decisions_total",
			Help: "Access policy decisions by rule and outcome.",
		}, []string{"rule", "outcome"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportd_action_results_total",
			Help: "Form action results by action and outcome.",
		}, []string{"action", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency per chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDecision counts a gate decision. It has the auth.DecisionObserver
// signature.
func (m *Metrics) ObserveDecision(_ *http.Request, d policy.Decision) {
	outcome := "allow"
	if d.Redirected() {
		outcome = "redirect"
	}
	m.decisions.WithLabelValues(string(d.Rule), outcome).Inc()
}

// ObserveAction counts an action result.
func (m *Metrics) ObserveAction(action, outcome string) {
	m.actions.WithLabelValues(action, outcome).Inc()
}
