// Package metrics exposes Prometheus instrumentation for fulfillment operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a dedicated registry so tests and multiple servers do not collide on the
// global default registry.
type Recorder struct {
	registry     *prometheus.Registry
	transitions  *prometheus.CounterVec
	reservations *prometheus.CounterVec
	pricing      *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the fulfillment collectors plus the Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_transitions_total",
			Help: "Order status transition attempts by source, target and outcome.",
		}, []string{"from", "to", "result"}),
		reservations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_booking_reservations_total",
			Help: "Asset booking reservation attempts by outcome.",
		}, []string{"result"}),
		pricing: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_pricing_computations_total",
			Help: "Pricing breakdown computations by outcome.",
		}, []string{"result"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (r *Recorder) ObserveTransition(from, to, result string) {
	r.transitions.WithLabelValues(from, to, result).Inc()
}

func (r *Recorder) ObserveReservation(result string) {
	r.reservations.WithLabelValues(result).Inc()
}

func (r *Recorder) ObservePricing(result string) {
	r.pricing.WithLabelValues(result).Inc()
}

// ObserveHTTP records a finished request. Route should be the router pattern, not the raw path.
func (r *Recorder) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
