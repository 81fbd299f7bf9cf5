// Package metrics holds the Prometheus collectors for the booking engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns every collector and the registry they are registered on
type Recorder struct {
	registry *prometheus.Registry

	initiations            *prometheus.CounterVec
	verifications          *prometheus.CounterVec
	seatAllocationFailures prometheus.Counter
	cancellations          prometheus.Counter
	gatewayDuration        *prometheus.HistogramVec
	httpRequests           *prometheus.CounterVec
	httpDuration           *prometheus.HistogramVec
}

// NewRecorder creates the collectors on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_initiations_total",
			Help: "Booking initiation attempts by payment method and result.",
		}, []string{"method", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_verifications_total",
			Help: "Payment verifications by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		seatAllocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_seat_allocation_failures_total",
			Help: "Payments verified as complete for which no seats could be allocated.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_cancellations_total",
			Help: "Bookings moved to cancelled.",
		}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Latency of outbound payment gateway calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"gateway", "operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		r.initiations,
		r.verifications,
		r.seatAllocationFailures,
		r.cancellations,
		r.gatewayDuration,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry, mainly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Initiation(method, result string) {
	r.initiations.WithLabelValues(method, result).Inc()
}

func (r *Recorder) Verification(gateway, outcome string) {
	r.verifications.WithLabelValues(gateway, outcome).Inc()
}

func (r *Recorder) SeatAllocationFailure() {
	r.seatAllocationFailures.Inc()
}

func (r *Recorder) Cancellation() {
	r.cancellations.Inc()
}

// ObserveGatewayCall matches payment.DurationObserver
func (r *Recorder) ObserveGatewayCall(gateway, operation string, elapsed time.Duration) {
	r.gatewayDuration.WithLabelValues(gateway, operation).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, route, status).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
