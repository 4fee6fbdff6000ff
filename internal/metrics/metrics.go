// Package metrics collects the service's Prometheus metrics and serves them for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthconnect"

type Collector struct {
	bookings       *prometheus.CounterVec
	bookingLatency prometheus.Histogram
	snapshots      prometheus.Counter
	snapshotSize   prometheus.Gauge
	authAttempts   *prometheus.CounterVec
	navigations    *prometheus.CounterVec
	sessions       prometheus.Gauge
	rpcs           *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Appointment creation attempts by result.",
		}, []string{"result"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Time spent checking for conflicts and writing an appointment.",
			Buckets:   prometheus.DefBuckets,
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_snapshots_total",
			Help:      "Live appointment snapshots applied.",
		}),
		snapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "appointment_snapshot_size",
			Help:      "Number of appointments in the latest snapshot.",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Sign-up and sign-in attempts by operation and result.",
		}, []string{"op", "result"}),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_decisions_total",
			Help:      "Guard decisions by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Client sessions currently held in memory.",
		}),
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Handled RPCs by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		c.bookings,
		c.bookingLatency,
		c.snapshots,
		c.snapshotSize,
		c.authAttempts,
		c.navigations,
		c.sessions,
		c.rpcs,
	)

	return c
}

// RecordBooking counts a creation attempt. result is one of created, conflict, invalid or error.
func (c *Collector) RecordBooking(result string, d time.Duration) {
	c.bookings.WithLabelValues(result).Inc()
	c.bookingLatency.Observe(d.Seconds())
}

func (c *Collector) RecordSnapshot(size int) {
	c.snapshots.Inc()
	c.snapshotSize.Set(float64(size))
}

func (c *Collector) RecordAuthAttempt(op, result string) {
	c.authAttempts.WithLabelValues(op, result).Inc()
}

func (c *Collector) RecordNavigation(allowed bool) {
	outcome := "redirect"
	if allowed {
		outcome = "allow"
	}
	c.navigations.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetActiveSessions(n int) {
	c.sessions.Set(float64(n))
}

func (c *Collector) RecordRPC(method, code string) {
	c.rpcs.WithLabelValues(method, code).Inc()
}

// Handler serves the /metrics endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
