package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics are the request collectors used by Instrument.
type HTTPMetrics struct {
	InFlight prometheus.Gauge
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the collectors and registers them with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "provisioner_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioner_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.InFlight, m.Requests, m.Duration)
	return m
}

// Instrument records request count, latency and in-flight requests. The
// route label is the gin route template, so /user/:id is one series.
func Instrument(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.Duration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.Requests.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}
