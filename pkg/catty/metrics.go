package catty

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records engine and request metrics. It implements the engine's
// observer hooks. A nil *Metrics records nothing.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	responseSize     *prometheus.HistogramVec

	connectionsOpen     prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionFailures  *prometheus.CounterVec
	bufferGrowths       prometheus.Counter
	grownBufferSize     prometheus.Histogram
	framedRequestSize   prometheus.Histogram
}

// NewMetrics registers the catty collectors with reg. It returns nil when
// reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	sizeBuckets := []float64{100, 1000, 10000, 100000, 1000000}

	return &Metrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catty_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catty_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		requestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "catty_http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
		),
		responseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catty_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"method", "route", "status"},
		),
		connectionsOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "catty_connections_open",
				Help: "Connections currently open",
			},
		),
		connectionsAccepted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "catty_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catty_connection_failures_total",
				Help: "Connections closed because of a failure",
			},
			[]string{"reason"},
		),
		bufferGrowths: f.NewCounter(
			prometheus.CounterOpts{
				Name: "catty_buffer_growths_total",
				Help: "Read buffers replaced by a larger one",
			},
		),
		grownBufferSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catty_grown_buffer_size_bytes",
				Help:    "Size of grown read buffers in bytes",
				Buckets: sizeBuckets,
			},
		),
		framedRequestSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catty_request_size_bytes",
				Help:    "Size of framed requests in bytes",
				Buckets: sizeBuckets,
			},
		),
	}
}

// ConnectionOpened counts an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsOpen.Inc()
}

// ConnectionClosed counts a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsOpen.Dec()
}

// ConnectionFailed counts a failed connection by reason.
func (m *Metrics) ConnectionFailed(reason string) {
	if m == nil {
		return
	}
	m.connectionFailures.WithLabelValues(reason).Inc()
}

// BufferGrown records a read buffer replacement.
func (m *Metrics) BufferGrown(size int) {
	if m == nil {
		return
	}
	m.bufferGrowths.Inc()
	m.grownBufferSize.Observe(float64(size))
}

// RequestFramed records the size of a complete request.
func (m *Metrics) RequestFramed(size int) {
	if m == nil {
		return
	}
	m.framedRequestSize.Observe(float64(size))
}

// ResponseSent is a no-op; response sizes are recorded per route by
// observeRequest.
func (m *Metrics) ResponseSent(int) {}

func (m *Metrics) startRequest() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

func (m *Metrics) observeRequest(method, route string, status, size int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
	code := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, code).Inc()
	m.requestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	m.responseSize.WithLabelValues(method, route, code).Observe(float64(size))
}
