// Package metrics provides Prometheus metrics for the bid engine
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	BidsTotal       prometheus.Counter
	BidPrice        prometheus.Histogram
	ImpressionError prometheus.Counter

	// Fraud metrics
	FraudRejections prometheus.Counter

	// Budget metrics
	BudgetEvents *prometheus.CounterVec
	BudgetAlerts *prometheus.CounterVec

	// System metrics
	RateLimitRejected prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bidengine"
	}

	m := &Metrics{
		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		// Auction metrics
		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auctions by outcome",
			},
			[]string{"status"},
		),
		BidsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_total",
				Help:      "Total number of bids returned",
			},
		),
		BidPrice: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_price",
				Help:      "Clearing price distribution",
				Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 50},
			},
		),
		ImpressionError: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impression_errors_total",
				Help:      "Total impressions dropped by internal faults",
			},
		),

		// Fraud metrics
		FraudRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fraud_rejections_total",
				Help:      "Total requests rejected as fraudulent",
			},
		),

		// Budget metrics
		BudgetEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_events_total",
				Help:      "Budget ledger events (reserved, confirmed, released, expired, rejected)",
			},
			[]string{"event"},
		),
		BudgetAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_alerts_total",
				Help:      "Budget threshold alerts by period kind",
			},
			[]string{"kind"},
		),

		// System metrics
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total requests rejected due to rate limiting",
			},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AuctionsTotal,
		m.BidsTotal,
		m.BidPrice,
		m.ImpressionError,
		m.FraudRejections,
		m.BudgetEvents,
		m.BudgetAlerts,
		m.RateLimitRejected,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordAuction records an auction outcome
// Implements exchange.MetricsRecorder
func (m *Metrics) RecordAuction(status string) {
	m.AuctionsTotal.WithLabelValues(status).Inc()
}

// RecordBid records a returned bid and its clearing price
func (m *Metrics) RecordBid(price float64) {
	m.BidsTotal.Inc()
	m.BidPrice.Observe(price)
}

// RecordFraudRejection records a fraud rejection
func (m *Metrics) RecordFraudRejection() {
	m.FraudRejections.Inc()
}

// RecordBudgetEvent records a budget ledger event
func (m *Metrics) RecordBudgetEvent(event string) {
	m.BudgetEvents.WithLabelValues(event).Inc()
}

// RecordImpressionError records an impression dropped by an internal fault
func (m *Metrics) RecordImpressionError() {
	m.ImpressionError.Inc()
}

// RecordBudgetAlert records a budget threshold alert
// Wired to budget.AlertFunc at startup
func (m *Metrics) RecordBudgetAlert(kind string) {
	m.BudgetAlerts.WithLabelValues(kind).Inc()
}

// IncRateLimitRejected increments the rate limit rejected counter
// Implements middleware.RateLimitMetrics interface
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}
