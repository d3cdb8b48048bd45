// Package observability collects Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the Prometheus registry and application metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	receiptsTotal    prometheus.Counter
	backordersTotal  prometheus.Counter
	deductionsTotal  *prometheus.CounterVec
	oversellTotal    prometheus.Counter
	syncRunsTotal    *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklane_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocklane_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	receipts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stocklane_receiving_batches_total",
		Help: "Receiving batches applied.",
	})
	backorders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stocklane_backorders_created_total",
		Help: "Backorder rows created by receiving.",
	})
	deductions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklane_deductions_total",
		Help: "Shipment deduction lines by outcome.",
	}, []string{"outcome"})
	oversell := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stocklane_oversell_events_total",
		Help: "Deductions that drove warehouse stock negative.",
	})
	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklane_fulfillment_sync_runs_total",
		Help: "Fulfillment sync job executions by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, receipts, backorders, deductions, oversell, syncRuns)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		receiptsTotal:   receipts,
		backordersTotal: backorders,
		deductionsTotal: deductions,
		oversellTotal:   oversell,
		syncRunsTotal:   syncRuns,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveReceiving records an applied receiving batch and its backorders.
func (m *Metrics) ObserveReceiving(backordersCreated int) {
	if m == nil {
		return
	}
	m.receiptsTotal.Inc()
	m.backordersTotal.Add(float64(backordersCreated))
}

// ObserveDeduction records a deduction line outcome: applied, already_deducted
// or not_found.
func (m *Metrics) ObserveDeduction(outcome string, oversold bool) {
	if m == nil {
		return
	}
	m.deductionsTotal.WithLabelValues(outcome).Inc()
	if oversold {
		m.oversellTotal.Inc()
	}
}

// ObserveSyncRun records a fulfillment sync job execution.
func (m *Metrics) ObserveSyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
