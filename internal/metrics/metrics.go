// Package metrics exposes Prometheus collectors for the chat backend.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	statementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_statements_total",
			Help: "Statements submitted to the compute endpoint, by outcome",
		},
		[]string{"outcome"},
	)

	statementPolls = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "site_statement_polls",
			Help:    "Status polls issued per asynchronous statement",
			Buckets: []float64{0, 1, 2, 5, 10, 30, 60, 120, 600, 1230},
		},
	)

	statementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "site_statement_duration_seconds",
			Help:    "Wall time from submission to final result",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_chat_requests_total",
			Help: "Chat requests by task kind and status",
		},
		[]string{"task", "status"},
	)

	chatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "site_chat_duration_seconds",
			Help:    "Chat request duration by task kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	contextRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "site_context_overflow_retries_total",
			Help: "Generic completions retried with a halved history",
		},
	)

	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "site_online_users",
			Help: "Distinct users with a fresh heartbeat",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "site_active_sessions",
			Help: "Sessions held by the session store",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "site_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "site_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			statementsTotal,
			statementPolls,
			statementDuration,
			chatRequestsTotal,
			chatDuration,
			contextRetries,
			onlineUsers,
			activeSessions,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler returns the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStatement records one finished Execute call.
func RecordStatement(outcome string, polls int, duration time.Duration) {
	statementsTotal.WithLabelValues(outcome).Inc()
	statementPolls.Observe(float64(polls))
	statementDuration.Observe(duration.Seconds())
}

// RecordChat records one routed chat request.
func RecordChat(task, status string, duration time.Duration) {
	chatRequestsTotal.WithLabelValues(task, status).Inc()
	chatDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordContextRetry counts one overflow-driven retry.
func RecordContextRetry() {
	contextRetries.Inc()
}

// SetOnlineUsers sets the online users gauge.
func SetOnlineUsers(n int) {
	onlineUsers.Set(float64(n))
}

// SetActiveSessions sets the session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
