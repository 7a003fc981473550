// Package metrics provides Prometheus metrics for the devsync server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// git CLI metrics
	gitCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsync_git_commands_total",
			Help: "Total git CLI invocations",
		},
		[]string{"command", "result"},
	)

	gitCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devsync_git_command_duration_seconds",
			Help:    "git CLI invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	gitLockRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devsync_git_lock_retries_total",
			Help: "git invocations retried because of index.lock contention",
		},
	)

	// Search metrics
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsync_searches_total",
			Help: "Total searches by engine that produced the result",
		},
		[]string{"engine"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devsync_search_duration_seconds",
			Help:    "Search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	searchFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devsync_search_fallbacks_total",
			Help: "Searches that fell back from ripgrep to the naive scan",
		},
	)

	// Change bus metrics
	busSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devsync_bus_subscribers",
			Help: "Number of live change bus subscribers",
		},
	)

	busEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsync_bus_events_total",
			Help: "Events published on the change bus",
		},
		[]string{"type"},
	)

	busDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devsync_bus_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	// Watcher metrics
	watcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsync_watcher_events_total",
			Help: "Raw filesystem notifications received, by operation",
		},
		[]string{"op"},
	)

	watcherErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devsync_watcher_errors_total",
			Help: "Errors reported by the filesystem watcher",
		},
	)

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devsync_ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// Log metrics
	logMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devsync_log_messages_total",
			Help: "Log records at warn level or above",
		},
		[]string{"level"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordGitCommand records one git CLI invocation.
func RecordGitCommand(command string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	gitCommandsTotal.WithLabelValues(command, result).Inc()
	gitCommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordGitLockRetry records a retry caused by index.lock contention.
func RecordGitLockRetry() {
	gitLockRetriesTotal.Inc()
}

// RecordSearch records a completed search.
func RecordSearch(engine string, duration time.Duration) {
	searchesTotal.WithLabelValues(engine).Inc()
	searchDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordSearchFallback records a ripgrep failure that triggered the fallback engine.
func RecordSearchFallback() {
	searchFallbacksTotal.Inc()
}

// SetBusSubscribers sets the live subscriber gauge.
func SetBusSubscribers(n int) {
	busSubscribers.Set(float64(n))
}

// RecordBusEvent records a published event.
func RecordBusEvent(eventType string) {
	busEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordBusDrop records an event dropped for a slow subscriber.
func RecordBusDrop() {
	busDroppedTotal.Inc()
}

// RecordWatcherEvent records a raw filesystem notification.
func RecordWatcherEvent(op string) {
	watcherEventsTotal.WithLabelValues(op).Inc()
}

// RecordWatcherError records a watcher error.
func RecordWatcherError() {
	watcherErrorsTotal.Inc()
}

// SetWSConnectionsActive sets the active WebSocket connection gauge.
func SetWSConnectionsActive(n int) {
	wsConnectionsActive.Set(float64(n))
}

// RecordLogMessage records a log record at warn level or above.
func RecordLogMessage(level string) {
	logMessagesTotal.WithLabelValues(level).Inc()
}
