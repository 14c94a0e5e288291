// Package observability provides metrics collection and tracing for the
// request pipeline.
package observability

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/staybook/staybook-cli/internal/api"
)

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	TotalRequests   int           `json:"total_requests"`
	FailedRequests  int           `json:"failed_requests"`
	NetworkErrors   int           `json:"network_errors"`
	TotalOperations int           `json:"total_operations"`
	FailedOps       int           `json:"failed_operations"`
	Refreshes       int           `json:"refreshes"`
	SharedRefreshes int           `json:"shared_refreshes"`
	FailedRefreshes int           `json:"failed_refreshes"`
	Invalidations   int           `json:"invalidations"`
	TotalLatency    time.Duration `json:"total_latency"`
}

// String renders a compact one-line summary.
func (m SessionMetrics) String() string {
	var parts []string

	duration := m.EndTime.Sub(m.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}

	if m.TotalRequests == 1 {
		parts = append(parts, "1 request")
	} else if m.TotalRequests > 1 {
		parts = append(parts, fmt.Sprintf("%d requests", m.TotalRequests))
	}

	if m.Refreshes > 0 {
		refresh := fmt.Sprintf("%d refresh", m.Refreshes)
		if m.SharedRefreshes > 0 {
			refresh += fmt.Sprintf(" (%d shared)", m.SharedRefreshes)
		}
		parts = append(parts, refresh)
	}

	if m.Invalidations > 0 {
		parts = append(parts, fmt.Sprintf("%d invalidated", m.Invalidations))
	}

	if failed := m.FailedRequests + m.FailedOps; failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}

	return strings.Join(parts, " | ")
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
// The same events feed a Prometheus registry for textfile export.
type SessionCollector struct {
	mu sync.Mutex

	startTime       time.Time
	totalRequests   int
	failedRequests  int
	networkErrors   int
	totalOperations int
	failedOps       int
	refreshes       int
	sharedRefreshes int
	failedRefreshes int
	invalidations   int
	totalLatency    time.Duration

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshesTotal  *prometheus.CounterVec
	invalidTotal    *prometheus.CounterVec
	operationsTotal *prometheus.CounterVec
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	c := &SessionCollector{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staybook_requests_total",
			Help: "Requests sent through the pipeline by method, status and classification.",
		}, []string{"method", "status", "kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "staybook_request_duration_seconds",
			Help:    "Request latency including any proactive refresh.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		refreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staybook_refreshes_total",
			Help: "Refresh-token exchanges by result and whether the caller joined one in flight.",
		}, []string{"result", "shared"}),
		invalidTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staybook_session_invalidations_total",
			Help: "Session invalidations by classification.",
		}, []string{"kind"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "staybook_operations_total",
			Help: "High-level client operations by name and result.",
		}, []string{"operation", "result"}),
	}
	c.registry.MustRegister(c.requestsTotal, c.requestDuration, c.refreshesTotal, c.invalidTotal, c.operationsTotal)
	return c
}

// Registry returns the Prometheus registry backing the collector.
func (c *SessionCollector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes the collected metrics in the Prometheus text format,
// for the node_exporter textfile collector.
func (c *SessionCollector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// RecordRequest records metrics for an HTTP request.
func (c *SessionCollector) RecordRequest(info api.RequestInfo, result api.RequestResult) {
	c.mu.Lock()
	c.totalRequests++
	c.totalLatency += result.Duration
	if result.Error != nil {
		c.failedRequests++
		if result.StatusCode == 0 {
			c.networkErrors++
		}
	}
	c.mu.Unlock()

	kind := string(result.Kind)
	if kind == "" {
		kind = "none"
	}
	c.requestsTotal.WithLabelValues(info.Method, strconv.Itoa(result.StatusCode), kind).Inc()
	c.requestDuration.WithLabelValues(info.Method).Observe(result.Duration.Seconds())
}

// RecordOperation records metrics for a high-level operation.
func (c *SessionCollector) RecordOperation(op api.OperationInfo, err error) {
	c.mu.Lock()
	c.totalOperations++
	if err != nil {
		c.failedOps++
	}
	c.mu.Unlock()

	c.operationsTotal.WithLabelValues(op.Name, resultLabel(err)).Inc()
}

// RecordRefresh records a refresh-token exchange.
func (c *SessionCollector) RecordRefresh(r api.RefreshResult) {
	c.mu.Lock()
	c.refreshes++
	if r.Shared {
		c.sharedRefreshes++
	}
	if r.Error != nil {
		c.failedRefreshes++
	}
	c.mu.Unlock()

	c.refreshesTotal.WithLabelValues(resultLabel(r.Error), strconv.FormatBool(r.Shared)).Inc()
}

// RecordInvalidation records a session invalidation.
func (c *SessionCollector) RecordInvalidation(info api.InvalidationInfo) {
	c.mu.Lock()
	c.invalidations++
	c.mu.Unlock()

	kind := string(info.Kind)
	if kind == "" {
		kind = "logout"
	}
	c.invalidTotal.WithLabelValues(kind).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:       c.startTime,
		EndTime:         time.Now(),
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		NetworkErrors:   c.networkErrors,
		TotalOperations: c.totalOperations,
		FailedOps:       c.failedOps,
		Refreshes:       c.refreshes,
		SharedRefreshes: c.sharedRefreshes,
		FailedRefreshes: c.failedRefreshes,
		Invalidations:   c.invalidations,
		TotalLatency:    c.totalLatency,
	}
}

// Reset clears the session counters and resets the start time.
// Prometheus counters are cumulative and are not reset.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.networkErrors = 0
	c.totalOperations = 0
	c.failedOps = 0
	c.refreshes = 0
	c.sharedRefreshes = 0
	c.failedRefreshes = 0
	c.invalidations = 0
	c.totalLatency = 0
}
