// Package metrics provides Prometheus instrumentation for the agentgate
// authorization core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MandateValidationsTotal counts mandate validations by outcome.
	MandateValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentgate",
			Name:      "mandate_validations_total",
			Help:      "Total mandate validations by result (approved/rejected).",
		},
		[]string{"result"},
	)

	// MandateExecutionsTotal counts executed actions by outcome.
	MandateExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentgate",
			Name:      "mandate_executions_total",
			Help:      "Total action executions by result.",
		},
		[]string{"result"},
	)

	// PolicyEvaluationsTotal counts policy evaluations by effect.
	PolicyEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentgate",
			Name:      "policy_evaluations_total",
			Help:      "Total policy evaluations by outcome (allowed/denied).",
		},
		[]string{"outcome"},
	)

	// PolicyEvaluationDuration observes single-context evaluation latency.
	PolicyEvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentgate",
			Name:      "policy_evaluation_duration_seconds",
			Help:      "Policy evaluation duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// RiskAnalysesTotal counts transaction analyses by risk level.
	RiskAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentgate",
			Name:      "risk_analyses_total",
			Help:      "Total transaction analyses by resulting risk level.",
		},
		[]string{"level"},
	)

	// RiskBlocksTotal counts analyses that recommended blocking.
	RiskBlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentgate",
			Name:      "risk_blocks_total",
			Help:      "Total transaction analyses with shouldBlock set.",
		},
	)

	// BlacklistSize tracks current blacklist entries per subsystem.
	BlacklistSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentgate",
			Name:      "blacklist_size",
			Help:      "Current number of blacklist entries by subsystem.",
		},
		[]string{"subsystem"},
	)

	// ActiveMandates tracks current active (non-terminal) mandates.
	ActiveMandates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentgate",
			Name:      "active_mandates",
			Help:      "Number of currently active mandates.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentgate",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MandateValidationsTotal,
		MandateExecutionsTotal,
		PolicyEvaluationsTotal,
		PolicyEvaluationDuration,
		RiskAnalysesTotal,
		RiskBlocksTotal,
		BlacklistSize,
		ActiveMandates,
		ActiveWebSocketClients,
		DBOpenConnections,
		GoroutineCount,
	)
}

// GinMiddleware records request counts and latency per route pattern.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics HTTP handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
