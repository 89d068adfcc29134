// Package middleware provides HTTP middleware components for the chatrelay
// server. This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// activeConnections tracks the number of currently active connections.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	// activeConnectionsCount provides atomic access to the connection count.
	activeConnectionsCount int64

	// inboundEventsTotal counts inbound webhook messages by message type.
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_inbound_events_total",
			Help: "Total inbound webhook messages grouped by message type",
		},
		[]string{"type"},
	)

	// repliesTotal counts replies delivered to users by kind.
	// Kind is one of: completion, unsupported, apology.
	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_replies_total",
			Help: "Total replies delivered to users grouped by kind",
		},
		[]string{"kind"},
	)

	// pipelineFailuresTotal counts pipeline runs terminated by an error.
	pipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_pipeline_failures_total",
			Help: "Total pipeline runs terminated by an error, grouped by stage",
		},
		[]string{"stage"},
	)

	// sessionStoreDegradedTotal counts session store operations that degraded
	// because the backend was unavailable.
	sessionStoreDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_session_store_degraded_total",
			Help: "Session store operations that degraded to stateless mode",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		activeConnections,
		inboundEventsTotal,
		repliesTotal,
		pipelineFailuresTotal,
		sessionStoreDegradedTotal,
	)
}

// RecordInboundEvent increments the inbound event counter for a message type.
func RecordInboundEvent(messageType string) {
	inboundEventsTotal.WithLabelValues(messageType).Inc()
}

// RecordReply increments the reply counter for a delivery kind.
func RecordReply(kind string) {
	repliesTotal.WithLabelValues(kind).Inc()
}

// RecordPipelineFailure increments the pipeline failure counter for a stage.
func RecordPipelineFailure(stage string) {
	pipelineFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordSessionStoreDegraded increments the degraded-operation counter.
func RecordSessionStoreDegraded(op string) {
	sessionStoreDegradedTotal.WithLabelValues(op).Inc()
}

// MetricsMiddleware returns a Gin middleware handler that records Prometheus
// metrics for every request.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		activeConnections.Set(float64(atomic.AddInt64(&activeConnectionsCount, 1)))
		defer func() {
			activeConnections.Set(float64(atomic.AddInt64(&activeConnectionsCount, -1)))
		}()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns the Prometheus exposition handler wrapped for Gin.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
