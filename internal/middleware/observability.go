package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
)

// ObservabilityMiddleware instruments relay HTTP requests with metrics and
// logging. Metrics are labelled with the route template, not the actual
// path, to keep cardinality bounded.
func ObservabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		metrics.RelayActiveRequests.WithLabelValues(method).Inc()
		defer metrics.RelayActiveRequests.WithLabelValues(method).Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			// unmatched routes (404s) share one label
			path = "unmatched"
		}

		duration := metrics.MeasureDuration(start)
		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)

		metrics.RelayRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration)
		metrics.RelayRequestTotal.WithLabelValues(method, path, statusStr).Inc()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Float64("duration_seconds", duration),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}

		if status >= 500 {
			logger.Error("Relay request failed", fields...)
		} else {
			logger.Debug("Relay request", fields...)
		}
	}
}
