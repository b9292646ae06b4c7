package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
)

// RequestLogger logs every request: method, path, status, latency and client IP.
// 5xx responses are logged at warn.
func RequestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"ip", c.ClientIP(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if status >= 500 {
			logger.LogWarn(c.Request.Context(), "request", fields...)
			return
		}
		logger.LogDebug(c.Request.Context(), "request", fields...)
	}
}

// RequestMetrics records request count and latency per matched route.
// The scrape endpoint itself is not counted.
func RequestMetrics(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		metrics.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
