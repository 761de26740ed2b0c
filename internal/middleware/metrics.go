// Package middleware provides the Gin middleware of the console API: request
// IDs, Prometheus HTTP metrics, request logging, security headers, CORS,
// rate limiting, session authentication and permission checks.
//
// internal/api/router.go registers them in this order:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders
//	    → (auth routes) RateLimit
//	    → (session routes) Auth → RequireAction
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request.
//
// The path label is the matched route template from c.FullPath(), so
// /api/v1/files/:name is one series no matter how many files exist.
// Unmatched requests are labelled "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
