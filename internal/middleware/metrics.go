package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JamieBuffing/kumasi-data-api/internal/telemetry"
)

// Metrics records a count and a latency observation for every request that
// passes through the router.
//
// The path label is c.FullPath(), the matched route template, rather than the
// raw URL. Requests that match no route use "<no-route>" so unhandled paths
// do not inflate label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
