package middleware

import (
	"strconv"
	"time"

	"readstash-backend/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records request count and latency for every route.
func MetricsMiddleware(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordRequest(c.Request.Method, path,
			strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
