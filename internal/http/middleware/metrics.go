package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/podium-backend/internal/observability"
)

// Metrics records API latency by matched route. Scrapes of /metrics and
// unmatched paths are not observed, so the route label set stays bounded.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.APIInflight(1)
		defer m.APIInflight(-1)
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" || route == "/metrics" {
			return
		}
		m.ObserveAPI(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}
