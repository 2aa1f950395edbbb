package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Samurai315/themis/internal/service"
)

// Metrics returns middleware that captures request metrics using the
// provided service. Scrape and probe endpoints are left out so the
// collector does not count its own traffic.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		switch path {
		case "/metrics", "/health", "/ready":
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), duration)
	}
}
