package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

// DefaultAccessLogSkipPaths are health and scrape endpoints.
var DefaultAccessLogSkipPaths = []string{
	"/health",
	"/health/ready",
	"/health/live",
	"/metrics",
}

// AccessLog writes one structured line per request.
func AccessLog(skipPaths []string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.Info(c.Request.Context(), "api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		)
	}
}
