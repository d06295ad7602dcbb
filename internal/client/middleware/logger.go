package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per request. Requests that failed are logged as
// warnings, the rest only at debug level.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"status", c.Writer.Status(),
			"path", c.Request.URL.Path,
			"latency", time.Since(start),
		}

		if len(c.Errors) > 0 {
			slog.Warn("control plane request", append(attrs, "errors", c.Errors.String())...)
			return
		}
		slog.Debug("control plane request", attrs...)
	}
}
