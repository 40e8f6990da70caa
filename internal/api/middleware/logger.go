package middleware

import (
	"time"

	"bess-dispatch/internal/log"

	"github.com/gin-gonic/gin"
)

// Logger attaches a request-scoped slog logger to the request context and
// logs one record per request once it completes.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := log.WithAttrs(c.Request.Context(), "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		attrs := []any{"status", status, "elapsed", time.Since(start), "client_ip", c.ClientIP()}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		l := log.Ctx(ctx)
		switch {
		case status >= 500:
			l.Error("request", attrs...)
		case status >= 400:
			l.Warn("request", attrs...)
		default:
			l.Info("request", attrs...)
		}
	}
}
