package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggingMiddleware logs one line per request once the handler returns,
// including requests whose connection is dropped by a panic.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		defer func() {
			recovered := recover()
			logRequest(c, path, start, recovered != nil)
			if recovered != nil {
				panic(recovered)
			}
		}()

		c.Next()
	}
}

func logRequest(c *gin.Context, path string, start time.Time, aborted bool) {
	status := c.Writer.Status()
	var event *zerolog.Event
	switch {
	case aborted, status >= 500:
		event = log.Error()
	case status >= 400:
		event = log.Warn()
	default:
		event = log.Info()
	}

	if len(c.Errors) > 0 {
		event = event.Str("errors", c.Errors.String())
	}
	if aborted {
		event = event.Bool("aborted", true)
	}

	event.
		Str("method", c.Request.Method).
		Str("path", path).
		Int("status", status).
		Int("bytes", c.Writer.Size()).
		Dur("latency", time.Since(start)).
		Str("client", c.ClientIP()).
		Msg("Handled request")
}
