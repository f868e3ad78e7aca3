package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Admin request targets, from the narrowest path parameter present.
const (
	TargetHost     = "host"
	TargetPipe     = "pipe"
	TargetEndpoint = "endpoint"
)

const unmatchedRoute = "unmatched"

// adminRoute keeps metric labels bounded: unknown paths share one label.
func adminRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

func adminTarget(c *gin.Context) string {
	switch {
	case c.Param("endpoint") != "":
		return TargetEndpoint
	case c.Param("id") != "":
		return TargetPipe
	default:
		return TargetHost
	}
}

// AdminRequestLogger logs one line per admin request, naming the pipe and
// endpoint it addressed.
func AdminRequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		} else if c.Request.Method != "GET" {
			event = logger.Info()
		}

		if id := c.Param("id"); id != "" {
			event = event.Str("pipe", id)
		}
		if ep := c.Param("endpoint"); ep != "" {
			event = event.Str("endpoint", ep)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", adminRoute(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin_request")
	}
}

// AdminRequestMetrics counts admin requests by route and target. Pipe ids are
// never used as labels.
func AdminRequestMetrics(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, adminRoute(c), adminTarget(c), c.Writer.Status(), time.Since(start))
	}
}
