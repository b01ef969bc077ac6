package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"menu-analysis-backend/internal/shared/server/respond"
	"menu-analysis-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 error envelope. Jobs already
// admitted by the handler keep running; only the response is lost.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      rec,
				"stack":      string(debug.Stack()),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
			}
			if jobID := c.GetString(JobIDKey); jobID != "" {
				fields["job_id"] = jobID
			}
			telemetry.Error("panic", fields)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
