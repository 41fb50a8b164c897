package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/internal/service"
)

// Metrics records request counts and latency per route template. Websocket
// upgrades are skipped since their duration is the session length.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.IsWebsocket() {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// CallerFields adds the authenticated caller to access log lines.
func CallerFields(c *gin.Context) []zap.Field {
	claims, ok := Claims(c)
	if !ok {
		return nil
	}
	return []zap.Field{zap.String("user_id", claims.UserID), zap.String("role", string(claims.Role))}
}
