package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/pkg/middleware/requestid"
)

// Audit logs who invoked a mutating endpoint once the request succeeds.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}
		operator := ""
		if claims := Claims(c); claims != nil {
			operator = claims.Subject
		}
		logger.Info("audit",
			zap.String("action", action),
			zap.String("operator", operator),
			zap.String("request_id", requestid.Value(c)),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
