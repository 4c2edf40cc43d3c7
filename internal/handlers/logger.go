package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/logging"
)

// RequestLogger logs one line per request. Bodies are never logged since
// they carry face descriptors and passwords.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		for _, ginErr := range c.Errors {
			if opErr, ok := logging.AsOperationError(ginErr.Err); ok {
				fields = append(fields, opErr.Fields()...)
				continue
			}
			fields = append(fields, zap.Error(ginErr.Err))
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		default:
			logger.Info("request handled", fields...)
		}
	}
}
