package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	// UserIDHeader is set by the gateway in front of this service.
	UserIDHeader = "X-User-ID"
)

// RequestContext stores the request and user ids in the request context, where
// logger.ContextLogger picks them up.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.ContextWithRequestID(c.Request.Context(), requestID)
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			ctx = logger.ContextWithUserID(ctx, userID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func AccessLog(log logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		l := log.FromContext(c.Request.Context())
		if c.Writer.Status() >= 500 {
			l.Error("request failed", fields...)
			return
		}
		l.Info("request", fields...)
	}
}
