package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/reading-assistant/api/handlers"
	"github.com/feichai0017/reading-assistant/api/middleware"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

// SetupRoutes registers every route under /api/v1.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string, log logger.Logger) {
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(middleware.RequestContext())
	r.Use(middleware.AccessLog(logger.NewContextLogger(log.Named("http"))))

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health.Health)

	v1.POST("/documents/:documentId/extract", h.Document.Extract)

	jobs := v1.Group("/jobs")
	{
		jobs.GET("/:jobId", h.Document.GetJob)
		jobs.DELETE("/:jobId", h.Document.CancelJob)
	}

	c := v1.Group("/chat")
	{
		c.POST("", h.Chat.Chat)
		c.POST("/stream", h.Chat.ChatStream)
		c.GET("/sessions/:sessionId", h.Chat.GetSession)
	}
}
