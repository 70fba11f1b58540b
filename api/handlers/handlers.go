package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/reading-assistant/internal/service/chat"
	"github.com/feichai0017/reading-assistant/internal/service/document"
	"github.com/feichai0017/reading-assistant/internal/service/extraction"
	"github.com/feichai0017/reading-assistant/internal/utils/validator"
	"github.com/feichai0017/reading-assistant/pkg/logger"
	"github.com/feichai0017/reading-assistant/pkg/queue"
)

type Handlers struct {
	Document *DocumentHandler
	Chat     *ChatHandler
	Health   *HealthHandler
}

func NewHandlers(
	documentService document.DocumentProcessor,
	chatService ChatService,
	checks map[string]HealthCheck,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, log),
		Chat:     NewChatHandler(chatService, log),
		Health:   NewHealthHandler(checks),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var verr *validator.ValidationError
	var xerr *extraction.Error
	switch {
	case errors.As(err, &verr),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrSessionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrDocumentNotFound),
		errors.Is(err, chat.ErrDocumentNotFound),
		errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, document.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &xerr):
		if xerr.Retryable() {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{Message: message, Error: err.Error()}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		response.Code = verr.Code
		response.Field = verr.Field
	}
	c.JSON(status, response)
}
