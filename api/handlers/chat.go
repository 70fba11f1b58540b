package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/reading-assistant/api/middleware"
	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/service/chat"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type ChatService interface {
	Respond(ctx context.Context, req *chat.Request) (*chat.Response, error)
	Stream(ctx context.Context, req *chat.Request, emit func(chat.StreamEvent) error) (*chat.Response, error)
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
}

type ChatHandler struct {
	service ChatService
	logger  logger.Logger
}

func NewChatHandler(service ChatService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  log.Named("chat-handler"),
	}
}

func (h *ChatHandler) bind(c *gin.Context) (*chat.Request, bool) {
	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Error: err.Error()})
		return nil, false
	}
	if req.UserID == "" {
		req.UserID = c.GetHeader(middleware.UserIDHeader)
	}
	return &req, true
}

func (h *ChatHandler) Chat(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	res, err := h.service.Respond(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, "Failed to answer", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type doneEvent struct {
	SessionID string    `json:"sessionId"`
	FullText  string    `json:"fullText"`
	Provider  string    `json:"provider"`
	Method    string    `json:"method"`
	Usage     llm.Usage `json:"usage"`
}

// ChatStream answers with server-sent events: start, chunk..., then done or error.
// Errors found before anything is streamed get a plain JSON error response instead.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	started := false
	res, err := h.service.Stream(c.Request.Context(), req, func(e chat.StreamEvent) error {
		if !started {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			started = true
		}
		switch e.Type {
		case chat.EventStart:
			c.SSEvent("start", gin.H{"sessionId": e.SessionID})
		case chat.EventChunk:
			c.SSEvent("chunk", gin.H{"content": e.Content})
		}
		c.Writer.Flush()
		// stop generating once the client is gone
		return c.Request.Context().Err()
	})
	if err != nil {
		if !started {
			handleError(c, h.logger, "Failed to answer", err)
			return
		}
		h.logger.Warn("chat stream ended with error", logger.Error(err))
		c.SSEvent("error", gin.H{"message": err.Error()})
		c.Writer.Flush()
		return
	}

	c.SSEvent("done", doneEvent{
		SessionID: res.SessionID,
		FullText:  res.Text,
		Provider:  string(res.Provider),
		Method:    res.Method.String(),
		Usage:     res.Usage,
	})
	c.Writer.Flush()
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get session", err)
		return
	}
	c.JSON(http.StatusOK, session)
}
