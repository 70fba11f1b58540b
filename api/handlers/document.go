package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/reading-assistant/internal/service/document"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type DocumentHandler struct {
	service document.DocumentProcessor
	logger  logger.Logger
}

type ExtractRequest struct {
	PrimaryURL string `json:"primaryUrl"`
	DirectURL  string `json:"directUrl,omitempty"`
}

func NewDocumentHandler(service document.DocumentProcessor, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  log.Named("document-handler"),
	}
}

// Extract answers 202 when the job was queued and 200 when it already ran inline.
func (h *DocumentHandler) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Error: err.Error()})
		return
	}

	res, err := h.service.EnqueueExtraction(c.Request.Context(), c.Param("documentId"), req.PrimaryURL, req.DirectURL)
	if err != nil {
		handleError(c, h.logger, "Failed to start extraction", err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (h *DocumentHandler) GetJob(c *gin.Context) {
	status, err := h.service.GetJobStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get job status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *DocumentHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.service.CancelJob(c.Request.Context(), jobID); err != nil {
		handleError(c, h.logger, "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled",
		"jobId":   jobID,
	})
}
