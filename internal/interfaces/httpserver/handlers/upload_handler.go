package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/domain/upload"
)

// UploadHandler exposes the grant, completion-notice and session endpoints.
type UploadHandler struct {
	uploads *upload.Service
	jobs    *processing.Service
	log     zerolog.Logger
}

func NewUploadHandler(uploads *upload.Service, jobs *processing.Service, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		uploads: uploads,
		jobs:    jobs,
		log:     log.With().Str("component", "upload-handler").Logger(),
	}
}

type completeResponse struct {
	JobID string `json:"job_id"`
}

// CreateGrant issues a presigned direct-to-storage upload descriptor.
func (h *UploadHandler) CreateGrant(c *gin.Context) {
	var req upload.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grant, err := h.uploads.IssueGrant(c.Request.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, upload.ErrUnknownContent) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, grant)
}

// Complete records the client's upload-complete notice and triggers
// processing. Safe to retry: repeats return the same job id.
func (h *UploadHandler) Complete(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.uploads.MarkUploaded(c.Request.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, upload.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, upload.ErrSessionExpired), errors.Is(err, upload.ErrObjectMissing):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.Error().Err(err).Str("session_id", sessionID).Msg("mark uploaded failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	jobID, err := h.jobs.StartProcessing(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("start processing failed")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, completeResponse{JobID: jobID})
}

// Get returns the upload session record.
func (h *UploadHandler) Get(c *gin.Context) {
	session, err := h.uploads.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, upload.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}
