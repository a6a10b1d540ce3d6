package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/domain/upload"
)

// ProgressHandler exposes the polled progress read model.
type ProgressHandler struct {
	jobs *processing.Service
	log  zerolog.Logger
}

func NewProgressHandler(jobs *processing.Service, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		jobs: jobs,
		log:  log.With().Str("component", "progress-handler").Logger(),
	}
}

// Get accepts a job id or a session id and returns the current progress.
func (h *ProgressHandler) Get(c *gin.Context) {
	progress, err := h.jobs.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, processing.ErrJobNotFound) || errors.Is(err, upload.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("id", c.Param("id")).Msg("progress lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, progress)
}
