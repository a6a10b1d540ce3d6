package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/infrastructure/metrics"
	"h3-server/services/tour-api/internal/webhook"
)

// WebhookHandler receives the processor's signed callbacks. The verification
// switch is injected at construction and defaults to on; it is never read
// from ambient state at call time.
type WebhookHandler struct {
	secret         string
	verifyDisabled bool
	jobs           *processing.Service
	log            zerolog.Logger
}

func NewWebhookHandler(secret string, verifyDisabled bool, jobs *processing.Service, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:         secret,
		verifyDisabled: verifyDisabled,
		jobs:           jobs,
		log:            log.With().Str("component", "webhook-handler").Logger(),
	}
}

// Report handles the terminal success/failure callback.
func (h *WebhookHandler) Report(c *gin.Context) {
	body, ok := h.verifiedBody(c)
	if !ok {
		return
	}

	var report processing.Report
	if err := json.Unmarshal(body, &report); err != nil {
		metrics.RecordWebhookResult("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	ack, err := h.jobs.ApplyReport(c.Request.Context(), report)
	if err != nil {
		if errors.Is(err, processing.ErrUnknownReport) {
			metrics.RecordWebhookResult("malformed")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("s3_key", report.ObjectKey).Msg("apply report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ack": string(ack)})
}

// Progress handles the mid-run stage callback.
func (h *WebhookHandler) Progress(c *gin.Context) {
	body, ok := h.verifiedBody(c)
	if !ok {
		return
	}

	var update processing.ProgressUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	if err := h.jobs.ApplyProgress(c.Request.Context(), update); err != nil {
		if errors.Is(err, processing.ErrUnknownReport) || errors.Is(err, processing.ErrJobNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ack": "applied"})
}

// verifiedBody reads the raw body and checks the payload signature. A
// mismatch is a security event: 401, logged, no state touched.
func (h *WebhookHandler) verifiedBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, false
	}

	if h.verifyDisabled {
		return body, true
	}

	signature := c.GetHeader(webhook.Header)
	if !webhook.Verify(body, signature, h.secret) {
		metrics.RecordWebhookResult("rejected")
		h.log.Warn().
			Str("remote", c.ClientIP()).
			Bool("signature_present", signature != "").
			Msg("webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return nil, false
	}
	return body, true
}
