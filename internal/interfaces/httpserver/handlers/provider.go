package handlers

import (
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/domain/tour"
	"h3-server/services/tour-api/internal/domain/upload"
)

// Provider wires HTTP handlers.
type Provider struct {
	Uploads  *UploadHandler
	Progress *ProgressHandler
	Webhook  *WebhookHandler
	Tours    *TourHandler
}

func NewProvider(cfg *config.Config, uploads *upload.Service, jobs *processing.Service, tours *tour.Service, log zerolog.Logger) *Provider {
	return &Provider{
		Uploads:  NewUploadHandler(uploads, jobs, log),
		Progress: NewProgressHandler(jobs, log),
		Webhook:  NewWebhookHandler(cfg.WebhookSecret, cfg.WebhookVerifyDisabled, jobs, log),
		Tours:    NewTourHandler(tours, log),
	}
}
