package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/webhook"
)

const reportTimeout = 30 * time.Second

// WebhookReporter signs callbacks with the shared secret and POSTs them to
// the control plane's webhook endpoints.
type WebhookReporter struct {
	url    string
	secret string
	client *http.Client
	log    zerolog.Logger
}

func NewWebhookReporter(cfg *config.Config, log zerolog.Logger) *WebhookReporter {
	return &WebhookReporter{
		url:    cfg.WebhookURL,
		secret: cfg.WebhookSecret,
		client: &http.Client{Timeout: reportTimeout},
		log:    log.With().Str("component", "webhook-reporter").Logger(),
	}
}

// Report delivers a terminal outcome. Unlike progress updates, a failed
// delivery is surfaced so the caller can log it loudly.
func (r *WebhookReporter) Report(ctx context.Context, report processing.Report) error {
	if r.url == "" {
		r.log.Warn().Msg("no webhook url configured, terminal report dropped")
		return nil
	}
	return r.post(ctx, r.url, report)
}

// ReportProgress delivers a stage update. Best effort: the control plane
// reconciles through the terminal report either way.
func (r *WebhookReporter) ReportProgress(ctx context.Context, update processing.ProgressUpdate) {
	if r.url == "" {
		return
	}
	if err := r.post(ctx, r.url+"/progress", update); err != nil {
		r.log.Debug().Err(err).Str("stage", update.Stage).Msg("progress update not delivered")
	}
}

func (r *WebhookReporter) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tour-processor/1.0")
	if r.secret != "" {
		req.Header.Set(webhook.Header, webhook.Sign(body, r.secret))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}
