// Package notify delivers completion emails, operator alerts and onboarding
// progress events. Every delivery is best effort from the processor's point
// of view: errors are returned, never retried here.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/goccy/go-json"

	"github.com/gitmesh/syncrun"
)

// Config wires the outbound endpoints. Empty fields disable the
// corresponding channel.
type Config struct {
	// WebhookURL receives error alerts and onboarding completion events.
	WebhookURL string
	// SMTPAddr is host:port of the mail relay.
	SMTPAddr string
	SMTPAuth smtp.Auth
	From     string

	HTTPTimeout time.Duration
}

// DefaultNotifier is the HTTP + SMTP implementation of syncrun.Notifier.
type DefaultNotifier struct {
	cfg    Config
	client *http.Client
	logger syncrun.Logger
}

func NewNotifier(cfg Config, logger syncrun.Logger) *DefaultNotifier {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = syncrun.DefaultLogger
	}
	return &DefaultNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
}

func (n *DefaultNotifier) SendCompletionEmail(ctx context.Context, user *syncrun.User, integration *syncrun.Integration) error {
	if n.cfg.SMTPAddr == "" {
		n.logger.Debug(ctx, "smtp not configured, skipping completion email to %s", user.Email)
		return nil
	}
	body := fmt.Sprintf("To: %s\r\nSubject: Your %s integration has finished syncing\r\n\r\n"+
		"Historical data for your %s integration is now fully imported.\r\n",
		user.Email, integration.Platform, integration.Platform)
	err := smtp.SendMail(n.cfg.SMTPAddr, n.cfg.SMTPAuth, n.cfg.From, []string{user.Email}, []byte(body))
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "send completion email to '%v' failed", user.Email, err)
	}
	return nil
}

func (n *DefaultNotifier) SendErrorAlert(ctx context.Context, integration *syncrun.Integration, detail *syncrun.ErrorDetail) error {
	return n.post(ctx, map[string]interface{}{
		"event":         "integration.error",
		"tenantId":      integration.TenantID,
		"integrationId": integration.ID,
		"platform":      integration.Platform,
		"error":         detail,
	})
}

func (n *DefaultNotifier) PublishCompletion(ctx context.Context, tenantID, integrationID, status string) error {
	return n.post(ctx, map[string]interface{}{
		"event":         "integration.onboarding-finished",
		"tenantId":      tenantID,
		"integrationId": integrationID,
		"status":        status,
	})
}

func (n *DefaultNotifier) post(ctx context.Context, payload map[string]interface{}) error {
	if n.cfg.WebhookURL == "" {
		n.logger.Debug(ctx, "webhook not configured, dropping %v event", payload["event"])
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "encode %v event failed", payload["event"], err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "build %v request failed", payload["event"], err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "post %v event failed", payload["event"], err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return syncrun.NewSyncError(syncrun.ErrCodeGeneral, "post %v event failed with status %v", payload["event"], resp.StatusCode)
	}
	return nil
}
