package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
)

// WebhookOptions configures WebhookTrigger.
type WebhookOptions struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     infra.Logger
}

// WebhookTrigger posts each job to the pipeline's intake endpoint.
type WebhookTrigger struct {
	url        string
	token      string
	httpClient *http.Client
	logger     infra.Logger
}

type webhookPayload struct {
	JobID   string            `json:"job_id"`
	Options domain.JobOptions `json:"options"`
}

func NewWebhookTrigger(opts WebhookOptions) (*WebhookTrigger, error) {
	endpoint := strings.TrimSpace(opts.URL)
	if endpoint == "" {
		return nil, errors.New("processing: webhook url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &WebhookTrigger{
		url:        endpoint,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

func (t *WebhookTrigger) Enqueue(ctx context.Context, jobID string, options domain.JobOptions) error {
	body, err := json.Marshal(webhookPayload{JobID: jobID, Options: options})
	if err != nil {
		return fmt.Errorf("processing: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("processing: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", jobID)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("processing: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("processing: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	t.logger.Info().Str("job_id", jobID).Int("status", resp.StatusCode).Msg("processing: webhook delivered")
	return nil
}

var _ Trigger = (*WebhookTrigger)(nil)
