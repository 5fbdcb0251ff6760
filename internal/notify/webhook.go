// Package notify delivers workflow events to external webhooks. Delivery is
// best effort: retries cover transient failures, and callers treat a final
// error as a recorded outcome, not a reason to stop a run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultMaxRetries = 3
	initialBackoff    = 1 * time.Second
)

// WebhookNotifier posts JSON payloads to webhook URLs with retry and
// exponential backoff. 5xx and 429 responses are retried; other 4xx
// responses are not.
type WebhookNotifier struct {
	client     *http.Client
	maxRetries int
}

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(n *WebhookNotifier) { n.client = client }
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(retries int) Option {
	return func(n *WebhookNotifier) { n.maxRetries = retries }
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(opts ...Option) *WebhookNotifier {
	n := &WebhookNotifier{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts the payload to the webhook URL, retrying transient failures
// with exponential backoff until the context is cancelled or retries run out.
func (n *WebhookNotifier) Notify(ctx context.Context, url string, payload map[string]any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
		if err != nil {
			return fmt.Errorf("failed to create webhook request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(httpReq)
		if err != nil {
			lastErr = err
			slog.WarnContext(ctx, "webhook delivery failed",
				"url", url,
				"attempt", attempt+1,
				"maxRetries", n.maxRetries,
				"error", err)
			if attempt < n.maxRetries {
				if err := sleepBackoff(ctx, &backoff); err != nil {
					return err
				}
			}
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.InfoContext(ctx, "webhook delivered",
				"url", url,
				"status", resp.StatusCode,
				"attempt", attempt+1)
			return nil
		}

		if (resp.StatusCode >= 500 && resp.StatusCode < 600) || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
			slog.WarnContext(ctx, "webhook returned retryable error status",
				"url", url,
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"maxRetries", n.maxRetries)
			if attempt < n.maxRetries {
				if err := sleepBackoff(ctx, &backoff); err != nil {
					return err
				}
			}
			continue
		}

		return fmt.Errorf("webhook returned non-retryable status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.maxRetries+1, lastErr)
}

func sleepBackoff(ctx context.Context, backoff *time.Duration) error {
	select {
	case <-time.After(*backoff):
		*backoff *= 2
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
