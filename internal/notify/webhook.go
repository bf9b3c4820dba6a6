package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// defaultMaxAttempts bounds retries of one webhook delivery
	// across rate limits and server errors.
	defaultMaxAttempts = 3

	// defaultRetryAfterFallback is used when a 429 response carries
	// no usable Retry-After hint.
	defaultRetryAfterFallback = 2 * time.Second

	// serverErrorDelay spaces retries after a 5xx response.
	serverErrorDelay = time.Second
)

// WebhookClient delivers Discord webhook payloads with bounded
// wait-and-retry on rate limits and server errors. There is no retry
// beyond that bound; callers treat delivery failure as non-fatal.
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger

	maxAttempts        int
	retryAfterFallback time.Duration

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWebhookClient creates a webhook client. The http.Client may be
// nil, in which case a client with a 15 second timeout is used.
func NewWebhookClient(httpClient *http.Client, logger *slog.Logger) *WebhookClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookClient{
		httpClient:         httpClient,
		logger:             logger,
		maxAttempts:        defaultMaxAttempts,
		retryAfterFallback: defaultRetryAfterFallback,
		sleep:              sleepCtx,
	}
}

// Send posts the payload to the webhook URL. A 429 response waits for
// the Retry-After hint (or the fixed fallback) and retries the same
// request; 5xx responses retry up to the attempt bound.
func (c *WebhookClient) Send(ctx context.Context, url string, params *discordgo.WebhookParams) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, retryAfter, err := c.post(ctx, url, body)
		if err != nil {
			lastErr = err
		} else if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("webhook rate limited (429)")
			c.logger.Warn("webhook rate limited",
				slog.Duration("retry_after", retryAfter),
				slog.Int("attempt", attempt))
			if attempt < c.maxAttempts {
				if err := c.sleep(ctx, retryAfter); err != nil {
					return err
				}
			}
			continue
		} else if status >= 500 {
			lastErr = fmt.Errorf("webhook server error (%d)", status)
			c.logger.Warn("webhook server error",
				slog.Int("status", status),
				slog.Int("attempt", attempt))
			if attempt < c.maxAttempts {
				if err := c.sleep(ctx, serverErrorDelay); err != nil {
					return err
				}
			}
			continue
		} else if status >= 400 {
			// Client errors will not improve on retry.
			return fmt.Errorf("webhook rejected (%d)", status)
		} else {
			return nil
		}

		if attempt < c.maxAttempts {
			if err := c.sleep(ctx, serverErrorDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// post performs one POST attempt and reports the status plus any
// Retry-After hint.
func (c *WebhookClient) post(ctx context.Context, url string, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", slog.String("error", err.Error()))
		}
	}()

	retryAfter := c.retryAfterFallback
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			retryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return resp.StatusCode, retryAfter, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
