// Package webhook delivers captured session payloads to the downstream
// workflow endpoint. Delivery is attempted a bounded number of times with
// exponential backoff; client errors from the endpoint are never retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkcap/linkcap/internal/capture"
	"github.com/linkcap/linkcap/internal/logger"
	"github.com/linkcap/linkcap/internal/observability"
	"github.com/linkcap/linkcap/internal/tracing"
)

// StatusError is a non-2xx response from the webhook endpoint
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
}

// Permanent reports whether the status indicates a client error that
// retrying cannot fix
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Config holds dispatcher configuration
type Config struct {
	URL         string
	AuthToken   string        // optional bearer token
	Timeout     time.Duration // per-attempt timeout (default 15s)
	MaxAttempts int           // default 3
	BackoffMin  time.Duration // default 2s
	BackoffMax  time.Duration // default 10s
	Logger      zerolog.Logger
}

// Dispatcher posts capture payloads to the configured webhook
type Dispatcher struct {
	cfg        Config
	httpClient *http.Client
	redactor   *logger.Redactor
	log        zerolog.Logger
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}

	return &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		redactor:   logger.NewRedactor(),
		log:        cfg.Logger.With().Str("module", "webhook").Logger(),
	}, nil
}

// Dispatch delivers the payload, retrying transient failures. It returns nil
// only after the endpoint acknowledged the delivery with a 2xx response.
func (d *Dispatcher) Dispatch(ctx context.Context, payload capture.Payload) error {
	ctx = tracing.PropagateToDelivery(ctx)
	log := tracing.LoggerFromContext(ctx, d.log)
	deliveryID := tracing.GetDeliveryID(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.cfg.BackoffMin << (attempt - 2)
			if backoff > d.cfg.BackoffMax {
				backoff = d.cfg.BackoffMax
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				observability.RecordWebhookDelivery(time.Since(start), false)
				return fmt.Errorf("webhook delivery aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		err := d.send(ctx, body, deliveryID)
		if err == nil {
			observability.RecordWebhookDelivery(time.Since(start), true)
			observability.RecordDeliveryAudit(ctx, payload.SessionID, "success", map[string]interface{}{
				"attempts":    attempt,
				"delivery_id": deliveryID,
			})
			log.Info().Int("attempt", attempt).Msg("Session data delivered to webhook")
			return nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Permanent() {
			log.Error().
				Int("status", statusErr.StatusCode).
				Int("attempt", attempt).
				Msg("Webhook rejected delivery, not retrying")
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", d.cfg.MaxAttempts).
			Msg("Webhook delivery attempt failed")
	}

	observability.RecordWebhookDelivery(time.Since(start), false)
	observability.RecordDeliveryAudit(ctx, payload.SessionID, "failure", map[string]interface{}{
		"delivery_id": deliveryID,
	})
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

func (d *Dispatcher) send(ctx context.Context, body []byte, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.AuthToken)
	}
	if deliveryID != "" {
		req.Header.Set("X-Delivery-ID", deliveryID)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}

	// The endpoint may echo the payload back in its error body, so scrub it
	// before it can reach a log line.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if len(data) > 0 {
		d.log.Debug().
			Int("status", resp.StatusCode).
			Str("response", d.redactor.Redact(string(data))).
			Msg("Webhook error response")
	}

	return &StatusError{StatusCode: resp.StatusCode}
}
