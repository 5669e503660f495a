package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/benefit-engine/internal/resilience"
)

// DLQStore is the dead-letter queue the webhook falls back to.
type DLQStore interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// WebhookOptions configures a WebhookPublisher.
type WebhookOptions struct {
	URL        string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Retry      resilience.RetryConfig
	Circuit    resilience.CircuitBreakerConfig
	// MaxRetries bounds replays of a dead-lettered event.
	MaxRetries int
}

// WebhookPublisher POSTs events as JSON. Deliveries are rate limited,
// retried on transient failures and guarded by a circuit breaker; events
// that still fail are dead-lettered for later replay.
type WebhookPublisher struct {
	opts    WebhookOptions
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	dlq     DLQStore
	now     func() time.Time
}

// NewWebhookPublisher creates a WebhookPublisher. dlq may be nil, in which
// case failed events are only logged.
func NewWebhookPublisher(opts WebhookOptions, dlq DLQStore) *WebhookPublisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RatePerSec)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}

	circuit := opts.Circuit
	circuit.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("events: webhook circuit state change",
			zap.String("url", opts.URL),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &WebhookPublisher{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		breaker: resilience.NewCircuitBreaker(circuit),
		dlq:     dlq,
		now:     time.Now,
	}
}

// Publish delivers ev. An event that cannot be delivered is dead-lettered
// and Publish returns nil; an error means the event was lost.
func (w *WebhookPublisher) Publish(ctx context.Context, ev Event) error {
	err := w.Deliver(ctx, ev)
	if err == nil {
		return nil
	}

	zap.L().Warn("events: webhook delivery failed",
		zap.String("event_id", ev.ID),
		zap.String("claim_line_id", ev.ClaimLineID),
		zap.Error(err),
	)
	if w.dlq == nil {
		return err
	}

	payload, mErr := json.Marshal(ev)
	if mErr != nil {
		return eris.Wrap(mErr, "events: marshal event for dlq")
	}
	now := w.now().UTC()
	entry := resilience.DLQEntry{
		ID:           ev.ID,
		Topic:        string(ev.Type),
		Payload:      payload,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		MaxRetries:   w.opts.MaxRetries,
		NextRetryAt:  now.Add(w.opts.Retry.InitialBackoff),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if dErr := w.dlq.EnqueueDLQ(ctx, entry); dErr != nil {
		return eris.Wrapf(dErr, "events: dead-letter event %s", ev.ID)
	}
	return nil
}

// Deliver sends ev without dead-lettering.
func (w *WebhookPublisher) Deliver(ctx context.Context, ev Event) error {
	if w.opts.URL == "" {
		return eris.New("events: webhook url is not configured")
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "events: rate limit wait")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}

	retry := w.opts.Retry
	retry.OnRetry = resilience.RetryLogger("events", "webhook")
	return w.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, retry, func(ctx context.Context) error {
			return w.post(ctx, payload)
		})
	})
}

func (w *WebhookPublisher) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "events: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "events: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		statusErr := eris.Errorf("events: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}
	return nil
}

// CircuitState exposes the breaker state for health reporting.
func (w *WebhookPublisher) CircuitState() resilience.CircuitState {
	return w.breaker.State()
}
