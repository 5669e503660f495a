package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/config"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertManualReviewRate AlertType = "manual_review_rate"
	AlertDLQDepth         AlertType = "dlq_depth"
	AlertIntegrityFault   AlertType = "integrity_fault"
)

// minLinesForRate keeps a handful of lines from tripping the rate alert.
const minLinesForRate = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.FromSettings(3, 500, 5000),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Ledger or balance faults mean an accumulator needs a human.
	if snap.IntegrityFaults > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertIntegrityFault,
			Severity: "critical",
			Message: fmt.Sprintf("%d line(s) rejected on accumulator integrity faults in last %dh",
				snap.IntegrityFaults, snap.LookbackHours),
			Details: map[string]any{
				"integrity_faults": snap.IntegrityFaults,
				"lines_total":      snap.LinesTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ManualReviewRateAlert > 0 && snap.LinesTotal >= minLinesForRate &&
		snap.ManualReviewRate > a.cfg.ManualReviewRateAlert {
		alerts = append(alerts, Alert{
			Type:     AlertManualReviewRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Manual review rate %.1f%% exceeds threshold %.1f%% (%d of %d lines in last %dh)",
				snap.ManualReviewRate*100, a.cfg.ManualReviewRateAlert*100,
				snap.LinesManualReview, snap.LinesTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"manual_review_rate": snap.ManualReviewRate,
				"threshold":          a.cfg.ManualReviewRateAlert,
				"manual_review":      snap.LinesManualReview,
				"lines_total":        snap.LinesTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DLQDepthAlert > 0 && snap.DLQDepth >= a.cfg.DLQDepthAlert {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "medium",
			Message: fmt.Sprintf("%d undelivered event(s) in the dead letter queue (threshold %d)",
				snap.DLQDepth, a.cfg.DLQDepthAlert),
			Details: map[string]any{
				"dlq_depth": snap.DLQDepth,
				"threshold": a.cfg.DLQDepthAlert,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.AlertWebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.AlertWebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
