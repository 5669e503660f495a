package events

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/resilience"
)

// ReplayStats summarises a replay pass.
type ReplayStats struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

// Replay redelivers due dead-lettered events through w. Delivered entries
// are removed; failures are rescheduled with exponential backoff.
func Replay(ctx context.Context, w *WebhookPublisher, dlq DLQStore, filter resilience.DLQFilter) (ReplayStats, error) {
	var stats ReplayStats
	entries, err := dlq.DequeueDLQ(ctx, filter)
	if err != nil {
		return stats, eris.Wrap(err, "events: dequeue dlq")
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Attempted++

		var ev Event
		if err := json.Unmarshal(entry.Payload, &ev); err != nil {
			zap.L().Error("events: discarding undecodable dlq entry",
				zap.String("dlq_id", entry.ID), zap.Error(err))
			if err := dlq.RemoveDLQ(ctx, entry.ID); err != nil {
				return stats, eris.Wrapf(err, "events: remove dlq entry %s", entry.ID)
			}
			stats.Discarded++
			continue
		}

		if err := w.Deliver(ctx, ev); err != nil {
			stats.Failed++
			next := w.now().UTC().Add(replayBackoff(entry.RetryCount, w.opts.Retry))
			if err := dlq.IncrementDLQRetry(ctx, entry.ID, next, err.Error()); err != nil {
				return stats, eris.Wrapf(err, "events: reschedule dlq entry %s", entry.ID)
			}
			continue
		}

		if err := dlq.RemoveDLQ(ctx, entry.ID); err != nil {
			return stats, eris.Wrapf(err, "events: remove dlq entry %s", entry.ID)
		}
		stats.Delivered++
	}

	zap.L().Info("events: dlq replay complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("delivered", stats.Delivered),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func replayBackoff(retryCount int, cfg resilience.RetryConfig) time.Duration {
	base := cfg.InitialBackoff
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(retryCount+1)))
	if limit := time.Hour; d > limit {
		d = limit
	}
	return d
}
