package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/config"
)

// Checker runs the alert cycle on an interval. An alert type that fired
// is not sent again until the lookback window has passed, so a standing
// condition pages once per window rather than once per tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	now      func() time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		lastSent:  make(map[AlertType]time.Time),
		now:       time.Now,
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
	)

	if ctx.Err() != nil {
		return
	}
	c.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collect, evaluate and send cycle. It returns the alerts
// that were due, excluding those suppressed as repeats.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	due := c.unsuppressed(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		log.Debug("monitoring: no alerts due",
			zap.Int("lines_total", snap.LinesTotal),
			zap.Float64("manual_review_rate", snap.ManualReviewRate),
			zap.Int("dlq_depth", snap.DLQDepth),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, due)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_sent", sent),
	)
	return due
}

func (c *Checker) suppressWindow() time.Duration {
	if c.cfg.LookbackHours > 0 {
		return time.Duration(c.cfg.LookbackHours) * time.Hour
	}
	return time.Hour
}

// unsuppressed drops alerts whose type fired within the suppression
// window and records the rest as sent.
func (c *Checker) unsuppressed(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	window := c.suppressWindow()
	var due []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < window {
			continue
		}
		c.lastSent[a.Type] = now
		due = append(due, a)
	}
	return due
}
