package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of adjudication health.
type MetricsSnapshot struct {
	// Line outcomes within the lookback window.
	LinesTotal         int     `json:"lines_total"`
	LinesApproved      int     `json:"lines_approved"`
	LinesPartial       int     `json:"lines_partially_approved"`
	LinesRejected      int     `json:"lines_rejected"`
	LinesPendingAuth   int     `json:"lines_pending_authorization"`
	LinesManualReview  int     `json:"lines_manual_review"`
	ManualReviewRate   float64 `json:"manual_review_rate"`
	IntegrityFaults    int     `json:"integrity_faults"`
	TotalChargedMinor  int64   `json:"total_charged"`
	TotalApprovedMinor int64   `json:"total_approved"`

	// ByReason counts lines per reason code.
	ByReason map[model.ReasonCode]int `json:"by_reason"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the store surface the collector reads.
type Source interface {
	ListResults(ctx context.Context, filter store.ResultFilter) ([]model.AdjudicationResult, error)
	CountDLQ(ctx context.Context) (int, error)
}

// resultScanLimit bounds how many recent results one collection reads.
const resultScanLimit = 10000

// Collector gathers metrics from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot of adjudication metrics over the given
// lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ByReason:      map[model.ReasonCode]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Results come back newest first.
	results, err := c.src.ListResults(ctx, store.ResultFilter{Limit: resultScanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list results")
	}

	for _, r := range results {
		if r.AdjudicatedAt.Before(cutoff) {
			continue
		}
		snap.LinesTotal++
		snap.ByReason[r.ReasonCode]++
		snap.TotalChargedMinor += int64(r.ChargedAmount)
		snap.TotalApprovedMinor += int64(r.ApprovedAmount)

		switch r.Outcome {
		case model.OutcomeApproved:
			snap.LinesApproved++
		case model.OutcomePartiallyApproved:
			snap.LinesPartial++
		case model.OutcomeRejected:
			snap.LinesRejected++
		case model.OutcomePendingAuthorization:
			snap.LinesPendingAuth++
		case model.OutcomeManualReview:
			snap.LinesManualReview++
		}

		switch r.ReasonCode {
		case model.ReasonLedgerMismatch, model.ReasonNegativeRemaining, model.ReasonNegativeBalance:
			snap.IntegrityFaults++
		}
	}

	if snap.LinesTotal > 0 {
		snap.ManualReviewRate = float64(snap.LinesManualReview) / float64(snap.LinesTotal)
	}

	dlqCount, err := c.src.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
