package adjudication

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/events"
	"github.com/sells-group/benefit-engine/internal/model"
)

// GetAccumulator returns current usage for a key. A key never written has
// zero usage.
func (e *Engine) GetAccumulator(ctx context.Context, memberID, benefitCode string, period model.PeriodKey) (model.AccumulatorRecord, error) {
	return e.tracker.Get(ctx, memberID, benefitCode, period)
}

// GetResult returns the stored result for a claim line, or nil.
func (e *Engine) GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error) {
	r, err := e.results.GetResult(ctx, claimLineID)
	return r, eris.Wrapf(err, "adjudication: get result %s", claimLineID)
}

// Reverse releases the usage a committed line consumed by writing a
// compensating ledger entry. Repeating a reversal returns the original
// entry and publishes nothing.
func (e *Engine) Reverse(ctx context.Context, claimLineID, reason string) (*accumulator.Entry, error) {
	prior, err := e.tracker.ReversalOf(ctx, claimLineID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	entry, err := e.tracker.Reverse(ctx, claimLineID, reason)
	if err != nil {
		return nil, err
	}

	zap.L().Info("claim line reversed",
		zap.String("claim_line_id", claimLineID),
		zap.String("accumulator_key", entry.Key.String()),
		zap.Int64("amount", int64(entry.Delta.Amount)),
		zap.String("reason", reason),
	)
	if err := e.publisher.Publish(ctx, events.FromReversal(*entry)); err != nil {
		zap.L().Warn("adjudication: publish reversal event failed",
			zap.String("claim_line_id", claimLineID), zap.Error(err))
	}
	return entry, nil
}
