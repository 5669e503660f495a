package store

import (
	"context"
	"time"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/benefit"
	"github.com/sells-group/benefit-engine/internal/eligibility"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// ResultFilter selects stored adjudication results.
type ResultFilter struct {
	ClaimID  string        `json:"claim_id,omitempty"`
	MemberID string        `json:"member_id,omitempty"`
	Outcome  model.Outcome `json:"outcome,omitempty"`
	Limit    int           `json:"limit,omitempty"`
}

// Store is the persistence interface for the engine: read-only reference
// data (coverages, plan rules), the accumulator ledger, line results and
// the event dead-letter queue.
type Store interface {
	eligibility.CoverageSource
	benefit.RuleSource
	accumulator.Store

	// Reference data loads
	PutCoverages(ctx context.Context, covs []model.MemberCoverage) (int64, error)
	PutRules(ctx context.Context, rules []plan.Rule) (int64, error)

	// Results. SaveResult inserts, or replaces a stored result that is
	// still open (pending authorization or manual review).
	GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error)
	SaveResult(ctx context.Context, r model.AdjudicationResult) error
	ListResults(ctx context.Context, filter ResultFilter) ([]model.AdjudicationResult, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// replaceable reports whether a stored result may be overwritten.
func replaceable(o model.Outcome) bool {
	return o == model.OutcomePendingAuthorization || o == model.OutcomeManualReview
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
