package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/store"
)

// fakeSource implements Source for testing.
type fakeSource struct {
	results  []model.AdjudicationResult
	dlqCount int
	listErr  error
	dlqErr   error
}

func (f *fakeSource) ListResults(_ context.Context, _ store.ResultFilter) ([]model.AdjudicationResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.results, nil
}

func (f *fakeSource) CountDLQ(context.Context) (int, error) {
	return f.dlqCount, f.dlqErr
}

func resultAt(at time.Time, outcome model.Outcome, reason model.ReasonCode, charged, approved model.Money) model.AdjudicationResult {
	return model.AdjudicationResult{
		Outcome:        outcome,
		ReasonCode:     reason,
		ChargedAmount:  charged,
		ApprovedAmount: approved,
		AdjudicatedAt:  at,
	}
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)

	src := &fakeSource{
		results: []model.AdjudicationResult{
			resultAt(recent, model.OutcomeApproved, model.ReasonCovered, 50000, 50000),
			resultAt(recent, model.OutcomePartiallyApproved, model.ReasonLimitExceeded, 450000, 230000),
			resultAt(recent, model.OutcomeRejected, model.ReasonNotCovered, 10000, 0),
			resultAt(recent, model.OutcomeRejected, model.ReasonLedgerMismatch, 10000, 0),
			resultAt(recent, model.OutcomePendingAuthorization, model.ReasonAuthorizationPending, 20000, 0),
			resultAt(recent, model.OutcomeManualReview, model.ReasonLockTimeout, 30000, 0),
			resultAt(old, model.OutcomeManualReview, model.ReasonConcurrentUpdateTimeout, 30000, 0),
		},
		dlqCount: 7,
	}

	c := NewCollector(src)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 6, snap.LinesTotal)
	assert.Equal(t, 1, snap.LinesApproved)
	assert.Equal(t, 1, snap.LinesPartial)
	assert.Equal(t, 2, snap.LinesRejected)
	assert.Equal(t, 1, snap.LinesPendingAuth)
	assert.Equal(t, 1, snap.LinesManualReview)
	assert.InDelta(t, 1.0/6.0, snap.ManualReviewRate, 0.0001)
	assert.Equal(t, 1, snap.IntegrityFaults)
	assert.Equal(t, int64(570000), snap.TotalChargedMinor)
	assert.Equal(t, int64(280000), snap.TotalApprovedMinor)
	assert.Equal(t, 2, snap.ByReason[model.ReasonCovered]+snap.ByReason[model.ReasonNotCovered])
	assert.Zero(t, snap.ByReason[model.ReasonConcurrentUpdateTimeout])
	assert.Equal(t, 7, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeSource{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.LinesTotal)
	assert.Zero(t, snap.ManualReviewRate)
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(&fakeSource{listErr: eris.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list results")
}

func TestCollector_DLQError(t *testing.T) {
	_, err := NewCollector(&fakeSource{dlqErr: eris.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count dlq")
}

func TestCollector_AgainstMemoryStore(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.SaveResult(ctx, model.AdjudicationResult{
		ClaimLineID: "L1", ClaimID: "C1", MemberID: "M1",
		Outcome: model.OutcomeManualReview, ReasonCode: model.ReasonLockTimeout,
		AdjudicatedAt: time.Now().UTC(),
	}))

	snap, err := NewCollector(st).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.LinesManualReview)
	assert.InDelta(t, 1.0, snap.ManualReviewRate, 0.0001)
}
