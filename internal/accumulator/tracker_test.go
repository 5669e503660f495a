package accumulator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/resilience"
	"github.com/sells-group/benefit-engine/internal/store"
)

var gpKey = model.AccumulatorKey{MemberID: "M1", BenefitCode: "CONS-GP", Period: "year:2024"}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func commit(t *testing.T, tr *accumulator.Tracker, lineID string, amount model.Money, version int64) accumulator.CommitResult {
	t.Helper()
	res, err := tr.Commit(context.Background(), accumulator.CommitRequest{
		Key:             gpKey,
		Delta:           model.UsageDelta{Amount: amount},
		ClaimLineID:     lineID,
		ClaimID:         "C1",
		ExpectedVersion: version,
	})
	require.NoError(t, err)
	return res
}

func TestTracker_SnapshotOfUnknownKey(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	rec, err := tr.Snapshot(context.Background(), gpKey)
	require.NoError(t, err)
	assert.Equal(t, gpKey, rec.Key)
	assert.Equal(t, model.Money(0), rec.AmountUsed)
	assert.Equal(t, int64(0), rec.Version)
}

func TestTracker_CommitAndReplay(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())

	res := commit(t, tr, "L1", 200_000, 0)
	assert.Equal(t, accumulator.Committed, res.Status)

	rec, err := tr.Get(context.Background(), "M1", "CONS-GP", "year:2024")
	require.NoError(t, err)
	assert.Equal(t, model.Money(200_000), rec.AmountUsed)
	assert.Equal(t, int64(1), rec.Version)

	// Replay with the same delta is a no-op success even with a stale version.
	res = commit(t, tr, "L1", 200_000, 0)
	assert.Equal(t, accumulator.AlreadyCommitted, res.Status)

	rec, err = tr.Snapshot(context.Background(), gpKey)
	require.NoError(t, err)
	assert.Equal(t, model.Money(200_000), rec.AmountUsed)
}

func TestTracker_CommitConflict(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	commit(t, tr, "L1", 100, 0)

	res := commit(t, tr, "L2", 100, 0)
	assert.Equal(t, accumulator.Conflict, res.Status)

	res = commit(t, tr, "L2", 100, 1)
	assert.Equal(t, accumulator.Committed, res.Status)
}

func TestTracker_ReplayWithRecomputedDelta(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	commit(t, tr, "L1", 100, 0)

	res, err := tr.Commit(context.Background(), accumulator.CommitRequest{
		Key: gpKey, Delta: model.UsageDelta{Amount: 40}, ClaimLineID: "L1", ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, accumulator.AlreadyCommitted, res.Status)
	require.NotNil(t, res.Entry)
	assert.Equal(t, model.Money(100), res.Entry.Delta.Amount)

	rec, err := tr.Snapshot(context.Background(), gpKey)
	require.NoError(t, err)
	assert.Equal(t, model.Money(100), rec.AmountUsed)
}

func TestTracker_LedgerMismatch(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	commit(t, tr, "L1", 100, 0)

	other := gpKey
	other.Period = "year:2025"
	_, err := tr.Commit(context.Background(), accumulator.CommitRequest{
		Key: other, Delta: model.UsageDelta{Amount: 100}, ClaimLineID: "L1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLedgerMismatch)
}

func TestTracker_Reverse(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	ctx := context.Background()
	commit(t, tr, "L1", 300, 0)
	commit(t, tr, "L2", 200, 1)

	rev, err := tr.Reverse(ctx, "L1", "claim voided")
	require.NoError(t, err)
	assert.Equal(t, accumulator.EntryReversal, rev.Kind)
	assert.Equal(t, model.Money(-300), rev.Delta.Amount)
	assert.Equal(t, "claim voided", rev.Reason)

	again, err := tr.Reverse(ctx, "L1", "claim voided")
	require.NoError(t, err)
	assert.Equal(t, rev.ID, again.ID)

	rec, err := tr.Snapshot(ctx, gpKey)
	require.NoError(t, err)
	assert.Equal(t, model.Money(200), rec.AmountUsed)
	assert.Equal(t, int64(3), rec.Version)
}

func TestTracker_ReverseUnknownLine(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	_, err := tr.Reverse(context.Background(), "nope", "")
	assert.ErrorIs(t, err, accumulator.ErrNothingToReverse)
}

func TestTracker_ConcurrentCommitsUnderLock(t *testing.T) {
	tr := accumulator.NewTracker(store.NewMemory(), fastRetry())
	ctx := context.Background()
	const lines = 25

	var wg sync.WaitGroup
	for i := 0; i < lines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := tr.Lock(ctx, gpKey)
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			snap, err := tr.Snapshot(ctx, gpKey)
			if !assert.NoError(t, err) {
				return
			}
			res, err := tr.Commit(ctx, accumulator.CommitRequest{
				Key:             gpKey,
				Delta:           model.UsageDelta{Amount: 10, Visits: 1},
				ClaimLineID:     string(rune('A' + i)),
				ExpectedVersion: snap.Version,
			})
			assert.NoError(t, err)
			assert.Equal(t, accumulator.Committed, res.Status)
		}(i)
	}
	wg.Wait()

	rec, err := tr.Snapshot(ctx, gpKey)
	require.NoError(t, err)
	assert.Equal(t, model.Money(10*lines), rec.AmountUsed)
	assert.Equal(t, lines, rec.VisitsUsed)
	assert.Equal(t, int64(lines), rec.Version)
}
