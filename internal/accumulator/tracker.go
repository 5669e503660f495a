package accumulator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// EntryKind distinguishes consumption from compensating reversal entries.
type EntryKind string

const (
	EntryConsumption EntryKind = "consumption"
	EntryReversal    EntryKind = "reversal"
)

// Entry is one row of the commit ledger. At most one entry of each kind
// exists per claim line.
type Entry struct {
	ID          string                    `json:"id"`
	ClaimLineID string                    `json:"claim_line_id"`
	ClaimID     string                    `json:"claim_id"`
	Kind        EntryKind                 `json:"kind"`
	Key         model.AccumulatorKey      `json:"key"`
	Delta       model.UsageDelta          `json:"delta"`
	Reason      string                    `json:"reason,omitempty"`
	Result      *model.AdjudicationResult `json:"result,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// CommitStatus is the outcome of applying a ledger entry.
type CommitStatus string

const (
	// Committed means the delta was applied and the entry recorded.
	Committed CommitStatus = "committed"
	// AlreadyCommitted means an entry for the line already exists; nothing
	// was applied.
	AlreadyCommitted CommitStatus = "already_committed"
	// Conflict means the record version moved since the snapshot.
	Conflict CommitStatus = "conflict"
)

// Store persists accumulator records and the commit ledger.
//
// ApplyEntry must be atomic: check the ledger for (claim line, kind), apply
// entry.Delta to the record only if its version still equals
// expectedVersion (zero for a record that does not exist yet), bump the
// version, insert the entry and, when entry.Result is set, persist the
// result. On AlreadyCommitted the existing entry is returned.
type Store interface {
	GetAccumulator(ctx context.Context, key model.AccumulatorKey) (model.AccumulatorRecord, error)
	ApplyEntry(ctx context.Context, entry Entry, expectedVersion int64) (CommitStatus, *Entry, error)
	GetEntry(ctx context.Context, claimLineID string, kind EntryKind) (*Entry, error)
}

// ErrNothingToReverse is returned when a reversal names a line with no
// committed consumption.
var ErrNothingToReverse = eris.New("accumulator: no committed consumption for claim line")

// CommitRequest is the commit half of the snapshot/commit protocol.
type CommitRequest struct {
	Key             model.AccumulatorKey
	Delta           model.UsageDelta
	ClaimLineID     string
	ClaimID         string
	ExpectedVersion int64
	Result          *model.AdjudicationResult
}

// CommitResult reports what Commit did.
type CommitResult struct {
	Status CommitStatus
	Entry  *Entry
}

// Tracker is the only way to read or change accumulator state.
type Tracker struct {
	store Store
	locks *KeyedLock
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewTracker creates a Tracker. retry bounds the re-snapshot loop used by
// Reverse when it loses a race.
func NewTracker(store Store, retry resilience.RetryConfig) *Tracker {
	return &Tracker{store: store, locks: NewKeyedLock(), retry: retry, now: time.Now}
}

// Lock serializes snapshot→calculate→commit for one key. The wait is
// bounded by ctx.
func (t *Tracker) Lock(ctx context.Context, key model.AccumulatorKey) (func(), error) {
	return t.locks.Acquire(ctx, key.String())
}

// Snapshot reads current usage. A key never written has zero usage and
// version zero.
func (t *Tracker) Snapshot(ctx context.Context, key model.AccumulatorKey) (model.AccumulatorRecord, error) {
	rec, err := t.store.GetAccumulator(ctx, key)
	if err != nil {
		return model.AccumulatorRecord{}, eris.Wrapf(err, "accumulator: snapshot %s", key)
	}
	rec.Key = key
	return rec, nil
}

// Get is the query interface for downstream display.
func (t *Tracker) Get(ctx context.Context, memberID, benefitCode string, period model.PeriodKey) (model.AccumulatorRecord, error) {
	return t.Snapshot(ctx, model.AccumulatorKey{MemberID: memberID, BenefitCode: benefitCode, Period: period})
}

// Commit applies req.Delta once per claim line. A replay returns the
// recorded entry; its delta may differ from req.Delta when the replay was
// calculated against a counter that already includes the line, and the
// caller reconciles that against the stored result. A replay against a
// different key is a ledger mismatch.
func (t *Tracker) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	entry := Entry{
		ID:          uuid.New().String(),
		ClaimLineID: req.ClaimLineID,
		ClaimID:     req.ClaimID,
		Kind:        EntryConsumption,
		Key:         req.Key,
		Delta:       req.Delta,
		Result:      req.Result,
		CreatedAt:   t.now().UTC(),
	}

	status, existing, err := t.store.ApplyEntry(ctx, entry, req.ExpectedVersion)
	if err != nil {
		return CommitResult{}, eris.Wrapf(err, "accumulator: commit line %s", req.ClaimLineID)
	}

	switch status {
	case Committed:
		return CommitResult{Status: Committed, Entry: &entry}, nil
	case AlreadyCommitted:
		if existing == nil || existing.Key != req.Key {
			zap.L().Error("accumulator: ledger mismatch on replay",
				zap.String("claim_line_id", req.ClaimLineID),
				zap.String("accumulator_key", req.Key.String()),
			)
			return CommitResult{Status: AlreadyCommitted, Entry: existing}, model.NewFault(model.ReasonLedgerMismatch,
				"line %s already committed against a different key", req.ClaimLineID)
		}
		return CommitResult{Status: AlreadyCommitted, Entry: existing}, nil
	default:
		return CommitResult{Status: Conflict}, nil
	}
}

// CommittedEntry returns the consumption entry for a line, or nil.
func (t *Tracker) CommittedEntry(ctx context.Context, claimLineID string) (*Entry, error) {
	e, err := t.store.GetEntry(ctx, claimLineID, EntryConsumption)
	return e, eris.Wrapf(err, "accumulator: get entry for %s", claimLineID)
}

// ReversalOf returns the reversal entry for a line, or nil.
func (t *Tracker) ReversalOf(ctx context.Context, claimLineID string) (*Entry, error) {
	e, err := t.store.GetEntry(ctx, claimLineID, EntryReversal)
	return e, eris.Wrapf(err, "accumulator: get reversal for %s", claimLineID)
}

// Reverse writes the compensating entry for a committed line. It is
// idempotent: a second call returns the first reversal.
func (t *Tracker) Reverse(ctx context.Context, claimLineID, reason string) (*Entry, error) {
	consumed, err := t.store.GetEntry(ctx, claimLineID, EntryConsumption)
	if err != nil {
		return nil, eris.Wrapf(err, "accumulator: get consumption for %s", claimLineID)
	}
	if consumed == nil {
		return nil, eris.Wrapf(ErrNothingToReverse, "line %s", claimLineID)
	}
	if prior, err := t.store.GetEntry(ctx, claimLineID, EntryReversal); err != nil {
		return nil, eris.Wrapf(err, "accumulator: get reversal for %s", claimLineID)
	} else if prior != nil {
		return prior, nil
	}

	release, err := t.Lock(ctx, consumed.Key)
	if err != nil {
		return nil, model.WrapFault(err, model.ReasonLockTimeout, "reverse line %s", claimLineID)
	}
	defer release()

	cfg := t.retry
	cfg.ShouldRetry = resilience.RetryOn(model.ErrConflict)
	cfg.OnRetry = resilience.RetryLogger("accumulator", "reverse")

	rev, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Entry, error) {
		snap, err := t.Snapshot(ctx, consumed.Key)
		if err != nil {
			return nil, err
		}
		delta := consumed.Delta.Negate()
		if snap.Apply(delta).Negative() {
			zap.L().Error("accumulator: reversal would drive balance negative",
				zap.String("claim_line_id", claimLineID),
				zap.String("accumulator_key", consumed.Key.String()),
			)
			return nil, model.NewFault(model.ReasonNegativeBalance,
				"reversing line %s would make %s negative", claimLineID, consumed.Key)
		}

		entry := Entry{
			ID:          uuid.New().String(),
			ClaimLineID: claimLineID,
			ClaimID:     consumed.ClaimID,
			Kind:        EntryReversal,
			Key:         consumed.Key,
			Delta:       delta,
			Reason:      reason,
			CreatedAt:   t.now().UTC(),
		}
		status, existing, err := t.store.ApplyEntry(ctx, entry, snap.Version)
		if err != nil {
			return nil, eris.Wrapf(err, "accumulator: apply reversal for %s", claimLineID)
		}
		switch status {
		case Committed:
			return &entry, nil
		case AlreadyCommitted:
			return existing, nil
		default:
			return nil, model.NewFault(model.ReasonConflict, "reversal of %s raced on %s", claimLineID, consumed.Key)
		}
	})
	if err != nil {
		if f, ok := model.AsFault(err); ok && f.Code == model.ReasonConflict {
			return nil, model.WrapFault(err, model.ReasonConcurrentUpdateTimeout, "reverse line %s", claimLineID)
		}
		return nil, err
	}
	return rev, nil
}
