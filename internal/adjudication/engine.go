// Package adjudication orchestrates claim adjudication: eligibility, rule
// evaluation, cost sharing and the accumulator commit for every line,
// ending each line in exactly one terminal outcome.
package adjudication

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/benefit"
	"github.com/sells-group/benefit-engine/internal/costshare"
	"github.com/sells-group/benefit-engine/internal/eligibility"
	"github.com/sells-group/benefit-engine/internal/events"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// ResultStore persists terminal line results.
type ResultStore interface {
	GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error)
	SaveResult(ctx context.Context, r model.AdjudicationResult) error
}

// Store is everything the engine reads and writes.
type Store interface {
	eligibility.CoverageSource
	benefit.RuleSource
	accumulator.Store
	ResultStore
}

// Config bounds the engine's waits and parallelism.
type Config struct {
	// CommitRetry bounds the re-snapshot loop after a lost
	// compare-and-set.
	CommitRetry resilience.RetryConfig
	// LockTimeout bounds the wait for an accumulator key.
	LockTimeout time.Duration
	// Parallelism caps concurrent line preparation and key groups within
	// one claim.
	Parallelism int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		CommitRetry: resilience.DefaultRetryConfig(),
		LockTimeout: 5 * time.Second,
		Parallelism: 8,
	}
}

// Engine adjudicates claims. It is safe for concurrent use; lines of
// different claims that share an accumulator key are serialized.
type Engine struct {
	resolver  *eligibility.Resolver
	evaluator *benefit.Evaluator
	tracker   *accumulator.Tracker
	results   ResultStore
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
}

// New creates an Engine over st. A nil publisher discards events.
func New(st Store, publisher events.Publisher, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.CommitRetry.MaxAttempts <= 0 {
		cfg.CommitRetry = def.CommitRetry
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		resolver:  eligibility.NewResolver(st),
		evaluator: benefit.NewEvaluator(st),
		tracker:   accumulator.NewTracker(st, cfg.CommitRetry),
		results:   st,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Tracker exposes the accumulator tracker for queries.
func (e *Engine) Tracker() *accumulator.Tracker { return e.tracker }

// Adjudicate processes every line of claim and returns one result per line
// in processing order: ascending service date, then sequence. It is
// idempotent: a line that already has a final result is not recalculated
// and its accumulator is not charged again.
//
// The returned error is non-nil only for a malformed claim envelope.
func (e *Engine) Adjudicate(ctx context.Context, claim model.Claim) ([]model.AdjudicationResult, error) {
	if err := claim.Validate(); err != nil {
		return nil, err
	}
	lines := orderLines(claim)
	log := zap.L().With(zap.String("claim_id", claim.ID), zap.String("member_id", claim.MemberID))

	// Eligibility and rule evaluation are pure reads and run in parallel.
	states := make([]*lineState, len(lines))
	e.fanOut(len(lines), func(i int) {
		states[i] = e.prepare(ctx, claim.MemberID, lines[i])
	})

	// Lines sharing a key run in order inside one goroutine; distinct keys
	// run in parallel.
	groups := groupByKey(states)
	e.fanOut(len(groups), func(i int) {
		for _, st := range groups[i] {
			e.commitLine(ctx, st)
		}
	})

	out := make([]model.AdjudicationResult, 0, len(states))
	for _, st := range states {
		if st.persist {
			e.save(ctx, st)
		}
		if st.fresh && st.result.ReasonCode != model.ReasonClaimWithdrawn {
			if err := e.publisher.Publish(ctx, events.FromResult(*st.result)); err != nil {
				log.Warn("adjudication: publish event failed",
					zap.String("claim_line_id", st.line.ID), zap.Error(err))
			}
		}
		out = append(out, *st.result)
	}

	sum := model.Summarize(claim.ID, claim.MemberID, out)
	log.Info("claim adjudicated",
		zap.String("outcome", string(sum.Outcome)),
		zap.Int("lines", len(out)),
		zap.Int64("total_approved", int64(sum.TotalApproved)),
		zap.Int64("total_member_responsibility", int64(sum.TotalMemberResponsibility)),
	)
	return out, nil
}

// AdjudicateClaim is Adjudicate plus the claim-level summary.
func (e *Engine) AdjudicateClaim(ctx context.Context, claim model.Claim) (model.ClaimResult, error) {
	lines, err := e.Adjudicate(ctx, claim)
	if err != nil {
		return model.ClaimResult{}, err
	}
	return model.Summarize(claim.ID, claim.MemberID, lines), nil
}

// prepare runs the read-only states: stored result check, eligibility,
// rule evaluation, gates and key derivation.
func (e *Engine) prepare(ctx context.Context, memberID string, line model.ClaimLine) *lineState {
	st := newLineState(memberID, line)
	if ctx.Err() != nil {
		e.withdraw(st)
		return st
	}

	stored, err := e.results.GetResult(ctx, line.ID)
	if err != nil {
		e.abort(ctx, st, eris.Wrapf(err, "adjudication: load stored result for %s", line.ID))
		return st
	}
	if servable(stored, line) {
		st.replay(*stored)
		return st
	}

	cov, err := e.resolver.Resolve(ctx, memberID, line.ServiceDate, line.Category)
	if err != nil {
		st.enter(StateIneligible)
		e.abort(ctx, st, err)
		return st
	}
	st.enter(StateEligible)
	st.coverage = cov

	res, err := e.evaluator.Evaluate(ctx, cov.PlanID, line.BenefitCode, line)
	if err != nil {
		st.enter(StateRuleFault)
		e.abort(ctx, st, err)
		return st
	}
	st.resolved = res

	decision, err := res.Gate(line, cov)
	if err != nil {
		st.enter(StateRuleFault)
		e.abort(ctx, st, err)
		return st
	}

	switch decision {
	case benefit.DecisionNotCovered:
		st.enter(StateNotCovered)
		r := st.base()
		r.Outcome = model.OutcomeRejected
		r.ReasonCode = model.ReasonNotCovered
		r.MemberResponsibility = line.ChargedAmount
		r.MemberShare.LimitExcess = line.ChargedAmount
		r.Detail = "benefit " + line.BenefitCode + " is excluded under plan " + cov.PlanID
		r.AdjudicatedAt = e.now().UTC()
		st.finish(r, true)
		return st
	case benefit.DecisionRequiresAuth:
		st.enter(StateRequiresAuth)
		r := st.base()
		r.Outcome = model.OutcomePendingAuthorization
		r.ReasonCode = model.ReasonAuthorizationPending
		r.Detail = "benefit " + line.BenefitCode + " requires prior authorization"
		r.AdjudicatedAt = e.now().UTC()
		st.finish(r, true)
		return st
	}
	st.enter(StateCovered)

	key, err := accumulator.KeyFor(memberID, res.Rule, line)
	if err != nil {
		e.abort(ctx, st, err)
		return st
	}
	st.key = key
	st.needsCommit = true
	return st
}

// servable reports whether a stored result answers a resubmission. A line
// held for authorization is re-evaluated once it carries a reference.
func servable(stored *model.AdjudicationResult, line model.ClaimLine) bool {
	if stored == nil || !stored.Final() {
		return false
	}
	if stored.Outcome == model.OutcomePendingAuthorization && line.AuthorizationRef != "" {
		return false
	}
	return true
}

var errWithdrawn = eris.New("adjudication: claim withdrawn before commit")

// commitLine runs snapshot, calculate and commit under the key lock.
func (e *Engine) commitLine(ctx context.Context, st *lineState) {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	release, err := e.tracker.Lock(lockCtx, st.key)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			e.withdraw(st)
			return
		}
		e.fail(st, model.WrapFault(err, model.ReasonLockTimeout,
			"waited %s for accumulator %s", e.cfg.LockTimeout, st.key))
		return
	}
	defer release()

	// A concurrent submission of the same line may have finished while this
	// one waited for the lock.
	if stored, err := e.results.GetResult(ctx, st.line.ID); err == nil && servable(stored, st.line) {
		st.replay(*stored)
		return
	}

	retry := e.cfg.CommitRetry
	retry.ShouldRetry = resilience.RetryOn(model.ErrConflict)
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Debug("adjudication: commit conflict, re-snapshotting",
			zap.String("claim_line_id", st.line.ID),
			zap.String("accumulator_key", st.key.String()),
			zap.Int("attempt", attempt),
		)
	}

	// recovered marks a ledger entry committed without its result; the
	// result is saved after the fact.
	var replayed, recovered bool
	result, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (model.AdjudicationResult, error) {
		snap, err := e.tracker.Snapshot(ctx, st.key)
		if err != nil {
			return model.AdjudicationResult{}, err
		}
		bd, err := costshare.Calculate(costshare.Input{
			Charged:  st.line.ChargedAmount,
			Rule:     st.resolved.Rule,
			Snapshot: snap,
			Units:    st.line.BilledUnits(),
		})
		if err != nil {
			return model.AdjudicationResult{}, err
		}
		r := e.resultFrom(st, bd)
		r.Trail = st.projected(r.Outcome, StateCalculated, StateCommitted)
		if ctx.Err() != nil {
			return model.AdjudicationResult{}, errWithdrawn
		}

		cr, err := e.tracker.Commit(ctx, accumulator.CommitRequest{
			Key:             st.key,
			Delta:           bd.Delta,
			ClaimLineID:     st.line.ID,
			ClaimID:         st.line.ClaimID,
			ExpectedVersion: snap.Version,
			Result:          &r,
		})
		if err != nil {
			return model.AdjudicationResult{}, err
		}
		switch cr.Status {
		case accumulator.Committed:
			return r, nil
		case accumulator.AlreadyCommitted:
			prior, err := e.committedResult(ctx, st, cr.Entry)
			if err != nil {
				return model.AdjudicationResult{}, err
			}
			if prior != nil {
				replayed = true
				return *prior, nil
			}
			if cr.Entry.Delta == bd.Delta {
				recovered = true
				return r, nil
			}
			return model.AdjudicationResult{}, model.NewFault(model.ReasonLedgerMismatch,
				"line %s committed %+v on %s but no result was recorded", st.line.ID, cr.Entry.Delta, st.key)
		default:
			return model.AdjudicationResult{}, model.NewFault(model.ReasonConflict,
				"accumulator %s moved past version %d", st.key, snap.Version)
		}
	})

	switch {
	case err == nil && replayed:
		st.replay(result)
	case err == nil:
		st.enter(StateCalculated)
		st.enter(StateCommitted)
		st.finish(result, recovered)
	case ctx.Err() != nil || errors.Is(err, errWithdrawn):
		e.withdraw(st)
	case errors.Is(err, model.ErrConflict):
		e.fail(st, model.WrapFault(err, model.ReasonConcurrentUpdateTimeout,
			"gave up on accumulator %s after %d attempts", st.key, retry.MaxAttempts))
	default:
		e.fail(st, err)
	}
}

// committedResult finds the result recorded with an earlier commit of the
// line, which another engine instance may have made after this one read
// the result store. The result saved with the ledger entry is preferred.
// A recorded result on a different accumulator key is a ledger mismatch.
func (e *Engine) committedResult(ctx context.Context, st *lineState, entry *accumulator.Entry) (*model.AdjudicationResult, error) {
	prior, err := e.results.GetResult(ctx, st.line.ID)
	if err != nil {
		return nil, err
	}
	if prior == nil && entry != nil && entry.Result != nil {
		prior = entry.Result
	}
	if prior == nil {
		return nil, nil
	}
	if prior.AccumulatorKey != st.key.String() {
		return nil, model.NewFault(model.ReasonLedgerMismatch,
			"line %s was recorded against %s, not %s", st.line.ID, prior.AccumulatorKey, st.key)
	}
	return prior, nil
}

// resultFrom maps a breakdown onto a line result.
func (e *Engine) resultFrom(st *lineState, bd costshare.Breakdown) model.AdjudicationResult {
	r := st.base()
	r.Outcome, r.ReasonCode = bd.Outcome()
	r.ApprovedAmount = bd.Approved
	r.MemberResponsibility = bd.Member
	r.MemberShare = bd.Share
	r.AccumulatorKey = st.key.String()
	r.AccumulatorDelta = bd.Delta
	if st.resolved.Delegated() {
		r.Detail = "covered under " + st.resolved.Via
	}
	r.AdjudicatedAt = e.now().UTC()
	return r
}

// fail ends the line on err. Input and integrity faults reject the line
// with the fault's code; contention and infrastructure errors send it to
// manual review.
func (e *Engine) fail(st *lineState, err error) {
	r := st.base()
	r.AdjudicatedAt = e.now().UTC()
	r.Detail = err.Error()

	f, ok := model.AsFault(err)
	switch {
	case !ok:
		zap.L().Error("adjudication: infrastructure error",
			zap.String("claim_line_id", st.line.ID), zap.Error(err))
		r.Outcome = model.OutcomeManualReview
		r.ReasonCode = model.ReasonInternalError
	case f.Class == model.FaultContention:
		zap.L().Warn("adjudication: line sent to manual review",
			zap.String("claim_line_id", st.line.ID),
			zap.String("reason_code", string(f.Code)),
			zap.String("accumulator_key", st.key.String()),
		)
		r.Outcome = model.OutcomeManualReview
		r.ReasonCode = f.Code
	case f.Class == model.FaultIntegrity:
		zap.L().Error("adjudication: integrity fault",
			zap.String("claim_line_id", st.line.ID),
			zap.String("reason_code", string(f.Code)),
			zap.Error(err),
		)
		r.Outcome = model.OutcomeRejected
		r.ReasonCode = f.Code
		r.MemberResponsibility = st.line.ChargedAmount
	default:
		r.Outcome = model.OutcomeRejected
		r.ReasonCode = f.Code
		r.Detail = f.Msg
		r.MemberResponsibility = st.line.ChargedAmount
	}
	st.finish(r, true)
}

// abort is fail for errors that may stem from the caller giving up.
func (e *Engine) abort(ctx context.Context, st *lineState, err error) {
	if ctx.Err() != nil {
		e.withdraw(st)
		return
	}
	e.fail(st, err)
}

// withdraw ends a line whose claim was cancelled before commit. Nothing is
// persisted, so a resubmission adjudicates it afresh.
func (e *Engine) withdraw(st *lineState) {
	r := st.base()
	r.Outcome = model.OutcomeRejected
	r.ReasonCode = model.ReasonClaimWithdrawn
	r.AdjudicatedAt = e.now().UTC()
	st.finish(r, false)
}

func (e *Engine) save(ctx context.Context, st *lineState) {
	if err := e.results.SaveResult(context.WithoutCancel(ctx), *st.result); err != nil {
		zap.L().Error("adjudication: save result failed",
			zap.String("claim_line_id", st.line.ID), zap.Error(err))
	}
}

// fanOut runs fn for every index in [0, n) with at most cfg.Parallelism
// calls in flight, and returns when all have finished. fn records its
// outcome on the line state and never fails.
func (e *Engine) fanOut(n int, fn func(i int)) {
	slots := make(chan struct{}, max(e.cfg.Parallelism, 1))
	var wg sync.WaitGroup
	for i := range n {
		slots <- struct{}{}
		wg.Go(func() {
			defer func() { <-slots }()
			fn(i)
		})
	}
	wg.Wait()
}

// orderLines returns the lines sorted by service date, then sequence, then
// submission position. Missing claim ids are filled in.
func orderLines(claim model.Claim) []model.ClaimLine {
	lines := make([]model.ClaimLine, len(claim.Lines))
	copy(lines, claim.Lines)
	for i := range lines {
		if lines[i].ClaimID == "" {
			lines[i].ClaimID = claim.ID
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if !a.ServiceDate.Equal(b.ServiceDate) {
			return a.ServiceDate.Before(b.ServiceDate)
		}
		return a.Sequence < b.Sequence
	})
	return lines
}

// groupByKey partitions the lines still needing a commit by accumulator
// key, preserving processing order within each group.
func groupByKey(states []*lineState) [][]*lineState {
	index := make(map[model.AccumulatorKey]int)
	var groups [][]*lineState
	for _, st := range states {
		if st.done() || !st.needsCommit {
			continue
		}
		i, ok := index[st.key]
		if !ok {
			i = len(groups)
			index[st.key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], st)
	}
	return groups
}
