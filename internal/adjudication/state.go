package adjudication

import (
	"github.com/sells-group/benefit-engine/internal/benefit"
	"github.com/sells-group/benefit-engine/internal/model"
)

// State is a step of the per-line state machine. The trail of visited
// states is recorded on every result.
type State string

const (
	StatePending         State = "pending"
	StateEligible        State = "resolved:eligible"
	StateIneligible      State = "resolved:ineligible"
	StateCovered         State = "rule_evaluated:covered"
	StateNotCovered      State = "rule_evaluated:not_covered"
	StateRequiresAuth    State = "rule_evaluated:requires_auth"
	StateRuleFault       State = "rule_evaluated:fault"
	StateCalculated      State = "calculated"
	StateCommitted       State = "committed"
	StateReplayed        State = "replayed"
	terminalStatePrefix        = "terminal:"
)

// lineState carries one line through the machine. Each line is owned by
// exactly one goroutine at a time.
type lineState struct {
	line     model.ClaimLine
	memberID string
	trail    []string

	coverage model.MemberCoverage
	resolved benefit.Resolved
	key      model.AccumulatorKey

	needsCommit bool
	result      *model.AdjudicationResult
	// fresh is set when this call produced the result, as opposed to
	// serving a stored one.
	fresh bool
	// persist is set when the result still has to be written by SaveResult;
	// committed results are written with their ledger entry.
	persist bool
}

func newLineState(memberID string, line model.ClaimLine) *lineState {
	return &lineState{line: line, memberID: memberID, trail: []string{string(StatePending)}}
}

func (s *lineState) enter(st State) {
	s.trail = append(s.trail, string(st))
}

func (s *lineState) done() bool { return s.result != nil }

// base returns a result skeleton for the line.
func (s *lineState) base() model.AdjudicationResult {
	return model.AdjudicationResult{
		ClaimLineID:   s.line.ID,
		ClaimID:       s.line.ClaimID,
		MemberID:      s.memberID,
		BenefitCode:   s.line.BenefitCode,
		ChargedAmount: s.line.ChargedAmount,
	}
}

// finish records r as the line's terminal result.
func (s *lineState) finish(r model.AdjudicationResult, persist bool) {
	s.trail = append(s.trail, terminalStatePrefix+string(r.Outcome))
	r.Trail = append([]string(nil), s.trail...)
	s.result = &r
	s.fresh = true
	s.persist = persist
}

// projected returns the trail the line will have once it passes through
// next and ends in outcome.
func (s *lineState) projected(outcome model.Outcome, next ...State) []string {
	trail := append([]string(nil), s.trail...)
	for _, st := range next {
		trail = append(trail, string(st))
	}
	return append(trail, terminalStatePrefix+string(outcome))
}

// replay serves a stored result.
func (s *lineState) replay(r model.AdjudicationResult) {
	s.enter(StateReplayed)
	s.result = &r
	s.fresh = false
	s.persist = false
}
