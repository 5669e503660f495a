// Package accumulator tracks benefit usage per (member, benefit code,
// period) behind a snapshot/commit protocol with a per-line ledger.
package accumulator

import (
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
)

// PeriodFor derives the accumulation period for a line under rule. A
// temporal window overrides the rule's scope with a key anchored to the
// admission or discharge date.
func PeriodFor(rule plan.Rule, line model.ClaimLine) (model.PeriodKey, error) {
	if rule.Window.Active() {
		anchor, ok := rule.Window.AnchorDate(line)
		if !ok {
			return "", model.NewFault(model.ReasonMissingAnchorDate,
				"line %s: %s window needs a %s date", line.ID, rule.Window.Kind, anchorName(rule.Window))
		}
		return model.WindowPeriod(anchor, rule.Window.Days), nil
	}

	switch rule.EffectiveScope() {
	case plan.ScopeCase:
		return model.CasePeriod(line.ClaimID), nil
	case plan.ScopeLifetime:
		return model.PeriodLifetime, nil
	default:
		return model.YearPeriod(line.ServiceDate), nil
	}
}

// KeyFor builds the accumulator key for a line. The benefit code is the
// rule's own code, so delegated benefits share their parent's counter.
func KeyFor(memberID string, rule plan.Rule, line model.ClaimLine) (model.AccumulatorKey, error) {
	period, err := PeriodFor(rule, line)
	if err != nil {
		return model.AccumulatorKey{}, err
	}
	return model.AccumulatorKey{MemberID: memberID, BenefitCode: rule.BenefitCode, Period: period}, nil
}

func anchorName(w plan.Window) string {
	if w.Anchor == plan.AnchorDischarge {
		return "discharge"
	}
	return "admission"
}
