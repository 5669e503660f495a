package benefit

import (
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
)

// Decision is the branch taken after rule evaluation.
type Decision string

const (
	DecisionCovered      Decision = "covered"
	DecisionNotCovered   Decision = "not_covered"
	DecisionRequiresAuth Decision = "requires_auth"
)

// Gate applies the non-monetary checks of the resolved rule to a line:
// waiting period, exclusion, temporal window and authorization. A failed
// check that rejects the line is returned as a Fault.
func (r Resolved) Gate(line model.ClaimLine, cov model.MemberCoverage) (Decision, error) {
	rule := r.Rule

	if rule.WaitingPeriodDays > 0 && !cov.CoverageStart.IsZero() {
		eligibleFrom := cov.CoverageStart.AddDays(rule.WaitingPeriodDays)
		if line.ServiceDate.Before(eligibleFrom) {
			return "", model.NewFault(model.ReasonWaitingPeriod,
				"benefit %s is in its %d day waiting period until %s",
				r.RequestedCode, rule.WaitingPeriodDays, eligibleFrom)
		}
	}

	if rule.Limit.Kind == plan.LimitNotCovered {
		return DecisionNotCovered, nil
	}

	if rule.Window.Active() {
		anchor, ok := rule.Window.AnchorDate(line)
		if !ok {
			return "", model.NewFault(model.ReasonMissingAnchorDate,
				"benefit %s has a %s window but line %s has no anchor date",
				r.RequestedCode, rule.Window.Kind, line.ID)
		}
		if !rule.Window.Contains(anchor, line.ServiceDate) {
			return "", model.NewFault(model.ReasonOutsideWindow,
				"service on %s is outside the %d day %s window around %s",
				line.ServiceDate, rule.Window.Days, rule.Window.Kind, anchor)
		}
	}

	if rule.RequiresAuthorization && line.AuthorizationRef == "" {
		return DecisionRequiresAuth, nil
	}
	return DecisionCovered, nil
}
