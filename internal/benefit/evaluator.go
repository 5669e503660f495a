// Package benefit selects the plan rule governing a claim line and decides
// whether the line is covered, excluded or held for authorization.
package benefit

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
)

// RuleSource returns every configured rule for (plan, benefit code),
// regardless of effective dates.
type RuleSource interface {
	BenefitRules(ctx context.Context, planID, benefitCode string) ([]plan.Rule, error)
}

// Resolved is the effective rule for a line after delegation.
type Resolved struct {
	// Rule is the rule that drives calculation. For a delegated benefit it
	// is the parent's rule with the child's gates merged in, and its
	// BenefitCode is the parent code.
	Rule plan.Rule
	// RequestedCode is the benefit code billed on the line.
	RequestedCode string
	// Via is the parent benefit code when the requested code delegated.
	Via string
}

// Delegated reports whether the rule came from a parent benefit.
func (r Resolved) Delegated() bool { return r.Via != "" }

// Evaluator resolves rules. It holds no state beyond its source.
type Evaluator struct {
	src RuleSource
}

// NewEvaluator creates an Evaluator over src.
func NewEvaluator(src RuleSource) *Evaluator {
	return &Evaluator{src: src}
}

// Evaluate selects the rule active on the line's service date. A
// covered_in_other rule is followed exactly one level.
func (e *Evaluator) Evaluate(ctx context.Context, planID, benefitCode string, line model.ClaimLine) (Resolved, error) {
	rule, err := e.active(ctx, planID, benefitCode, line.ServiceDate)
	if err != nil {
		return Resolved{}, err
	}
	res := Resolved{Rule: rule, RequestedCode: benefitCode}
	if rule.Limit.Kind != plan.LimitCoveredInOther {
		return res, nil
	}

	parentCode := rule.Limit.ParentCode
	parent, err := e.active(ctx, planID, parentCode, line.ServiceDate)
	if err != nil {
		if errors.Is(err, model.ErrRuleNotFound) {
			return Resolved{}, model.WrapFault(err, model.ReasonRuleNotFound,
				"plan %s benefit %s delegates to %s which has no rule", planID, benefitCode, parentCode)
		}
		return Resolved{}, err
	}
	if parent.Limit.Kind == plan.LimitCoveredInOther {
		return Resolved{}, model.NewFault(model.ReasonCyclicBenefitMapping,
			"plan %s benefit %s delegates to %s which delegates to %s",
			planID, benefitCode, parentCode, parent.Limit.ParentCode)
	}

	res.Rule = merge(rule, parent)
	res.Via = parentCode
	return res, nil
}

// active returns the single rule whose effective interval contains d.
func (e *Evaluator) active(ctx context.Context, planID, code string, d model.Date) (plan.Rule, error) {
	rules, err := e.src.BenefitRules(ctx, planID, code)
	if err != nil {
		return plan.Rule{}, eris.Wrapf(err, "benefit: load rules for %s/%s", planID, code)
	}

	var matches []plan.Rule
	for _, r := range rules {
		if r.ActiveOn(d) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return plan.Rule{}, model.NewFault(model.ReasonRuleNotFound,
			"plan %s has no rule for benefit %s on %s; not covered", planID, code, d)
	case 1:
	default:
		return plan.Rule{}, model.NewFault(model.ReasonAmbiguousRule,
			"plan %s benefit %s has %d rules active on %s", planID, code, len(matches), d)
	}

	r := matches[0]
	if r.Limit.Kind == plan.LimitCoveredInOther && r.Limit.ParentCode == code {
		return plan.Rule{}, model.NewFault(model.ReasonCyclicBenefitMapping,
			"plan %s benefit %s delegates to itself", planID, code)
	}
	if err := r.Validate(); err != nil {
		return plan.Rule{}, model.WrapFault(err, model.ReasonInvalidRule, "plan %s benefit %s", planID, code)
	}
	return r, nil
}

// merge layers the delegating rule's gates over the parent. Limit, scope
// and cost share come from the parent; authorization is required if either
// side requires it; the child's window wins when it has one; the longer
// waiting period applies.
func merge(child, parent plan.Rule) plan.Rule {
	out := parent
	out.RequiresAuthorization = child.RequiresAuthorization || parent.RequiresAuthorization
	if child.Window.Active() {
		out.Window = child.Window
	}
	if child.WaitingPeriodDays > out.WaitingPeriodDays {
		out.WaitingPeriodDays = child.WaitingPeriodDays
	}
	return out
}
