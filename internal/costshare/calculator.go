// Package costshare splits a charged amount between plan and member under a
// benefit rule and the current accumulator snapshot. It is pure: the same
// input always produces the same breakdown.
package costshare

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
)

// Input is everything a calculation depends on.
type Input struct {
	Charged  model.Money
	Rule     plan.Rule
	Snapshot model.AccumulatorRecord
	// Units is the number of days or visits billed on the line. Values
	// below one are treated as one.
	Units int
}

// Breakdown is the result of a calculation. Approved + Member == Charged.
type Breakdown struct {
	Charged  model.Money
	Approved model.Money
	Member   model.Money
	Share    model.MemberShare

	// Remaining is the amount of limit left before this line.
	Remaining model.Money
	// Coverable is the part of the charge inside the remaining limit after
	// the deductible. It is what the accumulator consumes.
	Coverable model.Money
	Delta     model.UsageDelta

	NotCovered bool
}

var hundred = decimal.NewFromInt(100)

// Calculate applies, in order: remaining limit, deductible, limit cap,
// coinsurance and copay.
func Calculate(in Input) (Breakdown, error) {
	b := Breakdown{Charged: in.Charged}
	if in.Rule.Limit.Kind == plan.LimitNotCovered {
		b.NotCovered = true
		b.Member = in.Charged
		b.Share.LimitExcess = in.Charged
		return b, nil
	}

	units := in.Units
	if units < 1 {
		units = 1
	}
	remaining, countable, err := remainingLimit(in.Rule.Limit, in.Snapshot, units)
	if err != nil {
		return Breakdown{}, err
	}
	b.Remaining = remaining

	deductible := model.MinMoney(in.Rule.CostShare.Deductible, in.Charged)
	afterDeductible := in.Charged - deductible

	coverable := model.MinMoney(afterDeductible, remaining)
	excess := afterDeductible - coverable

	coins := coinsurance(coverable, in.Rule.CostShare.CoinsurancePct)
	copay := model.MinMoney(in.Rule.CostShare.Copay, coverable-coins)

	b.Coverable = coverable
	b.Share = model.MemberShare{
		Deductible:  deductible,
		LimitExcess: excess,
		Coinsurance: coins,
		Copay:       copay,
	}
	b.Member = b.Share.Total()
	b.Approved = coverable - coins - copay

	b.Delta.Amount = coverable
	if coverable > 0 {
		switch in.Rule.Limit.Kind {
		case plan.LimitPerDay:
			b.Delta.Days = countable
		case plan.LimitPerVisit:
			b.Delta.Visits = countable
		}
	}
	return b, nil
}

// remainingLimit returns the amount still available and, for day or visit
// limits, how many of the billed units fit.
func remainingLimit(l plan.Limit, snap model.AccumulatorRecord, units int) (model.Money, int, error) {
	var remaining model.Money
	countable := units

	switch l.Kind {
	case plan.LimitPerYear, plan.LimitPerCase:
		remaining = l.Amount - snap.AmountUsed
	case plan.LimitPerVisit:
		remaining = perUnit(l.Amount, units)
	case plan.LimitPerDay:
		if l.MaxDays > 0 {
			daysLeft := l.MaxDays - snap.DaysUsed
			if daysLeft < 0 {
				return 0, 0, model.NewFault(model.ReasonNegativeRemaining,
					"%s: %d days used against a %d day limit", snap.Key, snap.DaysUsed, l.MaxDays)
			}
			countable = min(units, daysLeft)
		}
		remaining = perUnit(l.Amount, countable)
	default:
		return 0, 0, model.NewFault(model.ReasonInvalidRule, "limit kind %q cannot be calculated", l.Kind)
	}

	if l.AggregateCap > 0 {
		capLeft := l.AggregateCap - snap.AmountUsed
		if capLeft < 0 {
			return 0, 0, model.NewFault(model.ReasonNegativeRemaining,
				"%s: %s used against an aggregate cap of %s", snap.Key, snap.AmountUsed, l.AggregateCap)
		}
		remaining = model.MinMoney(remaining, capLeft)
	}
	if remaining < 0 {
		return 0, 0, model.NewFault(model.ReasonNegativeRemaining,
			"%s: %s used against a limit of %s", snap.Key, snap.AmountUsed, l.Amount)
	}
	return remaining, countable, nil
}

// coinsurance returns the member's percentage of amount, rounded half-up so
// the plan side never absorbs a fractional unit.
func coinsurance(amount model.Money, pct decimal.Decimal) model.Money {
	if amount <= 0 || pct.IsZero() {
		return 0
	}
	share := decimal.NewFromInt(int64(amount)).Mul(pct).Div(hundred).Round(0)
	return model.MinMoney(model.Money(share.IntPart()), amount)
}

// Outcome maps a breakdown to the line's terminal outcome and reason.
func (b Breakdown) Outcome() (model.Outcome, model.ReasonCode) {
	switch {
	case b.NotCovered:
		return model.OutcomeRejected, model.ReasonNotCovered
	case b.Share.LimitExcess > 0 && b.Coverable == 0:
		return model.OutcomeRejected, model.ReasonLimitExhausted
	case b.Share.LimitExcess > 0:
		return model.OutcomePartiallyApproved, model.ReasonLimitExceeded
	case b.Approved == 0 && b.Share.Deductible > 0:
		return model.OutcomeApproved, model.ReasonDeductibleNotMet
	default:
		return model.OutcomeApproved, model.ReasonCovered
	}
}

// perUnit multiplies a per-unit limit by units, saturating instead of
// wrapping. The result is only ever compared against the charged amount.
func perUnit(amount model.Money, units int) model.Money {
	if units <= 0 || amount <= 0 {
		return 0
	}
	if amount > model.Money(math.MaxInt64/int64(units)) {
		return model.Money(math.MaxInt64)
	}
	return amount * model.Money(units)
}
