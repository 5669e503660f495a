package costshare

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
)

func yearRule(amount model.Money) plan.Rule {
	return plan.Rule{PlanID: "GOLD", BenefitCode: "CONS-GP", Limit: plan.PerYear(amount)}
}

func used(amount model.Money) model.AccumulatorRecord {
	return model.AccumulatorRecord{AmountUsed: amount, Version: 1}
}

func TestCalculate_ConsultationScenario(t *testing.T) {
	b, err := Calculate(Input{
		Charged:  500_000,
		Rule:     yearRule(10_000_000),
		Snapshot: used(9_800_000),
	})
	require.NoError(t, err)

	assert.Equal(t, model.Money(200_000), b.Approved)
	assert.Equal(t, model.Money(300_000), b.Member)
	assert.Equal(t, model.Money(300_000), b.Share.LimitExcess)
	assert.Equal(t, model.Money(200_000), b.Delta.Amount)
	assert.Equal(t, model.Money(10_000_000), used(9_800_000).Apply(b.Delta).AmountUsed)

	outcome, reason := b.Outcome()
	assert.Equal(t, model.OutcomePartiallyApproved, outcome)
	assert.Equal(t, model.ReasonLimitExceeded, reason)
}

func TestCalculate_LimitBoundary(t *testing.T) {
	exact, err := Calculate(Input{Charged: 200_000, Rule: yearRule(10_000_000), Snapshot: used(9_800_000)})
	require.NoError(t, err)
	assert.Equal(t, model.Money(200_000), exact.Approved)
	assert.Equal(t, model.Money(0), exact.Member)
	outcome, _ := exact.Outcome()
	assert.Equal(t, model.OutcomeApproved, outcome)

	over, err := Calculate(Input{Charged: 200_001, Rule: yearRule(10_000_000), Snapshot: used(9_800_000)})
	require.NoError(t, err)
	assert.Equal(t, model.Money(200_000), over.Approved)
	assert.Equal(t, model.Money(1), over.Member)
	outcome, _ = over.Outcome()
	assert.Equal(t, model.OutcomePartiallyApproved, outcome)

	exhausted, err := Calculate(Input{Charged: 100, Rule: yearRule(10_000_000), Snapshot: used(10_000_000)})
	require.NoError(t, err)
	assert.Equal(t, model.Money(0), exhausted.Approved)
	assert.Equal(t, model.UsageDelta{}, exhausted.Delta)
	outcome, reason := exhausted.Outcome()
	assert.Equal(t, model.OutcomeRejected, outcome)
	assert.Equal(t, model.ReasonLimitExhausted, reason)
}

func TestCalculate_NotCovered(t *testing.T) {
	b, err := Calculate(Input{Charged: 75_000, Rule: plan.Rule{Limit: plan.NotCovered()}})
	require.NoError(t, err)
	assert.True(t, b.NotCovered)
	assert.Equal(t, model.Money(0), b.Approved)
	assert.Equal(t, model.Money(75_000), b.Member)
	assert.True(t, b.Delta.IsZero())

	outcome, reason := b.Outcome()
	assert.Equal(t, model.OutcomeRejected, outcome)
	assert.Equal(t, model.ReasonNotCovered, reason)
}

func TestCalculate_CostShareOrder(t *testing.T) {
	r := yearRule(1_000_000)
	r.CostShare = plan.CostShare{
		Deductible:     50_000,
		CoinsurancePct: decimal.NewFromInt(20),
		Copay:          10_000,
	}

	b, err := Calculate(Input{Charged: 450_000, Rule: r, Snapshot: used(700_000)})
	require.NoError(t, err)

	// 450,000 - 50,000 deductible = 400,000; remaining 300,000 caps it,
	// 100,000 excess; 20% of 300,000 = 60,000; copay 10,000.
	assert.Equal(t, model.MemberShare{Deductible: 50_000, LimitExcess: 100_000, Coinsurance: 60_000, Copay: 10_000}, b.Share)
	assert.Equal(t, model.Money(230_000), b.Approved)
	assert.Equal(t, model.Money(220_000), b.Member)
	assert.Equal(t, model.Money(300_000), b.Delta.Amount)
}

func TestCalculate_DeductibleOnly(t *testing.T) {
	r := yearRule(1_000_000)
	r.CostShare.Deductible = 50_000

	b, err := Calculate(Input{Charged: 30_000, Rule: r})
	require.NoError(t, err)
	assert.Equal(t, model.Money(0), b.Approved)
	assert.Equal(t, model.Money(30_000), b.Share.Deductible)

	outcome, reason := b.Outcome()
	assert.Equal(t, model.OutcomeApproved, outcome)
	assert.Equal(t, model.ReasonDeductibleNotMet, reason)
}

func TestCalculate_CoinsuranceRoundsHalfUp(t *testing.T) {
	r := yearRule(1_000_000)
	r.CostShare.CoinsurancePct = decimal.RequireFromString("12.5")

	// 12.5% of 1,001 = 125.125 -> 125; of 1,004 = 125.5 -> 126.
	b, err := Calculate(Input{Charged: 1_001, Rule: r})
	require.NoError(t, err)
	assert.Equal(t, model.Money(125), b.Share.Coinsurance)

	b, err = Calculate(Input{Charged: 1_004, Rule: r})
	require.NoError(t, err)
	assert.Equal(t, model.Money(126), b.Share.Coinsurance)
	assert.Equal(t, model.Money(878), b.Approved)
}

func TestCalculate_CopayCappedAtCoverable(t *testing.T) {
	r := yearRule(1_000_000)
	r.CostShare.Copay = 25_000

	b, err := Calculate(Input{Charged: 10_000, Rule: r})
	require.NoError(t, err)
	assert.Equal(t, model.Money(10_000), b.Share.Copay)
	assert.Equal(t, model.Money(0), b.Approved)
}

func TestCalculate_PerDay(t *testing.T) {
	r := plan.Rule{Limit: plan.PerDay(1_500_000, 10)}

	b, err := Calculate(Input{Charged: 6_000_000, Rule: r, Units: 5, Snapshot: model.AccumulatorRecord{DaysUsed: 8}})
	require.NoError(t, err)
	assert.Equal(t, model.Money(3_000_000), b.Approved)
	assert.Equal(t, 2, b.Delta.Days)
	assert.Equal(t, model.Money(3_000_000), b.Delta.Amount)

	_, err = Calculate(Input{Charged: 100, Rule: r, Snapshot: model.AccumulatorRecord{DaysUsed: 11}})
	require.Error(t, err)
	f, ok := model.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, model.ReasonNegativeRemaining, f.Code)
}

func TestCalculate_AggregateCapBinds(t *testing.T) {
	r := plan.Rule{Limit: plan.Limit{Kind: plan.LimitPerDay, Amount: 1_500_000, MaxDays: 10, AggregateCap: 9_000_000}}

	b, err := Calculate(Input{Charged: 4_500_000, Rule: r, Units: 3, Snapshot: model.AccumulatorRecord{AmountUsed: 8_000_000, DaysUsed: 6}})
	require.NoError(t, err)
	assert.Equal(t, model.Money(1_000_000), b.Approved)
	assert.Equal(t, model.Money(3_500_000), b.Share.LimitExcess)
	assert.Equal(t, 3, b.Delta.Days)
}

func TestCalculate_PerVisit(t *testing.T) {
	r := plan.Rule{Limit: plan.PerVisit(300_000)}

	b, err := Calculate(Input{Charged: 450_000, Rule: r, Snapshot: model.AccumulatorRecord{VisitsUsed: 4}})
	require.NoError(t, err)
	assert.Equal(t, model.Money(300_000), b.Approved)
	assert.Equal(t, 1, b.Delta.Visits)
}

func TestCalculate_NegativeRemaining(t *testing.T) {
	_, err := Calculate(Input{Charged: 100, Rule: yearRule(1_000), Snapshot: used(1_500)})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNegativeRemaining)
}

func TestCalculate_Conservation(t *testing.T) {
	r := yearRule(2_000_000)
	r.CostShare = plan.CostShare{Deductible: 12_345, CoinsurancePct: decimal.RequireFromString("17.5"), Copay: 3_000}

	for _, charged := range []model.Money{0, 1, 999, 12_345, 12_346, 500_001, 1_999_999, 2_500_000, 9_999_999} {
		for _, prior := range []model.Money{0, 1_000_000, 1_999_999, 2_000_000} {
			b, err := Calculate(Input{Charged: charged, Rule: r, Snapshot: used(prior)})
			require.NoError(t, err)
			assert.Equal(t, charged, b.Approved+b.Member, "charged=%d prior=%d", charged, prior)
			assert.GreaterOrEqual(t, b.Approved, model.Money(0))
			assert.LessOrEqual(t, prior+b.Delta.Amount, model.Money(2_000_000))
		}
	}
}

func TestCalculate_PerVisitUnitsSaturate(t *testing.T) {
	r := plan.Rule{Limit: plan.PerVisit(300_000)}

	// A stay long enough to overflow amount*units must not wrap negative.
	b, err := Calculate(Input{Charged: 450_000, Rule: r, Units: math.MaxInt64 / 100_000})
	require.NoError(t, err)
	assert.Equal(t, model.Money(450_000), b.Approved)
	assert.Equal(t, model.Money(math.MaxInt64), b.Remaining)
}

func TestPerUnit(t *testing.T) {
	assert.Equal(t, model.Money(900_000), perUnit(300_000, 3))
	assert.Equal(t, model.Money(0), perUnit(300_000, 0))
	assert.Equal(t, model.Money(math.MaxInt64), perUnit(math.MaxInt64/2, 3))
}
