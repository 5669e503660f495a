package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PeriodKey scopes an accumulator: "year:2024", "case:<claim id>",
// "window:<anchor date>+<days>" or "lifetime".
type PeriodKey string

// PeriodLifetime never resets.
const PeriodLifetime PeriodKey = "lifetime"

// YearPeriod returns the calendar-year period containing d.
func YearPeriod(d Date) PeriodKey {
	return PeriodKey(fmt.Sprintf("year:%04d", d.Year()))
}

// CasePeriod returns the period scoped to a single claim.
func CasePeriod(claimID string) PeriodKey {
	return PeriodKey("case:" + claimID)
}

// WindowPeriod returns the fixed day span anchored at anchor.
func WindowPeriod(anchor Date, days int) PeriodKey {
	return PeriodKey(fmt.Sprintf("window:%s+%d", anchor.String(), days))
}

// AccumulatorKey identifies one usage counter.
type AccumulatorKey struct {
	MemberID    string    `json:"member_id"`
	BenefitCode string    `json:"benefit_code"`
	Period      PeriodKey `json:"period"`
}

func (k AccumulatorKey) String() string {
	return k.MemberID + "|" + k.BenefitCode + "|" + string(k.Period)
}

// ParseAccumulatorKey is the inverse of AccumulatorKey.String.
func ParseAccumulatorKey(s string) (AccumulatorKey, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return AccumulatorKey{}, eris.Errorf("invalid accumulator key %q", s)
	}
	return AccumulatorKey{MemberID: parts[0], BenefitCode: parts[1], Period: PeriodKey(parts[2])}, nil
}

// UsageDelta is the usage consumed (or released, when negative) by one line.
type UsageDelta struct {
	Amount Money `json:"amount"`
	Days   int   `json:"days"`
	Visits int   `json:"visits"`
}

// IsZero reports whether the delta changes nothing.
func (d UsageDelta) IsZero() bool {
	return d.Amount == 0 && d.Days == 0 && d.Visits == 0
}

// Negate returns the compensating delta.
func (d UsageDelta) Negate() UsageDelta {
	return UsageDelta{Amount: -d.Amount, Days: -d.Days, Visits: -d.Visits}
}

// AccumulatorRecord is the running usage for a key. Version increases by one
// on every applied ledger entry and backs compare-and-set commits.
type AccumulatorRecord struct {
	Key         AccumulatorKey `json:"key"`
	AmountUsed  Money          `json:"amount_used"`
	DaysUsed    int            `json:"days_used"`
	VisitsUsed  int            `json:"visits_used"`
	Version     int64          `json:"version"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Apply returns the record with delta added. Version and timestamp are left
// to the store.
func (r AccumulatorRecord) Apply(d UsageDelta) AccumulatorRecord {
	r.AmountUsed += d.Amount
	r.DaysUsed += d.Days
	r.VisitsUsed += d.Visits
	return r
}

// Negative reports whether any counter dropped below zero.
func (r AccumulatorRecord) Negative() bool {
	return r.AmountUsed < 0 || r.DaysUsed < 0 || r.VisitsUsed < 0
}
