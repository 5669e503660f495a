// Package plan models benefit-rule configuration: the closed set of limit
// variants, cost-share parameters and temporal windows a plan attaches to a
// benefit code.
package plan

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/benefit-engine/internal/model"
)

// LimitKind tags the limit variant.
type LimitKind string

const (
	LimitPerVisit       LimitKind = "per_visit"
	LimitPerYear        LimitKind = "per_year"
	LimitPerCase        LimitKind = "per_case"
	LimitPerDay         LimitKind = "per_day"
	LimitNotCovered     LimitKind = "not_covered"
	LimitCoveredInOther LimitKind = "covered_in_other"
)

// Limit is a tagged union. Only the fields belonging to Kind may be set;
// Validate enforces this.
type Limit struct {
	Kind LimitKind `json:"kind" yaml:"kind"`

	// Amount is the cap per visit, year, case or day depending on Kind.
	Amount model.Money `json:"amount,omitempty" yaml:"amount"`

	// MaxDays bounds PerDay limits. Zero means no day bound.
	MaxDays int `json:"max_days,omitempty" yaml:"max_days"`

	// ParentCode names the benefit whose rule and accumulator apply.
	ParentCode string `json:"parent_code,omitempty" yaml:"parent_code"`

	// AggregateCap is an optional overall amount cap for the accumulation
	// period, layered on PerVisit or PerDay. The tighter limit binds.
	AggregateCap model.Money `json:"aggregate_cap,omitempty" yaml:"aggregate_cap"`
}

// PerVisit caps each visit at amount.
func PerVisit(amount model.Money) Limit { return Limit{Kind: LimitPerVisit, Amount: amount} }

// PerYear caps usage per calendar year.
func PerYear(amount model.Money) Limit { return Limit{Kind: LimitPerYear, Amount: amount} }

// PerCase caps usage per claim.
func PerCase(amount model.Money) Limit { return Limit{Kind: LimitPerCase, Amount: amount} }

// PerDay caps each day at amount, for at most maxDays days.
func PerDay(amount model.Money, maxDays int) Limit {
	return Limit{Kind: LimitPerDay, Amount: amount, MaxDays: maxDays}
}

// NotCovered marks the benefit as excluded.
func NotCovered() Limit { return Limit{Kind: LimitNotCovered} }

// CoveredInOther delegates to the parent benefit code.
func CoveredInOther(parent string) Limit {
	return Limit{Kind: LimitCoveredInOther, ParentCode: parent}
}

// Validate checks that exactly the fields of the active variant are set.
func (l Limit) Validate() error {
	switch l.Kind {
	case LimitPerVisit, LimitPerYear, LimitPerCase:
		if l.Amount <= 0 {
			return eris.Errorf("limit %s: amount must be positive", l.Kind)
		}
		if l.MaxDays != 0 || l.ParentCode != "" {
			return eris.Errorf("limit %s: only amount may be set", l.Kind)
		}
		if l.Kind != LimitPerVisit && l.AggregateCap != 0 {
			return eris.Errorf("limit %s: aggregate_cap only applies to per_visit and per_day", l.Kind)
		}
	case LimitPerDay:
		if l.Amount <= 0 {
			return eris.New("limit per_day: amount must be positive")
		}
		if l.MaxDays < 0 {
			return eris.New("limit per_day: max_days must not be negative")
		}
		if l.ParentCode != "" {
			return eris.New("limit per_day: parent_code not allowed")
		}
	case LimitNotCovered:
		if l.Amount != 0 || l.MaxDays != 0 || l.ParentCode != "" || l.AggregateCap != 0 {
			return eris.New("limit not_covered: no fields may be set")
		}
	case LimitCoveredInOther:
		if l.ParentCode == "" {
			return eris.New("limit covered_in_other: parent_code is required")
		}
		if l.Amount != 0 || l.MaxDays != 0 || l.AggregateCap != 0 {
			return eris.New("limit covered_in_other: only parent_code may be set")
		}
	default:
		return eris.Errorf("unknown limit kind %q", l.Kind)
	}
	if l.AggregateCap < 0 {
		return eris.Errorf("limit %s: aggregate_cap must not be negative", l.Kind)
	}
	return nil
}

// Scope is how long usage accumulates before resetting.
type Scope string

const (
	ScopeYear     Scope = "year"
	ScopeCase     Scope = "case"
	ScopeLifetime Scope = "lifetime"
)

// WindowKind selects a pre/post-hospitalization style window.
type WindowKind string

const (
	WindowNone       WindowKind = "none"
	WindowPre        WindowKind = "pre"
	WindowPost       WindowKind = "post"
	WindowPreAndPost WindowKind = "pre_and_post"
)

// Anchor selects the date a window is measured from.
type Anchor string

const (
	AnchorAdmission Anchor = "admission"
	AnchorDischarge Anchor = "discharge"
)

// Window is a fixed day span around an admission or discharge date.
type Window struct {
	Kind   WindowKind `json:"kind,omitempty" yaml:"kind"`
	Days   int        `json:"days,omitempty" yaml:"days"`
	Anchor Anchor     `json:"anchor,omitempty" yaml:"anchor"`
}

// Active reports whether a window applies.
func (w Window) Active() bool {
	return w.Kind != "" && w.Kind != WindowNone
}

// AnchorDate picks the anchor date from the line, if present.
func (w Window) AnchorDate(line model.ClaimLine) (model.Date, bool) {
	var d *model.Date
	if w.Anchor == AnchorDischarge {
		d = line.DischargeDate
	} else {
		d = line.AdmissionDate
	}
	if d == nil || d.IsZero() {
		return model.Date{}, false
	}
	return *d, true
}

// Contains reports whether service falls inside the window around anchor.
// Bounds are inclusive.
func (w Window) Contains(anchor, service model.Date) bool {
	from, to := anchor, anchor
	switch w.Kind {
	case WindowPre:
		from = anchor.AddDays(-w.Days)
	case WindowPost:
		to = anchor.AddDays(w.Days)
	case WindowPreAndPost:
		from = anchor.AddDays(-w.Days)
		to = anchor.AddDays(w.Days)
	default:
		return true
	}
	return !service.Before(from) && !service.After(to)
}

func (w Window) validate() error {
	switch w.Kind {
	case "", WindowNone:
		if w.Days != 0 {
			return eris.New("window: days set without a window kind")
		}
		return nil
	case WindowPre, WindowPost, WindowPreAndPost:
	default:
		return eris.Errorf("window: unknown kind %q", w.Kind)
	}
	if w.Days <= 0 {
		return eris.Errorf("window %s: days must be positive", w.Kind)
	}
	switch w.Anchor {
	case "", AnchorAdmission, AnchorDischarge:
	default:
		return eris.Errorf("window: unknown anchor %q", w.Anchor)
	}
	return nil
}

// CostShare holds member cost-sharing parameters. The order in which they
// apply is fixed by the calculator.
type CostShare struct {
	Deductible     model.Money     `json:"deductible,omitempty"`
	CoinsurancePct decimal.Decimal `json:"coinsurance_pct"`
	Copay          model.Money     `json:"copay,omitempty"`
}

var hundred = decimal.NewFromInt(100)

func (c CostShare) validate() error {
	if c.Deductible < 0 || c.Copay < 0 {
		return eris.New("cost_share: deductible and copay must not be negative")
	}
	if c.CoinsurancePct.IsNegative() || c.CoinsurancePct.GreaterThan(hundred) {
		return eris.Errorf("cost_share: coinsurance_pct %s outside 0-100", c.CoinsurancePct)
	}
	return nil
}

// Rule is the benefit configuration for (plan, benefit code) over an
// effective interval [EffectiveDate, ExpirationDate).
type Rule struct {
	PlanID                string     `json:"plan_id"`
	BenefitCode           string     `json:"benefit_code"`
	Limit                 Limit      `json:"limit"`
	Scope                 Scope      `json:"scope,omitempty"`
	CostShare             CostShare  `json:"cost_share"`
	Window                Window     `json:"window"`
	RequiresAuthorization bool       `json:"requires_authorization,omitempty"`
	WaitingPeriodDays     int        `json:"waiting_period_days,omitempty"`
	EffectiveDate         model.Date `json:"effective_date"`
	ExpirationDate        model.Date `json:"expiration_date"` // zero means open-ended
}

// EffectiveScope returns the configured scope or the default for the limit
// kind.
func (r Rule) EffectiveScope() Scope {
	if r.Scope != "" {
		return r.Scope
	}
	switch r.Limit.Kind {
	case LimitPerCase, LimitPerDay:
		return ScopeCase
	default:
		return ScopeYear
	}
}

// ActiveOn reports whether d is inside the effective interval.
func (r Rule) ActiveOn(d model.Date) bool {
	if d.Before(r.EffectiveDate) {
		return false
	}
	return r.ExpirationDate.IsZero() || d.Before(r.ExpirationDate)
}

// Overlaps reports whether the effective intervals of r and o intersect.
func (r Rule) Overlaps(o Rule) bool {
	rEndsBeforeO := !r.ExpirationDate.IsZero() && !r.ExpirationDate.After(o.EffectiveDate)
	oEndsBeforeR := !o.ExpirationDate.IsZero() && !o.ExpirationDate.After(r.EffectiveDate)
	return !rEndsBeforeO && !oEndsBeforeR
}

// Validate checks a single rule in isolation.
func (r Rule) Validate() error {
	if r.PlanID == "" || r.BenefitCode == "" {
		return eris.New("rule: plan_id and benefit_code are required")
	}
	if err := r.Limit.Validate(); err != nil {
		return eris.Wrapf(err, "rule %s/%s", r.PlanID, r.BenefitCode)
	}
	if r.Limit.Kind == LimitCoveredInOther && r.Limit.ParentCode == r.BenefitCode {
		return eris.Errorf("rule %s/%s: maps to itself", r.PlanID, r.BenefitCode)
	}
	if err := r.CostShare.validate(); err != nil {
		return eris.Wrapf(err, "rule %s/%s", r.PlanID, r.BenefitCode)
	}
	if err := r.Window.validate(); err != nil {
		return eris.Wrapf(err, "rule %s/%s", r.PlanID, r.BenefitCode)
	}
	switch r.Scope {
	case "", ScopeYear, ScopeCase, ScopeLifetime:
	default:
		return eris.Errorf("rule %s/%s: unknown scope %q", r.PlanID, r.BenefitCode, r.Scope)
	}
	if r.WaitingPeriodDays < 0 {
		return eris.Errorf("rule %s/%s: waiting_period_days must not be negative", r.PlanID, r.BenefitCode)
	}
	if r.EffectiveDate.IsZero() {
		return eris.Errorf("rule %s/%s: effective_date is required", r.PlanID, r.BenefitCode)
	}
	if !r.ExpirationDate.IsZero() && !r.ExpirationDate.After(r.EffectiveDate) {
		return eris.Errorf("rule %s/%s: expiration_date must be after effective_date", r.PlanID, r.BenefitCode)
	}
	return nil
}

// ValidateSet checks every rule and rejects overlapping effective intervals
// for the same (plan, benefit code).
func ValidateSet(rules []Rule) error {
	byKey := make(map[string][]Rule)
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		k := r.PlanID + "/" + r.BenefitCode
		for _, prev := range byKey[k] {
			if prev.Overlaps(r) {
				return eris.Errorf("rule %s: overlapping effective intervals starting %s and %s",
					k, prev.EffectiveDate, r.EffectiveDate)
			}
		}
		byKey[k] = append(byKey[k], r)
	}
	return nil
}
