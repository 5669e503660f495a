package model

import (
	"github.com/rotisserie/eris"
)

// BenefitCategory groups benefit codes for eligibility purposes.
type BenefitCategory string

const (
	CategoryInpatient  BenefitCategory = "inpatient"
	CategoryOutpatient BenefitCategory = "outpatient"
	CategoryDental     BenefitCategory = "dental"
	CategoryMaternity  BenefitCategory = "maternity"
	CategoryOptical    BenefitCategory = "optical"
)

// MaxLineUnits bounds the days or visits a single line may bill.
const MaxLineUnits = 10_000

// Claim is a submitted claim with its ordered lines.
type Claim struct {
	ID       string      `json:"id"`
	MemberID string      `json:"member_id"`
	Lines    []ClaimLine `json:"lines"`
}

// ClaimLine is a single billed service. It is never mutated by adjudication.
type ClaimLine struct {
	ID               string          `json:"id"`
	ClaimID          string          `json:"claim_id"`
	Sequence         int             `json:"sequence"`
	BenefitCode      string          `json:"benefit_code"`
	Category         BenefitCategory `json:"category,omitempty"`
	ChargedAmount    Money           `json:"charged_amount"`
	ServiceDate      Date            `json:"service_date"`
	AdmissionDate    *Date           `json:"admission_date,omitempty"`
	DischargeDate    *Date           `json:"discharge_date,omitempty"`
	Units            int             `json:"units,omitempty"`
	AuthorizationRef string          `json:"authorization_ref,omitempty"`
}

// BilledUnits returns the days or visits represented by the line. An
// explicit unit count wins; otherwise the length of stay is used for
// inpatient lines, with a floor of one.
func (l ClaimLine) BilledUnits() int {
	if l.Units > 0 {
		return l.Units
	}
	if l.AdmissionDate != nil && l.DischargeDate != nil {
		if n := l.AdmissionDate.DaysUntil(*l.DischargeDate); n > 0 {
			return n
		}
	}
	return 1
}

// Validate checks the claim envelope. Line-level business faults are not
// reported here; they become rejected results.
func (c Claim) Validate() error {
	if c.ID == "" {
		return eris.New("claim: id is required")
	}
	if c.MemberID == "" {
		return eris.Errorf("claim %s: member_id is required", c.ID)
	}
	if len(c.Lines) == 0 {
		return eris.Errorf("claim %s: at least one line is required", c.ID)
	}
	seen := make(map[string]bool, len(c.Lines))
	for i, l := range c.Lines {
		if l.ID == "" {
			return eris.Errorf("claim %s: line %d has no id", c.ID, i)
		}
		if seen[l.ID] {
			return eris.Errorf("claim %s: duplicate line id %s", c.ID, l.ID)
		}
		seen[l.ID] = true
		if l.ClaimID != "" && l.ClaimID != c.ID {
			return eris.Errorf("claim %s: line %s belongs to claim %s", c.ID, l.ID, l.ClaimID)
		}
		if l.BenefitCode == "" {
			return eris.Errorf("claim %s: line %s has no benefit_code", c.ID, l.ID)
		}
		if l.ChargedAmount < 0 {
			return eris.Errorf("claim %s: line %s has negative charged_amount", c.ID, l.ID)
		}
		if l.Units < 0 || l.Units > MaxLineUnits {
			return eris.Errorf("claim %s: line %s units %d outside 0..%d", c.ID, l.ID, l.Units, MaxLineUnits)
		}
		if l.ServiceDate.IsZero() {
			return eris.Errorf("claim %s: line %s has no service_date", c.ID, l.ID)
		}
	}
	return nil
}
