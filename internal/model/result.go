package model

import "time"

// Outcome is the terminal state of an adjudicated claim line.
type Outcome string

const (
	OutcomeApproved             Outcome = "approved"
	OutcomePartiallyApproved    Outcome = "partially_approved"
	OutcomeRejected             Outcome = "rejected"
	OutcomePendingAuthorization Outcome = "pending_authorization"
	OutcomeManualReview         Outcome = "manual_review"
)

// ReasonCode is the machine-readable explanation attached to every result.
type ReasonCode string

const (
	ReasonCovered              ReasonCode = "COVERED"
	ReasonLimitExceeded        ReasonCode = "LIMIT_EXCEEDED"
	ReasonLimitExhausted       ReasonCode = "LIMIT_EXHAUSTED"
	ReasonDeductibleNotMet     ReasonCode = "DEDUCTIBLE_NOT_MET"
	ReasonNotCovered           ReasonCode = "NOT_COVERED"
	ReasonAuthorizationPending ReasonCode = "AUTHORIZATION_REQUIRED"
	ReasonWaitingPeriod        ReasonCode = "WAITING_PERIOD"
	ReasonOutsideWindow        ReasonCode = "OUTSIDE_BENEFIT_WINDOW"
	ReasonMissingAnchorDate    ReasonCode = "MISSING_ANCHOR_DATE"
	ReasonClaimWithdrawn       ReasonCode = "CLAIM_WITHDRAWN"

	// Input faults.
	ReasonMemberNotFound       ReasonCode = "MEMBER_NOT_FOUND"
	ReasonNotEligible          ReasonCode = "NOT_ELIGIBLE"
	ReasonAmbiguousCoverage    ReasonCode = "AMBIGUOUS_COVERAGE"
	ReasonRuleNotFound         ReasonCode = "RULE_NOT_FOUND"
	ReasonAmbiguousRule        ReasonCode = "AMBIGUOUS_RULE"
	ReasonCyclicBenefitMapping ReasonCode = "CYCLIC_BENEFIT_MAPPING"
	ReasonInvalidRule          ReasonCode = "INVALID_RULE"

	// Contention faults.
	ReasonConflict                ReasonCode = "CONFLICT"
	ReasonConcurrentUpdateTimeout ReasonCode = "CONCURRENT_UPDATE_TIMEOUT"
	ReasonLockTimeout             ReasonCode = "LOCK_TIMEOUT"

	// Integrity faults.
	ReasonLedgerMismatch    ReasonCode = "LEDGER_MISMATCH"
	ReasonNegativeRemaining ReasonCode = "NEGATIVE_REMAINING_LIMIT"
	ReasonNegativeBalance   ReasonCode = "NEGATIVE_ACCUMULATOR_BALANCE"
	ReasonInternalError     ReasonCode = "INTERNAL_ERROR"
)

// MemberShare itemises the member responsibility in application order.
type MemberShare struct {
	Deductible  Money `json:"deductible"`
	LimitExcess Money `json:"limit_excess"`
	Coinsurance Money `json:"coinsurance"`
	Copay       Money `json:"copay"`
}

// Total sums the components.
func (s MemberShare) Total() Money {
	return s.Deductible + s.LimitExcess + s.Coinsurance + s.Copay
}

// AdjudicationResult is the single terminal result for a claim line.
type AdjudicationResult struct {
	ClaimLineID          string      `json:"claim_line_id"`
	ClaimID              string      `json:"claim_id"`
	MemberID             string      `json:"member_id"`
	BenefitCode          string      `json:"benefit_code"`
	Outcome              Outcome     `json:"outcome"`
	ChargedAmount        Money       `json:"charged_amount"`
	ApprovedAmount       Money       `json:"approved_amount"`
	MemberResponsibility Money       `json:"member_responsibility"`
	MemberShare          MemberShare `json:"member_share"`
	AccumulatorKey       string      `json:"accumulator_key,omitempty"`
	AccumulatorDelta     UsageDelta  `json:"accumulator_delta"`
	ReasonCode           ReasonCode  `json:"reason_code"`
	Detail               string      `json:"detail,omitempty"`
	Trail                []string    `json:"trail,omitempty"`
	AdjudicatedAt        time.Time   `json:"adjudicated_at"`
}

// Final reports whether the result may be served again for a retry without
// re-running adjudication.
func (r AdjudicationResult) Final() bool {
	switch r.Outcome {
	case OutcomeManualReview:
		return false
	case OutcomeRejected:
		return r.ReasonCode != ReasonClaimWithdrawn
	default:
		return true
	}
}

// ClaimResult aggregates the line results of one claim.
type ClaimResult struct {
	ClaimID                   string               `json:"claim_id"`
	MemberID                  string               `json:"member_id"`
	Outcome                   Outcome              `json:"outcome"`
	TotalCharged              Money                `json:"total_charged"`
	TotalApproved             Money                `json:"total_approved"`
	TotalMemberResponsibility Money                `json:"total_member_responsibility"`
	Lines                     []AdjudicationResult `json:"lines"`
}

// Summarize builds the claim-level aggregate. The claim outcome is the most
// severe line outcome, where manual review outranks pending authorization,
// which outranks any mix of approvals and rejections.
func Summarize(claimID, memberID string, lines []AdjudicationResult) ClaimResult {
	cr := ClaimResult{ClaimID: claimID, MemberID: memberID, Lines: lines}
	var approved, partial, rejected, pending, manual int
	for _, l := range lines {
		cr.TotalCharged += l.ChargedAmount
		cr.TotalApproved += l.ApprovedAmount
		cr.TotalMemberResponsibility += l.MemberResponsibility
		switch l.Outcome {
		case OutcomeApproved:
			approved++
		case OutcomePartiallyApproved:
			partial++
		case OutcomeRejected:
			rejected++
		case OutcomePendingAuthorization:
			pending++
		case OutcomeManualReview:
			manual++
		}
	}
	switch {
	case manual > 0:
		cr.Outcome = OutcomeManualReview
	case pending > 0:
		cr.Outcome = OutcomePendingAuthorization
	case rejected == len(lines):
		cr.Outcome = OutcomeRejected
	case approved == len(lines):
		cr.Outcome = OutcomeApproved
	default:
		cr.Outcome = OutcomePartiallyApproved
	}
	return cr
}
