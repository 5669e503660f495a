package model

// CoverageStatus is the enrollment state of a coverage record.
type CoverageStatus string

const (
	CoverageActive     CoverageStatus = "active"
	CoverageSuspended  CoverageStatus = "suspended"
	CoverageTerminated CoverageStatus = "terminated"
)

// NetworkStatus records whether the member's coverage is in network.
type NetworkStatus string

const (
	NetworkIn  NetworkStatus = "in_network"
	NetworkOut NetworkStatus = "out_of_network"
)

// MemberCoverage is one enrollment of a member in a plan. Owned by the
// enrollment system; read-only here.
type MemberCoverage struct {
	MemberID      string            `json:"member_id" yaml:"member_id"`
	PlanID        string            `json:"plan_id" yaml:"plan_id"`
	CoverageStart Date              `json:"coverage_start" yaml:"coverage_start"`
	CoverageEnd   Date              `json:"coverage_end" yaml:"coverage_end"` // inclusive; zero means open-ended
	Status        CoverageStatus    `json:"status" yaml:"status"`
	NetworkStatus NetworkStatus     `json:"network_status,omitempty" yaml:"network_status"`
	Categories    []BenefitCategory `json:"categories,omitempty" yaml:"categories"` // empty means all categories
}

// Contains reports whether d falls inside the coverage window.
func (c MemberCoverage) Contains(d Date) bool {
	if d.Before(c.CoverageStart) {
		return false
	}
	return c.CoverageEnd.IsZero() || !d.After(c.CoverageEnd)
}

// Covers reports whether the coverage includes the benefit category.
func (c MemberCoverage) Covers(cat BenefitCategory) bool {
	if len(c.Categories) == 0 || cat == "" {
		return true
	}
	for _, x := range c.Categories {
		if x == cat {
			return true
		}
	}
	return false
}
