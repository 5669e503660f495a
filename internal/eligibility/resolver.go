// Package eligibility resolves the single active coverage record for a
// member on a service date.
package eligibility

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/benefit-engine/internal/model"
)

// CoverageSource returns every coverage record held for a member. An empty
// result means the member is unknown.
type CoverageSource interface {
	MemberCoverages(ctx context.Context, memberID string) ([]model.MemberCoverage, error)
}

// Resolver picks the active coverage for a service date. It has no side
// effects and is safe to call repeatedly.
type Resolver struct {
	src CoverageSource
}

// NewResolver creates a Resolver over src.
func NewResolver(src CoverageSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the one active coverage containing serviceDate that
// includes category. Multiple matches are a data fault, never a pick.
func (r *Resolver) Resolve(ctx context.Context, memberID string, serviceDate model.Date, category model.BenefitCategory) (model.MemberCoverage, error) {
	covs, err := r.src.MemberCoverages(ctx, memberID)
	if err != nil {
		return model.MemberCoverage{}, eris.Wrapf(err, "eligibility: load coverages for %s", memberID)
	}
	if len(covs) == 0 {
		return model.MemberCoverage{}, model.NewFault(model.ReasonMemberNotFound, "member %s has no coverage records", memberID)
	}

	var matches []model.MemberCoverage
	for _, c := range covs {
		if c.Status != model.CoverageActive || !c.Contains(serviceDate) {
			continue
		}
		if !c.Covers(category) {
			continue
		}
		matches = append(matches, c)
	}

	switch len(matches) {
	case 0:
		return model.MemberCoverage{}, model.NewFault(model.ReasonNotEligible,
			"member %s has no active %s coverage on %s", memberID, categoryLabel(category), serviceDate)
	case 1:
		return matches[0], nil
	default:
		return model.MemberCoverage{}, model.NewFault(model.ReasonAmbiguousCoverage,
			"member %s has %d active coverages on %s (plans %s, %s)",
			memberID, len(matches), serviceDate, matches[0].PlanID, matches[1].PlanID)
	}
}

func categoryLabel(c model.BenefitCategory) string {
	if c == "" {
		return "any"
	}
	return string(c)
}

type coverageFile struct {
	Coverages []model.MemberCoverage `yaml:"coverages"`
}

// LoadCoverageFile reads coverage records from a YAML fixture or export.
func LoadCoverageFile(path string) ([]model.MemberCoverage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "eligibility: read %s", path)
	}
	var f coverageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "eligibility: parse %s", path)
	}
	for i, c := range f.Coverages {
		if c.MemberID == "" || c.PlanID == "" {
			return nil, eris.Errorf("eligibility: coverage %d: member_id and plan_id are required", i)
		}
		if c.CoverageStart.IsZero() {
			return nil, eris.Errorf("eligibility: coverage %d: coverage_start is required", i)
		}
		if c.Status == "" {
			f.Coverages[i].Status = model.CoverageActive
		}
	}
	return f.Coverages, nil
}
