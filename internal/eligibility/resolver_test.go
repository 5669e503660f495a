package eligibility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/model"
)

type staticSource map[string][]model.MemberCoverage

func (s staticSource) MemberCoverages(_ context.Context, memberID string) ([]model.MemberCoverage, error) {
	return s[memberID], nil
}

type failingSource struct{}

func (failingSource) MemberCoverages(context.Context, string) ([]model.MemberCoverage, error) {
	return nil, errors.New("connection refused")
}

func cov(member, plan, start, end string, status model.CoverageStatus) model.MemberCoverage {
	c := model.MemberCoverage{
		MemberID:      member,
		PlanID:        plan,
		CoverageStart: model.MustDate(start),
		Status:        status,
	}
	if end != "" {
		c.CoverageEnd = model.MustDate(end)
	}
	return c
}

func TestResolve(t *testing.T) {
	dental := cov("M3", "DENTAL", "2024-01-01", "", model.CoverageActive)
	dental.Categories = []model.BenefitCategory{model.CategoryDental}

	src := staticSource{
		"M1": {
			cov("M1", "OLD", "2022-01-01", "2023-12-31", model.CoverageActive),
			cov("M1", "GOLD", "2024-01-01", "", model.CoverageActive),
		},
		"M2": {
			cov("M2", "GOLD", "2024-01-01", "", model.CoverageActive),
			cov("M2", "SILVER", "2024-06-01", "", model.CoverageActive),
		},
		"M3": {dental},
		"M4": {cov("M4", "GOLD", "2024-01-01", "", model.CoverageSuspended)},
	}
	r := NewResolver(src)
	ctx := context.Background()

	t.Run("single active match", func(t *testing.T) {
		c, err := r.Resolve(ctx, "M1", model.MustDate("2024-03-01"), model.CategoryOutpatient)
		require.NoError(t, err)
		assert.Equal(t, "GOLD", c.PlanID)
	})

	t.Run("coverage end is inclusive", func(t *testing.T) {
		c, err := r.Resolve(ctx, "M1", model.MustDate("2023-12-31"), "")
		require.NoError(t, err)
		assert.Equal(t, "OLD", c.PlanID)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := r.Resolve(ctx, "NOPE", model.MustDate("2024-03-01"), "")
		assert.ErrorIs(t, err, model.ErrMemberNotFound)
	})

	t.Run("before coverage start", func(t *testing.T) {
		_, err := r.Resolve(ctx, "M1", model.MustDate("2021-06-01"), "")
		assert.ErrorIs(t, err, model.ErrNotEligible)
	})

	t.Run("overlapping active records", func(t *testing.T) {
		_, err := r.Resolve(ctx, "M2", model.MustDate("2024-07-01"), "")
		assert.ErrorIs(t, err, model.ErrAmbiguousCoverage)

		c, err := r.Resolve(ctx, "M2", model.MustDate("2024-02-01"), "")
		require.NoError(t, err)
		assert.Equal(t, "GOLD", c.PlanID)
	})

	t.Run("category not included", func(t *testing.T) {
		_, err := r.Resolve(ctx, "M3", model.MustDate("2024-03-01"), model.CategoryInpatient)
		assert.ErrorIs(t, err, model.ErrNotEligible)

		_, err = r.Resolve(ctx, "M3", model.MustDate("2024-03-01"), model.CategoryDental)
		assert.NoError(t, err)
	})

	t.Run("suspended is not active", func(t *testing.T) {
		_, err := r.Resolve(ctx, "M4", model.MustDate("2024-03-01"), "")
		assert.ErrorIs(t, err, model.ErrNotEligible)
	})
}

func TestResolve_SourceError(t *testing.T) {
	_, err := NewResolver(failingSource{}).Resolve(context.Background(), "M1", model.MustDate("2024-01-01"), "")
	require.Error(t, err)
	_, isFault := model.AsFault(err)
	assert.False(t, isFault)
}

func TestLoadCoverageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.yaml")
	data := `
coverages:
  - member_id: M1
    plan_id: GOLD
    coverage_start: 2024-01-01
    network_status: in_network
  - member_id: M2
    plan_id: SILVER
    coverage_start: 2024-01-01
    coverage_end: 2024-12-31
    status: terminated
    categories: [dental, optical]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	covs, err := LoadCoverageFile(path)
	require.NoError(t, err)
	require.Len(t, covs, 2)
	assert.Equal(t, model.CoverageActive, covs[0].Status)
	assert.True(t, covs[0].CoverageEnd.IsZero())
	assert.Equal(t, model.CoverageTerminated, covs[1].Status)
	assert.Equal(t, []model.BenefitCategory{model.CategoryDental, model.CategoryOptical}, covs[1].Categories)
}
