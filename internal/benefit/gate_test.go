package benefit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
)

func datePtr(s string) *model.Date {
	d := model.MustDate(s)
	return &d
}

func TestGate(t *testing.T) {
	cov := model.MemberCoverage{MemberID: "M1", PlanID: "GOLD", CoverageStart: model.MustDate("2024-01-01"), Status: model.CoverageActive}

	covered := Resolved{Rule: rule("CONS-GP", plan.PerYear(100)), RequestedCode: "CONS-GP"}

	waiting := covered
	waiting.Rule.WaitingPeriodDays = 30

	excluded := Resolved{Rule: rule("COSMETIC", plan.NotCovered()), RequestedCode: "COSMETIC"}

	auth := covered
	auth.Rule.RequiresAuthorization = true

	pre := covered
	pre.Rule.Window = plan.Window{Kind: plan.WindowPre, Days: 30, Anchor: plan.AnchorAdmission}

	withAdmission := func(l model.ClaimLine, adm string) model.ClaimLine {
		l.AdmissionDate = datePtr(adm)
		return l
	}
	withAuth := func(l model.ClaimLine) model.ClaimLine {
		l.AuthorizationRef = "AUTH-1"
		return l
	}

	tests := []struct {
		name     string
		res      Resolved
		line     model.ClaimLine
		want     Decision
		wantCode model.ReasonCode
	}{
		{"covered", covered, lineOn("CONS-GP", "2024-03-01"), DecisionCovered, ""},
		{"inside waiting period", waiting, lineOn("CONS-GP", "2024-01-30"), "", model.ReasonWaitingPeriod},
		{"waiting period served", waiting, lineOn("CONS-GP", "2024-01-31"), DecisionCovered, ""},
		{"not covered", excluded, lineOn("COSMETIC", "2024-03-01"), DecisionNotCovered, ""},
		{"needs authorization", auth, lineOn("CONS-GP", "2024-03-01"), DecisionRequiresAuth, ""},
		{"authorization supplied", auth, withAuth(lineOn("CONS-GP", "2024-03-01")), DecisionCovered, ""},
		{"window missing anchor", pre, lineOn("CONS-GP", "2024-03-01"), "", model.ReasonMissingAnchorDate},
		{"inside pre window", pre, withAdmission(lineOn("CONS-GP", "2024-03-01"), "2024-03-31"), DecisionCovered, ""},
		{"before pre window", pre, withAdmission(lineOn("CONS-GP", "2024-02-29"), "2024-03-31"), "", model.ReasonOutsideWindow},
		{"after anchor in pre window", pre, withAdmission(lineOn("CONS-GP", "2024-04-01"), "2024-03-31"), "", model.ReasonOutsideWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.res.Gate(tt.line, cov)
			if tt.wantCode != "" {
				require.Error(t, err)
				f, ok := model.AsFault(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, f.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
