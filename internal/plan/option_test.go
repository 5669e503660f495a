package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOption(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Option
	}{
		{"per year", "covered per year", Option{Kind: LimitPerYear}},
		{"per visit mixed case", "Covered Per Visit", Option{Kind: LimitPerVisit}},
		{"per day", "covered per day", Option{Kind: LimitPerDay}},
		{"not covered", "not covered", Option{Kind: LimitNotCovered}},
		{
			"pre window",
			"covered per year - pre_pra: 30days",
			Option{Kind: LimitPerYear, Window: Window{Kind: WindowPre, Days: 30, Anchor: AnchorAdmission}},
		},
		{
			"post window anchors on discharge",
			"covered per case - post: 60 days",
			Option{Kind: LimitPerCase, Window: Window{Kind: WindowPost, Days: 60, Anchor: AnchorDischarge}},
		},
		{
			"pre and post",
			"covered per year -  pre_and_post:14d",
			Option{Kind: LimitPerYear, Window: Window{Kind: WindowPreAndPost, Days: 14, Anchor: AnchorAdmission}},
		},
		{"covered in parent", "covered in IP-RB", Option{Kind: LimitCoveredInOther, ParentCode: "IP-RB"}},
		{"covered in other benefit", "covered in other benefit: SURG_MAJOR", Option{Kind: LimitCoveredInOther, ParentCode: "SURG_MAJOR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOption(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOption_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"covered sometimes",
		"covered per year - during: 30days",
		"covered per year - pre: 0days",
		"covered in other",
	} {
		_, err := ParseOption(in)
		assert.Error(t, err, in)
	}
}
