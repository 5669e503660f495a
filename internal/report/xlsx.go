// Package report exports adjudication results as spreadsheets.
package report

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"

	"github.com/sells-group/benefit-engine/internal/model"
)

// Sheet names.
const (
	SheetLines  = "Lines"
	SheetClaims = "Claims"
)

var lineHeader = []string{
	"claim_id", "claim_line_id", "member_id", "benefit_code", "outcome", "reason_code",
	"charged", "approved", "member_responsibility",
	"deductible", "limit_excess", "coinsurance", "copay",
	"accumulator_key", "adjudicated_at", "detail",
}

var claimHeader = []string{
	"claim_id", "member_id", "outcome", "lines", "total_charged", "total_approved", "total_member_responsibility",
}

// Options controls the export.
type Options struct {
	// Locale selects digit grouping for the display amounts on the claims
	// sheet. Line amounts stay numeric.
	Locale string
}

// WriteResults writes results to w as an XLSX workbook with one row per
// line and one row per claim.
func WriteResults(w io.Writer, results []model.AdjudicationResult, opts Options) error {
	tag := language.English
	if opts.Locale != "" {
		t, err := language.Parse(opts.Locale)
		if err != nil {
			return eris.Wrapf(err, "report: parse locale %q", opts.Locale)
		}
		tag = t
	}

	f := xlsx.NewFile()
	lines, err := f.AddSheet(SheetLines)
	if err != nil {
		return eris.Wrap(err, "report: add lines sheet")
	}
	addHeader(lines, lineHeader)
	for _, r := range results {
		row := lines.AddRow()
		addStrings(row, r.ClaimID, r.ClaimLineID, r.MemberID, r.BenefitCode, string(r.Outcome), string(r.ReasonCode))
		addMoney(row, r.ChargedAmount, r.ApprovedAmount, r.MemberResponsibility,
			r.MemberShare.Deductible, r.MemberShare.LimitExcess, r.MemberShare.Coinsurance, r.MemberShare.Copay)
		adjudicated := ""
		if !r.AdjudicatedAt.IsZero() {
			adjudicated = r.AdjudicatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		addStrings(row, r.AccumulatorKey, adjudicated, r.Detail)
	}

	claims, err := f.AddSheet(SheetClaims)
	if err != nil {
		return eris.Wrap(err, "report: add claims sheet")
	}
	addHeader(claims, claimHeader)
	for _, c := range summarize(results) {
		row := claims.AddRow()
		addStrings(row, c.ClaimID, c.MemberID, string(c.Outcome))
		row.AddCell().SetInt(len(c.Lines))
		addStrings(row,
			c.TotalCharged.Format(tag),
			c.TotalApproved.Format(tag),
			c.TotalMemberResponsibility.Format(tag),
		)
	}

	return eris.Wrap(f.Write(w), "report: write workbook")
}

// summarize groups results by claim in claim id order.
func summarize(results []model.AdjudicationResult) []model.ClaimResult {
	byClaim := map[string][]model.AdjudicationResult{}
	members := map[string]string{}
	for _, r := range results {
		byClaim[r.ClaimID] = append(byClaim[r.ClaimID], r)
		members[r.ClaimID] = r.MemberID
	}
	ids := make([]string, 0, len(byClaim))
	for id := range byClaim {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.ClaimResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Summarize(id, members[id], byClaim[id]))
	}
	return out
}

func addHeader(sheet *xlsx.Sheet, cols []string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

func addStrings(row *xlsx.Row, vals ...string) {
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func addMoney(row *xlsx.Row, vals ...model.Money) {
	for _, v := range vals {
		row.AddCell().SetInt64(int64(v))
	}
}
