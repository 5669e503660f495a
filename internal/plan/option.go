package plan

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Option is the typed form of a legacy free-text benefit option such as
// "covered per year - pre_pra: 30days". Amounts are not part of the text;
// they come from the structured fields next to it.
type Option struct {
	Kind       LimitKind
	Window     Window
	ParentCode string
}

var (
	coveredPerRe = regexp.MustCompile(`^covered per (visit|year|case|day)(?:\s*-\s*([a-z_]+)\s*:\s*(\d+)\s*(?:days?|d))?$`)
	coveredInRe  = regexp.MustCompile(`(?i)^covered (?:in|under)(?: other(?: benefit)?)?\s*[:\-]?\s*([A-Za-z0-9_\-]+)$`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

var unitKinds = map[string]LimitKind{
	"visit": LimitPerVisit,
	"year":  LimitPerYear,
	"case":  LimitPerCase,
	"day":   LimitPerDay,
}

var windowTokens = map[string]WindowKind{
	"pre":          WindowPre,
	"pra":          WindowPre,
	"pre_pra":      WindowPre,
	"post":         WindowPost,
	"pasca":        WindowPost,
	"post_pasca":   WindowPost,
	"pre_post":     WindowPreAndPost,
	"pre_and_post": WindowPreAndPost,
	"pra_pasca":    WindowPreAndPost,
}

// ParseOption converts a legacy option string. It runs once, at
// configuration load; evaluation only ever sees the typed Rule.
func ParseOption(text string) (Option, error) {
	raw := strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	norm := strings.ToLower(raw)

	switch norm {
	case "":
		return Option{}, eris.New("option: empty")
	case "not covered", "excluded":
		return Option{Kind: LimitNotCovered}, nil
	}

	if m := coveredInRe.FindStringSubmatch(raw); m != nil {
		if strings.EqualFold(m[1], "other") {
			return Option{}, eris.Errorf("option: %q names no parent benefit", text)
		}
		return Option{Kind: LimitCoveredInOther, ParentCode: m[1]}, nil
	}

	m := coveredPerRe.FindStringSubmatch(norm)
	if m == nil {
		return Option{}, eris.Errorf("option: unrecognised %q", text)
	}
	opt := Option{Kind: unitKinds[m[1]]}
	if m[2] == "" {
		return opt, nil
	}

	wk, ok := windowTokens[m[2]]
	if !ok {
		return Option{}, eris.Errorf("option: unknown window %q in %q", m[2], text)
	}
	days, err := strconv.Atoi(m[3])
	if err != nil || days <= 0 {
		return Option{}, eris.Errorf("option: invalid window length in %q", text)
	}
	opt.Window = Window{Kind: wk, Days: days, Anchor: AnchorAdmission}
	if wk == WindowPost {
		opt.Window.Anchor = AnchorDischarge
	}
	return opt, nil
}
