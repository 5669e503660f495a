package plan

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/benefit-engine/internal/model"
)

// File is the on-disk plan configuration.
type File struct {
	Plans []PlanConfig `yaml:"plans"`
}

// PlanConfig groups the benefits of one plan. Dates set here are inherited
// by benefits that leave them empty.
type PlanConfig struct {
	PlanID         string          `yaml:"plan_id"`
	EffectiveDate  model.Date      `yaml:"effective_date"`
	ExpirationDate model.Date      `yaml:"expiration_date"`
	Benefits       []BenefitConfig `yaml:"benefits"`
}

// BenefitConfig is one benefit entry. Either Limit or the legacy Option
// string must be given, not both.
type BenefitConfig struct {
	Code                  string      `yaml:"code"`
	Option                string      `yaml:"option"`
	Limit                 *Limit      `yaml:"limit"`
	Amount                model.Money `yaml:"amount"`
	MaxDays               int         `yaml:"max_days"`
	AggregateCap          model.Money `yaml:"aggregate_cap"`
	Scope                 Scope       `yaml:"scope"`
	Deductible            model.Money `yaml:"deductible"`
	CoinsurancePct        string      `yaml:"coinsurance_pct"`
	Copay                 model.Money `yaml:"copay"`
	Window                *Window     `yaml:"window"`
	RequiresAuthorization bool        `yaml:"requires_authorization"`
	WaitingPeriodDays     int         `yaml:"waiting_period_days"`
	EffectiveDate         model.Date  `yaml:"effective_date"`
	ExpirationDate        model.Date  `yaml:"expiration_date"`
}

// LoadFile reads and validates a plan configuration file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "plan: read config %s", path)
	}
	return Parse(data)
}

// Parse decodes plan configuration YAML into validated rules.
func Parse(data []byte) ([]Rule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "plan: parse config")
	}

	var rules []Rule
	for _, p := range f.Plans {
		if p.PlanID == "" {
			return nil, eris.New("plan: plan_id is required")
		}
		for _, b := range p.Benefits {
			r, err := b.toRule(p)
			if err != nil {
				return nil, eris.Wrapf(err, "plan %s benefit %s", p.PlanID, b.Code)
			}
			rules = append(rules, r)
		}
	}

	if err := ValidateSet(rules); err != nil {
		return nil, eris.Wrap(err, "plan: validate")
	}
	return rules, nil
}

func (b BenefitConfig) toRule(p PlanConfig) (Rule, error) {
	r := Rule{
		PlanID:                p.PlanID,
		BenefitCode:           b.Code,
		Scope:                 b.Scope,
		RequiresAuthorization: b.RequiresAuthorization,
		WaitingPeriodDays:     b.WaitingPeriodDays,
		EffectiveDate:         b.EffectiveDate,
		ExpirationDate:        b.ExpirationDate,
		CostShare: CostShare{
			Deductible: b.Deductible,
			Copay:      b.Copay,
		},
	}
	if r.EffectiveDate.IsZero() {
		r.EffectiveDate = p.EffectiveDate
	}
	if r.ExpirationDate.IsZero() {
		r.ExpirationDate = p.ExpirationDate
	}

	if pct := strings.TrimSpace(b.CoinsurancePct); pct != "" {
		d, err := decimal.NewFromString(strings.TrimSuffix(pct, "%"))
		if err != nil {
			return Rule{}, eris.Wrapf(err, "coinsurance_pct %q", b.CoinsurancePct)
		}
		r.CostShare.CoinsurancePct = d
	}

	switch {
	case b.Limit != nil && b.Option != "":
		return Rule{}, eris.New("set either limit or option, not both")
	case b.Limit != nil:
		r.Limit = *b.Limit
	case b.Option != "":
		opt, err := ParseOption(b.Option)
		if err != nil {
			return Rule{}, err
		}
		r.Limit = Limit{Kind: opt.Kind, ParentCode: opt.ParentCode}
		switch opt.Kind {
		case LimitPerVisit, LimitPerYear, LimitPerCase:
			r.Limit.Amount = b.Amount
			r.Limit.AggregateCap = b.AggregateCap
		case LimitPerDay:
			r.Limit.Amount = b.Amount
			r.Limit.MaxDays = b.MaxDays
			r.Limit.AggregateCap = b.AggregateCap
		}
		r.Window = opt.Window
	default:
		return Rule{}, eris.New("limit or option is required")
	}

	if b.Window != nil {
		if r.Window.Active() {
			return Rule{}, eris.New("window given both in option text and window block")
		}
		r.Window = *b.Window
	}
	if r.Window.Active() && r.Window.Anchor == "" {
		r.Window.Anchor = AnchorAdmission
	}
	return r, nil
}
