package detection

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"subscan/internal/core"
)

//go:embed rules/default.yaml
var defaultRulesYAML []byte

// BaseMode selects how the observation count turns into base confidence.
type BaseMode string

const (
	// BaseLinear awards PerObservation points per matching charge, capped at Max.
	BaseLinear BaseMode = "linear"
	// BaseTiered awards the points of the highest tier whose MinCount is reached.
	BaseTiered BaseMode = "tiered"
)

type (
	// Rules is the complete configuration of the detection engine.
	Rules struct {
		Blacklist           []string
		Whitelist           []WhitelistEntry
		CycleBands          []CycleBand
		AmountRange         AmountRange
		PlausibleRange      AmountRange
		Weights             Weights
		AcceptanceThreshold int
		Incoming            IncomingSignals
	}

	// WhitelistEntry boosts merchants whose key contains Keyword. When the key
	// equals Keyword exactly and Override is set, the score is raised to Override.
	WhitelistEntry struct {
		Keyword  string
		Bonus    int
		Override int
	}

	// CycleBand maps an inclusive range of average interval days to a cycle.
	CycleBand struct {
		Cycle   core.BillingCycle
		MinDays float64
		MaxDays float64
	}

	AmountRange struct {
		Min decimal.Decimal
		Max decimal.Decimal
	}

	Weights struct {
		Base                 BaseWeighting
		CycleBonus           map[core.BillingCycle]int
		PlausibleAmountBonus int
	}

	BaseWeighting struct {
		Mode           BaseMode
		PerObservation int
		Max            int
		Tiers          []Tier
	}

	Tier struct {
		MinCount int
		Points   int
	}

	// IncomingSignals lists the aggregator attributes that mark money coming in.
	IncomingSignals struct {
		TypeCodeKeys      []string
		IncomingTypeCodes []string
		DebtorAccountKeys []string
	}
)

// Contains reports whether d lies in the inclusive range.
func (r AmountRange) Contains(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(r.Min) && d.LessThanOrEqual(r.Max)
}

// yaml representation; pointers and strings let us tell "missing" from "zero".
type (
	rulesFile struct {
		Blacklist           []string         `yaml:"blacklist"`
		Whitelist           []whitelistFile  `yaml:"whitelist"`
		CycleBands          []cycleBandFile  `yaml:"cycle_bands"`
		AmountRange         *amountRangeFile `yaml:"amount_range"`
		PlausibleRange      *amountRangeFile `yaml:"plausible_range"`
		Weights             weightsFile      `yaml:"weights"`
		AcceptanceThreshold *int             `yaml:"acceptance_threshold"`
		Incoming            incomingFile     `yaml:"incoming"`
	}

	whitelistFile struct {
		Keyword  string `yaml:"keyword"`
		Bonus    int    `yaml:"bonus"`
		Override int    `yaml:"override"`
	}

	cycleBandFile struct {
		Cycle   string  `yaml:"cycle"`
		MinDays float64 `yaml:"min_days"`
		MaxDays float64 `yaml:"max_days"`
	}

	amountRangeFile struct {
		Min string `yaml:"min"`
		Max string `yaml:"max"`
	}

	weightsFile struct {
		Base struct {
			Mode           string `yaml:"mode"`
			PerObservation int    `yaml:"per_observation"`
			Max            int    `yaml:"max"`
			Tiers          []struct {
				MinCount int `yaml:"min_count"`
				Points   int `yaml:"points"`
			} `yaml:"tiers"`
		} `yaml:"base"`
		CycleBonus           map[string]int `yaml:"cycle_bonus"`
		PlausibleAmountBonus int            `yaml:"plausible_amount_bonus"`
	}

	incomingFile struct {
		TypeCodeKeys      []string `yaml:"type_code_keys"`
		IncomingTypeCodes []string `yaml:"incoming_type_codes"`
		DebtorAccountKeys []string `yaml:"debtor_account_keys"`
	}
)

// DefaultRules returns the rules shipped with the binary.
func DefaultRules() (Rules, error) {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		return Rules{}, fmt.Errorf("parse embedded rules: %w", err)
	}
	return r, nil
}

// LoadRules reads a YAML rules file. An empty path loads the embedded defaults.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes and validates YAML rules.
func ParseRules(data []byte) (Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, fmt.Errorf("decode yaml: %w", err)
	}

	var problems []string
	r := Rules{
		Blacklist: f.Blacklist,
		Incoming: IncomingSignals{
			TypeCodeKeys:      f.Incoming.TypeCodeKeys,
			IncomingTypeCodes: f.Incoming.IncomingTypeCodes,
			DebtorAccountKeys: f.Incoming.DebtorAccountKeys,
		},
		Weights: Weights{
			Base: BaseWeighting{
				Mode:           BaseMode(strings.ToLower(strings.TrimSpace(f.Weights.Base.Mode))),
				PerObservation: f.Weights.Base.PerObservation,
				Max:            f.Weights.Base.Max,
			},
			CycleBonus:           make(map[core.BillingCycle]int),
			PlausibleAmountBonus: f.Weights.PlausibleAmountBonus,
		},
	}

	if f.AcceptanceThreshold == nil {
		problems = append(problems, "acceptance_threshold is required")
	} else {
		r.AcceptanceThreshold = *f.AcceptanceThreshold
	}

	for _, w := range f.Whitelist {
		r.Whitelist = append(r.Whitelist, WhitelistEntry(w))
	}

	for _, b := range f.CycleBands {
		c, err := core.ParseBillingCycle(b.Cycle)
		if err != nil || c == core.NoCycle {
			problems = append(problems, fmt.Sprintf("cycle band has unknown cycle '%s'", b.Cycle))
			continue
		}
		r.CycleBands = append(r.CycleBands, CycleBand{Cycle: c, MinDays: b.MinDays, MaxDays: b.MaxDays})
	}

	for _, t := range f.Weights.Base.Tiers {
		r.Weights.Base.Tiers = append(r.Weights.Base.Tiers, Tier{MinCount: t.MinCount, Points: t.Points})
	}

	for name, bonus := range f.Weights.CycleBonus {
		c, err := core.ParseBillingCycle(name)
		if err != nil || c == core.NoCycle {
			problems = append(problems, fmt.Sprintf("cycle_bonus has unknown cycle '%s'", name))
			continue
		}
		r.Weights.CycleBonus[c] = bonus
	}

	var err error
	if r.AmountRange, err = parseRange("amount_range", f.AmountRange); err != nil {
		problems = append(problems, err.Error())
	}
	if r.PlausibleRange, err = parseRange("plausible_range", f.PlausibleRange); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return Rules{}, fmt.Errorf("rules validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func parseRange(name string, f *amountRangeFile) (AmountRange, error) {
	if f == nil {
		return AmountRange{}, fmt.Errorf("%s is required", name)
	}
	lo, err := decimal.NewFromString(strings.TrimSpace(f.Min))
	if err != nil {
		return AmountRange{}, fmt.Errorf("%s.min '%s' is not a decimal", name, f.Min)
	}
	hi, err := decimal.NewFromString(strings.TrimSpace(f.Max))
	if err != nil {
		return AmountRange{}, fmt.Errorf("%s.max '%s' is not a decimal", name, f.Max)
	}
	return AmountRange{Min: lo, Max: hi}, nil
}

// Validate checks the rules and returns every problem found in one error.
func (r Rules) Validate() error {
	var problems []string

	if r.AcceptanceThreshold < 1 || r.AcceptanceThreshold > 100 {
		problems = append(problems, fmt.Sprintf("invalid acceptance threshold %d: must be between 1 and 100", r.AcceptanceThreshold))
	}

	if len(nonBlank(r.Blacklist)) == 0 {
		problems = append(problems, "blacklist cannot be empty")
	}
	if len(r.Whitelist) == 0 {
		problems = append(problems, "whitelist cannot be empty")
	}
	for i, w := range r.Whitelist {
		if MerchantKey(w.Keyword) == "" {
			problems = append(problems, fmt.Sprintf("whitelist entry %d has an empty keyword", i))
		}
		if w.Bonus < 0 {
			problems = append(problems, fmt.Sprintf("whitelist entry '%s' has negative bonus %d", w.Keyword, w.Bonus))
		}
		if w.Override < 0 || w.Override > 100 {
			problems = append(problems, fmt.Sprintf("whitelist entry '%s' has override %d outside 0-100", w.Keyword, w.Override))
		}
	}

	problems = append(problems, validateBands(r.CycleBands)...)
	problems = append(problems, validateRange("amount range", r.AmountRange)...)
	problems = append(problems, validateRange("plausible range", r.PlausibleRange)...)

	switch r.Weights.Base.Mode {
	case BaseLinear:
		if r.Weights.Base.PerObservation < 0 {
			problems = append(problems, "base per_observation cannot be negative")
		}
		if r.Weights.Base.Max < 1 {
			problems = append(problems, "base max must be at least 1 for linear weighting")
		}
	case BaseTiered:
		if len(r.Weights.Base.Tiers) == 0 {
			problems = append(problems, "tiered base weighting needs at least one tier")
		}
		for i := 1; i < len(r.Weights.Base.Tiers); i++ {
			prev, cur := r.Weights.Base.Tiers[i-1], r.Weights.Base.Tiers[i]
			if cur.MinCount <= prev.MinCount {
				problems = append(problems, "base tiers must be sorted by strictly increasing min_count")
				break
			}
			if cur.Points < prev.Points {
				problems = append(problems, "base tier points must not decrease as min_count grows")
				break
			}
		}
		for _, t := range r.Weights.Base.Tiers {
			if t.Points < 0 {
				problems = append(problems, fmt.Sprintf("base tier for %d observations has negative points", t.MinCount))
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid base weighting mode '%s': must be one of [linear tiered]", r.Weights.Base.Mode))
	}

	for c, bonus := range r.Weights.CycleBonus {
		if bonus < 0 {
			problems = append(problems, fmt.Sprintf("cycle bonus for %s cannot be negative", c))
		}
	}
	if r.Weights.PlausibleAmountBonus < 0 {
		problems = append(problems, "plausible amount bonus cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("rules validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func validateBands(bands []CycleBand) []string {
	if len(bands) == 0 {
		return []string{"at least one cycle band is required"}
	}
	var problems []string
	seen := make(map[core.BillingCycle]bool)
	for _, b := range bands {
		if !b.Cycle.IsValid() {
			problems = append(problems, fmt.Sprintf("cycle band has invalid cycle '%s'", b.Cycle))
		}
		if seen[b.Cycle] {
			problems = append(problems, fmt.Sprintf("duplicate cycle band for %s", b.Cycle))
		}
		seen[b.Cycle] = true
		if b.MinDays <= 0 || b.MaxDays < b.MinDays {
			problems = append(problems, fmt.Sprintf("cycle band %s has invalid days %v-%v", b.Cycle, b.MinDays, b.MaxDays))
		}
	}

	sorted := append([]CycleBand(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinDays < sorted[j].MinDays })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinDays <= sorted[i-1].MaxDays {
			problems = append(problems, fmt.Sprintf("cycle bands %s and %s overlap", sorted[i-1].Cycle, sorted[i].Cycle))
		}
	}
	return problems
}

func validateRange(name string, r AmountRange) []string {
	if !r.Min.IsPositive() {
		return []string{fmt.Sprintf("%s minimum must be positive", name)}
	}
	if r.Max.LessThanOrEqual(r.Min) {
		return []string{fmt.Sprintf("%s maximum %s must be greater than minimum %s", name, r.Max, r.Min)}
	}
	return nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if MerchantKey(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
