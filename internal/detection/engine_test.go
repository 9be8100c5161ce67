package detection

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"subscan/internal/core"
)

func tx(merchant, amount string, date time.Time) core.Transaction {
	return core.Transaction{
		MerchantName: merchant,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "eur",
		BookingDate:  date,
	}
}

// every returns n charges of amount, step days apart, starting at start.
func every(merchant, amount string, start time.Time, stepDays, n int) []core.Transaction {
	out := make([]core.Transaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tx(merchant, amount, start.AddDate(0, 0, i*stepDays)))
	}
	return out
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("default rules: %v", err)
	}
	e, err := NewEngine(rules)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func findRejection(rep Report, key string) (Rejection, bool) {
	for _, r := range rep.Rejections {
		if r.MerchantKey == key {
			return r, true
		}
	}
	return Rejection{}, false
}

func TestScanExampleScenarios(t *testing.T) {
	e := mustEngine(t)

	salary := tx("", "2500.00", core.NewDate(2024, 1, 25))
	salary.DebtorName = "Employer BV"

	var txs []core.Transaction
	txs = append(txs,
		tx("Netflix", "-9.99", core.NewDate(2024, 1, 5)),
		tx("Netflix", "-9.99", core.NewDate(2024, 2, 4)),
		tx("Netflix", "-9.99", core.NewDate(2024, 3, 6)),
		tx("Albert Heijn 1234", "-12.34", core.NewDate(2024, 1, 3)),
		tx("Albert Heijn 1234", "-45.67", core.NewDate(2024, 1, 9)),
		tx("Albert Heijn 1234", "-23.10", core.NewDate(2024, 1, 15)),
		tx("Albert Heijn 1234", "-8.90", core.NewDate(2024, 1, 21)),
		tx("Albert Heijn 1234", "-56.00", core.NewDate(2024, 1, 28)),
		tx("PostNL", "-6.50", core.NewDate(2024, 2, 1)),
		salary,
	)
	txs = append(txs, every("Spotify", "-4.99", core.NewDate(2024, 1, 10), 30, 4)...)

	rep := e.Scan(txs)

	if len(rep.Subscriptions) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d: %+v", len(rep.Subscriptions), rep.Subscriptions)
	}

	netflix := rep.Subscriptions[0]
	if netflix.MerchantName != "Netflix" || netflix.Amount.StringFixed(2) != "9.99" {
		t.Fatalf("unexpected first subscription: %+v", netflix)
	}
	if netflix.BillingCycle != core.Monthly {
		t.Errorf("netflix cycle = %s, want monthly", netflix.BillingCycle)
	}
	if netflix.Confidence < 90 {
		t.Errorf("netflix confidence = %d, want >= 90", netflix.Confidence)
	}
	if netflix.TransactionCount != 3 {
		t.Errorf("netflix count = %d", netflix.TransactionCount)
	}
	if !netflix.LastChargeDate.Equal(core.NewDate(2024, 3, 6)) {
		t.Errorf("netflix last charge = %s", netflix.LastChargeDate)
	}
	if !netflix.NextChargeDate.Equal(core.NewDate(2024, 4, 6)) {
		t.Errorf("netflix next charge = %s", netflix.NextChargeDate)
	}
	if netflix.Currency != "EUR" {
		t.Errorf("currency = %q", netflix.Currency)
	}

	spotify := rep.Subscriptions[1]
	if spotify.MerchantName != "Spotify" || spotify.BillingCycle != core.Monthly {
		t.Fatalf("unexpected second subscription: %+v", spotify)
	}
	if spotify.Confidence != 100 {
		t.Errorf("spotify confidence = %d, want 100 from whitelist", spotify.Confidence)
	}

	if r, ok := findRejection(rep, "albert heijn 1234"); !ok || r.Reason != ReasonNoRecurringAmount {
		t.Errorf("albert heijn rejection = %+v, %v", r, ok)
	}
	if r, ok := findRejection(rep, "postnl"); !ok || r.Reason != ReasonTooFewTransactions {
		t.Errorf("postnl rejection = %+v, %v", r, ok)
	}
	if _, ok := findRejection(rep, "employer bv"); ok {
		t.Errorf("incoming salary must not form a group")
	}

	want := core.ScanStats{
		TransactionsSeen: 14,
		Outgoing:         13,
		IncomingDropped:  1,
		GroupsFormed:     4,
		GroupsRejected:   2,
	}
	if rep.Stats != want {
		t.Errorf("stats = %+v, want %+v", rep.Stats, want)
	}
}

func TestScanCycleBands(t *testing.T) {
	e := mustEngine(t)
	start := core.NewDate(2021, 6, 1)

	tests := []struct {
		name      string
		step      int
		count     int
		wantCycle core.BillingCycle
		wantOK    bool
	}{
		{"weekly", 7, 3, core.Weekly, true},
		{"monthly", 30, 3, core.Monthly, true},
		{"quarterly", 91, 3, core.Quarterly, true},
		{"yearly", 365, 3, core.Yearly, true},
		{"forty five days", 45, 3, core.NoCycle, false},
		{"fortnightly", 14, 4, core.NoCycle, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := e.Scan(every("Gym Club", "-25.00", start, tt.step, tt.count))
			if !tt.wantOK {
				if len(rep.Subscriptions) != 0 {
					t.Fatalf("expected no subscription, got %+v", rep.Subscriptions)
				}
				r, ok := findRejection(rep, "gym club")
				if !ok || r.Reason != ReasonNoBillingCycle {
					t.Fatalf("rejection = %+v, %v", r, ok)
				}
				return
			}
			if len(rep.Subscriptions) != 1 {
				t.Fatalf("expected one subscription, rejections=%+v", rep.Rejections)
			}
			if got := rep.Subscriptions[0].BillingCycle; got != tt.wantCycle {
				t.Fatalf("cycle = %s, want %s", got, tt.wantCycle)
			}
		})
	}
}

func TestScanRejections(t *testing.T) {
	e := mustEngine(t)
	start := core.NewDate(2024, 1, 1)

	tests := []struct {
		name   string
		txs    []core.Transaction
		key    string
		reason Reason
	}{
		{
			name:   "blacklisted despite perfect pattern",
			txs:    every("Shell Station 12", "-50.00", start, 30, 4),
			key:    "shell station 12",
			reason: ReasonBlacklisted,
		},
		{
			name:   "amount above range",
			txs:    every("Landlord Rent", "-750.00", start, 30, 4),
			key:    "landlord rent",
			reason: ReasonAmountOutOfRange,
		},
		{
			name:   "blacklist checked before amount range",
			txs:    every("Parking Meter App", "-1.50", start, 30, 4),
			key:    "parking meter app",
			reason: ReasonBlacklisted,
		},
		{
			name:   "tiny amount not blacklisted",
			txs:    every("Coin Jar", "-1.50", start, 30, 4),
			key:    "coin jar",
			reason: ReasonAmountOutOfRange,
		},
		{
			name:   "below threshold",
			txs:    every("Cloud Backup", "-3.00", core.NewDate(2023, 3, 1), 366, 2),
			key:    "cloud backup",
			reason: ReasonBelowThreshold,
		},
		{
			name:   "single charge",
			txs:    every("Magazine", "-7.00", start, 30, 1),
			key:    "magazine",
			reason: ReasonTooFewTransactions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := e.Scan(tt.txs)
			if len(rep.Subscriptions) != 0 {
				t.Fatalf("expected rejection, got %+v", rep.Subscriptions)
			}
			r, ok := findRejection(rep, tt.key)
			if !ok {
				t.Fatalf("no rejection for %q: %+v", tt.key, rep.Rejections)
			}
			if r.Reason != tt.reason {
				t.Fatalf("reason = %s, want %s (%s)", r.Reason, tt.reason, r.Detail)
			}
		})
	}
}

func TestScanWeeklyAtThreshold(t *testing.T) {
	e := mustEngine(t)
	// 3 observations (30) + weekly (10) + plausible amount (10) = 50
	rep := e.Scan(every("Meal Kit", "-25.00", core.NewDate(2024, 5, 6), 7, 3))
	if len(rep.Subscriptions) != 1 {
		t.Fatalf("expected acceptance at the threshold, rejections=%+v", rep.Rejections)
	}
	if got := rep.Subscriptions[0].Confidence; got != 50 {
		t.Fatalf("confidence = %d, want 50", got)
	}
}

func TestIncomingExclusion(t *testing.T) {
	e := mustEngine(t)
	start := core.NewDate(2024, 1, 1)

	withDebtor := every("Gym Club", "-25.00", start, 30, 3)
	for i := range withDebtor {
		withDebtor[i].DebtorName = "Jan Jansen"
	}

	typeCoded := every("Gym Club", "-25.00", start, 30, 3)
	for i := range typeCoded {
		typeCoded[i].RawAttributes = map[string]any{"bank_transaction_code": "pmnt-rcdt"}
	}

	debtorAccount := every("Gym Club", "25.00", start, 30, 3)
	for i := range debtorAccount {
		debtorAccount[i].RawAttributes = map[string]any{"debtorAccount": map[string]any{"iban": "NL91ABNA0417164300"}}
	}

	for name, txs := range map[string][]core.Transaction{
		"debtor name":    withDebtor,
		"type code":      typeCoded,
		"debtor account": debtorAccount,
	} {
		t.Run(name, func(t *testing.T) {
			rep := e.Scan(txs)
			if len(rep.Subscriptions) != 0 || len(rep.Rejections) != 0 {
				t.Fatalf("incoming transactions leaked into detection: %+v", rep)
			}
			if rep.Stats.IncomingDropped != 3 {
				t.Fatalf("incoming dropped = %d", rep.Stats.IncomingDropped)
			}
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	e := mustEngine(t)
	d := core.NewDate(2024, 1, 1)

	tests := []struct {
		name string
		tx   core.Transaction
		want Direction
	}{
		{"zero amount", core.Transaction{MerchantName: "x", BookingDate: d}, Malformed},
		{"no date", core.Transaction{MerchantName: "x", Amount: decimal.NewFromInt(-5)}, Malformed},
		{"debtor on positive", core.Transaction{Amount: decimal.NewFromInt(5), BookingDate: d, DebtorName: "Mum"}, Incoming},
		{"debtor on negative", core.Transaction{Amount: decimal.NewFromInt(-5), BookingDate: d, DebtorName: "Mum"}, Incoming},
		{"incoming type code", core.Transaction{Amount: decimal.NewFromInt(-5), BookingDate: d, RawAttributes: map[string]any{"transaction_type": " credit "}}, Incoming},
		{"outgoing type code", core.Transaction{Amount: decimal.NewFromInt(-5), BookingDate: d, RawAttributes: map[string]any{"transaction_type": "DEBIT"}}, Outgoing},
		{"debtor iban on negative", core.Transaction{Amount: decimal.NewFromInt(-5), BookingDate: d, RawAttributes: map[string]any{"debtor_iban": "NL01"}}, Outgoing},
		{"blank debtor iban on positive", core.Transaction{Amount: decimal.NewFromInt(5), BookingDate: d, RawAttributes: map[string]any{"debtor_iban": "  "}}, Outgoing},
		{"plain payment", core.Transaction{Amount: decimal.NewFromInt(-5), BookingDate: d}, Outgoing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Classify(tt.tx); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScanSkipsMalformedAndUnnamed(t *testing.T) {
	e := mustEngine(t)
	txs := every("Gym Club", "-25.00", core.NewDate(2024, 1, 1), 30, 3)
	txs = append(txs,
		core.Transaction{MerchantName: "Gym Club", BookingDate: core.NewDate(2024, 4, 1)},
		core.Transaction{MerchantName: "Gym Club", Amount: decimal.RequireFromString("-25.00")},
		tx("  ", "-25.00", core.NewDate(2024, 4, 2)),
		tx("***", "-25.00", core.NewDate(2024, 4, 3)),
	)

	rep := e.Scan(txs)
	if rep.Stats.SkippedMalformed != 4 {
		t.Fatalf("skipped = %d, want 4", rep.Stats.SkippedMalformed)
	}
	if len(rep.Subscriptions) != 1 || rep.Subscriptions[0].TransactionCount != 3 {
		t.Fatalf("unexpected subscriptions: %+v", rep.Subscriptions)
	}
}

func TestScanCreditorFallbackAndKeyMerge(t *testing.T) {
	e := mustEngine(t)
	a := tx("", "-12.00", core.NewDate(2024, 1, 15))
	a.CreditorName = "Stream-Box BV"
	b := tx("STREAM BOX BV", "-12.00", core.NewDate(2024, 2, 15))
	c := tx(" Stream Box, BV ", "-12.00", core.NewDate(2024, 3, 15))

	subs := e.Detect([]core.Transaction{c, a, b})
	if len(subs) != 1 {
		t.Fatalf("expected one merged subscription, got %+v", subs)
	}
	if subs[0].MerchantKey != "stream box bv" {
		t.Errorf("merchant key = %q", subs[0].MerchantKey)
	}
	if subs[0].MerchantName != "Stream Box, BV" {
		t.Errorf("display name = %q, want the most recent name", subs[0].MerchantName)
	}
	if subs[0].TransactionCount != 3 {
		t.Errorf("count = %d", subs[0].TransactionCount)
	}
}

func TestScanIgnoresTimeOfDay(t *testing.T) {
	e := mustEngine(t)
	cet := time.FixedZone("CET", 3600)
	txs := []core.Transaction{
		tx("Gym Club", "-25.00", time.Date(2024, 1, 1, 23, 59, 0, 0, cet)),
		tx("Gym Club", "-25.00", time.Date(2024, 1, 31, 0, 1, 0, 0, cet)),
		tx("Gym Club", "-25.00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	subs := e.Detect(txs)
	if len(subs) != 1 {
		t.Fatalf("expected one subscription, got %+v", subs)
	}
	if subs[0].AverageIntervalDays != 30 {
		t.Fatalf("average interval = %v, want 30", subs[0].AverageIntervalDays)
	}
	if !subs[0].LastChargeDate.Equal(core.NewDate(2024, 3, 1)) {
		t.Fatalf("last charge = %s", subs[0].LastChargeDate)
	}
}

func TestRecurringAmountMode(t *testing.T) {
	e := mustEngine(t)
	start := core.NewDate(2024, 1, 1)

	// 20.00 and 10.00 both occur twice; the larger wins.
	txs := []core.Transaction{
		tx("Gym Club", "-20.00", start),
		tx("Gym Club", "-10.00", start.AddDate(0, 0, 30)),
		tx("Gym Club", "-10.00", start.AddDate(0, 0, 60)),
		tx("Gym Club", "-20.00", start.AddDate(0, 0, 90)),
		tx("Gym Club", "-7.35", start.AddDate(0, 0, 95)),
	}
	subs := e.Detect(txs)
	if len(subs) != 1 {
		t.Fatalf("expected one subscription, rejections=%+v", e.Scan(txs).Rejections)
	}
	if got := subs[0].Amount.StringFixed(2); got != "20.00" {
		t.Fatalf("amount = %s, want 20.00", got)
	}
	if subs[0].BillingCycle != core.Quarterly || subs[0].TransactionCount != 2 {
		t.Fatalf("unexpected pattern: %+v", subs[0])
	}

	// 9.995 rounds to 10.00 and does not join the 9.99 charges.
	near := []core.Transaction{
		tx("Gym Club", "-9.99", start),
		tx("Gym Club", "-9.995", start.AddDate(0, 0, 15)),
		tx("Gym Club", "-9.99", start.AddDate(0, 0, 30)),
	}
	subs = e.Detect(near)
	if len(subs) != 1 || subs[0].TransactionCount != 2 {
		t.Fatalf("expected the two exact matches only, got %+v", subs)
	}
	if subs[0].AverageIntervalDays != 30 {
		t.Fatalf("interval = %v", subs[0].AverageIntervalDays)
	}
}

func TestWhitelistOverrideNeedsExactKey(t *testing.T) {
	e := mustEngine(t)
	start := core.NewDate(2024, 1, 5)

	exact := e.Detect(every("Netflix", "-9.99", start, 30, 3))
	loose := e.Detect(every("NETFLIX.COM", "-9.99", start, 30, 3))
	if len(exact) != 1 || len(loose) != 1 {
		t.Fatalf("expected both detected: %+v %+v", exact, loose)
	}
	if exact[0].Confidence != 100 {
		t.Errorf("exact confidence = %d, want 100", exact[0].Confidence)
	}
	// 30 base + 30 monthly + 20 keyword + 10 plausible
	if loose[0].Confidence != 90 {
		t.Errorf("substring confidence = %d, want 90", loose[0].Confidence)
	}
}

func TestWhitelistBrandWithPlusSign(t *testing.T) {
	e := mustEngine(t)
	if key := MerchantKey("Disney+"); key != "disney" {
		t.Fatalf("MerchantKey(Disney+) = %q", key)
	}
	subs := e.Detect(every("Disney+", "-11.99", core.NewDate(2024, 1, 8), 30, 3))
	if len(subs) != 1 {
		t.Fatalf("expected Disney+ detected, got %+v", subs)
	}
	if subs[0].Confidence != 100 {
		t.Errorf("confidence = %d, want 100", subs[0].Confidence)
	}
}

func TestYearlyNeedsThreeChargesWithoutWhitelist(t *testing.T) {
	e := mustEngine(t)
	start := core.NewDate(2022, 3, 1)

	// 20 base + 15 yearly + 10 plausible
	if subs := e.Detect(every("Acme Hosting", "-49.00", start, 365, 2)); len(subs) != 0 {
		t.Fatalf("two yearly charges should stay under the threshold: %+v", subs)
	}
	// 30 base + 15 yearly + 10 plausible
	subs := e.Detect(every("Acme Hosting", "-49.00", start, 365, 3))
	if len(subs) != 1 || subs[0].Confidence != 55 {
		t.Fatalf("three yearly charges: %+v", subs)
	}
}

func TestScanIsIdempotentAndDoesNotMutateInput(t *testing.T) {
	e := mustEngine(t)
	var txs []core.Transaction
	txs = append(txs, every("Netflix", "-9.99", core.NewDate(2024, 1, 5), 30, 4)...)
	txs = append(txs, every("Gym Club", "-25.00", core.NewDate(2024, 1, 2), 7, 6)...)
	txs = append(txs, every("Adobe Creative", "-59.99", core.NewDate(2023, 1, 20), 365, 2)...)
	// shuffle the input order
	txs[0], txs[len(txs)-1] = txs[len(txs)-1], txs[0]
	txs[2].RawAttributes = map[string]any{"transaction_type": "DEBIT"}

	before := make([]core.Transaction, len(txs))
	copy(before, txs)

	first := e.Scan(txs)
	second := e.Scan(txs)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("scan is not idempotent:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(before, txs) {
		t.Fatalf("input was mutated")
	}
	if len(first.Subscriptions) != 3 {
		t.Fatalf("expected 3 subscriptions, got %+v", first.Subscriptions)
	}
	for i := 1; i < len(first.Subscriptions); i++ {
		if first.Subscriptions[i-1].Amount.LessThan(first.Subscriptions[i].Amount) {
			t.Fatalf("subscriptions not sorted by amount descending")
		}
	}
}

func TestConfidenceMonotonicInObservations(t *testing.T) {
	linear, err := DefaultRules()
	if err != nil {
		t.Fatal(err)
	}
	linear.AcceptanceThreshold = 1

	tiered := linear
	tiered.Weights.Base = BaseWeighting{
		Mode:  BaseTiered,
		Tiers: []Tier{{MinCount: 2, Points: 10}, {MinCount: 3, Points: 25}, {MinCount: 6, Points: 40}},
	}

	for name, rules := range map[string]Rules{"linear": linear, "tiered": tiered} {
		t.Run(name, func(t *testing.T) {
			e, err := NewEngine(rules)
			if err != nil {
				t.Fatal(err)
			}
			prev := -1
			for n := 2; n <= 9; n++ {
				subs := e.Detect(every("Gym Club", "-3.50", core.NewDate(2024, 1, 1), 30, n))
				if len(subs) != 1 {
					t.Fatalf("n=%d: expected a subscription", n)
				}
				if subs[0].Confidence < prev {
					t.Fatalf("n=%d: confidence dropped from %d to %d", n, prev, subs[0].Confidence)
				}
				prev = subs[0].Confidence
			}
		})
	}
}

func TestMerchantKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Netflix", "netflix"},
		{"  NETFLIX.COM ", "netflix com"},
		{"Albert Heijn 1234", "albert heijn 1234"},
		{"Disney+ / Plus!!", "disney plus"},
		{"Café Noir", "café noir"},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := MerchantKey(tt.in); got != tt.want {
			t.Errorf("MerchantKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
