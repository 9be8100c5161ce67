package core

import "github.com/shopspring/decimal"

// Summary totals a set of subscriptions normalized to a monthly cost.
type Summary struct {
	Count        int
	MonthlyTotal decimal.Decimal
	YearlyTotal  decimal.Decimal
	ByCycle      map[BillingCycle]int
}

var (
	weeksPerMonth = decimal.NewFromFloat(52).Div(decimal.NewFromInt(12))
	three         = decimal.NewFromInt(3)
	twelve        = decimal.NewFromInt(12)
)

// MonthlyEquivalent converts an amount charged every cycle into its cost per month.
func MonthlyEquivalent(amount decimal.Decimal, cycle BillingCycle) decimal.Decimal {
	switch cycle {
	case Weekly:
		return RoundAmount(amount.Mul(weeksPerMonth))
	case Monthly:
		return RoundAmount(amount)
	case Quarterly:
		return RoundAmount(amount.Div(three))
	case Yearly:
		return RoundAmount(amount.Div(twelve))
	default:
		return decimal.Zero
	}
}

// Summarize aggregates subscriptions into monthly and yearly totals.
// Mixed currencies are summed as-is; callers scan one user at a time.
func Summarize(subs []DetectedSubscription) Summary {
	s := Summary{
		MonthlyTotal: decimal.Zero,
		ByCycle:      make(map[BillingCycle]int),
	}
	for _, sub := range subs {
		s.Count++
		s.ByCycle[sub.BillingCycle]++
		s.MonthlyTotal = s.MonthlyTotal.Add(MonthlyEquivalent(sub.Amount, sub.BillingCycle))
	}
	s.YearlyTotal = s.MonthlyTotal.Mul(twelve)
	return s
}
