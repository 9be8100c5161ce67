package detection

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"subscan/internal/core"
)

// pattern is the recurring part of a merchant group.
type pattern struct {
	amount       decimal.Decimal
	matching     []charge // oldest first
	avgInterval  float64
	billingCycle core.BillingCycle
}

func (p pattern) lastCharge() charge {
	return p.matching[len(p.matching)-1]
}

// recurringAmount returns the mode of the group's rounded amounts. Ties go to
// the largest amount.
func recurringAmount(charges []charge) (decimal.Decimal, int) {
	counts := make(map[string]int)
	amounts := make(map[string]decimal.Decimal)
	for _, c := range charges {
		k := core.AmountKey(c.amount)
		counts[k]++
		amounts[k] = c.amount
	}

	var (
		best      decimal.Decimal
		bestCount int
	)
	for k, n := range counts {
		a := amounts[k]
		if n > bestCount || (n == bestCount && a.GreaterThan(best)) {
			best, bestCount = a, n
		}
	}
	return best, bestCount
}

// daysBetween counts calendar days from a to b; both are already date-only.
func daysBetween(a, b time.Time) float64 {
	return float64(b.Sub(a).Round(time.Hour)/time.Hour) / 24
}

// averageInterval is the mean gap in days between consecutive charges.
func averageInterval(charges []charge) float64 {
	if len(charges) < 2 {
		return 0
	}
	dates := make([]time.Time, len(charges))
	for i, c := range charges {
		dates[i] = c.date
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var total float64
	for i := 1; i < len(dates); i++ {
		total += daysBetween(dates[i-1], dates[i])
	}
	return total / float64(len(dates)-1)
}

// cycleFor maps an average interval onto the configured inclusive bands.
func cycleFor(avg float64, bands []CycleBand) core.BillingCycle {
	for _, b := range bands {
		if avg >= b.MinDays && avg <= b.MaxDays {
			return b.Cycle
		}
	}
	return core.NoCycle
}

// analyzeRecurrence finds the dominant repeating amount of a group and the
// cycle it repeats on. ok is false when no amount occurs at least twice.
func analyzeRecurrence(g merchantGroup, bands []CycleBand) (p pattern, ok bool) {
	amount, count := recurringAmount(g.charges)
	if count < 2 {
		return pattern{}, false
	}

	key := core.AmountKey(amount)
	matching := make([]charge, 0, count)
	for _, c := range g.charges {
		if core.AmountKey(c.amount) == key {
			matching = append(matching, c)
		}
	}

	avg := averageInterval(matching)
	return pattern{
		amount:       amount,
		matching:     matching,
		avgInterval:  avg,
		billingCycle: cycleFor(avg, bands),
	}, true
}
