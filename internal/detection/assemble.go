package detection

import (
	"math"
	"sort"

	"subscan/internal/core"
)

func assemble(g merchantGroup, p pattern, confidence int) core.DetectedSubscription {
	last := p.lastCharge()
	return core.DetectedSubscription{
		MerchantName:        g.name,
		MerchantKey:         g.key,
		Amount:              p.amount,
		Currency:            last.currency,
		BillingCycle:        p.billingCycle,
		Confidence:          confidence,
		LastChargeDate:      last.date,
		NextChargeDate:      p.billingCycle.Next(last.date),
		TransactionCount:    len(p.matching),
		AverageIntervalDays: math.Round(p.avgInterval*100) / 100,
	}
}

// sortSubscriptions orders by amount descending, then merchant key.
func sortSubscriptions(subs []core.DetectedSubscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if c := subs[i].Amount.Cmp(subs[j].Amount); c != 0 {
			return c > 0
		}
		return subs[i].MerchantKey < subs[j].MerchantKey
	})
}
