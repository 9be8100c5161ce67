package detection

import (
	"fmt"
	"strings"
)

// Reason says why a merchant group did not become a subscription.
type Reason string

const (
	ReasonTooFewTransactions Reason = "too_few_transactions"
	ReasonNoRecurringAmount  Reason = "no_recurring_amount"
	ReasonBlacklisted        Reason = "blacklisted"
	ReasonAmountOutOfRange   Reason = "amount_out_of_range"
	ReasonNoBillingCycle     Reason = "no_billing_cycle"
	ReasonBelowThreshold     Reason = "below_threshold"
)

// Rejection records a dropped merchant group. It is diagnostic only.
type Rejection struct {
	MerchantKey  string
	MerchantName string
	Reason       Reason
	Detail       string
}

func reject(g merchantGroup, reason Reason, format string, args ...any) Rejection {
	return Rejection{
		MerchantKey:  g.key,
		MerchantName: g.name,
		Reason:       reason,
		Detail:       fmt.Sprintf(format, args...),
	}
}

// blacklistHit returns the first blacklist keyword contained in key.
func (e *Engine) blacklistHit(key string) (string, bool) {
	for _, kw := range e.blacklist {
		if strings.Contains(key, kw) {
			return kw, true
		}
	}
	return "", false
}

// classify runs the blacklist, amount range and cycle filters in that order.
func (e *Engine) classify(g merchantGroup, p pattern) (Rejection, bool) {
	if kw, hit := e.blacklistHit(g.key); hit {
		return reject(g, ReasonBlacklisted, "merchant key matches blacklist keyword '%s'", kw), false
	}
	if r := e.rules.AmountRange; !r.Contains(p.amount) {
		return reject(g, ReasonAmountOutOfRange, "recurring amount %s outside %s-%s",
			p.amount.StringFixed(2), r.Min.StringFixed(2), r.Max.StringFixed(2)), false
	}
	if !p.billingCycle.IsValid() {
		return reject(g, ReasonNoBillingCycle, "average interval %.1f days matches no cycle band", p.avgInterval), false
	}
	return Rejection{}, true
}
