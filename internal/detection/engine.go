// Package detection infers recurring outgoing payments from a user's raw
// transaction history.
//
// A scan runs six stages strictly in order: normalize, group by merchant,
// analyze recurrence, classify, score and assemble. The Engine holds no
// mutable state, so one Engine may serve concurrent scans for different users.
package detection

import (
	"fmt"
	"sort"

	"subscan/internal/core"
)

// Report is the full outcome of a scan.
type Report struct {
	Subscriptions []core.DetectedSubscription
	Rejections    []Rejection
	Stats         core.ScanStats
}

// Engine runs detection with a fixed set of rules.
type Engine struct {
	rules     Rules
	incoming  incomingClassifier
	blacklist []string
	whitelist []WhitelistEntry
	bands     []CycleBand
}

// NewEngine validates rules and prepares them for matching.
func NewEngine(rules Rules) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection rules: %w", err)
	}

	e := &Engine{
		rules:    rules,
		incoming: newIncomingClassifier(rules.Incoming),
	}
	for _, kw := range rules.Blacklist {
		if k := MerchantKey(kw); k != "" {
			e.blacklist = append(e.blacklist, k)
		}
	}
	for _, w := range rules.Whitelist {
		w.Keyword = MerchantKey(w.Keyword)
		e.whitelist = append(e.whitelist, w)
	}
	e.bands = append([]CycleBand(nil), rules.CycleBands...)
	sort.Slice(e.bands, func(i, j int) bool { return e.bands[i].MinDays < e.bands[j].MinDays })
	return e, nil
}

// Rules returns the rules the engine was built with.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Classify exposes the normalizer's direction decision for one transaction.
func (e *Engine) Classify(tx core.Transaction) Direction {
	return e.incoming.Classify(tx)
}

// Scan runs every stage over txs. txs is read only.
func (e *Engine) Scan(txs []core.Transaction) Report {
	var rep Report

	charges := e.incoming.normalize(txs, &rep.Stats)
	groups, singles := groupByMerchant(charges)
	rep.Stats.GroupsFormed = len(groups) + len(singles)

	for _, g := range singles {
		rep.Rejections = append(rep.Rejections,
			reject(g, ReasonTooFewTransactions, "%d charge, need at least 2", len(g.charges)))
	}

	for _, g := range groups {
		p, ok := analyzeRecurrence(g, e.bands)
		if !ok {
			rep.Rejections = append(rep.Rejections,
				reject(g, ReasonNoRecurringAmount, "no amount repeats across %d charges", len(g.charges)))
			continue
		}

		if r, ok := e.classify(g, p); !ok {
			rep.Rejections = append(rep.Rejections, r)
			continue
		}

		confidence := e.score(g, p)
		if confidence < e.rules.AcceptanceThreshold {
			rep.Rejections = append(rep.Rejections,
				reject(g, ReasonBelowThreshold, "confidence %d below threshold %d", confidence, e.rules.AcceptanceThreshold))
			continue
		}

		rep.Subscriptions = append(rep.Subscriptions, assemble(g, p, confidence))
	}

	rep.Stats.GroupsRejected = len(rep.Rejections)
	sortSubscriptions(rep.Subscriptions)
	return rep
}

// Detect returns only the accepted subscriptions of a scan.
func (e *Engine) Detect(txs []core.Transaction) []core.DetectedSubscription {
	return e.Scan(txs).Subscriptions
}
