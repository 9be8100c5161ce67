package detection

import "strings"

const maxConfidence = 100

// baseScore turns the number of matching charges into points. Both modes are
// non-decreasing in count.
func (w BaseWeighting) baseScore(count int) int {
	switch w.Mode {
	case BaseTiered:
		points := 0
		for _, t := range w.Tiers {
			if count >= t.MinCount {
				points = t.Points
			}
		}
		return points
	default:
		return min(count*w.PerObservation, w.Max)
	}
}

// whitelistBonus returns the largest bonus among matching entries and the
// override of an exact match, if any.
func (e *Engine) whitelistBonus(key string) (bonus, override int) {
	for _, w := range e.whitelist {
		if !strings.Contains(key, w.Keyword) {
			continue
		}
		bonus = max(bonus, w.Bonus)
		if key == w.Keyword && w.Override > 0 {
			override = max(override, w.Override)
		}
	}
	return bonus, override
}

// score assigns confidence to a candidate that passed classification.
func (e *Engine) score(g merchantGroup, p pattern) int {
	wt := e.rules.Weights

	s := wt.Base.baseScore(len(p.matching))
	s += wt.CycleBonus[p.billingCycle]

	bonus, override := e.whitelistBonus(g.key)
	s += bonus

	if e.rules.PlausibleRange.Contains(p.amount) {
		s += wt.PlausibleAmountBonus
	}

	s = min(s, maxConfidence)
	if override > s {
		s = override
	}
	return max(s, 0)
}
