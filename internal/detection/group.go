package detection

import (
	"sort"
	"strings"
	"unicode"
)

// MerchantKey normalizes a merchant name into its grouping key: lower-case,
// every run of non-alphanumeric runes collapsed into a single space, trimmed.
//
//	MerchantKey("  NETFLIX.COM ")     -> "netflix com"
//	MerchantKey("Albert Heijn 1234")  -> "albert heijn 1234"
func MerchantKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// merchantGroup is every outgoing charge sharing a merchant key, oldest first.
type merchantGroup struct {
	key     string
	name    string // merchant name of the most recent charge
	charges []charge
}

// groupByMerchant buckets charges by key. Groups with fewer than two members
// are returned separately as singles. Both come back sorted by key so scans
// are deterministic.
func groupByMerchant(charges []charge) (groups []merchantGroup, singles []merchantGroup) {
	byKey := make(map[string][]charge)
	for _, c := range charges {
		byKey[c.key] = append(byKey[c.key], c)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		members := byKey[k]
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].date.Equal(members[j].date) {
				return members[i].date.Before(members[j].date)
			}
			return members[i].seq < members[j].seq
		})
		g := merchantGroup{key: k, name: members[len(members)-1].merchant, charges: members}
		if len(members) < 2 {
			singles = append(singles, g)
			continue
		}
		groups = append(groups, g)
	}
	return groups, singles
}
