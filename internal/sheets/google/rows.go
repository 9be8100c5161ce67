package google

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"subscan/internal/core"
)

var header = []any{"User", "Merchant", "Amount", "Currency", "Cycle", "Confidence", "Last charge", "Next charge", "Monthly"}

const lastColumn = "I"

func subscriptionRow(userID string, s core.DetectedSubscription) []any {
	return []any{
		userID,
		s.MerchantName,
		s.Amount.StringFixed(2),
		s.Currency,
		s.BillingCycle.String(),
		s.Confidence,
		formatDate(s.LastChargeDate),
		formatDate(s.NextChargeDate),
		core.MonthlyEquivalent(s.Amount, s.BillingCycle).StringFixed(2),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// mergeRows drops the header and every row of userID from existing, adds
// fresh, and returns the tab content ordered by user with the header first.
// Blank rows are discarded.
func mergeRows(existing [][]any, userID string, fresh [][]any) [][]any {
	kept := make([][]any, 0, len(existing)+len(fresh))
	for i, row := range existing {
		cols := toStrings(row)
		if len(cols) == 0 || strings.Join(cols, "") == "" {
			continue
		}
		if i == 0 && strings.EqualFold(cols[0], "user") {
			continue
		}
		if cols[0] == userID {
			continue
		}
		kept = append(kept, row)
	}
	kept = append(kept, fresh...)

	sort.SliceStable(kept, func(i, j int) bool {
		return fmt.Sprint(kept[i][0]) < fmt.Sprint(kept[j][0])
	})
	return append([][]any{header}, kept...)
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
