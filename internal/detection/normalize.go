package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subscan/internal/core"
)

// Direction is the outcome of classifying one raw transaction.
type Direction int

const (
	// Outgoing transactions take part in detection.
	Outgoing Direction = iota
	// Incoming transactions are money received and never grouped.
	Incoming
	// Malformed transactions lack an amount or a booking date.
	Malformed
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "malformed"
	}
}

// charge is an outgoing transaction reduced to what the later stages use.
type charge struct {
	merchant string
	key      string
	amount   decimal.Decimal // abs, rounded to minor units
	currency string
	date     time.Time
	seq      int // input position, for stable ordering
}

// incomingClassifier holds the normalized incoming signals.
type incomingClassifier struct {
	typeCodeKeys  []string
	incomingCodes map[string]bool
	debtorKeys    []string
}

func newIncomingClassifier(s IncomingSignals) incomingClassifier {
	c := incomingClassifier{
		typeCodeKeys:  s.TypeCodeKeys,
		incomingCodes: make(map[string]bool, len(s.IncomingTypeCodes)),
		debtorKeys:    s.DebtorAccountKeys,
	}
	for _, code := range s.IncomingTypeCodes {
		c.incomingCodes[strings.ToUpper(strings.TrimSpace(code))] = true
	}
	return c
}

// Classify decides the direction of a transaction. Precedence:
//  1. missing amount or booking date: Malformed
//  2. non-empty debtor name: Incoming
//  3. raw type code listed as an incoming code: Incoming
//  4. positive amount with a debtor account reference: Incoming
//  5. anything else: Outgoing
func (c incomingClassifier) Classify(tx core.Transaction) Direction {
	if tx.Amount.IsZero() || tx.BookingDate.IsZero() {
		return Malformed
	}
	if strings.TrimSpace(tx.DebtorName) != "" {
		return Incoming
	}
	if code, ok := c.typeCode(tx.RawAttributes); ok && c.incomingCodes[code] {
		return Incoming
	}
	if tx.Amount.IsPositive() && c.hasDebtorAccount(tx.RawAttributes) {
		return Incoming
	}
	return Outgoing
}

// typeCode returns the first present transaction type code, upper-cased.
func (c incomingClassifier) typeCode(raw map[string]any) (string, bool) {
	for _, k := range c.typeCodeKeys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		s := strings.ToUpper(strings.TrimSpace(fmt.Sprint(v)))
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func (c incomingClassifier) hasDebtorAccount(raw map[string]any) bool {
	for _, k := range c.debtorKeys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return true
			}
		case map[string]any:
			if len(val) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// resolveMerchant picks the merchant name, falling back to the creditor.
func resolveMerchant(tx core.Transaction) string {
	if name := strings.TrimSpace(tx.MerchantName); name != "" {
		return name
	}
	return strings.TrimSpace(tx.CreditorName)
}

// normalize filters the input down to outgoing charges. It never modifies txs.
func (c incomingClassifier) normalize(txs []core.Transaction, stats *core.ScanStats) []charge {
	out := make([]charge, 0, len(txs))
	for i, tx := range txs {
		stats.TransactionsSeen++
		switch c.Classify(tx) {
		case Malformed:
			stats.SkippedMalformed++
			continue
		case Incoming:
			stats.IncomingDropped++
			continue
		}

		merchant := resolveMerchant(tx)
		key := MerchantKey(merchant)
		if key == "" {
			stats.SkippedMalformed++
			continue
		}

		out = append(out, charge{
			merchant: merchant,
			key:      key,
			amount:   core.RoundAmount(tx.Amount.Abs()),
			currency: strings.ToUpper(strings.TrimSpace(tx.Currency)),
			date:     core.DateOnly(tx.BookingDate),
			seq:      i,
		})
		stats.Outgoing++
	}
	return out
}
