package core

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Weekly    BillingCycle = "weekly"
	Monthly   BillingCycle = "monthly"
	Quarterly BillingCycle = "quarterly"
	Yearly    BillingCycle = "yearly"
	NoCycle   BillingCycle = "none"
)

type (
	BillingCycle string

	// Transaction is one raw bank transaction as handed over by the
	// transaction-retrieval side. Amount is signed: negative is money out.
	Transaction struct {
		ID            string // aggregator transaction id, optional
		MerchantName  string
		Amount        decimal.Decimal
		Currency      string
		BookingDate   time.Time
		Description   string
		CreditorName  string
		DebtorName    string
		RawAttributes map[string]any
	}

	// DetectedSubscription is one recurring outgoing payment found by a scan.
	DetectedSubscription struct {
		MerchantName        string
		MerchantKey         string
		Amount              decimal.Decimal
		Currency            string
		BillingCycle        BillingCycle
		Confidence          int
		LastChargeDate      time.Time
		NextChargeDate      time.Time
		TransactionCount    int
		AverageIntervalDays float64
	}

	// ScanStats counts what happened to the input of a single scan.
	ScanStats struct {
		TransactionsSeen int
		Outgoing         int
		IncomingDropped  int
		SkippedMalformed int
		GroupsFormed     int
		GroupsRejected   int
	}

	// ScanRun identifies one detection run for a user.
	ScanRun struct {
		ID         string
		UserID     string
		StartedAt  time.Time
		FinishedAt time.Time
		Stats      ScanStats
	}

	// ScanResult is what a service-level scan hands back to its caller.
	ScanResult struct {
		Run           ScanRun
		Subscriptions []DetectedSubscription
		Rejected      int
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
	ErrEmptyUserID   = errors.New("empty user id")
	ErrEmptyMerchant = errors.New("empty merchant name")
	ErrUnknownCycle  = errors.New("unknown billing cycle")
)

// Cycles lists the billing cycles a subscription can have, shortest first.
func Cycles() []BillingCycle {
	return []BillingCycle{Weekly, Monthly, Quarterly, Yearly}
}

func (c BillingCycle) String() string {
	return string(c)
}

// IsValid reports whether c is a real cycle. NoCycle is not.
func (c BillingCycle) IsValid() bool {
	switch c {
	case Weekly, Monthly, Quarterly, Yearly:
		return true
	default:
		return false
	}
}

// ParseBillingCycle parses the lower-case cycle name.
func ParseBillingCycle(s string) (BillingCycle, error) {
	c := BillingCycle(strings.ToLower(strings.TrimSpace(s)))
	if c == NoCycle || c.IsValid() {
		return c, nil
	}
	return NoCycle, ErrUnknownCycle
}

// Next returns the date one cycle after t. Month arithmetic is clamped to the
// last day of the target month, so Jan 31 + monthly is Feb 28/29.
func (c BillingCycle) Next(t time.Time) time.Time {
	switch c {
	case Weekly:
		return t.AddDate(0, 0, 7)
	case Monthly:
		return addMonthsClamped(t, 1)
	case Quarterly:
		return addMonthsClamped(t, 3)
	case Yearly:
		return addMonthsClamped(t, 12)
	default:
		return time.Time{}
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate creates a UTC date from year, month, day.
func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// Validate checks the fields a transaction needs to take part in a scan.
func (t Transaction) Validate() error {
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if t.BookingDate.IsZero() {
		return ErrInvalidDate
	}
	if strings.TrimSpace(t.MerchantName) == "" && strings.TrimSpace(t.CreditorName) == "" {
		return ErrEmptyMerchant
	}
	return nil
}

// Key identifies a transaction for deduplication. The aggregator id is used
// when present, otherwise a name-based UUID over the identifying fields.
func (t Transaction) Key() string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return id
	}
	name := strings.Join([]string{
		DateOnly(t.BookingDate).Format(time.DateOnly),
		AmountKey(t.Amount),
		strings.ToUpper(strings.TrimSpace(t.Currency)),
		strings.TrimSpace(t.MerchantName),
		strings.TrimSpace(t.CreditorName),
		strings.TrimSpace(t.DebtorName),
		strings.TrimSpace(t.Description),
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// BatchKeys returns Key for each transaction in txs. Rows without an
// aggregator id that repeat an earlier row of the same batch get the
// occurrence number folded in, so two identical same-day charges stay two
// rows while re-importing the batch still matches them.
func BatchKeys(txs []Transaction) []string {
	keys := make([]string, len(txs))
	seen := make(map[string]int, len(txs))
	for i, t := range txs {
		k := t.Key()
		if strings.TrimSpace(t.ID) == "" {
			seen[k]++
			if n := seen[k]; n > 1 {
				k = uuid.NewSHA1(uuid.NameSpaceOID, []byte(k+"#"+strconv.Itoa(n))).String()
			}
		}
		keys[i] = k
	}
	return keys
}

func (s DetectedSubscription) Validate() error {
	if strings.TrimSpace(s.MerchantName) == "" {
		return ErrEmptyMerchant
	}
	if !s.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !s.BillingCycle.IsValid() {
		return ErrUnknownCycle
	}
	if s.LastChargeDate.IsZero() {
		return ErrInvalidDate
	}
	return nil
}
