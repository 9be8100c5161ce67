package http

import (
	"errors"
	"strings"
	"testing"

	"subscan/internal/core"
)

func TestDecodeTransactions(t *testing.T) {
	body := `[
	  {"id": "tl-1", "date": "2024-01-05", "merchant_name": " Netflix\u0007 ", "amount": "-9.99", "currency": "eur",
	   "raw_attributes": {"transaction_type": "DEBIT"}},
	  {"date": "05/02/2024", "creditor_name": "Spotify AB", "amount": -4.99},
	  {"date": "2024-02-10", "merchant_name": "Gift"}
	]`
	txs, err := decodeTransactions(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("got %d transactions", len(txs))
	}

	first := txs[0]
	if first.ID != "tl-1" || first.MerchantName != "Netflix" || first.Currency != "EUR" {
		t.Errorf("first = %+v", first)
	}
	if first.Amount.StringFixed(2) != "-9.99" || !first.BookingDate.Equal(core.NewDate(2024, 1, 5)) {
		t.Errorf("first amount/date = %s %s", first.Amount, first.BookingDate)
	}
	if first.RawAttributes["transaction_type"] != "DEBIT" {
		t.Errorf("raw attributes = %v", first.RawAttributes)
	}
	if txs[1].CreditorName != "Spotify AB" || !txs[1].BookingDate.Equal(core.NewDate(2024, 2, 5)) {
		t.Errorf("second = %+v", txs[1])
	}
	// no amount is kept as zero so the engine counts it as malformed
	if !txs[2].Amount.IsZero() {
		t.Errorf("third amount = %s", txs[2].Amount)
	}
}

func TestDecodeTransactionsErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"empty body", ``, errNotArray},
		{"object", `{}`, errNotArray},
		{"trailing data", `[] []`, errNotArray},
		{"string amount not decimal", `[{"date": "2024-01-05", "amount": "x"}]`, errNotArray},
		{"missing date", `[{"amount": "-1"}]`, core.ErrInvalidDate},
		{"bad date", `[{"date": "31-31-2024", "amount": "-1"}]`, core.ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTransactions(strings.NewReader(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	txs, err := decodeTransactions(strings.NewReader(`[]`))
	if err != nil || len(txs) != 0 {
		t.Fatalf("empty array: %v %v", txs, err)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  u1 ":       "u1",
		"a\x00b":      "ab",
		"tab\there":   "tab\there",
		"line\nbreak": "linebreak",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
