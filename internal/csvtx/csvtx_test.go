package csvtx

import (
	"errors"
	"strings"
	"testing"

	"subscan/internal/core"
)

func TestReadCommaExport(t *testing.T) {
	in := `user_id,date,merchant,amount,currency,debtor,transaction_type
u1,2024-01-05,Netflix,-9.99,eur,,DEBIT
u1,2024-02-04,Netflix,-9.99,EUR,,
u2,25/01/2024,,2500.00,EUR,Employer BV,CREDIT

u1,2024-03-06,Netflix,abc,EUR,,
u1,yesterday,Netflix,-9.99,EUR,,
`
	res, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d (%v)", len(res.Rows), res.Errors)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 line errors, got %v", res.Errors)
	}
	if !strings.HasPrefix(res.Errors[0], "line 6:") || !strings.HasPrefix(res.Errors[1], "line 7:") {
		t.Errorf("line numbers off: %v", res.Errors)
	}

	first := res.Rows[0]
	if first.UserID != "u1" || first.Tx.MerchantName != "Netflix" || first.Tx.Currency != "EUR" {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.Tx.Amount.StringFixed(2) != "-9.99" || !first.Tx.BookingDate.Equal(core.NewDate(2024, 1, 5)) {
		t.Errorf("unexpected amount/date: %+v", first.Tx)
	}
	if first.Tx.RawAttributes["transaction_type"] != "DEBIT" {
		t.Errorf("raw attribute missing: %+v", first.Tx.RawAttributes)
	}
	if res.Rows[1].Tx.RawAttributes != nil {
		t.Errorf("empty cells must not create raw attributes")
	}

	salary := res.Rows[2]
	if salary.Tx.DebtorName != "Employer BV" || !salary.Tx.BookingDate.Equal(core.NewDate(2024, 1, 25)) {
		t.Errorf("unexpected salary row: %+v", salary)
	}

	byUser := res.ByUser()
	if len(byUser["u1"]) != 2 || len(byUser["u2"]) != 1 {
		t.Errorf("by user = %v", byUser)
	}
	if len(res.Transactions()) != 3 {
		t.Errorf("transactions = %d", len(res.Transactions()))
	}
}

func TestReadSemicolonExport(t *testing.T) {
	in := "\ufeffBooking_Date;Merchant_Name;Amount;Currency\n" +
		"05-01-2024;Spotify AB;-4,99;EUR\n" +
		"05-02-2024;Spotify AB;0,00;EUR\n"
	res, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Rows) != 2 || len(res.Errors) != 0 {
		t.Fatalf("rows=%d errors=%v", len(res.Rows), res.Errors)
	}
	if got := res.Rows[0].Tx.Amount.StringFixed(2); got != "-4.99" {
		t.Errorf("amount = %s", got)
	}
	if !res.Rows[1].Tx.Amount.IsZero() {
		t.Errorf("zero amount should be kept for the engine to skip")
	}
	if res.Rows[0].UserID != "" {
		t.Errorf("no user column means empty user id")
	}
}

func TestReadEmpty(t *testing.T) {
	if _, err := Read(strings.NewReader("")); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
	res, err := Read(strings.NewReader("date,merchant,amount\n"))
	if err != nil || len(res.Rows) != 0 {
		t.Fatalf("header only: %+v %v", res, err)
	}
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-03-06", "06-03-2024", "06/03/2024", "2024/03/06", "20240306"} {
		d, err := ParseDate(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if !d.Equal(core.NewDate(2024, 3, 6)) {
			t.Errorf("%s parsed as %s", s, d)
		}
	}
	if _, err := ParseDate("March 6"); err == nil {
		t.Error("expected error")
	}
}
