package core

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.0", "1.00", true},
		{"-9.99", "-9.99", true},
		{"+2500", "2500.00", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{".5", "0.50", true},
		{"1.005", "1.01", true}, // half-up rounding
		{"-1.005", "-1.01", true},
		{" 2.50 ", "2.50", true},
		{"0", "", false},
		{"0.001", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"-", "", false},
		{".", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.StringFixed(2) != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got.StringFixed(2), err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestAmountKey(t *testing.T) {
	a, _ := ParseAmount("9.99")
	b, _ := ParseAmount("9.990")
	if AmountKey(a) != AmountKey(b) {
		t.Fatalf("expected equal keys, got %q and %q", AmountKey(a), AmountKey(b))
	}
	if AmountKey(a) != "9.99" {
		t.Fatalf("unexpected key %q", AmountKey(a))
	}
}

func TestFormatAmount(t *testing.T) {
	a, _ := ParseAmount("4.5")
	if got := FormatAmount(a, "EUR"); got != "EUR 4.50" {
		t.Fatalf("got %q", got)
	}
	if got := FormatAmount(a, ""); got != "4.50" {
		t.Fatalf("got %q", got)
	}
}
