// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing signed monetary amounts from the
// strings found in bank exports and for rounding them to minor units.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the precision every amount is rounded to.
const MinorUnitPlaces = 2

// ParseAmount converts a signed decimal string to an amount in minor-unit precision.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an optional
// leading sign, and performs half-up rounding on the third decimal place.
// Returns ErrInvalidAmount for invalid formats or zero amounts.
//
// Examples:
//
//	ParseAmount("-12.34")  -> -12.34, nil
//	ParseAmount("12,34")   -> 12.34, nil
//	ParseAmount("12.345")  -> 12.35, nil (rounds up)
//	ParseAmount("12.344")  -> 12.34, nil (rounds down)
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")

	sign := ""
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		parts[0] = "0"
	}

	d, err := decimal.NewFromString(sign + strings.Join(parts, "."))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = RoundAmount(d)
	if d.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundAmount rounds to minor units, half away from zero.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// AmountKey is the canonical string used to compare two amounts for equality
// after rounding, e.g. "9.99".
func AmountKey(d decimal.Decimal) string {
	return RoundAmount(d).StringFixed(MinorUnitPlaces)
}

// FormatAmount renders an amount with its currency for display, e.g. "EUR 9.99".
func FormatAmount(d decimal.Decimal, currency string) string {
	s := RoundAmount(d).StringFixed(MinorUnitPlaces)
	if currency == "" {
		return s
	}
	return currency + " " + s
}
