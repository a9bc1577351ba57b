// Package core provides amount arithmetic and formatting helpers.
//
// Amounts are stored as float64 euros to match the persisted JSON document.
// Rounding and fixed-point formatting go through shopspring/decimal so that
// displayed figures do not inherit binary floating-point artifacts.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TTC converts an HT amount into its tax-inclusive value.
//
// Examples:
//
//	TTC(10000, 20) -> 12000
//	TTC(500, 0)    -> 500
func TTC(amountHT, vatRate float64) float64 {
	return amountHT * (1 + vatRate/100)
}

// VAT returns the tax part of an HT amount.
func VAT(amountHT, vatRate float64) float64 {
	return amountHT * vatRate / 100
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Fixed formats v with the given number of decimals.
//
// Examples:
//
//	Fixed(90.909, 1) -> "90.9"
//	Fixed(12, 2)     -> "12.00"
func Fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// FormatEuros renders an amount the French way, e.g. "12 000,50 €".
func FormatEuros(v float64) string {
	s := decimal.NewFromFloat(v).Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if v < 0 && s != "0.00" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	b.WriteString(" €")
	return b.String()
}
