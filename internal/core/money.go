// Package core holds the transaction data model and the request validation gate.
//
// This file contains the amount normalisation used for both amount and
// balance fields and the display format for monetary values.
package core

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmountString converts a string amount to float64.
//
// Thousands separators are commas and are stripped before parsing; the decimal
// separator is always a dot. Surrounding whitespace is ignored.
//
// Examples:
//
//	ParseAmountString("1,500")     -> 1500
//	ParseAmountString("12,345.67") -> 12345.67
//	ParseAmountString("abc")       -> ErrInvalidAmount
func ParseAmountString(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return toFloat(d)
}

// ParseAmountJSON converts a JSON number or JSON string to float64.
func ParseAmountJSON(raw json.RawMessage) (float64, error) {
	switch jsonType(raw) {
	case jsonString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, ErrInvalidAmount
		}
		return ParseAmountString(s)
	case jsonNumber:
		d, err := decimal.NewFromString(strings.TrimSpace(string(raw)))
		if err != nil {
			return 0, ErrInvalidAmount
		}
		return toFloat(d)
	default:
		return 0, ErrInvalidAmount
	}
}

// toFloat rejects values outside the float64 range, which would otherwise
// saturate to an infinity.
func toFloat(d decimal.Decimal) (float64, error) {
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, ErrInvalidAmount
	}
	return f, nil
}

// FormatNGN renders an amount with two decimals and the currency label,
// e.g. 1234.5 -> "1234.50 NGN".
func FormatNGN(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + " " + CurrencyNGN
}
