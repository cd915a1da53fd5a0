// Package amount provides shared parsing, formatting, and comparison
// helpers for monetary amounts.
//
// Amounts are carried as base-unit (wei-style) big.Int values so that
// budget arithmetic and policy comparisons are exact at any magnitude.
// The native asset uses 18 decimal places (1 token = 10^18 base units).
package amount

import (
	"math/big"
	"strings"
)

const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Parse converts an amount string to its base-unit big.Int representation.
// Plain integer strings are taken as base units ("1500000000000000000");
// strings with a decimal point are taken as whole tokens ("1.5").
// Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 18 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	if !strings.Contains(s, ".") {
		return new(big.Int).SetString(s, 10)
	}

	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return nil, false
	}
	whole := parts[0]
	frac := parts[1]

	// Pad or trim to 18 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	result, ok := new(big.Int).SetString(whole+frac, 10)
	return result, ok
}

// Format converts a base-unit big.Int to its canonical base-unit string.
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// FormatTokens converts a base-unit big.Int to a human-readable whole-token
// decimal string (e.g. 1500000000000000000 -> "1.500000000000000000").
func FormatTokens(v *big.Int) string {
	if v == nil {
		return "0." + strings.Repeat("0", Decimals)
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Add returns a + b without mutating either operand.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a - b without mutating either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Cmp compares two base-unit amounts: -1 if a < b, 0 if equal, 1 if a > b.
func Cmp(a, b *big.Int) int {
	return a.Cmp(b)
}

// Tokens returns n whole tokens in base units. Useful in tests.
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}
