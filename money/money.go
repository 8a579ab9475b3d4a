/*
Package money provides the exact currency type used everywhere balances,
refunds, and commissions are computed.

PURPOSE:
  Settlement math must reconcile to the penny. A provider's gross revenue
  is split into commission and net exactly once, and the two parts must
  always add back up to the whole. Floating point cannot guarantee that,
  so every monetary value in this system is a Money backed by
  decimal.Decimal.

KEY CONCEPTS:
  - Money: an exact GBP amount. Zero value is £0.00.
  - Split: divides an amount by a rate, computing the cut once (rounded
    half-up to the penny) and deriving the remainder by subtraction, so
    cut + remainder == original with no drift.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, never float64.
  2. Single rounding point: Split rounds exactly once and logs nothing
     away; the remainder is derived, never recomputed.
  3. Determinism: rounding is half-up (decimal.Round is half away from
     zero; amounts here are non-negative).

USAGE:
  gross := money.MustParse("26.99")
  commission, net := gross.Split(decimal.NewFromFloat(0.10))
  // commission = £2.70, net = £24.29, commission.Add(net) == gross

SEE ALSO:
  - settlement/entry.go: the commission split at completion time
  - booking/refund.go: refund amounts
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact GBP amount
// =============================================================================

// Money is an exact amount of GBP. The zero value is £0.00.
type Money struct {
	value decimal.Decimal
}

// Zero is £0.00.
var Zero = Money{}

// FromDecimal wraps a raw decimal as Money.
func FromDecimal(d decimal.Decimal) Money { return Money{value: d} }

// FromPence builds a Money from an integer number of pence.
func FromPence(p int64) Money {
	return Money{value: decimal.New(p, -2)}
}

// Parse builds a Money from a decimal string such as "26.99".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{value: d}, nil
}

// MustParse is Parse for literals in tests and fixtures. Panics on bad input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func (m Money) Add(o Money) Money { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money { return Money{value: m.value.Sub(o.value)} }
func (m Money) Neg() Money        { return Money{value: m.value.Neg()} }

// Mul multiplies by a raw decimal factor. The result is NOT rounded;
// round explicitly where the business rule says to.
func (m Money) Mul(factor decimal.Decimal) Money { return Money{value: m.value.Mul(factor)} }

// RoundHalfUp rounds to the penny, halves away from zero.
func (m Money) RoundHalfUp() Money { return Money{value: m.value.Round(2)} }

// Split divides m by rate, rounding the cut half-up to the penny and
// deriving the remainder by subtraction. The parts always reconcile:
// cut + remainder == m exactly.
func (m Money) Split(rate decimal.Decimal) (cut, remainder Money) {
	cut = Money{value: m.value.Mul(rate).Round(2)}
	remainder = m.Sub(cut)
	return cut, remainder
}

// =============================================================================
// COMPARISON
// =============================================================================

func (m Money) Equal(o Money) bool       { return m.value.Equal(o.value) }
func (m Money) GreaterThan(o Money) bool { return m.value.GreaterThan(o.value) }
func (m Money) LessThan(o Money) bool    { return m.value.LessThan(o.value) }
func (m Money) IsZero() bool             { return m.value.IsZero() }
func (m Money) IsNegative() bool         { return m.value.IsNegative() }
func (m Money) IsPositive() bool         { return m.value.IsPositive() }

// =============================================================================
// ENCODING
// =============================================================================

// Decimal exposes the underlying decimal for persistence.
func (m Money) Decimal() decimal.Decimal { return m.value }

// Pence returns the amount as whole pence. Values carrying sub-penny
// precision are rounded half-up first.
func (m Money) Pence() int64 {
	return m.value.Round(2).Shift(2).IntPart()
}

// String formats as "£12.34". Negative amounts as "-£12.34".
func (m Money) String() string {
	if m.value.IsNegative() {
		return "-£" + m.value.Neg().StringFixed(2)
	}
	return "£" + m.value.StringFixed(2)
}

// MarshalJSON encodes as a plain decimal string, e.g. "26.99".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.value.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts a decimal string or bare number.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid money value %s: %w", string(b), err)
	}
	m.value = d
	return nil
}
