// Package money provides exact fixed-precision arithmetic for prices,
// quantities, and balances. All monetary values use shopspring/decimal —
// never float64 — and no rounding happens anywhere in the trading path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the minimum number of fractional digits decimals in the
// trading path are expected to carry.
const Scale = 18

// ArithmeticError is returned by NewPrice and NewQuantity when a value
// falls outside the bounds they enforce.
type ArithmeticError struct {
	Op  string
	Msg string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("money: %s: %s", e.Op, e.Msg)
}

// Decimal is an alias kept local to this package so call sites read
// money.Decimal instead of reaching for shopspring/decimal directly.
type Decimal = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// One is the decimal value 1.
var One = decimal.NewFromInt(1)

// Half divides a decimal by exactly 2. Used for book midpoints, which
// is the one "division" permitted in the trading path since halving by
// an exact divisor never loses precision.
func Half(d Decimal) Decimal {
	return d.Div(decimal.NewFromInt(2))
}

// Price is a decimal constrained to a configured [min, max] bound — the
// trading core's tick range, not a hardcoded (0, 1) interval, since min
// and max are operator-configured per deployment.
type Price struct {
	d Decimal
}

// NewPrice validates min <= d <= max, the order-placement price bound.
func NewPrice(d, min, max Decimal) (Price, error) {
	if d.LessThan(min) || d.GreaterThan(max) {
		return Price{}, &ArithmeticError{Op: "NewPrice", Msg: fmt.Sprintf("%s is outside [%s, %s]", d.String(), min.String(), max.String())}
	}
	return Price{d: d}, nil
}

// Decimal returns the underlying value.
func (p Price) Decimal() Decimal { return p.d }

// String renders the canonical decimal string.
func (p Price) String() string { return p.d.String() }

// Quantity is a strictly positive decimal bounded by a configured maximum.
type Quantity struct {
	d Decimal
}

// NewQuantity validates 0 < d <= max.
func NewQuantity(d, max Decimal) (Quantity, error) {
	if !d.IsPositive() {
		return Quantity{}, &ArithmeticError{Op: "NewQuantity", Msg: "quantity must be positive"}
	}
	if d.GreaterThan(max) {
		return Quantity{}, &ArithmeticError{Op: "NewQuantity", Msg: fmt.Sprintf("%s exceeds max quantity %s", d.String(), max.String())}
	}
	return Quantity{d: d}, nil
}

// Decimal returns the underlying value.
func (q Quantity) Decimal() Decimal { return q.d }

// String renders the canonical decimal string.
func (q Quantity) String() string { return q.d.String() }

// IsZero reports whether the quantity is exactly zero.
func (q Quantity) IsZero() bool { return q.d.IsZero() }
