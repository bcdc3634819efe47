package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// All ledger amounts are unsigned fixed-point values with 18 decimal places
// (WAD scale). Intermediates are computed in 256 bits; overflow is a detected
// error, never a silent wrap or saturation.
const WadDecimals = 18

var (
	// Wad is the 18-decimal scale factor (1e18).
	Wad = uint256.NewInt(1_000_000_000_000_000_000)

	ErrOverflow       = errors.New("fixed-point overflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

// MulWad returns trunc(a * b / 1e18).
func MulWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, Wad)
}

// DivWad returns trunc(a * 1e18 / b).
func DivWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, Wad, b)
}

// MulDiv returns trunc(a * b / denom). The 256-bit product must not overflow.
func MulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrDivisionByZero
	}

	product := new(uint256.Int)
	if _, overflow := product.MulOverflow(a, b); overflow {
		return nil, ErrOverflow
	}

	return product.Div(product, denom), nil
}

// Add returns a + b, failing on 256-bit overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum := new(uint256.Int)
	if _, overflow := sum.AddOverflow(a, b); overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b, failing on underflow. Balance debits translate the
// failure into their own taxonomy (InsufficientCollateral / InsufficientDebt).
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff := new(uint256.Int)
	if _, underflow := diff.SubOverflow(a, b); underflow {
		return nil, ErrOverflow
	}
	return diff, nil
}

// Min returns the smaller of a and b (no copy).
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// FromUnits converts a whole-unit count into a WAD-scaled amount.
// Intended for configuration defaults and tests.
func FromUnits(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), Wad)
}
