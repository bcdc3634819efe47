package math_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	fpmath "StableLend/internal/math"
)

func wad(n uint64) *uint256.Int {
	return fpmath.FromUnits(n)
}

func TestMulWad_Basic(t *testing.T) {
	// 2.0 * 3.0 = 6.0
	got, err := fpmath.MulWad(wad(2), wad(3))
	if err != nil {
		t.Fatalf("MulWad: %v", err)
	}
	if !got.Eq(wad(6)) {
		t.Errorf("got %s, want %s", got.Dec(), wad(6).Dec())
	}
}

func TestMulWad_Truncates(t *testing.T) {
	// 1 wei * 0.5 truncates to zero.
	half := new(uint256.Int).Div(fpmath.Wad, uint256.NewInt(2))
	got, err := fpmath.MulWad(uint256.NewInt(1), half)
	if err != nil {
		t.Fatalf("MulWad: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected truncation to zero, got %s", got.Dec())
	}
}

func TestDivWad_Basic(t *testing.T) {
	// 6.0 / 3.0 = 2.0
	got, err := fpmath.DivWad(wad(6), wad(3))
	if err != nil {
		t.Fatalf("DivWad: %v", err)
	}
	if !got.Eq(wad(2)) {
		t.Errorf("got %s, want %s", got.Dec(), wad(2).Dec())
	}
}

func TestDivWad_ByZero(t *testing.T) {
	_, err := fpmath.DivWad(wad(1), new(uint256.Int))
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := fpmath.MulDiv(max, max, fpmath.Wad)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestAdd_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := fpmath.Add(max, uint256.NewInt(1))
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestSub_Underflow(t *testing.T) {
	_, err := fpmath.Sub(uint256.NewInt(1), uint256.NewInt(2))
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected underflow error, got %v", err)
	}
}

func TestMin(t *testing.T) {
	a, b := uint256.NewInt(3), uint256.NewInt(5)
	if got := fpmath.Min(a, b); !got.Eq(a) {
		t.Errorf("Min(3,5) = %s", got.Dec())
	}
	if got := fpmath.Min(b, a); !got.Eq(a) {
		t.Errorf("Min(5,3) = %s", got.Dec())
	}
}

func TestFromUnits(t *testing.T) {
	got := fpmath.FromUnits(7)
	want := new(uint256.Int).Mul(uint256.NewInt(7), fpmath.Wad)
	if !got.Eq(want) {
		t.Errorf("got %s, want %s", got.Dec(), want.Dec())
	}
}
