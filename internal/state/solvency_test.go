package state_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableLend/internal/state"
)

func newChecker(t *testing.T) (*state.SolvencyChecker, *state.PositionLedger, *state.Ledger) {
	t.Helper()
	ledger := state.NewLedger()
	params, err := state.NewParamsManager(state.DefaultParams())
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	pl := state.NewPositionLedger(ledger, state.NewRewardAccrual(ledger), params)
	return state.NewSolvencyChecker(params), pl, ledger
}

func TestIsSolvent_ZeroPrincipal(t *testing.T) {
	checker, pl, ledger := newChecker(t)
	alice := uuid.New()
	if err := pl.Deposit(alice, units(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	acct, _ := ledger.Lookup(alice)
	// No debt: solvent without needing a rate at all.
	solvent, err := checker.IsSolvent(acct, nil)
	if err != nil || !solvent {
		t.Errorf("zero principal: solvent=%v err=%v", solvent, err)
	}
}

func TestIsSolvent_NilAccount(t *testing.T) {
	checker, _, _ := newChecker(t)
	solvent, err := checker.IsSolvent(nil, nil)
	if err != nil || !solvent {
		t.Errorf("nil account: solvent=%v err=%v", solvent, err)
	}
}

func TestIsSolvent_ZeroCollateralWithDebt(t *testing.T) {
	checker, pl, ledger := newChecker(t)
	alice := uuid.New()
	if err := pl.Borrow(alice, units(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	acct, _ := ledger.Lookup(alice)
	solvent, err := checker.IsSolvent(acct, units(1))
	if err != nil {
		t.Fatalf("IsSolvent: %v", err)
	}
	if solvent {
		t.Error("zero collateral with debt reported solvent")
	}
}

func TestIsSolvent_ZeroRateIsError(t *testing.T) {
	checker, pl, ledger := newChecker(t)
	alice := uuid.New()
	if err := pl.Deposit(alice, units(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pl.Borrow(alice, units(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	acct, _ := ledger.Lookup(alice)
	if _, err := checker.IsSolvent(acct, new(uint256.Int)); !errors.Is(err, state.ErrInvalidExchangeRate) {
		t.Errorf("expected ErrInvalidExchangeRate, got %v", err)
	}
	if _, err := checker.IsSolvent(acct, nil); !errors.Is(err, state.ErrInvalidExchangeRate) {
		t.Errorf("expected ErrInvalidExchangeRate for nil, got %v", err)
	}
}

func TestIsSolvent_LTVBoundary(t *testing.T) {
	// 100 collateral at rate 2.0 with the default 75% LTV: limit is 150.
	checker, pl, ledger := newChecker(t)
	alice := uuid.New()
	if err := pl.Deposit(alice, units(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pl.Borrow(alice, units(150)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	rate := units(2)

	acct, _ := ledger.Lookup(alice)
	solvent, err := checker.IsSolvent(acct, rate)
	if err != nil {
		t.Fatalf("IsSolvent: %v", err)
	}
	if !solvent {
		t.Error("principal exactly at the limit should be solvent")
	}

	if err := pl.Borrow(alice, uint256.NewInt(1)); err != nil {
		t.Fatalf("borrow 1 wei: %v", err)
	}
	solvent, err = checker.IsSolvent(acct, rate)
	if err != nil {
		t.Fatalf("IsSolvent: %v", err)
	}
	if solvent {
		t.Error("one wei over the limit should be insolvent")
	}
}
