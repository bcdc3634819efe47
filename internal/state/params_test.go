package state_test

import (
	"testing"

	"github.com/holiman/uint256"

	"StableLend/internal/state"
)

func TestDefaultParams_Valid(t *testing.T) {
	if err := state.DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
}

func TestParamsManager_RejectsOutOfBounds(t *testing.T) {
	pm, err := state.NewParamsManager(state.DefaultParams())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	before := pm.Current().MaxLTVRatio.Dec()

	over := new(uint256.Int).Add(state.MaxLTVRatioBound, uint256.NewInt(1))
	if err := pm.SetMaxLTVRatio(over); err == nil {
		t.Error("LTV above bound accepted")
	}
	if err := pm.SetMaxLTVRatio(new(uint256.Int)); err == nil {
		t.Error("zero LTV accepted")
	}
	if got := pm.Current().MaxLTVRatio.Dec(); got != before {
		t.Errorf("failed set mutated current: %s", got)
	}
}

func TestParamsManager_AppliesValidUpdate(t *testing.T) {
	pm, err := state.NewParamsManager(state.DefaultParams())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	next := uint256.NewInt(500_000_000_000_000_000) // 50%
	if err := pm.SetMaxLTVRatio(next); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !pm.Current().MaxLTVRatio.Eq(next) {
		t.Errorf("MaxLTVRatio = %s", pm.Current().MaxLTVRatio.Dec())
	}
}

func TestNewParamsManager_RejectsInvalidInitial(t *testing.T) {
	p := state.DefaultParams()
	p.MaxLTVRatio = new(uint256.Int)
	if _, err := state.NewParamsManager(p); err == nil {
		t.Error("zero-LTV initial params accepted")
	}
}
