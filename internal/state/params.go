package state

import (
	"fmt"

	"github.com/holiman/uint256"

	fpmath "StableLend/internal/math"
)

// Params holds the governance-set bounds. All ratios are WAD-scaled
// fractions; the ceiling is a WAD-scaled debt-asset amount.
type Params struct {
	// MaxLTVRatio bounds principal / collateral value (e.g. 0.75e18 = 75%).
	MaxLTVRatio *uint256.Int

	// LiquidationFeeRate is applied to the principal actually liquidated.
	LiquidationFeeRate *uint256.Int

	// ProtocolFeeShare is the sub-fraction of the liquidation fee reserved
	// for the protocol treasury.
	ProtocolFeeShare *uint256.Int

	// MaxDebtCeiling bounds totalPrincipal.
	MaxDebtCeiling *uint256.Int
}

// Hard upper bounds each setter validates against.
var (
	MaxLTVRatioBound        = uint256.NewInt(990_000_000_000_000_000)   // 99%
	LiquidationFeeRateBound = uint256.NewInt(200_000_000_000_000_000)   // 20%
	ProtocolFeeShareBound   = uint256.NewInt(500_000_000_000_000_000)   // 50%
	MaxDebtCeilingBound     = fpmath.FromUnits(1_000_000_000)           // 1e9 debt units
)

// DefaultParams returns the launch configuration.
func DefaultParams() Params {
	return Params{
		MaxLTVRatio:        uint256.NewInt(750_000_000_000_000_000), // 75%
		LiquidationFeeRate: uint256.NewInt(100_000_000_000_000_000), // 10%
		ProtocolFeeShare:   uint256.NewInt(100_000_000_000_000_000), // 10% of the fee
		MaxDebtCeiling:     fpmath.FromUnits(10_000_000),
	}
}

func (p Params) clone() Params {
	return Params{
		MaxLTVRatio:        new(uint256.Int).Set(p.MaxLTVRatio),
		LiquidationFeeRate: new(uint256.Int).Set(p.LiquidationFeeRate),
		ProtocolFeeShare:   new(uint256.Int).Set(p.ProtocolFeeShare),
		MaxDebtCeiling:     new(uint256.Int).Set(p.MaxDebtCeiling),
	}
}

// Validate checks every field against its hard bound.
func (p Params) Validate() error {
	if p.MaxLTVRatio.IsZero() || p.MaxLTVRatio.Gt(MaxLTVRatioBound) {
		return fmt.Errorf("max_ltv_ratio %s out of (0, %s]", p.MaxLTVRatio.Dec(), MaxLTVRatioBound.Dec())
	}
	if p.LiquidationFeeRate.Gt(LiquidationFeeRateBound) {
		return fmt.Errorf("liquidation_fee_rate %s exceeds bound %s", p.LiquidationFeeRate.Dec(), LiquidationFeeRateBound.Dec())
	}
	if p.ProtocolFeeShare.Gt(ProtocolFeeShareBound) {
		return fmt.Errorf("protocol_fee_share %s exceeds bound %s", p.ProtocolFeeShare.Dec(), ProtocolFeeShareBound.Dec())
	}
	if p.MaxDebtCeiling.Gt(MaxDebtCeilingBound) {
		return fmt.Errorf("max_debt_ceiling %s exceeds bound %s", p.MaxDebtCeiling.Dec(), MaxDebtCeilingBound.Dec())
	}
	return nil
}

// ParamsManager serves the current governance parameters. Setters validate
// against the hard bounds; the engine emits a change event on success.
type ParamsManager struct {
	current Params
}

func NewParamsManager(initial Params) (*ParamsManager, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial params: %w", err)
	}
	return &ParamsManager{current: initial.clone()}, nil
}

func (pm *ParamsManager) Current() Params { return pm.current }

func (pm *ParamsManager) SetMaxLTVRatio(v *uint256.Int) error {
	next := pm.current.clone()
	next.MaxLTVRatio = new(uint256.Int).Set(v)
	if err := next.Validate(); err != nil {
		return err
	}
	pm.current = next
	return nil
}

func (pm *ParamsManager) SetLiquidationFeeRate(v *uint256.Int) error {
	next := pm.current.clone()
	next.LiquidationFeeRate = new(uint256.Int).Set(v)
	if err := next.Validate(); err != nil {
		return err
	}
	pm.current = next
	return nil
}

func (pm *ParamsManager) SetProtocolFeeShare(v *uint256.Int) error {
	next := pm.current.clone()
	next.ProtocolFeeShare = new(uint256.Int).Set(v)
	if err := next.Validate(); err != nil {
		return err
	}
	pm.current = next
	return nil
}

func (pm *ParamsManager) SetMaxDebtCeiling(v *uint256.Int) error {
	next := pm.current.clone()
	next.MaxDebtCeiling = new(uint256.Int).Set(v)
	if err := next.Validate(); err != nil {
		return err
	}
	pm.current = next
	return nil
}
