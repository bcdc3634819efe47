package state

import (
	"fmt"

	"github.com/holiman/uint256"

	fpmath "StableLend/internal/math"
)

// SolvencyChecker evaluates loan-to-value against an externally supplied
// exchange rate (WAD-scaled debt-asset per collateral unit).
type SolvencyChecker struct {
	params *ParamsManager
}

func NewSolvencyChecker(params *ParamsManager) *SolvencyChecker {
	return &SolvencyChecker{params: params}
}

// IsSolvent reports whether the account satisfies
// collateral x exchangeRate x maxLTVRatio >= principal.
//
// Zero principal is always solvent (short-circuit, no oracle needed). Zero
// collateral with nonzero principal is always insolvent. A zero exchange
// rate is an error: "price unavailable" must be distinguishable from "price
// is legitimately low", never treated as infinite leverage.
func (sc *SolvencyChecker) IsSolvent(acct *Account, exchangeRate *uint256.Int) (bool, error) {
	if acct == nil || acct.Principal.IsZero() {
		return true, nil
	}
	if acct.Collateral.IsZero() {
		return false, nil
	}
	if exchangeRate == nil || exchangeRate.IsZero() {
		return false, ErrInvalidExchangeRate
	}

	value, err := fpmath.MulWad(acct.Collateral, exchangeRate)
	if err != nil {
		return false, fmt.Errorf("solvency for %s: %w", acct.Owner, err)
	}
	limit, err := fpmath.MulWad(value, sc.params.Current().MaxLTVRatio)
	if err != nil {
		return false, fmt.Errorf("solvency for %s: %w", acct.Owner, err)
	}

	return !limit.Lt(acct.Principal), nil
}
