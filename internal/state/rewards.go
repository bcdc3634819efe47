package state

import (
	"fmt"

	"github.com/holiman/uint256"

	fpmath "StableLend/internal/math"
)

// RewardAccrual maintains the rewards-per-token accumulator and the
// per-account reward debt. The accumulator is checkpointed (harvest folded
// in, account accrual settled) strictly before any collateral field changes,
// so an account's share is always computed against the value effective at
// its last deposit or withdrawal.
type RewardAccrual struct {
	ledger *Ledger
}

func NewRewardAccrual(ledger *Ledger) *RewardAccrual {
	return &RewardAccrual{ledger: ledger}
}

// Checkpoint settles newly-accrued rewards into the account's pending bucket
// and returns the accrued delta. Must run before the collateral field is
// overwritten; the caller rebases rewardDebt afterwards via Rebase.
func (ra *RewardAccrual) Checkpoint(acct *Account) (*uint256.Int, error) {
	credited, err := fpmath.MulWad(acct.Collateral, ra.ledger.rewardsPerToken)
	if err != nil {
		return nil, fmt.Errorf("reward checkpoint for %s: %w", acct.Owner, err)
	}

	// RewardDebt can exceed the truncated product only through corruption;
	// the accumulator never decreases.
	accrued, err := fpmath.Sub(credited, acct.RewardDebt)
	if err != nil {
		return nil, fmt.Errorf("reward checkpoint for %s: rewardDebt %s exceeds credited %s",
			acct.Owner, acct.RewardDebt.Dec(), credited.Dec())
	}

	if !accrued.IsZero() {
		if acct.PendingRewards, err = fpmath.Add(acct.PendingRewards, accrued); err != nil {
			return nil, fmt.Errorf("reward checkpoint for %s: %w", acct.Owner, err)
		}
	}

	return accrued, nil
}

// Rebase resets the account's reward debt against its (possibly mutated)
// collateral so subsequent checkpoints accrue only from this point forward.
func (ra *RewardAccrual) Rebase(acct *Account) error {
	debt, err := fpmath.MulWad(acct.Collateral, ra.ledger.rewardsPerToken)
	if err != nil {
		return fmt.Errorf("reward rebase for %s: %w", acct.Owner, err)
	}
	acct.RewardDebt = debt
	return nil
}

// Harvest folds a freshly claimed reward amount into the accumulator,
// increasing rewardsPerToken by amount/totalCollateral. With zero total
// collateral the harvest is a no-op and the amount is effectively donated:
// no shareholder exists to receive it. Returns whether the accumulator moved.
func (ra *RewardAccrual) Harvest(amount *uint256.Int) (bool, error) {
	if amount.IsZero() || ra.ledger.totalCollateral.IsZero() {
		return false, nil
	}

	delta, err := fpmath.DivWad(amount, ra.ledger.totalCollateral)
	if err != nil {
		return false, fmt.Errorf("harvest %s: %w", amount.Dec(), err)
	}

	updated, err := fpmath.Add(ra.ledger.rewardsPerToken, delta)
	if err != nil {
		return false, fmt.Errorf("harvest %s: %w", amount.Dec(), err)
	}
	ra.ledger.rewardsPerToken = updated

	return !delta.IsZero(), nil
}
