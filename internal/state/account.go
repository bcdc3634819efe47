package state

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Account holds one user's position: deposited collateral, outstanding debt
// principal, and the reward bookkeeping pair used by the rewards-per-token
// accumulator. All amounts are WAD-scaled and owned exclusively by the ledger.
type Account struct {
	Owner uuid.UUID

	// Collateral is mutated only by deposit, withdraw, and liquidation.
	Collateral *uint256.Int

	// Principal is static debt (no accrued interest), repaid 1:1.
	Principal *uint256.Int

	// RewardDebt is rewardsPerToken x collateral as of the last checkpoint.
	RewardDebt *uint256.Int

	// PendingRewards is accrued but unpaid reward, carried across withdrawals
	// when the reward-paying balance was insufficient.
	PendingRewards *uint256.Int
}

func newAccount(owner uuid.UUID) *Account {
	return &Account{
		Owner:          owner,
		Collateral:     new(uint256.Int),
		Principal:      new(uint256.Int),
		RewardDebt:     new(uint256.Int),
		PendingRewards: new(uint256.Int),
	}
}

// IsEmpty reports whether the account has decayed to the zero-value state.
func (a *Account) IsEmpty() bool {
	return a.Collateral.IsZero() && a.Principal.IsZero()
}

// resetRewardState zeroes the accumulator pair. Called when collateral
// returns to zero so stale rewardDebt cannot reactivate on a future deposit.
func (a *Account) resetRewardState() {
	a.RewardDebt.Clear()
	a.PendingRewards.Clear()
}

func (a *Account) Clone() *Account {
	return &Account{
		Owner:          a.Owner,
		Collateral:     new(uint256.Int).Set(a.Collateral),
		Principal:      new(uint256.Int).Set(a.Principal),
		RewardDebt:     new(uint256.Int).Set(a.RewardDebt),
		PendingRewards: new(uint256.Int).Set(a.PendingRewards),
	}
}

// CanonicalBytes returns deterministic serialization for state hashing.
func (a *Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+4*32)
	buf = append(buf, a.Owner[:]...)

	for _, v := range []*uint256.Int{a.Collateral, a.Principal, a.RewardDebt, a.PendingRewards} {
		b := v.Bytes32()
		buf = append(buf, b[:]...)
	}

	return buf
}
