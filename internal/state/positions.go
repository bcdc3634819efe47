package state

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "StableLend/internal/math"
)

// PositionLedger executes the principal-changing operations against the
// aggregate. It owns no external effects: token transfers, minting, burning,
// and venue staking are the engine's concern. Every operation either fully
// applies or returns an error with the ledger untouched — callers stage on a
// Clone when composing multiple operations.
type PositionLedger struct {
	ledger  *Ledger
	rewards *RewardAccrual
	params  *ParamsManager
}

func NewPositionLedger(ledger *Ledger, rewards *RewardAccrual, params *ParamsManager) *PositionLedger {
	return &PositionLedger{
		ledger:  ledger,
		rewards: rewards,
		params:  params,
	}
}

func (pl *PositionLedger) Ledger() *Ledger         { return pl.ledger }
func (pl *PositionLedger) Rewards() *RewardAccrual { return pl.rewards }

// Deposit credits amount of collateral to the target account. The reward
// checkpoint runs against the pre-deposit collateral so new collateral cannot
// retroactively capture rewards earned before it existed (the engine folds
// the venue's pending payout into the accumulator before calling this).
func (pl *PositionLedger) Deposit(owner uuid.UUID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if owner == uuid.Nil {
		return ErrInvalidAddress
	}

	acct := pl.ledger.Account(owner)

	if _, err := pl.rewards.Checkpoint(acct); err != nil {
		return err
	}

	newCollateral, err := fpmath.Add(acct.Collateral, amount)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", amount.Dec(), err)
	}
	newTotal, err := fpmath.Add(pl.ledger.totalCollateral, amount)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", amount.Dec(), err)
	}

	acct.Collateral = newCollateral
	pl.ledger.totalCollateral = newTotal

	return pl.rewards.Rebase(acct)
}

// Withdraw debits amount of collateral and drains the account's pending
// rewards, returning the drained amount for the engine to pay out (capped by
// whatever reward-token balance is actually available — a partial payment is
// acceptable and the shortfall is not tracked further). If collateral reaches
// zero the per-account accumulator state is reset so stale rewardDebt cannot
// reactivate on a future deposit.
func (pl *PositionLedger) Withdraw(owner uuid.UUID, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	acct, ok := pl.ledger.Lookup(owner)
	if !ok || amount.Gt(acct.Collateral) {
		return nil, ErrInsufficientCollateral
	}

	// Checkpoint against pre-withdrawal collateral.
	if _, err := pl.rewards.Checkpoint(acct); err != nil {
		return nil, err
	}

	rewardsOwed := new(uint256.Int).Set(acct.PendingRewards)
	acct.PendingRewards.Clear()

	acct.Collateral = new(uint256.Int).Sub(acct.Collateral, amount)
	pl.ledger.totalCollateral = new(uint256.Int).Sub(pl.ledger.totalCollateral, amount)

	if acct.Collateral.IsZero() {
		acct.resetRewardState()
	} else if err := pl.rewards.Rebase(acct); err != nil {
		return nil, err
	}

	return rewardsOwed, nil
}

// Borrow increases the account's principal, bounded by the global debt
// ceiling. Solvency is deliberately NOT checked here — the dispatcher defers
// a single check to the end of the batch so patterns like "borrow then
// deposit more collateral" remain expressible.
func (pl *PositionLedger) Borrow(owner uuid.UUID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if owner == uuid.Nil {
		return ErrInvalidAddress
	}

	newTotal, err := fpmath.Add(pl.ledger.totalPrincipal, amount)
	if err != nil {
		return fmt.Errorf("borrow %s: %w", amount.Dec(), err)
	}
	if newTotal.Gt(pl.params.Current().MaxDebtCeiling) {
		return ErrDebtCeilingExceeded
	}

	acct := pl.ledger.Account(owner)
	newPrincipal, err := fpmath.Add(acct.Principal, amount)
	if err != nil {
		return fmt.Errorf("borrow %s: %w", amount.Dec(), err)
	}

	acct.Principal = newPrincipal
	pl.ledger.totalPrincipal = newTotal

	return nil
}

// Repay reduces the account's principal 1:1. Repaying more than is owed is
// the signaled underflow failure, not a clamp.
func (pl *PositionLedger) Repay(owner uuid.UUID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	acct, ok := pl.ledger.Lookup(owner)
	if !ok || amount.Gt(acct.Principal) {
		return ErrInsufficientDebt
	}

	acct.Principal = new(uint256.Int).Sub(acct.Principal, amount)
	pl.ledger.totalPrincipal = new(uint256.Int).Sub(pl.ledger.totalPrincipal, amount)

	if acct.IsEmpty() {
		acct.resetRewardState()
	}

	return nil
}
