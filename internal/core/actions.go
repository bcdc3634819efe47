package core

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Action is the tagged union over the four batched ledger actions. The
// dispatcher matches exhaustively by type; anything else is ErrInvalidRequest.
type Action interface {
	// Kind returns the action tag for events and logs.
	Kind() string
}

// DepositAction credits collateral to To.
type DepositAction struct {
	To     uuid.UUID
	Amount *uint256.Int
}

func (DepositAction) Kind() string { return "deposit" }

// WithdrawAction debits the caller's collateral. Collateral and accrued
// rewards can be routed to different recipients.
type WithdrawAction struct {
	CollateralRecipient uuid.UUID
	RewardsRecipient    uuid.UUID
	Amount              *uint256.Int
}

func (WithdrawAction) Kind() string { return "withdraw" }

// BorrowAction mints debt asset to Recipient against the caller's collateral.
type BorrowAction struct {
	Recipient uuid.UUID
	Amount    *uint256.Int
}

func (BorrowAction) Kind() string { return "borrow" }

// RepayAction burns debt asset from the caller against Account's principal.
// Account defaults to the caller when nil.
type RepayAction struct {
	Account uuid.UUID
	Amount  *uint256.Int
}

func (RepayAction) Kind() string { return "repay" }

// solvencySensitive reports whether the action kind can reduce the caller's
// collateralization ratio. Any such action in a batch triggers exactly one
// deferred solvency check after the whole batch.
func solvencySensitive(a Action) bool {
	switch a.(type) {
	case WithdrawAction, *WithdrawAction, BorrowAction, *BorrowAction:
		return true
	default:
		return false
	}
}
