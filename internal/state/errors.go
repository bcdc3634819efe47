package state

import "errors"

// Error taxonomy for ledger operations. Every error aborts the enclosing
// operation with no partial commit; retry is a caller-level concern.
var (
	// ErrInvalidAmount is returned for a zero amount where a positive one is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress is returned for a nil account or recipient.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInsufficientCollateral is returned when a debit would underflow collateral.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrInsufficientDebt is returned when a repayment exceeds outstanding principal.
	ErrInsufficientDebt = errors.New("insufficient debt")

	// ErrDebtCeilingExceeded is returned when a borrow would push totalPrincipal
	// above the governance ceiling.
	ErrDebtCeilingExceeded = errors.New("debt ceiling exceeded")

	// ErrInvalidExchangeRate is returned when the oracle reports a zero rate or
	// fails. A zero rate means "price unavailable", never "worthless collateral".
	ErrInvalidExchangeRate = errors.New("invalid exchange rate")

	// ErrInsolventCaller is returned when the deferred solvency check fails
	// after a solvency-sensitive batch.
	ErrInsolventCaller = errors.New("caller insolvent")

	// ErrInvalidRequest is returned for an unknown batched action tag.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNothingToLiquidate is returned when a liquidation batch closed zero
	// positions.
	ErrNothingToLiquidate = errors.New("nothing to liquidate")
)
