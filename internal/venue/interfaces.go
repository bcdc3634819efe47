package venue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// External collaborators consumed by the core, abstracted from their concrete
// venues. All calls are synchronous; any failure aborts the enclosing ledger
// operation before commit.

var (
	// ErrRateUnavailable is returned when the oracle has no usable price.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrInsufficientBalance is returned by token debits that would underflow.
	ErrInsufficientBalance = errors.New("insufficient token balance")
)

// Oracle converts the collateral asset into a WAD-scaled exchange rate
// (debt-asset units per collateral unit). A zero rate must surface as an
// error, never as "worthless collateral".
type Oracle interface {
	PriceOf(ctx context.Context, asset string) (*uint256.Int, error)
}

// YieldVenue is the underlying farm the collateral is staked into. Reward
// harvesting is a side effect of both calls: the claimed amount is returned
// and must be folded into the reward accumulator before any collateral
// bookkeeping changes.
type YieldVenue interface {
	Stake(ctx context.Context, poolID string, amount *uint256.Int) (claimed *uint256.Int, err error)
	Unstake(ctx context.Context, poolID string, amount *uint256.Int) (claimed *uint256.Int, err error)

	// Harvest claims the pending payout without moving stake. The engine
	// calls it at the top of every collateral-changing operation so the
	// accumulator is refreshed before balances move.
	Harvest(ctx context.Context, poolID string) (claimed *uint256.Int, err error)
}

// DebtAsset is the pegged stable-value asset's mint/burn authority.
type DebtAsset interface {
	Mint(ctx context.Context, to uuid.UUID, amount *uint256.Int) error
	Burn(ctx context.Context, from uuid.UUID, amount *uint256.Int) error
}

// Token is a plain balance-transfer asset. The reward token and the raw
// collateral token both settle through this surface.
type Token interface {
	BalanceOf(ctx context.Context, holder uuid.UUID) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) error
}

// SwapRouter converts seized collateral into the debt asset during
// liquidation settlement. The route is an opaque ordered hop list chosen by
// the liquidator.
type SwapRouter interface {
	Swap(ctx context.Context, route []string, amountIn *uint256.Int, recipient uuid.UUID) (amountOut *uint256.Int, err error)
}
