package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableLend/internal/event"
	"StableLend/internal/state"
)

// runOp is the shared frame for single-action operations: guard, lock,
// harvest at entry, stage on the clone, deferred solvency check, external
// settlement, commit.
func (e *Engine) runOp(ctx context.Context, caller uuid.UUID, kind string, stage func(bs *batchState, opID uuid.UUID, harvested *uint256.Int) (event.Event, error)) (uuid.UUID, error) {
	if err := e.enter(); err != nil {
		return uuid.Nil, err
	}
	defer e.exit()

	if caller == uuid.Nil {
		return uuid.Nil, e.reject(kind, state.ErrInvalidAddress)
	}

	opID := uuid.New()
	start := time.Now()

	bs, err := e.newBatchState(ctx)
	if err != nil {
		return uuid.Nil, e.reject(kind, err)
	}

	harvested, err := e.harvestInto(ctx, bs)
	if err != nil {
		return uuid.Nil, e.reject(kind, err)
	}

	evt, err := stage(bs, opID, harvested)
	if err != nil {
		return uuid.Nil, e.reject(kind, err)
	}

	if bs.needSolvency {
		if err := e.checkCallerSolvency(ctx, caller, bs); err != nil {
			return uuid.Nil, e.reject(kind, err)
		}
	}

	if err := e.settleExternals(ctx, caller, bs); err != nil {
		return uuid.Nil, e.reject(kind, err)
	}

	if _, err := e.commit(bs.work, evt); err != nil {
		return uuid.Nil, e.reject(kind, err)
	}

	if e.metrics != nil {
		e.metrics.OpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	e.log.Info().Str("op", kind).Str("op_id", opID.String()).Msg("operation committed")

	return opID, nil
}

// Deposit moves amount of collateral from the caller into the vault, stakes
// it, and credits the position of to.
func (e *Engine) Deposit(ctx context.Context, caller, to uuid.UUID, amount *uint256.Int) (uuid.UUID, error) {
	return e.runOp(ctx, caller, "deposit", func(bs *batchState, opID uuid.UUID, harvested *uint256.Int) (event.Event, error) {
		if err := e.applyAction(caller, bs, DepositAction{To: to, Amount: amount}); err != nil {
			return nil, err
		}
		return &event.Deposit{
			OperationID: opID,
			Caller:      caller,
			To:          to,
			Amount:      amount.Dec(),
			Harvested:   harvested.Dec(),
		}, nil
	})
}

// Withdraw unstakes amount of the caller's collateral and sends it to
// collateralRecipient; accrued rewards (as far as the vault's balance
// allows) go to rewardsRecipient.
func (e *Engine) Withdraw(ctx context.Context, caller, collateralRecipient, rewardsRecipient uuid.UUID, amount *uint256.Int) (uuid.UUID, error) {
	return e.runOp(ctx, caller, "withdraw", func(bs *batchState, opID uuid.UUID, _ *uint256.Int) (event.Event, error) {
		action := WithdrawAction{
			CollateralRecipient: collateralRecipient,
			RewardsRecipient:    rewardsRecipient,
			Amount:              amount,
		}
		if err := e.applyAction(caller, bs, action); err != nil {
			return nil, err
		}
		return &event.Withdraw{
			OperationID:         opID,
			Caller:              caller,
			CollateralRecipient: collateralRecipient,
			RewardsRecipient:    rewardsRecipient,
			Amount:              amount.Dec(),
			RewardsPaid:         bs.rewardsPaid.Dec(),
		}, nil
	})
}

// Borrow mints amount of debt asset to recipient against the caller's
// collateral.
func (e *Engine) Borrow(ctx context.Context, caller, recipient uuid.UUID, amount *uint256.Int) (uuid.UUID, error) {
	return e.runOp(ctx, caller, "borrow", func(bs *batchState, opID uuid.UUID, _ *uint256.Int) (event.Event, error) {
		if err := e.applyAction(caller, bs, BorrowAction{Recipient: recipient, Amount: amount}); err != nil {
			return nil, err
		}
		return &event.Borrow{
			OperationID: opID,
			Caller:      caller,
			Recipient:   recipient,
			Amount:      amount.Dec(),
		}, nil
	})
}

// Repay burns amount of debt asset from the caller against account's
// principal (the caller's own when account is uuid.Nil).
func (e *Engine) Repay(ctx context.Context, caller, account uuid.UUID, amount *uint256.Int) (uuid.UUID, error) {
	return e.runOp(ctx, caller, "repay", func(bs *batchState, opID uuid.UUID, _ *uint256.Int) (event.Event, error) {
		if err := e.applyAction(caller, bs, RepayAction{Account: account, Amount: amount}); err != nil {
			return nil, err
		}
		target := account
		if target == uuid.Nil {
			target = caller
		}
		return &event.Repay{
			OperationID: opID,
			Caller:      caller,
			Account:     target,
			Amount:      amount.Dec(),
		}, nil
	})
}

// Harvest claims the farm's pending payout and folds it into the reward
// accumulator without moving any stake. Anyone may trigger it.
func (e *Engine) Harvest(ctx context.Context) (uuid.UUID, error) {
	return e.harvest(ctx, "")
}

// HarvestTick is the bus-driven variant: the tick ID is stamped on the
// event as its dedup key.
func (e *Engine) HarvestTick(ctx context.Context, tickID string) (uuid.UUID, error) {
	return e.harvest(ctx, tickID)
}

func (e *Engine) harvest(ctx context.Context, tickID string) (uuid.UUID, error) {
	if err := e.enter(); err != nil {
		return uuid.Nil, err
	}
	defer e.exit()

	opID := uuid.New()

	claimed, err := e.farm.Harvest(ctx, e.poolID)
	if err != nil {
		return uuid.Nil, e.reject("harvest", fmt.Errorf("harvest: %w", err))
	}

	work := e.ledger.Clone()
	moved, err := state.NewRewardAccrual(work).Harvest(claimed)
	if err != nil {
		return uuid.Nil, e.reject("harvest", err)
	}

	evt := &event.Harvest{
		OperationID:     opID,
		Amount:          claimed.Dec(),
		RewardsPerToken: work.RewardsPerToken().Dec(),
		TickID:          tickID,
		Donated:         !claimed.IsZero() && work.TotalCollateral().IsZero(),
	}

	if _, err := e.commit(work, evt); err != nil {
		return uuid.Nil, e.reject("harvest", err)
	}

	if e.metrics != nil {
		e.metrics.Harvests.Inc()
	}
	e.log.Info().Str("op_id", opID.String()).Str("claimed", claimed.Dec()).Bool("moved", moved).Msg("harvest committed")

	return opID, nil
}

// --- governance ---

// Parameter names accepted by SetParam.
const (
	ParamMaxLTVRatio        = "max_ltv_ratio"
	ParamLiquidationFeeRate = "liquidation_fee_rate"
	ParamProtocolFeeShare   = "protocol_fee_share"
	ParamMaxDebtCeiling     = "max_debt_ceiling"
)

// SetParam applies a governance parameter change and emits a ParamUpdate
// event. Bounds are enforced by the params manager; an out-of-bounds value
// leaves everything untouched.
func (e *Engine) SetParam(ctx context.Context, name string, value *uint256.Int) (uuid.UUID, error) {
	if err := e.enter(); err != nil {
		return uuid.Nil, err
	}
	defer e.exit()

	if value == nil {
		return uuid.Nil, e.reject("param_update", state.ErrInvalidAmount)
	}

	current := e.params.Current()

	var old *uint256.Int
	var apply func(*uint256.Int) error
	switch name {
	case ParamMaxLTVRatio:
		old, apply = current.MaxLTVRatio, e.params.SetMaxLTVRatio
	case ParamLiquidationFeeRate:
		old, apply = current.LiquidationFeeRate, e.params.SetLiquidationFeeRate
	case ParamProtocolFeeShare:
		old, apply = current.ProtocolFeeShare, e.params.SetProtocolFeeShare
	case ParamMaxDebtCeiling:
		old, apply = current.MaxDebtCeiling, e.params.SetMaxDebtCeiling
	default:
		return uuid.Nil, e.reject("param_update", fmt.Errorf("%w: unknown parameter %q", state.ErrInvalidRequest, name))
	}

	if err := apply(value); err != nil {
		return uuid.Nil, e.reject("param_update", fmt.Errorf("%w: %v", state.ErrInvalidRequest, err))
	}

	opID := uuid.New()
	evt := &event.ParamUpdate{
		OperationID: opID,
		Name:        name,
		OldValue:    old.Dec(),
		NewValue:    value.Dec(),
	}

	// Params live outside the ledger aggregate; the commit still extends the
	// hash chain over the (unchanged) ledger so the change is sequenced.
	if _, err := e.commit(e.ledger, evt); err != nil {
		return uuid.Nil, e.reject("param_update", err)
	}

	e.log.Info().Str("param", name).Str("old", old.Dec()).Str("new", value.Dec()).Msg("parameter updated")

	return opID, nil
}

// --- read surface ---

// AccountView is a read-only copy of one position.
type AccountView struct {
	Owner          uuid.UUID
	Collateral     *uint256.Int
	Principal      *uint256.Int
	RewardDebt     *uint256.Int
	PendingRewards *uint256.Int
}

// AccountState returns a copy of the owner's position, or false if the
// account has never been touched.
func (e *Engine) AccountState(owner uuid.UUID) (AccountView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.ledger.Lookup(owner)
	if !ok {
		return AccountView{}, false
	}
	c := acct.Clone()
	return AccountView{
		Owner:          c.Owner,
		Collateral:     c.Collateral,
		Principal:      c.Principal,
		RewardDebt:     c.RewardDebt,
		PendingRewards: c.PendingRewards,
	}, true
}

// Totals returns the global collateral and principal totals plus the
// reward accumulator.
func (e *Engine) Totals() (totalCollateral, totalPrincipal, rewardsPerToken *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalCollateral(), e.ledger.TotalPrincipal(), e.ledger.RewardsPerToken()
}

// Params returns the current governance parameters.
func (e *Engine) Params() state.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Current()
}

// SolvencyPreview checks the owner's position against a fresh oracle rate
// without mutating anything.
func (e *Engine) SolvencyPreview(ctx context.Context, owner uuid.UUID) (solvent bool, rate *uint256.Int, err error) {
	rate, err = e.oracle.PriceOf(ctx, e.collateralAsset)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", state.ErrInvalidExchangeRate, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct, _ := e.ledger.Lookup(owner)
	solvent, err = e.solvency.IsSolvent(acct, rate)
	return solvent, rate, err
}

// Sequence returns the next sequence number to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current hash-chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// Snapshot captures the ledger for persistence.
func (e *Engine) Snapshot() (*state.LedgerSnapshot, int64, [32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot(), e.sequence, e.hasher.GetPrevHash()
}
