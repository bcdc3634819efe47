package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableLend/internal/event"
	fpmath "StableLend/internal/math"
	"StableLend/internal/state"
)

// LiquidationEntry names one account to close and how much of its principal
// the liquidator is willing to cover. The amount is clamped to the account's
// actual principal.
type LiquidationEntry struct {
	Account            uuid.UUID
	RequestedPrincipal *uint256.Int
}

// Liquidate closes the insolvent positions among entries at a single oracle
// rate snapshot. Solvent entries are skipped silently; if every entry turns
// out solvent the whole operation fails with ErrNothingToLiquidate and no
// state changes.
//
// Per closed position the liquidator covers the clamped principal plus the
// protocol's share of the liquidation fee (burned from the liquidator), and
// receives the seized collateral worth principal plus the full fee. An empty
// route delivers raw collateral to recipient; otherwise the collateral is
// swapped into the debt asset along the route.
//
// A position so far underwater that the seizure exceeds its collateral
// aborts the batch with ErrInsufficientCollateral; liquidators converge on
// such positions with smaller requested amounts.
func (e *Engine) Liquidate(ctx context.Context, liquidator uuid.UUID, entries []LiquidationEntry, route []string, recipient uuid.UUID) (uuid.UUID, error) {
	if err := e.enter(); err != nil {
		return uuid.Nil, err
	}
	defer e.exit()

	if liquidator == uuid.Nil || recipient == uuid.Nil {
		return uuid.Nil, e.reject("liquidation", state.ErrInvalidAddress)
	}
	if len(entries) == 0 {
		return uuid.Nil, e.reject("liquidation", fmt.Errorf("%w: no liquidation entries", state.ErrInvalidRequest))
	}

	opID := uuid.New()
	start := time.Now()

	// One rate snapshot for the whole batch.
	rate, err := e.oracle.PriceOf(ctx, e.collateralAsset)
	if err != nil {
		return uuid.Nil, e.reject("liquidation", fmt.Errorf("%w: %v", state.ErrInvalidExchangeRate, err))
	}

	bs, err := e.newBatchState(ctx)
	if err != nil {
		return uuid.Nil, e.reject("liquidation", err)
	}
	if _, err := e.harvestInto(ctx, bs); err != nil {
		return uuid.Nil, e.reject("liquidation", err)
	}

	params := e.params.Current()

	allPrincipal := new(uint256.Int)
	allCollateral := new(uint256.Int)
	allFee := new(uint256.Int)
	var closedAccounts []event.LiquidatedAccount

	for _, entry := range entries {
		if entry.Account == uuid.Nil {
			return uuid.Nil, e.reject("liquidation", state.ErrInvalidAddress)
		}
		if entry.RequestedPrincipal == nil || entry.RequestedPrincipal.IsZero() {
			return uuid.Nil, e.reject("liquidation", state.ErrInvalidAmount)
		}

		acct, ok := bs.work.Lookup(entry.Account)
		if !ok {
			continue
		}
		solvent, err := e.solvency.IsSolvent(acct, rate)
		if err != nil {
			return uuid.Nil, e.reject("liquidation", err)
		}
		if solvent {
			continue
		}

		closed := new(uint256.Int).Set(fpmath.Min(entry.RequestedPrincipal, acct.Principal))

		fee, err := fpmath.MulWad(closed, params.LiquidationFeeRate)
		if err != nil {
			return uuid.Nil, e.reject("liquidation", err)
		}
		debtPlusFee, err := fpmath.Add(closed, fee)
		if err != nil {
			return uuid.Nil, e.reject("liquidation", err)
		}
		seized, err := fpmath.DivWad(debtPlusFee, rate)
		if err != nil {
			return uuid.Nil, e.reject("liquidation", err)
		}

		if !seized.IsZero() {
			// Drains the account's accrued rewards too; they are paid to
			// the liquidated owner, not the liquidator.
			owed, err := bs.positions.Withdraw(entry.Account, seized)
			if err != nil {
				return uuid.Nil, e.reject("liquidation", err)
			}
			bs.payRewards(entry.Account, owed)
		}
		if err := bs.positions.Repay(entry.Account, closed); err != nil {
			return uuid.Nil, e.reject("liquidation", err)
		}

		allPrincipal.Add(allPrincipal, closed)
		allCollateral.Add(allCollateral, seized)
		allFee.Add(allFee, fee)
		closedAccounts = append(closedAccounts, event.LiquidatedAccount{
			Account:          entry.Account,
			PrincipalClosed:  closed.Dec(),
			CollateralSeized: seized.Dec(),
			Fee:              fee.Dec(),
		})
	}

	if allPrincipal.IsZero() {
		return uuid.Nil, e.reject("liquidation", state.ErrNothingToLiquidate)
	}

	protocolFee, err := fpmath.MulWad(allFee, params.ProtocolFeeShare)
	if err != nil {
		return uuid.Nil, e.reject("liquidation", err)
	}
	burnAmount, err := fpmath.Add(allPrincipal, protocolFee)
	if err != nil {
		return uuid.Nil, e.reject("liquidation", err)
	}

	bs.unstakeOut.Add(bs.unstakeOut, allCollateral)
	bs.burnFromCaller.Add(bs.burnFromCaller, burnAmount)
	if len(route) == 0 {
		bs.collateralOut = append(bs.collateralOut, transfer{from: VaultHolder, to: recipient, amount: allCollateral})
	}

	if err := e.settleExternals(ctx, liquidator, bs); err != nil {
		return uuid.Nil, e.reject("liquidation", err)
	}
	if len(route) > 0 {
		if _, err := e.router.Swap(ctx, route, allCollateral, recipient); err != nil {
			return uuid.Nil, e.reject("liquidation", fmt.Errorf("swap: %w", err))
		}
	}

	evt := &event.Liquidation{
		OperationID:   opID,
		Liquidator:    liquidator,
		Recipient:     recipient,
		ExchangeRate:  rate.Dec(),
		Closed:        closedAccounts,
		AllPrincipal:  allPrincipal.Dec(),
		AllCollateral: allCollateral.Dec(),
		AllFee:        allFee.Dec(),
		ProtocolFee:   protocolFee.Dec(),
		SwapRoute:     route,
	}

	if _, err := e.commit(bs.work, evt); err != nil {
		return uuid.Nil, e.reject("liquidation", err)
	}

	if e.metrics != nil {
		e.metrics.Liquidations.Inc()
		e.metrics.LiquidatedPositions.Add(float64(len(closedAccounts)))
		e.metrics.OpDuration.WithLabelValues("liquidation").Observe(time.Since(start).Seconds())
	}
	e.log.Info().
		Str("op_id", opID.String()).
		Str("liquidator", liquidator.String()).
		Int("positions", len(closedAccounts)).
		Str("principal", allPrincipal.Dec()).
		Str("collateral", allCollateral.Dec()).
		Msg("liquidation committed")

	return opID, nil
}
