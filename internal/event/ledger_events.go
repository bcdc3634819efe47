package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Amounts are carried as WAD decimal strings so payloads survive JSON
// encoding without precision loss.

type Deposit struct {
	OperationID uuid.UUID `json:"operation_id"`
	Caller      uuid.UUID `json:"caller"`
	To          uuid.UUID `json:"to"`
	Amount      string    `json:"amount"`
	Harvested   string    `json:"harvested"`
}

func (e *Deposit) IdempotencyKey() string { return e.OperationID.String() }
func (e *Deposit) EventType() EventType   { return EventTypeDeposit }

type Withdraw struct {
	OperationID         uuid.UUID `json:"operation_id"`
	Caller              uuid.UUID `json:"caller"`
	CollateralRecipient uuid.UUID `json:"collateral_recipient"`
	RewardsRecipient    uuid.UUID `json:"rewards_recipient"`
	Amount              string    `json:"amount"`
	RewardsPaid         string    `json:"rewards_paid"`
}

func (e *Withdraw) IdempotencyKey() string { return e.OperationID.String() }
func (e *Withdraw) EventType() EventType   { return EventTypeWithdraw }

type Borrow struct {
	OperationID uuid.UUID `json:"operation_id"`
	Caller      uuid.UUID `json:"caller"`
	Recipient   uuid.UUID `json:"recipient"`
	Amount      string    `json:"amount"`
}

func (e *Borrow) IdempotencyKey() string { return e.OperationID.String() }
func (e *Borrow) EventType() EventType   { return EventTypeBorrow }

type Repay struct {
	OperationID uuid.UUID `json:"operation_id"`
	Caller      uuid.UUID `json:"caller"`
	Account     uuid.UUID `json:"account"`
	Amount      string    `json:"amount"`
}

func (e *Repay) IdempotencyKey() string { return e.OperationID.String() }
func (e *Repay) EventType() EventType   { return EventTypeRepay }

// BatchExecuted records a completed multi-action request.
type BatchExecuted struct {
	OperationID uuid.UUID `json:"operation_id"`
	Caller      uuid.UUID `json:"caller"`
	Actions     []string  `json:"actions"`
	// SolvencyChecked is true when the batch contained a solvency-sensitive
	// action and the deferred check ran.
	SolvencyChecked bool `json:"solvency_checked"`
}

func (e *BatchExecuted) IdempotencyKey() string { return e.OperationID.String() }
func (e *BatchExecuted) EventType() EventType   { return EventTypeBatchExecuted }

// Harvest records a reward-accumulator refresh.
type Harvest struct {
	OperationID     uuid.UUID `json:"operation_id"`
	Amount          string    `json:"amount"`
	RewardsPerToken string    `json:"rewards_per_token"`
	// TickID is the bus tick that triggered the harvest, empty for manual
	// triggers. When set it doubles as the dedup key so a redelivered tick
	// can be recognized even after the in-memory cache aged it out.
	TickID string `json:"tick_id,omitempty"`
	// Donated is true when totalCollateral was zero and the amount was
	// discarded (no shareholder to receive it).
	Donated bool `json:"donated"`
}

func (e *Harvest) IdempotencyKey() string {
	if e.TickID != "" {
		return e.TickID
	}
	return e.OperationID.String()
}
func (e *Harvest) EventType() EventType   { return EventTypeHarvest }

// LiquidatedAccount is one closed (or partially closed) position inside a
// liquidation batch.
type LiquidatedAccount struct {
	Account          uuid.UUID `json:"account"`
	PrincipalClosed  string    `json:"principal_closed"`
	CollateralSeized string    `json:"collateral_seized"`
	Fee              string    `json:"fee"`
}

type Liquidation struct {
	OperationID   uuid.UUID           `json:"operation_id"`
	Liquidator    uuid.UUID           `json:"liquidator"`
	Recipient     uuid.UUID           `json:"recipient"`
	ExchangeRate  string              `json:"exchange_rate"`
	Closed        []LiquidatedAccount `json:"closed"`
	AllPrincipal  string              `json:"all_principal"`
	AllCollateral string              `json:"all_collateral"`
	AllFee        string              `json:"all_fee"`
	ProtocolFee   string              `json:"protocol_fee"`
	// SwapRoute is empty for raw-collateral settlement.
	SwapRoute []string `json:"swap_route,omitempty"`
}

func (e *Liquidation) IdempotencyKey() string { return e.OperationID.String() }
func (e *Liquidation) EventType() EventType   { return EventTypeLiquidation }

// ParamUpdate records a governance parameter change.
type ParamUpdate struct {
	OperationID uuid.UUID `json:"operation_id"`
	Name        string    `json:"name"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
}

func (e *ParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("param:%s:%s", e.Name, e.OperationID)
}
func (e *ParamUpdate) EventType() EventType { return EventTypeParamUpdate }
