package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeBorrow
	EventTypeRepay
	EventTypeBatchExecuted
	EventTypeHarvest
	EventTypeLiquidation
	EventTypeParamUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key (operation id)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Wall-clock time the operation committed
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of ledger state AFTER applying this operation
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeBorrow:
		return "Borrow"
	case EventTypeRepay:
		return "Repay"
	case EventTypeBatchExecuted:
		return "BatchExecuted"
	case EventTypeHarvest:
		return "Harvest"
	case EventTypeLiquidation:
		return "Liquidation"
	case EventTypeParamUpdate:
		return "ParamUpdate"
	default:
		return "Unknown"
	}
}
