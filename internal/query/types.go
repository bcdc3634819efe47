package query

import "github.com/google/uuid"

// Amounts are WAD decimal strings throughout the read API.

// AccountResponse represents one position for API queries.
type AccountResponse struct {
	Owner          uuid.UUID `json:"owner"`
	Collateral     string    `json:"collateral"`
	Principal      string    `json:"principal"`
	RewardDebt     string    `json:"reward_debt"`
	PendingRewards string    `json:"pending_rewards"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// TotalsResponse represents the global aggregate state.
type TotalsResponse struct {
	TotalCollateral string `json:"total_collateral"`
	TotalPrincipal  string `json:"total_principal"`
	RewardsPerToken string `json:"rewards_per_token"`
	AsOfSequence    int64  `json:"as_of_sequence"`
	StateHash       string `json:"state_hash"`
}

// ParamsResponse represents the current governance parameters.
type ParamsResponse struct {
	MaxLTVRatio        string `json:"max_ltv_ratio"`
	LiquidationFeeRate string `json:"liquidation_fee_rate"`
	ProtocolFeeShare   string `json:"protocol_fee_share"`
	MaxDebtCeiling     string `json:"max_debt_ceiling"`
}

// SolvencyResponse is a point-in-time solvency check against a fresh rate.
type SolvencyResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Solvent      bool      `json:"solvent"`
	ExchangeRate string    `json:"exchange_rate"`
}

// EventHistoryEntry is one row from the event log.
type EventHistoryEntry struct {
	Sequence       int64  `json:"sequence"`
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Payload        []byte `json:"payload"`
	StateHash      string `json:"state_hash"`
	Timestamp      int64  `json:"timestamp_us"`
}

// ActivityEntry is one projected per-account ledger action.
type ActivityEntry struct {
	Sequence  int64  `json:"sequence"`
	Account   string `json:"account"`
	Action    string `json:"action"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp_us"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
