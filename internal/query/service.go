package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"StableLend/internal/core"
	"StableLend/internal/state"
)

// EngineReader is the engine's read surface consumed by the query service.
type EngineReader interface {
	AccountState(owner uuid.UUID) (core.AccountView, bool)
	Totals() (totalCollateral, totalPrincipal, rewardsPerToken *uint256.Int)
	Params() state.Params
	SolvencyPreview(ctx context.Context, owner uuid.UUID) (bool, *uint256.Int, error)
	Sequence() int64
	StateHash() [32]byte
}

// QueryService serves reads. Live state comes from the engine's in-memory
// ledger; history and integrity checks go to the Postgres event log.
type QueryService struct {
	engine EngineReader
	db     *sql.DB
}

func NewQueryService(engine EngineReader, db *sql.DB) *QueryService {
	return &QueryService{engine: engine, db: db}
}

// GetAccount returns a user's position. Unknown accounts read as all-zero.
func (qs *QueryService) GetAccount(_ context.Context, owner uuid.UUID) (*AccountResponse, error) {
	if owner == uuid.Nil {
		return nil, state.ErrInvalidAddress
	}

	seq := qs.engine.Sequence()
	view, ok := qs.engine.AccountState(owner)
	if !ok {
		zero := new(uint256.Int).Dec()
		return &AccountResponse{
			Owner:          owner,
			Collateral:     zero,
			Principal:      zero,
			RewardDebt:     zero,
			PendingRewards: zero,
			AsOfSequence:   seq,
		}, nil
	}

	return &AccountResponse{
		Owner:          view.Owner,
		Collateral:     view.Collateral.Dec(),
		Principal:      view.Principal.Dec(),
		RewardDebt:     view.RewardDebt.Dec(),
		PendingRewards: view.PendingRewards.Dec(),
		AsOfSequence:   seq,
	}, nil
}

// GetTotals returns the global aggregate state with the hash-chain tip.
func (qs *QueryService) GetTotals(_ context.Context) (*TotalsResponse, error) {
	totalCollateral, totalPrincipal, rewardsPerToken := qs.engine.Totals()
	hash := qs.engine.StateHash()

	return &TotalsResponse{
		TotalCollateral: totalCollateral.Dec(),
		TotalPrincipal:  totalPrincipal.Dec(),
		RewardsPerToken: rewardsPerToken.Dec(),
		AsOfSequence:    qs.engine.Sequence(),
		StateHash:       hex.EncodeToString(hash[:]),
	}, nil
}

// GetParams returns the current governance parameters.
func (qs *QueryService) GetParams(_ context.Context) (*ParamsResponse, error) {
	p := qs.engine.Params()
	return &ParamsResponse{
		MaxLTVRatio:        p.MaxLTVRatio.Dec(),
		LiquidationFeeRate: p.LiquidationFeeRate.Dec(),
		ProtocolFeeShare:   p.ProtocolFeeShare.Dec(),
		MaxDebtCeiling:     p.MaxDebtCeiling.Dec(),
	}, nil
}

// GetSolvency checks a position against a fresh oracle rate.
func (qs *QueryService) GetSolvency(ctx context.Context, owner uuid.UUID) (*SolvencyResponse, error) {
	if owner == uuid.Nil {
		return nil, state.ErrInvalidAddress
	}

	solvent, rate, err := qs.engine.SolvencyPreview(ctx, owner)
	if err != nil {
		return nil, err
	}

	return &SolvencyResponse{
		Owner:        owner,
		Solvent:      solvent,
		ExchangeRate: rate.Dec(),
	}, nil
}

// GetEventHistory returns event log rows with cursor-based pagination.
// eventType filters when non-empty.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	fromSequence int64,
	limit int,
	eventType string,
) ([]EventHistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT sequence, event_type, idempotency_key, payload, state_hash,
		       (EXTRACT(EPOCH FROM timestamp) * 1000000)::BIGINT
		FROM lend_log.events
		WHERE sequence >= $1
	`
	args := []interface{}{fromSequence}
	argIdx := 2

	if eventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, eventType)
		argIdx++
	}

	query += " ORDER BY sequence ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		var stateHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey,
			&e.Payload, &stateHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.StateHash = hex.EncodeToString(stateHash)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetAccountActivity returns the projected activity rows for one account,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetAccountActivity(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]ActivityEntry, error) {
	if owner == uuid.Nil {
		return nil, state.ErrInvalidAddress
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT sequence, account, action, amount,
		       (EXTRACT(EPOCH FROM timestamp) * 1000000)::BIGINT
		FROM lend_log.account_activity
		WHERE account = $1
	`
	args := []interface{}{owner.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.Sequence, &e.Account, &e.Action, &e.Amount, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash-chain continuity in the event log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM lend_log.events e1
		JOIN lend_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}
