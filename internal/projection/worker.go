package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"StableLend/internal/event"
)

// ProjectionOutput mirrors the data needed by the projection worker.
// The orchestrator in cmd/stablelend bridges from core.CoreOutput.
type ProjectionOutput struct {
	Sequence  int64
	EventType event.EventType
	Payload   []byte
	Timestamp time.Time
}

// ProjectionWorker maintains the per-account activity table from committed
// events. Its input channel is non-blocking with drop: if the worker falls
// behind the projection goes stale and is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue; the projection is eventually consistent and can
				// be rebuilt from the event log
			}
		}
	}
}

// activityRow is one per-account line extracted from an event payload.
type activityRow struct {
	Account string
	Action  string
	Amount  string
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	rows, err := extractActivity(output.EventType, output.Payload)
	if err != nil {
		return err
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lend_log.account_activity (sequence, account, action, amount, timestamp)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (sequence, account, action) DO NOTHING
		`, output.Sequence, row.Account, row.Action, row.Amount, output.Timestamp); err != nil {
			return fmt.Errorf("activity insert: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lend_log.watermark (worker_id, last_sequence, updated_at)
		VALUES ('activity', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// extractActivity flattens an event payload into per-account rows.
func extractActivity(eventType event.EventType, payload []byte) ([]activityRow, error) {
	switch eventType {
	case event.EventTypeDeposit:
		var e event.Deposit
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return []activityRow{{Account: e.To.String(), Action: "deposit", Amount: e.Amount}}, nil

	case event.EventTypeWithdraw:
		var e event.Withdraw
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		rows := []activityRow{{Account: e.Caller.String(), Action: "withdraw", Amount: e.Amount}}
		if e.RewardsPaid != "" && e.RewardsPaid != "0" {
			rows = append(rows, activityRow{Account: e.RewardsRecipient.String(), Action: "rewards_paid", Amount: e.RewardsPaid})
		}
		return rows, nil

	case event.EventTypeBorrow:
		var e event.Borrow
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return []activityRow{{Account: e.Caller.String(), Action: "borrow", Amount: e.Amount}}, nil

	case event.EventTypeRepay:
		var e event.Repay
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return []activityRow{{Account: e.Account.String(), Action: "repay", Amount: e.Amount}}, nil

	case event.EventTypeLiquidation:
		var e event.Liquidation
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		var rows []activityRow
		for _, closed := range e.Closed {
			rows = append(rows,
				activityRow{Account: closed.Account.String(), Action: "liquidated_principal", Amount: closed.PrincipalClosed},
				activityRow{Account: closed.Account.String(), Action: "liquidated_collateral", Amount: closed.CollateralSeized},
			)
		}
		return rows, nil

	default:
		// Batch, harvest and parameter events carry no per-account deltas.
		return nil, nil
	}
}

// RebuildProjections rebuilds the activity table by replaying the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE lend_log.account_activity`); err != nil {
		return fmt.Errorf("truncate failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM lend_log.watermark WHERE worker_id = 'activity'`); err != nil {
		return fmt.Errorf("watermark reset failed: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, payload, timestamp
		FROM lend_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	defer rows.Close()

	worker := &ProjectionWorker{db: db}
	for rows.Next() {
		var output ProjectionOutput
		var eventType string
		if err := rows.Scan(&output.Sequence, &eventType, &output.Payload, &output.Timestamp); err != nil {
			return err
		}
		output.EventType = eventTypeFromString(eventType)
		if err := worker.processOutput(ctx, output); err != nil {
			return fmt.Errorf("replay seq %d: %w", output.Sequence, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

func eventTypeFromString(s string) event.EventType {
	for et := event.EventTypeDeposit; et <= event.EventTypeParamUpdate; et++ {
		if et.String() == s {
			return et
		}
	}
	return event.EventTypeUnknown
}
