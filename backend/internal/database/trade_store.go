package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
)

const upsertTrade = `INSERT INTO trades (id, agent_id, action, chain, symbol, address, amount, status, chain_receipt, failure_reason, requested_at, settled_at)
		  VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12)
		  ON CONFLICT (id) DO UPDATE SET
			status         = EXCLUDED.status,
			chain_receipt  = EXCLUDED.chain_receipt,
			failure_reason = EXCLUDED.failure_reason,
			settled_at     = EXCLUDED.settled_at`

func saveTrade(ctx context.Context, q PgxQuerier, rec models.TradeRecord) error {
	_, err := q.Exec(ctx, upsertTrade,
		rec.ID, rec.AgentID, string(rec.Action), rec.Asset.Chain, rec.Asset.Symbol, rec.Asset.Address,
		rec.Amount.String(), string(rec.Status), rec.ChainReceipt, rec.FailureReason, rec.RequestedAt, rec.SettledAt)
	return err
}

// SaveTrade records a trade: the pending row, or a terminal row without a balance change.
func (db *DB) SaveTrade(ctx context.Context, rec models.TradeRecord) error {
	if err := saveTrade(ctx, db.querier(nil), rec); err != nil {
		return fmt.Errorf("database: save trade %s: %w", rec.ID, err)
	}
	return nil
}

// CommitTrade writes the settled trade and the resulting balance in one transaction.
func (db *DB) CommitTrade(ctx context.Context, rec models.TradeRecord, bal models.Balance) error {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if err := saveTrade(ctx, tx, rec); err != nil {
			return err
		}
		return upsertBalance(ctx, tx, bal)
	})
	if err != nil {
		return fmt.Errorf("database: commit trade %s: %w", rec.ID, err)
	}
	return nil
}

// LoadTrades returns every trade, oldest first.
func (db *DB) LoadTrades(ctx context.Context) ([]models.TradeRecord, error) {
	query := `SELECT id, agent_id, action, chain, symbol, address, amount::text, status, chain_receipt,
				failure_reason, requested_at, settled_at
			  FROM trades ORDER BY requested_at`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: query trades: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TradeRecord, error) {
		var (
			rec                    models.TradeRecord
			action, status, amount string
		)
		err := row.Scan(&rec.ID, &rec.AgentID, &action, &rec.Asset.Chain, &rec.Asset.Symbol, &rec.Asset.Address,
			&amount, &status, &rec.ChainReceipt, &rec.FailureReason, &rec.RequestedAt, &rec.SettledAt)
		if err != nil {
			return rec, fmt.Errorf("database: scan trade: %w", err)
		}
		rec.Action = models.TradeAction(action)
		rec.Status = models.SettlementStatus(status)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return rec, fmt.Errorf("database: trade %s amount: %w", rec.ID, err)
		}
		return rec, nil
	})
}

// SaveDeployment inserts or updates a deployment record.
func (db *DB) SaveDeployment(ctx context.Context, rec models.DeploymentRecord) error {
	query := `INSERT INTO deployments (id, agent_id, name, symbol, supply, chain, status, contract_ref, tx_ref, failure_reason, requested_at, settled_at)
			  VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
			  ON CONFLICT (id) DO UPDATE SET
				status         = EXCLUDED.status,
				contract_ref   = EXCLUDED.contract_ref,
				tx_ref         = EXCLUDED.tx_ref,
				failure_reason = EXCLUDED.failure_reason,
				settled_at     = EXCLUDED.settled_at`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.AgentID, rec.Name, rec.Symbol, rec.Supply.String(), rec.Chain, string(rec.Status),
		rec.ContractRef, rec.TxRef, rec.FailureReason, rec.RequestedAt, rec.SettledAt)
	if err != nil {
		return fmt.Errorf("database: save deployment %s: %w", rec.ID, err)
	}
	return nil
}

// LoadDeployments returns every deployment, oldest first.
func (db *DB) LoadDeployments(ctx context.Context) ([]models.DeploymentRecord, error) {
	query := `SELECT id, agent_id, name, symbol, supply::text, chain, status, contract_ref, tx_ref,
				failure_reason, requested_at, settled_at
			  FROM deployments ORDER BY requested_at`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: query deployments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DeploymentRecord, error) {
		var (
			rec            models.DeploymentRecord
			status, supply string
		)
		err := row.Scan(&rec.ID, &rec.AgentID, &rec.Name, &rec.Symbol, &supply, &rec.Chain, &status,
			&rec.ContractRef, &rec.TxRef, &rec.FailureReason, &rec.RequestedAt, &rec.SettledAt)
		if err != nil {
			return rec, fmt.Errorf("database: scan deployment: %w", err)
		}
		rec.Status = models.SettlementStatus(status)
		if rec.Supply, err = decimal.NewFromString(supply); err != nil {
			return rec, fmt.Errorf("database: deployment %s supply: %w", rec.ID, err)
		}
		return rec, nil
	})
}
