package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
)

// upsertBalance writes the committed amount of one balance. Reservations are not persisted;
// they are rebuilt from pending sells on restore.
func upsertBalance(ctx context.Context, q PgxQuerier, bal models.Balance) error {
	query := `INSERT INTO balances (agent_id, asset, amount, updated_at)
			  VALUES ($1, $2, $3::numeric, $4)
			  ON CONFLICT (agent_id, asset) DO UPDATE SET
				amount = EXCLUDED.amount,
				updated_at = EXCLUDED.updated_at`

	if _, err := q.Exec(ctx, query, bal.AgentID, bal.Asset, bal.Amount.String(), bal.UpdatedAt); err != nil {
		return fmt.Errorf("upsert balance %s/%s: %w", bal.AgentID, bal.Asset, err)
	}
	return nil
}

// LoadBalances returns every committed balance.
func (db *DB) LoadBalances(ctx context.Context) ([]models.Balance, error) {
	query := `SELECT agent_id, asset, amount::text, updated_at FROM balances ORDER BY agent_id, asset`

	rows, err := db.querier(nil).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: query balances: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Balance, error) {
		var (
			b      models.Balance
			amount string
		)
		if err := row.Scan(&b.AgentID, &b.Asset, &amount, &b.UpdatedAt); err != nil {
			return b, fmt.Errorf("database: scan balance: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return b, fmt.Errorf("database: balance %s/%s: %w", b.AgentID, b.Asset, err)
		}
		b.Amount = d
		return b, nil
	})
}
