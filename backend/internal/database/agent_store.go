package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/user/agentdesk/backend/internal/auth"
	"github.com/user/agentdesk/backend/internal/credentials"
	"github.com/user/agentdesk/backend/internal/models"
)

// SaveAgent inserts or updates an agent together with its current key digest.
func (db *DB) SaveAgent(ctx context.Context, agent models.Agent, digest auth.KeyDigest) error {
	query := `INSERT INTO agents (id, display_name, strategy_tag, risk_level, wallet_ref, status, key_digest, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				strategy_tag = EXCLUDED.strategy_tag,
				risk_level   = EXCLUDED.risk_level,
				status       = EXCLUDED.status,
				key_digest   = EXCLUDED.key_digest,
				updated_at   = EXCLUDED.updated_at`

	_, err := db.pool.Exec(ctx, query,
		agent.ID, agent.DisplayName, agent.StrategyTag, string(agent.RiskLevel), agent.WalletRef,
		string(agent.Status), digest.String(), agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("database: save agent %s: %w", agent.ID, err)
	}
	return nil
}

// RotateKey retires the old digest and installs the new one atomically.
func (db *DB) RotateKey(ctx context.Context, agentID uuid.UUID, retired, current auth.KeyDigest) error {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		q := db.querier(tx)
		if _, err := q.Exec(ctx,
			`INSERT INTO retired_keys (key_digest, agent_id) VALUES ($1, $2)`,
			retired.String(), agentID); err != nil {
			return err
		}
		tag, err := q.Exec(ctx,
			`UPDATE agents SET key_digest = $1, updated_at = NOW() WHERE id = $2 AND key_digest = $3`,
			current.String(), agentID, retired.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("agent key changed concurrently")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("database: rotate key of agent %s: %w", agentID, err)
	}
	return nil
}

// LoadAgents returns every persisted agent with its current digest.
func (db *DB) LoadAgents(ctx context.Context) ([]credentials.StoredAgent, error) {
	query := `SELECT id, display_name, strategy_tag, risk_level, wallet_ref, status, key_digest, created_at, updated_at
			  FROM agents ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: query agents: %w", err)
	}
	defer rows.Close()

	var out []credentials.StoredAgent
	for rows.Next() {
		var (
			a                        models.Agent
			risk, status, digestText string
		)
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.StrategyTag, &risk, &a.WalletRef, &status,
			&digestText, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scan agent: %w", err)
		}
		a.RiskLevel = models.RiskLevel(risk)
		a.Status = models.AgentStatus(status)
		digest, err := auth.ParseKeyDigest(digestText)
		if err != nil {
			return nil, fmt.Errorf("database: agent %s: %w", a.ID, err)
		}
		out = append(out, credentials.StoredAgent{Agent: a, Digest: digest})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate agents: %w", err)
	}
	return out, nil
}

// LoadRetiredKeys returns every digest that must never be issued again.
func (db *DB) LoadRetiredKeys(ctx context.Context) ([]auth.KeyDigest, error) {
	rows, err := db.pool.Query(ctx, `SELECT key_digest FROM retired_keys`)
	if err != nil {
		return nil, fmt.Errorf("database: query retired keys: %w", err)
	}
	defer rows.Close()

	var out []auth.KeyDigest
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("database: scan retired key: %w", err)
		}
		d, err := auth.ParseKeyDigest(text)
		if err != nil {
			return nil, fmt.Errorf("database: retired key: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate retired keys: %w", err)
	}
	return out, nil
}
