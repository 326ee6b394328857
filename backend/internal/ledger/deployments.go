package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
)

const (
	maxSymbolLen    = 10
	maxTokenNameLen = 64
)

func validSymbol(s string) bool {
	if s == "" || len(s) > maxSymbolLen {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// RecordDeployment creates a pending token deployment. The symbol is upper-cased.
func (l *Ledger) RecordDeployment(ctx context.Context, agentID uuid.UUID, name, symbol string, supply decimal.Decimal, chain string) (models.DeploymentRecord, error) {
	name = strings.TrimSpace(name)
	symbol = NormalizeSymbol(symbol)
	chain = strings.ToLower(strings.TrimSpace(chain))

	if name == "" || len(name) > maxTokenNameLen {
		return models.DeploymentRecord{}, models.Validationf("name is required and at most %d characters", maxTokenNameLen)
	}
	if !validSymbol(symbol) {
		return models.DeploymentRecord{}, models.Validationf("symbol must be 1-%d letters or digits", maxSymbolLen)
	}
	if !supply.IsPositive() || !supply.IsInteger() {
		return models.DeploymentRecord{}, models.Validationf("supply must be a positive integer")
	}
	if chain == "" {
		return models.DeploymentRecord{}, models.Validationf("chain is required")
	}

	rec := models.DeploymentRecord{
		ID:          uuid.New(),
		AgentID:     agentID,
		Name:        name,
		Symbol:      symbol,
		Supply:      supply,
		Chain:       chain,
		Status:      models.StatusPending,
		RequestedAt: l.now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.journal.SaveDeployment(ctx, rec); err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("ledger: persist deployment %s: %w", rec.ID, err)
	}
	l.deployments[rec.ID] = &rec

	l.logger.Debug("deployment pending",
		slog.String("deployment_id", rec.ID.String()),
		slog.String("agent_id", agentID.String()),
		slog.String("symbol", symbol),
		slog.String("chain", chain),
	)
	return rec, nil
}

// CommitDeployment records the contract address and marks the deployment settled. Once
// settled the record is immutable; repeating the same commit is a no-op.
func (l *Ledger) CommitDeployment(ctx context.Context, id uuid.UUID, contractRef, txRef string) (models.DeploymentRecord, error) {
	contractRef = strings.TrimSpace(contractRef)
	if contractRef == "" {
		return models.DeploymentRecord{}, models.Validationf("contract reference is required to commit")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.deployments[id]
	if !ok {
		return models.DeploymentRecord{}, fmt.Errorf("ledger: deployment %s: %w", id, models.ErrNotFound)
	}
	switch rec.Status {
	case models.StatusSettled:
		if rec.ContractRef != nil && *rec.ContractRef == contractRef {
			return *rec, nil
		}
		return models.DeploymentRecord{}, l.inconsistent("deployment %s already settled at a different contract", id)
	case models.StatusFailed:
		return models.DeploymentRecord{}, l.inconsistent("commit on failed deployment %s", id)
	}

	now := l.now().UTC()
	updated := *rec
	updated.Status = models.StatusSettled
	updated.ContractRef = &contractRef
	if txRef = strings.TrimSpace(txRef); txRef != "" {
		updated.TxRef = &txRef
	}
	updated.SettledAt = &now

	if err := l.journal.SaveDeployment(ctx, updated); err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("ledger: persist commit of deployment %s: %w", id, err)
	}
	*rec = updated

	l.events.Publish(models.Event{
		Kind: models.EventTokenCreated, AgentID: rec.AgentID, RecordID: rec.ID, Symbol: rec.Symbol,
		Amount: rec.Supply, Chain: rec.Chain, Status: rec.Status, At: now,
	})
	l.logger.Info("deployment settled",
		slog.String("deployment_id", id.String()),
		slog.String("agent_id", rec.AgentID.String()),
		slog.String("contract", contractRef),
	)
	return updated, nil
}

// FailDeployment marks a pending deployment failed. It keeps no contract reference.
func (l *Ledger) FailDeployment(ctx context.Context, id uuid.UUID, reason string) (models.DeploymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.deployments[id]
	if !ok {
		return models.DeploymentRecord{}, fmt.Errorf("ledger: deployment %s: %w", id, models.ErrNotFound)
	}
	switch rec.Status {
	case models.StatusFailed:
		return *rec, nil
	case models.StatusSettled:
		return models.DeploymentRecord{}, l.inconsistent("fail on settled deployment %s", id)
	}

	now := l.now().UTC()
	updated := *rec
	updated.Status = models.StatusFailed
	updated.FailureReason = reason
	updated.SettledAt = &now

	if err := l.journal.SaveDeployment(ctx, updated); err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("ledger: persist failure of deployment %s: %w", id, err)
	}
	*rec = updated

	l.events.Publish(models.Event{
		Kind: models.EventDeploymentFailed, AgentID: rec.AgentID, RecordID: rec.ID, Symbol: rec.Symbol,
		Amount: rec.Supply, Chain: rec.Chain, Status: rec.Status, Reason: reason, At: now,
	})
	l.logger.Warn("deployment failed",
		slog.String("deployment_id", id.String()),
		slog.String("reason", reason),
	)
	return updated, nil
}

// Deployment returns a deployment record by id.
func (l *Ledger) Deployment(id uuid.UUID) (models.DeploymentRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.deployments[id]
	if !ok {
		return models.DeploymentRecord{}, fmt.Errorf("ledger: deployment %s: %w", id, models.ErrNotFound)
	}
	return *rec, nil
}
