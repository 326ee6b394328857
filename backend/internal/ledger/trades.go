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

// BeginTrade records a pending trade. A sell must fit within the committed balance minus
// sells already in flight, and reserves its amount until it is committed or failed.
// Callers hold the agent's guard lock so the check sees the latest committed state.
func (l *Ledger) BeginTrade(ctx context.Context, agentID uuid.UUID, action models.TradeAction, asset models.AssetRef, amount decimal.Decimal) (models.TradeRecord, error) {
	if action != models.ActionBuy && action != models.ActionSell {
		return models.TradeRecord{}, models.Validationf("action must be buy or sell")
	}
	if !validAmount(amount) {
		return models.TradeRecord{}, models.Validationf("amount must be positive with at most %d decimals", maxScale)
	}
	asset.Symbol = NormalizeSymbol(asset.Symbol)
	asset.Chain = strings.ToLower(strings.TrimSpace(asset.Chain))
	asset.Address = strings.TrimSpace(asset.Address)
	if asset.Symbol == "" {
		return models.TradeRecord{}, models.Validationf("assetRef.symbol is required")
	}
	if asset.Chain == "" {
		return models.TradeRecord{}, models.Validationf("assetRef.chain is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{agentID, asset.Symbol}
	bal := l.balances[key]
	if action == models.ActionSell {
		available := decimal.Zero
		if bal != nil {
			available = bal.Available()
		}
		if amount.GreaterThan(available) {
			return models.TradeRecord{}, fmt.Errorf("%w: sell %s %s exceeds available %s",
				models.ErrInsufficientBalance, amount, asset.Symbol, available)
		}
	}

	rec := models.TradeRecord{
		ID:          uuid.New(),
		AgentID:     agentID,
		Action:      action,
		Asset:       asset,
		Amount:      amount,
		Status:      models.StatusPending,
		RequestedAt: l.now().UTC(),
	}
	if err := l.journal.SaveTrade(ctx, rec); err != nil {
		return models.TradeRecord{}, fmt.Errorf("ledger: persist trade %s: %w", rec.ID, err)
	}

	l.trades[rec.ID] = &rec
	l.agentTrades[agentID] = append(l.agentTrades[agentID], rec.ID)
	if action == models.ActionSell {
		bal.Reserved = bal.Reserved.Add(amount)
	}

	l.logger.Debug("trade pending",
		slog.String("trade_id", rec.ID.String()),
		slog.String("agent_id", agentID.String()),
		slog.String("action", string(action)),
		slog.String("asset", asset.Symbol),
		slog.String("amount", amount.String()),
	)
	return rec, nil
}

// CommitTrade applies the trade's balance delta and marks it settled. Repeating the call with
// the same receipt is a no-op; a different receipt or an already failed trade is an
// inconsistency.
func (l *Ledger) CommitTrade(ctx context.Context, tradeID uuid.UUID, receipt string) (models.TradeRecord, error) {
	receipt = strings.TrimSpace(receipt)
	if receipt == "" {
		return models.TradeRecord{}, models.Validationf("chain receipt is required to commit")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.trades[tradeID]
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("ledger: trade %s: %w", tradeID, models.ErrNotFound)
	}
	switch rec.Status {
	case models.StatusSettled:
		if rec.ChainReceipt != nil && *rec.ChainReceipt == receipt {
			return *rec, nil
		}
		return models.TradeRecord{}, l.inconsistent("trade %s already settled with a different receipt", tradeID)
	case models.StatusFailed:
		return models.TradeRecord{}, l.inconsistent("commit on failed trade %s", tradeID)
	}

	now := l.now().UTC()
	key := balanceKey{rec.AgentID, rec.Asset.Symbol}
	var bal models.Balance
	if cur, ok := l.balances[key]; ok {
		bal = *cur
	} else {
		bal = models.Balance{AgentID: rec.AgentID, Asset: rec.Asset.Symbol}
	}
	switch rec.Action {
	case models.ActionBuy:
		bal.Amount = bal.Amount.Add(rec.Amount)
	case models.ActionSell:
		bal.Amount = bal.Amount.Sub(rec.Amount)
		bal.Reserved = bal.Reserved.Sub(rec.Amount)
	}
	if bal.Amount.IsNegative() || bal.Reserved.IsNegative() {
		return models.TradeRecord{}, l.inconsistent("commit of trade %s drives %s balance negative", tradeID, rec.Asset.Symbol)
	}
	bal.UpdatedAt = now

	updated := *rec
	updated.Status = models.StatusSettled
	updated.ChainReceipt = &receipt
	updated.SettledAt = &now

	if err := l.journal.CommitTrade(ctx, updated, bal); err != nil {
		return models.TradeRecord{}, fmt.Errorf("ledger: persist commit of trade %s: %w", tradeID, err)
	}
	*rec = updated
	l.balances[key] = &bal

	kind := models.EventTradeBuy
	if rec.Action == models.ActionSell {
		kind = models.EventTradeSell
	}
	l.events.Publish(models.Event{
		Kind: kind, AgentID: rec.AgentID, RecordID: rec.ID, Symbol: rec.Asset.Symbol,
		Amount: rec.Amount, Chain: rec.Asset.Chain, Status: rec.Status, At: now,
	})
	l.logger.Info("trade settled",
		slog.String("trade_id", tradeID.String()),
		slog.String("agent_id", rec.AgentID.String()),
		slog.String("receipt", receipt),
		slog.String("balance", bal.Amount.String()),
	)
	return updated, nil
}

// FailTrade marks a pending trade failed and releases any sell reservation. Balances are
// untouched. Failing an already failed trade is a no-op.
func (l *Ledger) FailTrade(ctx context.Context, tradeID uuid.UUID, reason string) (models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.trades[tradeID]
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("ledger: trade %s: %w", tradeID, models.ErrNotFound)
	}
	switch rec.Status {
	case models.StatusFailed:
		return *rec, nil
	case models.StatusSettled:
		return models.TradeRecord{}, l.inconsistent("fail on settled trade %s", tradeID)
	}

	now := l.now().UTC()
	updated := *rec
	updated.Status = models.StatusFailed
	updated.FailureReason = reason
	updated.SettledAt = &now

	if err := l.journal.SaveTrade(ctx, updated); err != nil {
		return models.TradeRecord{}, fmt.Errorf("ledger: persist failure of trade %s: %w", tradeID, err)
	}
	*rec = updated
	if rec.Action == models.ActionSell {
		if bal, ok := l.balances[balanceKey{rec.AgentID, rec.Asset.Symbol}]; ok {
			bal.Reserved = bal.Reserved.Sub(rec.Amount)
		}
	}

	l.events.Publish(models.Event{
		Kind: models.EventTradeFailed, AgentID: rec.AgentID, RecordID: rec.ID, Symbol: rec.Asset.Symbol,
		Amount: rec.Amount, Chain: rec.Asset.Chain, Status: rec.Status, Reason: reason, At: now,
	})
	l.logger.Warn("trade failed",
		slog.String("trade_id", tradeID.String()),
		slog.String("agent_id", rec.AgentID.String()),
		slog.String("reason", reason),
	)
	return updated, nil
}

// Trade returns a trade record by id.
func (l *Ledger) Trade(tradeID uuid.UUID) (models.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.trades[tradeID]
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("ledger: trade %s: %w", tradeID, models.ErrNotFound)
	}
	return *rec, nil
}

// Trades returns an agent's trades, newest first. limit <= 0 returns all of them.
func (l *Ledger) Trades(agentID uuid.UUID, limit int) []models.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.agentTrades[agentID]
	n := len(ids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.TradeRecord, 0, n)
	for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *l.trades[ids[i]])
	}
	return out
}

func (l *Ledger) inconsistent(format string, args ...any) error {
	err := models.Inconsistencyf(format, args...)
	l.logger.Error("ledger invariant violated", slog.String("error", err.Error()))
	return err
}
