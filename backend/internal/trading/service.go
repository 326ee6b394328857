// Package trading orchestrates trades and token deployments: it takes the agent's lock,
// opens a pending ledger record, and settles it against the chain executor in the background.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/chain"
	"github.com/user/agentdesk/backend/internal/guard"
	"github.com/user/agentdesk/backend/internal/ledger"
	"github.com/user/agentdesk/backend/internal/models"
)

// DefaultSettlementTimeout bounds a single executor call.
const DefaultSettlementTimeout = 30 * time.Second

// Failure reasons recorded on trades and deployments that do not settle.
const (
	ReasonSettlementTimeout     = "SettlementTimeout"
	ReasonSettlementFailed      = "SettlementFailed"
	ReasonSettlementInterrupted = "SettlementInterrupted"
)

// Idempotency scopes; a key is only ever replayed for the operation that stored it.
const (
	opTrade  = "trade"
	opDeploy = "deploy"
)

// Config holds the knobs of a Service.
type Config struct {
	SettlementTimeout time.Duration
	SupportedChains   []string
	DefaultChain      string
}

// DefaultConfig matches the gateway defaults.
func DefaultConfig() Config {
	return Config{
		SettlementTimeout: DefaultSettlementTimeout,
		SupportedChains:   []string{"base", "solana"},
		DefaultChain:      "base",
	}
}

// Service is safe for concurrent use.
type Service struct {
	ledger   *ledger.Ledger
	guard    *guard.Guard
	executor chain.Executor
	logger   *slog.Logger

	settlementTimeout time.Duration
	chains            map[string]struct{}
	defaultChain      string

	inflight sync.WaitGroup
}

// NewService wires a Service. A nil logger falls back to slog.Default.
func NewService(l *ledger.Ledger, g *guard.Guard, exec chain.Executor, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = DefaultSettlementTimeout
	}
	chains := make(map[string]struct{}, len(cfg.SupportedChains))
	for _, c := range cfg.SupportedChains {
		chains[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return &Service{
		ledger:            l,
		guard:             g,
		executor:          exec,
		logger:            logger.With(slog.String("component", "trading")),
		settlementTimeout: cfg.SettlementTimeout,
		chains:            chains,
		defaultChain:      strings.ToLower(strings.TrimSpace(cfg.DefaultChain)),
	}
}

// resolveChain applies the default chain and rejects chains the gateway does not serve.
func (s *Service) resolveChain(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		c = s.defaultChain
	}
	if _, ok := s.chains[c]; !ok {
		return "", models.Validationf("unsupported chain %q", c)
	}
	return c, nil
}

// TradeRequest is a trade as submitted by an agent.
type TradeRequest struct {
	Action         models.TradeAction
	Asset          models.AssetRef
	Amount         decimal.Decimal
	IdempotencyKey string
}

// SubmitTrade opens a pending trade and starts its settlement. The agent's lock stays held
// until the trade is committed or failed, so a later request for the same agent waits
// behind it (or gets ErrBusy). replayed is true when the result came from an earlier request
// with the same idempotency key.
func (s *Service) SubmitTrade(ctx context.Context, agent models.Agent, req TradeRequest) (rec models.TradeRecord, replayed bool, err error) {
	v, replayed, err := s.guard.Idempotent(agent.ID, opTrade, req.IdempotencyKey, func() (any, error) {
		return s.beginTrade(ctx, agent, req)
	})
	if err != nil {
		return models.TradeRecord{}, false, err
	}
	rec, ok := v.(models.TradeRecord)
	if !ok {
		return models.TradeRecord{}, false, models.Inconsistencyf("idempotency key %q replayed a %T as a trade", req.IdempotencyKey, v)
	}
	return rec, replayed, nil
}

func (s *Service) beginTrade(ctx context.Context, agent models.Agent, req TradeRequest) (models.TradeRecord, error) {
	c, err := s.resolveChain(req.Asset.Chain)
	if err != nil {
		return models.TradeRecord{}, err
	}
	req.Asset.Chain = c

	release, err := s.guard.Acquire(ctx, agent.ID)
	if err != nil {
		return models.TradeRecord{}, err
	}
	rec, err := s.ledger.BeginTrade(ctx, agent.ID, req.Action, req.Asset, req.Amount)
	if err != nil {
		release()
		return models.TradeRecord{}, err
	}

	intent := chain.TradeIntent{
		ID:        rec.ID,
		AgentID:   agent.ID,
		WalletRef: agent.WalletRef,
		Action:    rec.Action,
		Asset:     rec.Asset,
		Amount:    rec.Amount,
	}
	s.inflight.Add(1)
	go s.settleTrade(context.WithoutCancel(ctx), intent, release)
	return rec, nil
}

// settleTrade runs detached from the request: a client that disconnects does not abort a
// submission that may already be on chain.
func (s *Service) settleTrade(ctx context.Context, intent chain.TradeIntent, release func()) {
	defer s.inflight.Done()
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, s.settlementTimeout)
	receipt, err := s.executor.ExecuteTrade(callCtx, intent)
	timedOut := err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	logger := s.logger.With(
		slog.String("trade_id", intent.ID.String()),
		slog.String("agent_id", intent.AgentID.String()),
	)

	if reason, ok := failureReason(receipt, err, timedOut); !ok {
		logger.Warn("trade settlement failed", slog.String("reason", reason))
		if _, ferr := s.ledger.FailTrade(ctx, intent.ID, reason); ferr != nil {
			logger.Error("mark trade failed", slog.String("error", ferr.Error()))
		}
		return
	}

	if _, cerr := s.ledger.CommitTrade(ctx, intent.ID, receipt.TxRef); cerr != nil {
		logger.Error("commit trade", slog.String("error", cerr.Error()))
		if errors.Is(cerr, models.ErrInternalInconsistency) {
			return
		}
		// The durable write failed; the record must still leave pending.
		if _, ferr := s.ledger.FailTrade(ctx, intent.ID, ReasonSettlementFailed+": "+cerr.Error()); ferr != nil {
			logger.Error("mark trade failed", slog.String("error", ferr.Error()))
		}
		return
	}
	logger.Info("trade settled", slog.String("tx_ref", receipt.TxRef))
}

// failureReason classifies an executor outcome. ok is true when the receipt can be committed.
func failureReason(receipt chain.Receipt, err error, timedOut bool) (reason string, ok bool) {
	switch {
	case timedOut:
		return ReasonSettlementTimeout, false
	case err != nil:
		return ReasonSettlementFailed + ": " + err.Error(), false
	case !receipt.Success:
		if receipt.Reason == "" {
			return ReasonSettlementFailed, false
		}
		return ReasonSettlementFailed + ": " + receipt.Reason, false
	case strings.TrimSpace(receipt.TxRef) == "":
		return ReasonSettlementFailed + ": executor returned no transaction reference", false
	}
	return "", true
}

// Trade returns one of the agent's trades. Trades of other agents are reported as not found.
func (s *Service) Trade(agentID, tradeID uuid.UUID) (models.TradeRecord, error) {
	rec, err := s.ledger.Trade(tradeID)
	if err != nil {
		return models.TradeRecord{}, err
	}
	if rec.AgentID != agentID {
		return models.TradeRecord{}, fmt.Errorf("trading: trade %s: %w", tradeID, models.ErrNotFound)
	}
	return rec, nil
}

// Trades returns the agent's history, newest first.
func (s *Service) Trades(agentID uuid.UUID, limit int) []models.TradeRecord {
	return s.ledger.Trades(agentID, limit)
}

// Wait blocks until every settlement started so far has finished, or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailInterrupted finalizes records left pending by a previous process. Their executor calls
// belonged to a process that no longer exists, so the outcome is unknown here.
func (s *Service) FailInterrupted(ctx context.Context) (int, error) {
	n := 0
	for _, id := range s.ledger.PendingTrades() {
		if _, err := s.ledger.FailTrade(ctx, id, ReasonSettlementInterrupted); err != nil {
			return n, err
		}
		n++
	}
	for _, id := range s.ledger.PendingDeployments() {
		if _, err := s.ledger.FailDeployment(ctx, id, ReasonSettlementInterrupted); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Warn("failed interrupted settlements", slog.Int("count", n))
	}
	return n, nil
}
