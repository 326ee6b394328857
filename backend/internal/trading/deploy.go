package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/chain"
	"github.com/user/agentdesk/backend/internal/models"
)

// DeployRequest asks for a new token contract.
type DeployRequest struct {
	Name           string
	Symbol         string
	Supply         decimal.Decimal
	Chain          string
	IdempotencyKey string
}

// DeployToken records a pending deployment and settles it in the background. Deployments do
// not touch balances, so the agent's lock only covers creating the record.
func (s *Service) DeployToken(ctx context.Context, agent models.Agent, req DeployRequest) (models.DeploymentRecord, bool, error) {
	v, replayed, err := s.guard.Idempotent(agent.ID, opDeploy, req.IdempotencyKey, func() (any, error) {
		c, err := s.resolveChain(req.Chain)
		if err != nil {
			return nil, err
		}

		var rec models.DeploymentRecord
		err = s.guard.WithAgentLock(ctx, agent.ID, func(ctx context.Context) error {
			var err error
			rec, err = s.ledger.RecordDeployment(ctx, agent.ID, req.Name, req.Symbol, req.Supply, c)
			return err
		})
		if err != nil {
			return nil, err
		}

		intent := chain.DeployIntent{
			ID:        rec.ID,
			AgentID:   agent.ID,
			WalletRef: agent.WalletRef,
			Name:      rec.Name,
			Symbol:    rec.Symbol,
			Supply:    rec.Supply,
			Chain:     rec.Chain,
		}
		s.inflight.Add(1)
		go s.settleDeployment(context.WithoutCancel(ctx), intent)
		return rec, nil
	})
	if err != nil {
		return models.DeploymentRecord{}, false, err
	}
	rec, ok := v.(models.DeploymentRecord)
	if !ok {
		return models.DeploymentRecord{}, false, models.Inconsistencyf("idempotency key %q replayed a %T as a deployment", req.IdempotencyKey, v)
	}
	return rec, replayed, nil
}

func (s *Service) settleDeployment(ctx context.Context, intent chain.DeployIntent) {
	defer s.inflight.Done()

	callCtx, cancel := context.WithTimeout(ctx, s.settlementTimeout)
	receipt, err := s.executor.DeployToken(callCtx, intent)
	timedOut := err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	logger := s.logger.With(
		slog.String("deployment_id", intent.ID.String()),
		slog.String("agent_id", intent.AgentID.String()),
		slog.String("symbol", intent.Symbol),
	)

	reason, ok := failureReason(receipt, err, timedOut)
	if ok && receipt.ContractRef == "" {
		reason, ok = ReasonSettlementFailed+": executor returned no contract reference", false
	}
	if !ok {
		logger.Warn("deployment failed", slog.String("reason", reason))
		if _, ferr := s.ledger.FailDeployment(ctx, intent.ID, reason); ferr != nil {
			logger.Error("mark deployment failed", slog.String("error", ferr.Error()))
		}
		return
	}

	if _, cerr := s.ledger.CommitDeployment(ctx, intent.ID, receipt.ContractRef, receipt.TxRef); cerr != nil {
		logger.Error("commit deployment", slog.String("error", cerr.Error()))
		if errors.Is(cerr, models.ErrInternalInconsistency) {
			return
		}
		if _, ferr := s.ledger.FailDeployment(ctx, intent.ID, ReasonSettlementFailed+": "+cerr.Error()); ferr != nil {
			logger.Error("mark deployment failed", slog.String("error", ferr.Error()))
		}
		return
	}
	logger.Info("token deployed", slog.String("contract_ref", receipt.ContractRef))
}

// Deployment returns one of the agent's deployments.
func (s *Service) Deployment(agentID, id uuid.UUID) (models.DeploymentRecord, error) {
	rec, err := s.ledger.Deployment(id)
	if err != nil {
		return models.DeploymentRecord{}, err
	}
	if rec.AgentID != agentID {
		return models.DeploymentRecord{}, fmt.Errorf("trading: deployment %s: %w", id, models.ErrNotFound)
	}
	return rec, nil
}
