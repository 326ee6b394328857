// Package chain defines what the gateway expects from the external chain executor and
// ships two implementations: an HTTP client and an in-process loopback.
package chain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
)

// TradeIntent is a validated trade handed over for settlement.
type TradeIntent struct {
	ID        uuid.UUID          `json:"intentId"`
	AgentID   uuid.UUID          `json:"agentId"`
	WalletRef string             `json:"walletRef"`
	Action    models.TradeAction `json:"action"`
	Asset     models.AssetRef    `json:"assetRef"`
	Amount    decimal.Decimal    `json:"amount"`
}

// DeployIntent is a validated token deployment handed over for settlement.
type DeployIntent struct {
	ID        uuid.UUID       `json:"intentId"`
	AgentID   uuid.UUID       `json:"agentId"`
	WalletRef string          `json:"walletRef"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Supply    decimal.Decimal `json:"supply"`
	Chain     string          `json:"chain"`
}

// Receipt is the executor's verdict. TxRef is set on success; ContractRef only for deployments.
type Receipt struct {
	Success     bool   `json:"success"`
	TxRef       string `json:"txRef,omitempty"`
	ContractRef string `json:"contractRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Executor settles intents on chain. Calls block until the executor answers or ctx ends;
// a returned error means the outcome is unknown to the caller.
type Executor interface {
	ExecuteTrade(ctx context.Context, intent TradeIntent) (Receipt, error)
	DeployToken(ctx context.Context, intent DeployIntent) (Receipt, error)
}
