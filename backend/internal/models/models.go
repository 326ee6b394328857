package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskLevel describes how aggressively an agent trades.
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// ParseRiskLevel normalizes s. An empty string yields the moderate default.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", RiskModerate:
		return RiskModerate, true
	case RiskConservative:
		return RiskConservative, true
	case RiskAggressive:
		return RiskAggressive, true
	}
	return "", false
}

// AgentStatus is either active or suspended. Agents are never deleted.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
)

// DefaultStrategyTag is assigned when registration omits a strategy.
const DefaultStrategyTag = "momentum"

// Agent is an automated trading identity
type Agent struct {
	ID          uuid.UUID   `json:"agentId"`
	DisplayName string      `json:"displayName"`
	StrategyTag string      `json:"strategyTag"`
	RiskLevel   RiskLevel   `json:"riskLevel"`
	WalletRef   string      `json:"walletRef"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Balance is the committed holding of one asset for one agent.
// Amount only changes on settlement commit; Reserved covers sells still awaiting settlement.
type Balance struct {
	AgentID   uuid.UUID       `json:"agentId"`
	Asset     string          `json:"asset"` // upper-case symbol, e.g. "ETH"
	Amount    decimal.Decimal `json:"amount"`
	Reserved  decimal.Decimal `json:"reserved"`
	UpdatedAt time.Time       `json:"lastUpdated"`
}

// Available is the amount a new sell may draw on.
func (b Balance) Available() decimal.Decimal {
	return b.Amount.Sub(b.Reserved)
}

// TradeAction is buy or sell.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// SettlementStatus is shared by trades and deployments.
type SettlementStatus string

const (
	StatusPending SettlementStatus = "pending"
	StatusSettled SettlementStatus = "settled"
	StatusFailed  SettlementStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s SettlementStatus) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// AssetRef identifies what is traded. Symbol keys the ledger balance.
type AssetRef struct {
	Chain   string `json:"chain"`
	Symbol  string `json:"symbol"`
	Address string `json:"address,omitempty"`
}

// TradeRecord is append-only apart from its single transition out of pending.
type TradeRecord struct {
	ID            uuid.UUID        `json:"tradeId"`
	AgentID       uuid.UUID        `json:"agentId"`
	Action        TradeAction      `json:"action"`
	Asset         AssetRef         `json:"assetRef"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        SettlementStatus `json:"status"`
	ChainReceipt  *string          `json:"chainReceipt,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
	RequestedAt   time.Time        `json:"requestedAt"`
	SettledAt     *time.Time       `json:"settledAt,omitempty"`
}

// DeploymentRecord tracks a token deployment through settlement.
type DeploymentRecord struct {
	ID            uuid.UUID        `json:"deploymentId"`
	AgentID       uuid.UUID        `json:"agentId"`
	Name          string           `json:"name"`
	Symbol        string           `json:"symbol"`
	Supply        decimal.Decimal  `json:"supply"`
	Chain         string           `json:"chain"`
	Status        SettlementStatus `json:"status"`
	ContractRef   *string          `json:"contractRef,omitempty"`
	TxRef         *string          `json:"txRef,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
	RequestedAt   time.Time        `json:"requestedAt"`
	SettledAt     *time.Time       `json:"settledAt,omitempty"`
}
