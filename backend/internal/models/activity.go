package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names a ledger event shown on the activity feed.
type EventKind string

const (
	EventTradeBuy         EventKind = "trade_buy"
	EventTradeSell        EventKind = "trade_sell"
	EventTokenCreated     EventKind = "token_created"
	EventTradeFailed      EventKind = "trade_failed"
	EventDeploymentFailed EventKind = "deployment_failed"
)

// Event is emitted once per terminal transition of a trade or deployment.
type Event struct {
	Kind     EventKind        `json:"type"`
	AgentID  uuid.UUID        `json:"agentId"`
	RecordID uuid.UUID        `json:"recordId"`
	Symbol   string           `json:"token"`
	Amount   decimal.Decimal  `json:"amount"`
	Chain    string           `json:"chain"`
	Status   SettlementStatus `json:"status"`
	Reason   string           `json:"reason,omitempty"`
	At       time.Time        `json:"time"`
}
