package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceView is a committed balance, valued in USD when a quote is cached for the asset.
type BalanceView struct {
	Asset     string           `json:"asset"`
	Amount    decimal.Decimal  `json:"amount"`
	Reserved  decimal.Decimal  `json:"reserved"`
	Available decimal.Decimal  `json:"available"`
	USDValue  *decimal.Decimal `json:"usdValue,omitempty"`
	UpdatedAt time.Time        `json:"lastUpdated"`
}

func (h *Handler) balanceViews(agentID uuid.UUID) []BalanceView {
	balances := h.Ledger.Balances(agentID)
	views := make([]BalanceView, 0, len(balances))
	for _, b := range balances {
		v := BalanceView{
			Asset:     b.Asset,
			Amount:    b.Amount,
			Reserved:  b.Reserved,
			Available: b.Available(),
			UpdatedAt: b.UpdatedAt,
		}
		if h.Prices != nil {
			if q, ok := h.Prices.Quote(b.Asset); ok {
				usd := b.Amount.Mul(q.Price)
				v.USDValue = &usd
			}
		}
		views = append(views, v)
	}
	return views
}

// GetBalance handles GET /balance.
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}

	views := h.balanceViews(agent.ID)
	total := decimal.Zero
	for _, v := range views {
		if v.USDValue != nil {
			total = total.Add(*v.USDValue)
		}
	}
	return c.JSON(fiber.Map{
		"agentId":       agent.ID,
		"walletRef":     agent.WalletRef,
		"balances":      views,
		"totalUsdValue": total,
		"timestamp":     time.Now().UTC(),
	})
}
