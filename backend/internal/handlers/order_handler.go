package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
	"github.com/user/agentdesk/backend/internal/trading"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	defaultListLimit = 50
	maxListLimit     = 500
)

// TradeRequest defines the expected JSON body for POST /trade
type TradeRequest struct {
	Action         string          `json:"action"` // "buy" or "sell"
	Asset          models.AssetRef `json:"assetRef"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// idempotencyKey prefers the header over the body field.
func idempotencyKey(c *fiber.Ctx, body string) string {
	if k := strings.TrimSpace(c.Get(idempotencyHeader)); k != "" {
		return k
	}
	return strings.TrimSpace(body)
}

func markReplayed(c *fiber.Ctx, replayed bool) {
	if replayed {
		c.Set(replayedHeader, "true")
	}
}

// listLimit reads ?limit, clamped to (0, maxListLimit].
func listLimit(c *fiber.Ctx) (int, error) {
	if c.Query("limit") == "" {
		return defaultListLimit, nil
	}
	n := c.QueryInt("limit", -1)
	if n <= 0 {
		return 0, models.Validationf("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// SubmitTrade handles POST /trade. The trade is accepted as pending and settles asynchronously.
func (h *Handler) SubmitTrade(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	req := new(TradeRequest)
	if err := c.BodyParser(req); err != nil {
		return models.Validationf("cannot parse request body")
	}

	rec, replayed, err := h.Trading.SubmitTrade(c.UserContext(), agent, trading.TradeRequest{
		Action:         models.TradeAction(strings.ToLower(strings.TrimSpace(req.Action))),
		Asset:          req.Asset,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		return err
	}

	markReplayed(c, replayed)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"tradeId": rec.ID,
		"status":  rec.Status,
	})
}

// GetTrade handles GET /trade/:tradeId. Trades of other agents are reported as missing.
func (h *Handler) GetTrade(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "tradeId")
	if err != nil {
		return err
	}
	rec, err := h.Trading.Trade(agent.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// ListTrades handles GET /trades, newest first.
func (h *Handler) ListTrades(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	limit, err := listLimit(c)
	if err != nil {
		return err
	}
	trades := h.Trading.Trades(agent.ID, limit)
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	return c.JSON(fiber.Map{"agentId": agent.ID, "trades": trades})
}
