package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/user/agentdesk/backend/internal/activity"
	"github.com/user/agentdesk/backend/internal/models"
	"github.com/user/agentdesk/backend/internal/ticker"
)

// ListActivity handles GET /activity, newest first.
func (h *Handler) ListActivity(c *fiber.Ctx) error {
	limit, err := listLimit(c)
	if err != nil {
		return err
	}
	events := []activity.Entry{}
	if h.Activity != nil {
		events = append(events, h.Activity.Recent(limit)...)
	}
	return c.JSON(fiber.Map{"events": events})
}

// GetPrices handles GET /prices and GET /prices?symbol=ETH.
func (h *Handler) GetPrices(c *fiber.Ctx) error {
	if h.Prices == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "price feed disabled")
	}

	if sym := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); sym != "" {
		q, ok := h.Prices.Quote(sym)
		if !ok {
			return models.ErrNotFound
		}
		return c.JSON(q)
	}

	quotes := h.Prices.Quotes()
	bySymbol := make(map[string]ticker.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	return c.JSON(fiber.Map{"prices": bySymbol})
}

// activitySnapshot is sent to a new activity subscriber before live events.
func (h *Handler) activitySnapshot() any {
	if h.Activity == nil {
		return nil
	}
	return fiber.Map{"type": "snapshot", "events": h.Activity.Recent(activity.DefaultSize)}
}

// priceSnapshot is sent to a new price subscriber before live updates.
func (h *Handler) priceSnapshot() any {
	if h.Prices == nil {
		return nil
	}
	return h.Prices.Quotes()
}
