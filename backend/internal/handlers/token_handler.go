package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
	"github.com/user/agentdesk/backend/internal/trading"
)

// DeployRequest defines the expected JSON body for POST /tokens/deploy
type DeployRequest struct {
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Supply         decimal.Decimal `json:"supply"`
	Chain          string          `json:"chain"` // empty selects the default chain
	IdempotencyKey string          `json:"idempotencyKey"`
}

// DeployToken handles POST /tokens/deploy.
func (h *Handler) DeployToken(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	req := new(DeployRequest)
	if err := c.BodyParser(req); err != nil {
		return models.Validationf("cannot parse request body")
	}

	rec, replayed, err := h.Trading.DeployToken(c.UserContext(), agent, trading.DeployRequest{
		Name:           req.Name,
		Symbol:         req.Symbol,
		Supply:         req.Supply,
		Chain:          req.Chain,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		return err
	}

	markReplayed(c, replayed)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"deploymentId": rec.ID,
		"status":       rec.Status,
	})
}

// GetDeployment handles GET /tokens/:id.
func (h *Handler) GetDeployment(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.Trading.Deployment(agent.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}
