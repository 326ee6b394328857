package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/credentials"
	"github.com/user/agentdesk/backend/internal/models"
)

// RegisterRequest defines the expected JSON body for agent registration
type RegisterRequest struct {
	DisplayName string `json:"displayName"`
	StrategyTag string `json:"strategyTag"`
	RiskLevel   string `json:"riskLevel"`
}

// RegisterResponse is returned once; the API key cannot be retrieved again.
type RegisterResponse struct {
	AgentID     uuid.UUID        `json:"agentId"`
	APIKey      string           `json:"apiKey"`
	WalletRef   string           `json:"walletRef"`
	DisplayName string           `json:"displayName"`
	StrategyTag string           `json:"strategyTag"`
	RiskLevel   models.RiskLevel `json:"riskLevel"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// UpdateProfileRequest carries optional profile fields for PATCH /agents/me
type UpdateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	StrategyTag *string `json:"strategyTag"`
	RiskLevel   *string `json:"riskLevel"`
}

// AgentProfile is an agent together with its balances.
type AgentProfile struct {
	models.Agent
	Balances []BalanceView `json:"balances"`
}

// RegisterAgent handles POST /agents/register.
func (h *Handler) RegisterAgent(c *fiber.Ctx) error {
	req := new(RegisterRequest)
	if err := c.BodyParser(req); err != nil {
		return models.Validationf("cannot parse request body")
	}

	agent, key, err := h.Agents.Register(c.UserContext(), credentials.RegisterParams{
		DisplayName: req.DisplayName,
		StrategyTag: req.StrategyTag,
		RiskLevel:   req.RiskLevel,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(RegisterResponse{
		AgentID:     agent.ID,
		APIKey:      key,
		WalletRef:   agent.WalletRef,
		DisplayName: agent.DisplayName,
		StrategyTag: agent.StrategyTag,
		RiskLevel:   agent.RiskLevel,
		CreatedAt:   agent.CreatedAt,
	})
}

// GetMe handles GET /agents/me.
func (h *Handler) GetMe(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	return c.JSON(AgentProfile{Agent: agent, Balances: h.balanceViews(agent.ID)})
}

// UpdateMe handles PATCH /agents/me.
func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	req := new(UpdateProfileRequest)
	if err := c.BodyParser(req); err != nil {
		return models.Validationf("cannot parse request body")
	}

	updated, err := h.Agents.UpdateProfile(c.UserContext(), agent.ID, credentials.ProfileUpdate{
		DisplayName: req.DisplayName,
		StrategyTag: req.StrategyTag,
		RiskLevel:   req.RiskLevel,
	})
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

// RevokeKey handles POST /agents/me/revoke. The key used for this request stops working.
func (h *Handler) RevokeKey(c *fiber.Ctx) error {
	agent, err := currentAgent(c)
	if err != nil {
		return err
	}
	key, err := h.Agents.Revoke(c.UserContext(), agent.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"agentId": agent.ID, "apiKey": key})
}

// SuspendAgent handles POST /admin/agents/:id/suspend.
func (h *Handler) SuspendAgent(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	agent, err := h.Agents.Suspend(c.UserContext(), id)
	if err != nil {
		return err
	}
	h.logger.Warn("agent suspended", slog.String("agent_id", id.String()))
	return c.JSON(agent)
}

// ReactivateAgent handles POST /admin/agents/:id/reactivate.
func (h *Handler) ReactivateAgent(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	agent, err := h.Agents.Reactivate(c.UserContext(), id)
	if err != nil {
		return err
	}
	h.logger.Info("agent reactivated", slog.String("agent_id", id.String()))
	return c.JSON(agent)
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, models.Validationf("%s must be a uuid", name)
	}
	return id, nil
}
