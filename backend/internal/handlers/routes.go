// Package handlers is the HTTP surface of the gateway.
package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/user/agentdesk/backend/internal/activity"
	"github.com/user/agentdesk/backend/internal/credentials"
	"github.com/user/agentdesk/backend/internal/ledger"
	"github.com/user/agentdesk/backend/internal/middleware"
	"github.com/user/agentdesk/backend/internal/models"
	"github.com/user/agentdesk/backend/internal/ticker"
	"github.com/user/agentdesk/backend/internal/trading"
	ws "github.com/user/agentdesk/backend/internal/websocket"
)

// Deps are the collaborators the handlers call into. Prices and the hubs may be nil, which
// disables the matching endpoints.
type Deps struct {
	Agents      *credentials.Store
	Ledger      *ledger.Ledger
	Trading     *trading.Service
	Activity    *activity.Feed
	Prices      *ticker.Ticker
	ActivityHub *ws.Hub
	PriceHub    *ws.Hub

	AdminToken  string
	CORSOrigins []string
	Logger      *slog.Logger

	// BaseContext bounds websocket registrations; it is cancelled on shutdown.
	BaseContext context.Context
}

// Handler holds the dependencies shared by all routes.
type Handler struct {
	Deps
	logger *slog.Logger
}

// NewApp builds the fiber app with every route mounted.
func NewApp(d Deps) *fiber.App {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	h := &Handler{Deps: d, logger: d.Logger.With(slog.String("component", "handlers"))}

	app := fiber.New(fiber.Config{
		AppName:               "agentdesk",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(d.Logger),
	})
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(d.Logger))
	if len(d.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(d.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, x-api-key, Idempotency-Key",
		}))
	}

	// --- WebSocket Routes ---
	wsGroup := app.Group("/ws")
	wsGroup.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	if d.ActivityHub != nil {
		wsGroup.Get("/activity", websocket.New(h.stream(d.ActivityHub, h.activitySnapshot)))
	}
	if d.PriceHub != nil {
		wsGroup.Get("/prices", websocket.New(h.stream(d.PriceHub, h.priceSnapshot)))
	}

	// --- Public Routes ---
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/agents/register", h.RegisterAgent)
	app.Get("/activity", h.ListActivity)
	app.Get("/prices", h.GetPrices)

	// --- Admin Routes ---
	admin := app.Group("/admin", middleware.AdminOnly(d.AdminToken))
	admin.Post("/agents/:id/suspend", h.SuspendAgent)
	admin.Post("/agents/:id/reactivate", h.ReactivateAgent)

	// --- Agent Routes ---
	authed := middleware.APIKey(d.Agents)
	app.Get("/agents/me", authed, h.GetMe)
	app.Patch("/agents/me", authed, h.UpdateMe)
	app.Post("/agents/me/revoke", authed, h.RevokeKey)
	app.Get("/balance", authed, h.GetBalance)
	app.Post("/trade", authed, h.SubmitTrade)
	app.Get("/trade/:tradeId", authed, h.GetTrade)
	app.Get("/trades", authed, h.ListTrades)
	app.Post("/tokens/deploy", authed, h.DeployToken)
	app.Get("/tokens/:id", authed, h.GetDeployment)

	return app
}

// currentAgent returns the agent authenticated by the APIKey middleware.
func currentAgent(c *fiber.Ctx) (models.Agent, error) {
	a, ok := middleware.AgentFrom(c)
	if !ok {
		return models.Agent{}, &models.AuthError{Reason: models.AuthInvalidKey}
	}
	return a, nil
}
