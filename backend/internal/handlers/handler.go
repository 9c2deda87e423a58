// Package handlers is the HTTP adapter over the exchange service.
package handlers

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"

	"github.com/Abulk79/Virt/backend/internal/apperrors"
	"github.com/Abulk79/Virt/backend/internal/exchange"
	"github.com/Abulk79/Virt/backend/internal/metrics"
	"github.com/Abulk79/Virt/backend/internal/middleware"
	"github.com/Abulk79/Virt/backend/internal/ticker"
	ws "github.com/Abulk79/Virt/backend/internal/websocket"
)

// Handler serves the REST API and the trade feed.
type Handler struct {
	svc    *exchange.Service
	prices *ticker.Ticker
	hub    *ws.Hub
	log    zerolog.Logger
}

// New creates a handler. hub may be nil, which disables /ws/trades.
func New(svc *exchange.Service, prices *ticker.Ticker, hub *ws.Hub, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, prices: prices, hub: hub, log: log.With().Str("component", "http").Logger()}
}

// Register mounts every route on app.
func (h *Handler) Register(app *fiber.App, secret []byte) {
	if h.hub != nil {
		wsGroup := app.Group("/ws")
		wsGroup.Use("/", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		wsGroup.Get("/trades", websocket.New(h.TradesWSEndpoint))
	}

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	api.Get("/orderbook/:ticker", h.GetOrderBookDepth)
	api.Get("/ticker", h.GetPrices)
	api.Get("/ticker/:ticker", h.GetLastPrice)

	api.Use(middleware.Protected(secret))

	orders := api.Group("/orders")
	orders.Post("/", h.CreateOrder)
	orders.Get("/", h.GetOrders)
	orders.Get("/:id", h.GetOrderByID)
	orders.Delete("/:id", h.CancelOrder)

	balance := api.Group("/balance")
	balance.Get("/", h.GetPortfolio)
	balance.Post("/deposit", h.Deposit)
	balance.Post("/withdraw", h.Withdraw)

	api.Get("/transactions", h.GetTransactions)
}

// fail writes err as {"error", "kind"} with the kind's status. Errors without a kind
// are logged and reported as internal.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return c.Status(appErr.HTTPStatus()).JSON(fiber.Map{"error": appErr.Message, "kind": appErr.Kind})
	}
	h.log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error", "kind": apperrors.KindInternal})
}

func invalid(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": msg, "kind": apperrors.KindValidation})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID in token"})
}
