package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/exchange"
	"github.com/Abulk79/Virt/backend/internal/middleware"
	"github.com/Abulk79/Virt/backend/internal/models"
)

// CreateOrderRequest defines the expected JSON body for creating an order.
// Omitting price places a market order.
type CreateOrderRequest struct {
	Direction string           `json:"direction"` // "buy" or "sell"
	Ticker    string           `json:"ticker"`
	Qty       int64            `json:"qty"`
	Price     *decimal.Decimal `json:"price"`
}

// CreateOrder places a limit or market order for the authenticated user.
func (h *Handler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	req := new(CreateOrderRequest)
	if err := c.BodyParser(req); err != nil {
		return invalid(c, "Cannot parse request body")
	}

	body := exchange.OrderBody{
		Direction: models.Direction(strings.ToLower(strings.TrimSpace(req.Direction))),
		Ticker:    strings.TrimSpace(req.Ticker),
		Qty:       req.Qty,
		Price:     req.Price,
	}
	placed, err := h.svc.PlaceOrder(c.Context(), userID, body)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(placed)
}

// GetOrders retrieves every order of the authenticated user.
func (h *Handler) GetOrders(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	orders, err := h.svc.GetOrders(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orders)
}

// GetOrderByID retrieves a specific order by its ID.
func (h *Handler) GetOrderByID(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalid(c, "Invalid order ID format")
	}

	order, err := h.svc.GetOrder(c.Context(), userID, orderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(order)
}

// CancelOrder cancels an open order and releases what it still reserves.
func (h *Handler) CancelOrder(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalid(c, "Invalid order ID format")
	}

	order, err := h.svc.CancelOrder(c.Context(), userID, orderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(order)
}
