package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// GetOrderBookDepth retrieves the aggregated depth for a ticker. ?limit= bounds the
// number of levels per side; absent or zero uses the service default.
func (h *Handler) GetOrderBookDepth(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return invalid(c, "limit must not be negative")
	}

	depth, err := h.svc.GetOrderBook(c.Context(), c.Params("ticker"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(depth)
}

// GetLastPrice returns the last committed trade of a ticker.
func (h *Handler) GetLastPrice(c *fiber.Ctx) error {
	ticker := c.Params("ticker")
	last, ok := h.prices.Last(ticker)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No trades for " + ticker})
	}
	return c.Status(fiber.StatusOK).JSON(last)
}

// GetPrices returns the last trade price of every ticker that has traded.
func (h *Handler) GetPrices(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.prices.GetCurrentPrices())
}
