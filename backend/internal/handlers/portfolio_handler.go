package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/middleware"
)

// BalanceRequest is the body of deposit and withdraw.
type BalanceRequest struct {
	Ticker string          `json:"ticker"`
	Amount decimal.Decimal `json:"amount"`
}

// GetPortfolio returns the user's balances keyed by ticker.
func (h *Handler) GetPortfolio(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	balances, err := h.svc.Balances(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(balances)
}

// Deposit credits the user's balance.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.changeBalance(c, true)
}

// Withdraw debits the user's spendable balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.changeBalance(c, false)
}

func (h *Handler) changeBalance(c *fiber.Ctx, deposit bool) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	req := new(BalanceRequest)
	if err := c.BodyParser(req); err != nil {
		return invalid(c, "Cannot parse request body")
	}
	ticker := strings.TrimSpace(req.Ticker)

	change := h.svc.Withdraw
	if deposit {
		change = h.svc.Deposit
	}
	balance, err := change(c.Context(), userID, ticker, req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ticker": ticker, "balance": balance})
}

// GetTransactions lists the user's fills, newest first. ?ticker= filters by instrument
// and ?limit= bounds the count.
func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return invalid(c, "limit must not be negative")
	}
	txs, err := h.svc.Transactions(c.Context(), userID, c.Query("ticker"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(txs)
}
