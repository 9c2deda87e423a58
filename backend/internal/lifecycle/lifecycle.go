// Package lifecycle owns order status transitions:
//
//	new -> partially_filled -> executed
//	new | partially_filled -> canceled
//
// executed and canceled are terminal.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/models"
)

var (
	// ErrOverfill means a fill would take Filled past Quantity.
	ErrOverfill = errors.New("fill exceeds remaining quantity")
	// ErrTerminal means the order already reached executed or canceled.
	ErrTerminal = errors.New("order is in a terminal status")
)

// ApplyFill adds qty to the filled quantity and moves the status forward.
func ApplyFill(o *models.Order, qty int64, now time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("fill order %s (%s): %w", o.ID, o.Status, ErrTerminal)
	}
	if qty <= 0 || qty > o.Remaining() {
		return fmt.Errorf("fill %d of order %s with %d remaining: %w", qty, o.ID, o.Remaining(), ErrOverfill)
	}
	o.Filled += qty
	if o.Filled == o.Quantity {
		o.Status = models.StatusExecuted
	} else {
		o.Status = models.StatusPartiallyFilled
	}
	o.UpdatedAt = now
	return nil
}

// Cancel moves an open order to canceled.
func Cancel(o *models.Order, now time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("cancel order %s (%s): %w", o.ID, o.Status, ErrTerminal)
	}
	o.Status = models.StatusCanceled
	o.UpdatedAt = now
	return nil
}

// Reservation is what an order still holds locked.
type Reservation struct {
	InstrumentID uuid.UUID
	Amount       decimal.Decimal
}

// Outstanding returns the reservation backing the unfilled part of o. A sell holds its
// remaining quantity of the instrument, a limit buy holds remaining*price of the quote.
// A market buy reserves nothing.
func Outstanding(o *models.Order, quoteID uuid.UUID) Reservation {
	remaining := decimal.NewFromInt(o.Remaining())
	if o.Direction == models.Sell {
		return Reservation{InstrumentID: o.InstrumentID, Amount: remaining}
	}
	if price, ok := o.Price(); ok {
		return Reservation{InstrumentID: quoteID, Amount: remaining.Mul(price)}
	}
	return Reservation{InstrumentID: quoteID, Amount: decimal.Zero}
}
