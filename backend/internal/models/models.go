package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Instrument is a tradable asset. The quote currency is an instrument too.
type Instrument struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Ticker   string    `json:"ticker"` // 2-10 uppercase letters, unique
	Delisted bool      `json:"delisted"`
}

// Balance is a user's holding of one instrument.
// Amount is the whole holding, Locked the part reserved against open orders.
type Balance struct {
	UserID       uuid.UUID       `json:"user_id"`
	InstrumentID uuid.UUID       `json:"instrument_id"`
	Amount       decimal.Decimal `json:"amount"`
	Locked       decimal.Decimal `json:"locked_amount"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// Exists is false for a row that has not been persisted yet.
	Exists bool `json:"-"`
}

// Spendable returns the part of the balance available for new reservations or withdrawal.
func (b *Balance) Spendable() decimal.Decimal {
	return b.Amount.Sub(b.Locked)
}

// Holdings groups the two balances an order touches.
type Holdings struct {
	Instrument *Balance // traded instrument
	Quote      *Balance // quote currency
}

// Transaction is the immutable record of one fill of one order.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	InstrumentID uuid.UUID       `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Trade is one matching event between a buy and a sell order.
type Trade struct {
	InstrumentID uuid.UUID       `json:"instrument_id"`
	Ticker       string          `json:"ticker"`
	BuyOrderID   uuid.UUID       `json:"buy_order_id"`
	SellOrderID  uuid.UUID       `json:"sell_order_id"`
	BuyerID      uuid.UUID       `json:"buyer_id"`
	SellerID     uuid.UUID       `json:"seller_id"`
	MakerOrderID uuid.UUID       `json:"maker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	ExecutedAt   time.Time       `json:"executed_at"`
}
