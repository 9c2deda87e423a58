package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side of an order.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Opposite returns the counter side.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// OrderType names the variant carried in Order.Kind.
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusExecuted        OrderStatus = "executed"
	StatusCanceled        OrderStatus = "canceled"
)

// Open reports whether an order in this status rests in the book.
func (s OrderStatus) Open() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCanceled
}

// Kind is the order variant: Limit or Market.
type Kind interface {
	Type() OrderType
}

// Limit carries the caller's price.
type Limit struct {
	Price decimal.Decimal
}

func (Limit) Type() OrderType { return TypeLimit }

// Market has no price; it takes whatever the book offers.
type Market struct{}

func (Market) Type() OrderType { return TypeMarket }

// KindFor rebuilds the variant from its stored form.
func KindFor(t OrderType, price decimal.NullDecimal) (Kind, error) {
	switch t {
	case TypeLimit:
		if !price.Valid {
			return nil, fmt.Errorf("limit order without price")
		}
		return Limit{Price: price.Decimal}, nil
	case TypeMarket:
		return Market{}, nil
	default:
		return nil, fmt.Errorf("unknown order type %q", t)
	}
}

// Order is a limit or market order.
type Order struct {
	ID           uuid.UUID   `json:"id"`
	UserID       uuid.UUID   `json:"user_id"`
	InstrumentID uuid.UUID   `json:"instrument_id"`
	Direction    Direction   `json:"direction"`
	Kind         Kind        `json:"-"`
	Quantity     int64       `json:"quantity"`
	Filled       int64       `json:"filled_quantity"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Price returns the limit price. Market orders report false.
func (o *Order) Price() (decimal.Decimal, bool) {
	switch k := o.Kind.(type) {
	case Limit:
		return k.Price, true
	case Market:
		return decimal.Zero, false
	default:
		return decimal.Zero, false
	}
}

// NullPrice is the stored form of the price.
func (o *Order) NullPrice() decimal.NullDecimal {
	p, ok := o.Price()
	return decimal.NullDecimal{Decimal: p, Valid: ok}
}

// Clone returns a copy safe to mutate.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
