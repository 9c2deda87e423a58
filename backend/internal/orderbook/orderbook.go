package orderbook

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/models"
)

// OrderBook is the derived view of one instrument's resting limit orders.
// It is rebuilt from persisted state at the start of every matching unit of work
// and is never the source of truth.
type OrderBook struct {
	instrumentID uuid.UUID
	Bids         []*models.Order // price descending, then creation
	Asks         []*models.Order // price ascending, then creation

	// Lookup by ID for removal
	Orders map[uuid.UUID]*models.Order
}

// NewOrderBook creates an empty book for an instrument.
func NewOrderBook(instrumentID uuid.UUID) *OrderBook {
	return &OrderBook{
		instrumentID: instrumentID,
		Bids:         make([]*models.Order, 0),
		Asks:         make([]*models.Order, 0),
		Orders:       make(map[uuid.UUID]*models.Order),
	}
}

// Build creates a book from open orders listed in creation order. Market orders
// never rest, so any still marked open are skipped.
func Build(instrumentID uuid.UUID, open []*models.Order) (*OrderBook, error) {
	ob := NewOrderBook(instrumentID)
	for _, o := range open {
		if o.Kind.Type() != models.TypeLimit || !o.Status.Open() {
			continue
		}
		if err := ob.AddOrder(o); err != nil {
			return nil, err
		}
	}
	return ob, nil
}

// InstrumentID returns the instrument this book belongs to.
func (ob *OrderBook) InstrumentID() uuid.UUID { return ob.instrumentID }

// AddOrder rests a limit order. Orders must be added in creation order; an order is
// placed after every resting order at the same price.
func (ob *OrderBook) AddOrder(order *models.Order) error {
	if order.InstrumentID != ob.instrumentID {
		return fmt.Errorf("order instrument %s does not match book %s", order.InstrumentID, ob.instrumentID)
	}
	price, ok := order.Price()
	if !ok {
		return fmt.Errorf("only limit orders can rest in the book")
	}
	if _, exists := ob.Orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists in the book", order.ID)
	}
	ob.Orders[order.ID] = order

	if order.Direction == models.Buy {
		ob.addBid(order, price)
	} else {
		ob.addAsk(order, price)
	}
	return nil
}

func (ob *OrderBook) addBid(order *models.Order, price decimal.Decimal) {
	i := sort.Search(len(ob.Bids), func(j int) bool { return priceOf(ob.Bids[j]).LessThan(price) })
	ob.Bids = append(ob.Bids, nil)
	copy(ob.Bids[i+1:], ob.Bids[i:])
	ob.Bids[i] = order
}

func (ob *OrderBook) addAsk(order *models.Order, price decimal.Decimal) {
	i := sort.Search(len(ob.Asks), func(j int) bool { return priceOf(ob.Asks[j]).GreaterThan(price) })
	ob.Asks = append(ob.Asks, nil)
	copy(ob.Asks[i+1:], ob.Asks[i:])
	ob.Asks[i] = order
}

// Side returns the queue for a direction in priority order.
func (ob *OrderBook) Side(d models.Direction) []*models.Order {
	if d == models.Buy {
		return ob.Bids
	}
	return ob.Asks
}

// Best returns the highest-priority resting order of a side, or nil.
func (ob *OrderBook) Best(d models.Direction) *models.Order {
	side := ob.Side(d)
	if len(side) == 0 {
		return nil
	}
	return side[0]
}

// RemoveOrder takes an order out of the book.
func (ob *OrderBook) RemoveOrder(orderID uuid.UUID) (*models.Order, error) {
	order, exists := ob.Orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order %s not found in book", orderID)
	}
	delete(ob.Orders, orderID)

	if order.Direction == models.Buy {
		ob.Bids = without(ob.Bids, orderID)
	} else {
		ob.Asks = without(ob.Asks, orderID)
	}
	return order, nil
}

func without(side []*models.Order, id uuid.UUID) []*models.Order {
	for i, o := range side {
		if o.ID == id {
			return append(side[:i], side[i+1:]...)
		}
	}
	return side
}

// Crosses reports whether a buy at bid and a sell at ask can trade.
func Crosses(bid, ask decimal.Decimal) bool {
	return bid.GreaterThanOrEqual(ask)
}

// BookLevel is the unfilled quantity resting at one price.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"qty"`
}

// Depth is an aggregated snapshot of the book.
type Depth struct {
	Bids []BookLevel `json:"bid_levels"` // price descending
	Asks []BookLevel `json:"ask_levels"` // price ascending
}

// GetDepth aggregates remaining quantity per price level, at most limit levels per side.
// A non-positive limit returns every level.
func (ob *OrderBook) GetDepth(limit int) *Depth {
	return &Depth{
		Bids: aggregate(ob.Bids, limit),
		Asks: aggregate(ob.Asks, limit),
	}
}

// aggregate walks a side already in priority order, so levels come out sorted.
func aggregate(side []*models.Order, limit int) []BookLevel {
	levels := make([]BookLevel, 0)
	for _, o := range side {
		p := priceOf(o)
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(p) {
			levels[n-1].Quantity += o.Remaining()
			continue
		}
		if limit > 0 && len(levels) == limit {
			break
		}
		levels = append(levels, BookLevel{Price: p, Quantity: o.Remaining()})
	}
	return levels
}

func priceOf(o *models.Order) decimal.Decimal {
	p, _ := o.Price()
	return p
}
