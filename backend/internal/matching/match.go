package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/apperrors"
	"github.com/Abulk79/Virt/backend/internal/ledger"
	"github.com/Abulk79/Virt/backend/internal/lifecycle"
	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/orderbook"
	"github.com/Abulk79/Virt/backend/internal/store"
)

// matcher executes trades for one instrument inside one unit of work.
type matcher struct {
	tx      store.Tx
	ledger  *ledger.Ledger
	inst    *models.Instrument
	quoteID uuid.UUID
	now     time.Time

	trades  []models.Trade
	updated map[uuid.UUID]*models.Order
	order   []uuid.UUID // first-touch order of updated
}

func newMatcher(tx store.Tx, inst *models.Instrument, quoteID uuid.UUID, now time.Time) *matcher {
	return &matcher{
		tx:      tx,
		ledger:  ledger.New(tx, func() time.Time { return now }),
		inst:    inst,
		quoteID: quoteID,
		now:     now,
		updated: make(map[uuid.UUID]*models.Order),
	}
}

// reserve locks what the order may spend. A market buy reserves nothing; it pays from
// spendable quote as it fills.
func (m *matcher) reserve(ctx context.Context, o *models.Order) error {
	if o.Direction == models.Sell {
		err := m.ledger.Reserve(ctx, o.UserID, m.inst.ID, decimal.NewFromInt(o.Quantity))
		return insufficient(err, apperrors.KindInsufficientStock, m.inst.Ticker)
	}
	if price, ok := o.Price(); ok {
		err := m.ledger.Reserve(ctx, o.UserID, m.quoteID, price.Mul(decimal.NewFromInt(o.Quantity)))
		return insufficient(err, apperrors.KindInsufficientFunds, "funds")
	}
	return nil
}

func (m *matcher) releaseOutstanding(ctx context.Context, o *models.Order) error {
	r := lifecycle.Outstanding(o, m.quoteID)
	if err := m.ledger.Release(ctx, o.UserID, r.InstrumentID, r.Amount); err != nil {
		return fmt.Errorf("release order %s: %w", o.ID, err)
	}
	return nil
}

// matchIncoming trades an incoming order against the book until it is filled, the book
// no longer crosses, or (for a market buy) the buyer cannot afford the next unit.
func (m *matcher) matchIncoming(ctx context.Context, book *orderbook.OrderBook, in *models.Order) error {
	limitPrice, isLimit := in.Price()
	for in.Remaining() > 0 {
		resting := book.Best(in.Direction.Opposite())
		if resting == nil {
			return nil
		}
		price, _ := resting.Price()
		if isLimit {
			bid, ask := limitPrice, price
			if in.Direction == models.Sell {
				bid, ask = price, limitPrice
			}
			if !orderbook.Crosses(bid, ask) {
				return nil
			}
		}

		qty := min(in.Remaining(), resting.Remaining())
		if in.Direction == models.Buy && !isLimit {
			b, err := m.ledger.Balance(ctx, in.UserID, m.quoteID)
			if err != nil {
				return err
			}
			qty = min(qty, affordable(b.Spendable(), price))
			if qty == 0 {
				if in.Filled == 0 {
					return apperrors.Newf(apperrors.KindInsufficientFunds, "insufficient funds to buy %s at %s", m.inst.Ticker, price)
				}
				return nil
			}
		}

		buy, sell := in, resting
		if in.Direction == models.Sell {
			buy, sell = resting, in
		}
		if err := m.execute(ctx, buy, sell, resting, price, qty); err != nil {
			return err
		}
		if resting.Remaining() == 0 {
			if _, err := book.RemoveOrder(resting.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchResting crosses resting orders against each other. The earlier order of each pair
// is the maker and sets the price.
func (m *matcher) matchResting(ctx context.Context, book *orderbook.OrderBook) error {
	for {
		bid, ask := book.Best(models.Buy), book.Best(models.Sell)
		if bid == nil || ask == nil {
			return nil
		}
		bidPrice, _ := bid.Price()
		askPrice, _ := ask.Price()
		if !orderbook.Crosses(bidPrice, askPrice) {
			return nil
		}
		maker, price := bid, bidPrice
		if ask.CreatedAt.Before(bid.CreatedAt) {
			maker, price = ask, askPrice
		}
		qty := min(bid.Remaining(), ask.Remaining())
		if err := m.execute(ctx, bid, ask, maker, price, qty); err != nil {
			return err
		}
		for _, o := range []*models.Order{bid, ask} {
			if o.Remaining() == 0 {
				if _, err := book.RemoveOrder(o.ID); err != nil {
					return err
				}
			}
		}
	}
}

// execute fills qty between buy and sell at price and settles both sides.
func (m *matcher) execute(ctx context.Context, buy, sell, maker *models.Order, price decimal.Decimal, qty int64) error {
	if err := lifecycle.ApplyFill(buy, qty, m.now); err != nil {
		return err
	}
	if err := lifecycle.ApplyFill(sell, qty, m.now); err != nil {
		return err
	}

	units := decimal.NewFromInt(qty)
	value := price.Mul(units)

	// Seller delivers from the reserved instrument.
	if err := m.ledger.SettleTransfer(ctx, sell.UserID, buy.UserID, m.inst.ID, units, true); err != nil {
		return fmt.Errorf("deliver %s: %w", m.inst.Ticker, err)
	}

	// Buyer pays: a limit buy from its reservation, releasing the part reserved above
	// the trade price; a market buy from spendable quote.
	if buyPrice, ok := buy.Price(); ok {
		if err := m.ledger.SettleTransfer(ctx, buy.UserID, sell.UserID, m.quoteID, value, true); err != nil {
			return fmt.Errorf("pay: %w", err)
		}
		if over := buyPrice.Sub(price).Mul(units); over.IsPositive() {
			if err := m.ledger.Release(ctx, buy.UserID, m.quoteID, over); err != nil {
				return fmt.Errorf("release price improvement: %w", err)
			}
		}
	} else {
		err := m.ledger.SettleTransfer(ctx, buy.UserID, sell.UserID, m.quoteID, value, false)
		if err != nil {
			return fmt.Errorf("pay: %w", insufficient(err, apperrors.KindInsufficientFunds, "funds"))
		}
	}

	for _, o := range []*models.Order{buy, sell} {
		if err := m.tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order %s: %w", o.ID, err)
		}
		rec := &models.Transaction{
			ID:           uuid.New(),
			OrderID:      o.ID,
			InstrumentID: m.inst.ID,
			Price:        price,
			Quantity:     qty,
			ExecutedAt:   m.now,
		}
		if err := m.tx.AppendTransaction(ctx, rec); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		m.touch(o)
	}

	m.trades = append(m.trades, models.Trade{
		InstrumentID: m.inst.ID,
		Ticker:       m.inst.Ticker,
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerID:      buy.UserID,
		SellerID:     sell.UserID,
		MakerOrderID: maker.ID,
		Price:        price,
		Quantity:     qty,
		ExecutedAt:   m.now,
	})
	return nil
}

func (m *matcher) touch(o *models.Order) {
	if _, seen := m.updated[o.ID]; !seen {
		m.order = append(m.order, o.ID)
	}
	m.updated[o.ID] = o
}

func (m *matcher) result(o *models.Order) *Result {
	if o != nil {
		m.touch(o)
	}
	res := &Result{Ticker: m.inst.Ticker, Trades: m.trades}
	if o != nil {
		res.Order = o.Clone()
	}
	for _, id := range m.order {
		res.Updated = append(res.Updated, m.updated[id].Clone())
	}
	return res
}
