// Package ticker tracks the last committed trade price per instrument.
package ticker

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/matching"
)

// PriceUpdate is the last trade of one ticker.
type PriceUpdate struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"qty"`
	Ts       int64           `json:"ts"` // Unix timestamp milliseconds
}

// Ticker keeps the latest trade per ticker.
type Ticker struct {
	mu   sync.RWMutex
	last map[string]PriceUpdate
}

// New creates an empty ticker.
func New() *Ticker {
	return &Ticker{last: make(map[string]PriceUpdate)}
}

// Publish records the trades of a committed result. Trades older than the one already
// recorded for a ticker are ignored.
func (t *Ticker) Publish(_ context.Context, res *matching.Result) error {
	if res == nil || len(res.Trades) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range res.Trades {
		ts := tr.ExecutedAt.UnixMilli()
		if prev, ok := t.last[tr.Ticker]; ok && prev.Ts > ts {
			continue
		}
		t.last[tr.Ticker] = PriceUpdate{Ticker: tr.Ticker, Price: tr.Price, Quantity: tr.Quantity, Ts: ts}
	}
	return nil
}

// Last returns the last trade of ticker, if any.
func (t *Ticker) Last(ticker string) (PriceUpdate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.last[ticker]
	return u, ok
}

// GetCurrentPrices returns a copy of the last prices.
func (t *Ticker) GetCurrentPrices() map[string]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	prices := make(map[string]decimal.Decimal, len(t.last))
	for k, v := range t.last {
		prices[k] = v.Price
	}
	return prices
}

