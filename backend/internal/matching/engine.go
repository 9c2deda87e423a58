// Package matching runs the continuous double auction for every instrument.
//
// Each operation is one unit of work on the store: the instrument's in-process mutex is
// taken, the store transaction locks the instrument, the book is rebuilt from the open
// orders, and all order, balance and transaction writes commit together or not at all.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/apperrors"
	"github.com/Abulk79/Virt/backend/internal/ledger"
	"github.com/Abulk79/Virt/backend/internal/lifecycle"
	"github.com/Abulk79/Virt/backend/internal/metrics"
	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/orderbook"
	"github.com/Abulk79/Virt/backend/internal/store"
)

// DefaultQuoteTicker is the currency limit prices are expressed in.
const DefaultQuoteTicker = "RUB"

// Clock is the timestamp source for created_at, updated_at and executed_at.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PlaceRequest is an order to admit.
type PlaceRequest struct {
	UserID    uuid.UUID
	Ticker    string
	Direction models.Direction
	Kind      models.Kind
	Quantity  int64
}

// Result describes what one committed unit of work changed.
type Result struct {
	Order   *models.Order   // the placed or canceled order; nil for a sweep
	Ticker  string
	Trades  []models.Trade
	Updated []*models.Order // every order whose state changed, final state
}

// Engine serializes matching per instrument.
type Engine struct {
	store       store.Store
	locks       *orderbook.Manager
	clock       Clock
	quoteTicker string
	log         zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithQuoteTicker sets the quote currency ticker.
func WithQuoteTicker(t string) Option { return func(e *Engine) { e.quoteTicker = t } }

// New creates an engine over st.
func New(st store.Store, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		locks:       orderbook.NewManager(),
		clock:       SystemClock{},
		quoteTicker: DefaultQuoteTicker,
		log:         log.With().Str("component", "matching").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QuoteTicker returns the quote currency ticker.
func (e *Engine) QuoteTicker() string { return e.quoteTicker }

// Now reads the engine's clock.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// PlaceOrder admits an order: it reserves funds, matches against the book and rests any
// limit remainder. On error nothing is persisted.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (*Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveMatchingLatency("place", time.Since(start)) }()

	if err := validate(req); err != nil {
		return nil, err
	}

	// Resolve the instrument first so the in-process lock can be taken before the
	// unit of work; admission is checked again inside it.
	var instrumentID uuid.UUID
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inst, err := admit(ctx, tx, req.Ticker)
		if err != nil {
			return err
		}
		instrumentID = inst.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	var res *Result
	err = e.locks.With(instrumentID, func() error {
		return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = e.place(ctx, tx, req)
			return err
		})
	})
	if err != nil {
		e.log.Debug().Err(err).Str("ticker", req.Ticker).Str("user_id", req.UserID.String()).Msg("order rejected")
		return nil, err
	}
	e.log.Info().
		Str("order_id", res.Order.ID.String()).
		Str("ticker", res.Ticker).
		Str("status", string(res.Order.Status)).
		Int("trades", len(res.Trades)).
		Msg("order placed")
	return res, nil
}

func validate(req PlaceRequest) error {
	if !req.Direction.Valid() {
		return apperrors.Newf(apperrors.KindValidation, "unknown direction %q", req.Direction)
	}
	if req.Quantity <= 0 {
		return apperrors.New(apperrors.KindValidation, "quantity must be positive")
	}
	if !store.TickerPattern.MatchString(req.Ticker) {
		return apperrors.Newf(apperrors.KindValidation, "invalid ticker %q", req.Ticker)
	}
	switch k := req.Kind.(type) {
	case models.Limit:
		if !k.Price.IsPositive() {
			return apperrors.New(apperrors.KindValidation, "price must be positive")
		}
		if err := ledger.CheckAmount(k.Price); err != nil {
			return apperrors.Newf(apperrors.KindValidation, "price: %v", err)
		}
		if err := ledger.CheckAmount(k.Price.Mul(decimal.NewFromInt(req.Quantity))); err != nil {
			return apperrors.Newf(apperrors.KindValidation, "order value: %v", err)
		}
	case models.Market:
	default:
		return apperrors.New(apperrors.KindValidation, "order type must be limit or market")
	}
	return nil
}

// admit resolves a tradable instrument.
func admit(ctx context.Context, tx store.Tx, ticker string) (*models.Instrument, error) {
	inst, err := tx.InstrumentByTicker(ctx, ticker)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.KindInstrumentUnavailable, "ticker %s not found", ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ticker, err)
	}
	if inst.Delisted {
		return nil, apperrors.Newf(apperrors.KindInstrumentUnavailable, "ticker %s is delisted", ticker)
	}
	return inst, nil
}

func (e *Engine) quote(ctx context.Context, tx store.Tx) (*models.Instrument, error) {
	q, err := tx.InstrumentByTicker(ctx, e.quoteTicker)
	if err != nil {
		return nil, fmt.Errorf("quote instrument %s: %w", e.quoteTicker, err)
	}
	return q, nil
}

func (e *Engine) place(ctx context.Context, tx store.Tx, req PlaceRequest) (*Result, error) {
	inst, err := admit(ctx, tx, req.Ticker)
	if err != nil {
		return nil, err
	}
	quote, err := e.quote(ctx, tx)
	if err != nil {
		return nil, err
	}
	if inst.ID == quote.ID {
		return nil, apperrors.Newf(apperrors.KindValidation, "%s is the quote currency", inst.Ticker)
	}
	if err := tx.LockInstrument(ctx, inst.ID); err != nil {
		return nil, fmt.Errorf("lock %s: %w", inst.Ticker, err)
	}

	now := e.clock.Now()
	order := &models.Order{
		ID:           uuid.New(),
		UserID:       req.UserID,
		InstrumentID: inst.ID,
		Direction:    req.Direction,
		Kind:         req.Kind,
		Quantity:     req.Quantity,
		Status:       models.StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m := newMatcher(tx, inst, quote.ID, now)
	if err := m.reserve(ctx, order); err != nil {
		return nil, err
	}

	open, err := tx.OpenOrders(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	book, err := orderbook.Build(inst.ID, open)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := m.matchIncoming(ctx, book, order); err != nil {
		return nil, err
	}

	if order.Kind.Type() == models.TypeMarket && order.Remaining() > 0 {
		if order.Filled == 0 {
			return nil, apperrors.Newf(apperrors.KindNoLiquidity, "no %s orders for %s", order.Direction.Opposite(), inst.Ticker)
		}
		// A market order never rests: release what is left and close it.
		if err := m.releaseOutstanding(ctx, order); err != nil {
			return nil, err
		}
		if err := lifecycle.Cancel(order, now); err != nil {
			return nil, err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("update order: %w", err)
		}
	}

	return m.result(order), nil
}

// CancelOrder cancels an open order owned by userID and releases its remaining reservation.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveMatchingLatency("cancel", time.Since(start)) }()

	var instrumentID uuid.UUID
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := ownedOrder(ctx, tx, orderID, userID)
		if err != nil {
			return err
		}
		instrumentID = o.InstrumentID
		return nil
	})
	if err != nil {
		return nil, err
	}

	var res *Result
	err = e.locks.With(instrumentID, func() error {
		return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = e.cancel(ctx, tx, orderID, userID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("order_id", orderID.String()).Str("ticker", res.Ticker).Msg("order canceled")
	return res, nil
}

func ownedOrder(ctx context.Context, tx store.Tx, orderID, userID uuid.UUID) (*models.Order, error) {
	o, err := tx.Order(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.KindOrderNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.UserID != userID {
		return nil, apperrors.Newf(apperrors.KindOrderNotCancelable, "order %s belongs to another user", orderID)
	}
	return o, nil
}

func (e *Engine) cancel(ctx context.Context, tx store.Tx, orderID, userID uuid.UUID) (*Result, error) {
	o, err := ownedOrder(ctx, tx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.LockInstrument(ctx, o.InstrumentID); err != nil {
		return nil, fmt.Errorf("lock instrument: %w", err)
	}
	// Re-read under the instrument lock; a concurrent match may have filled it.
	o, err = ownedOrder(ctx, tx, orderID, userID)
	if err != nil {
		return nil, err
	}
	inst, err := tx.InstrumentByID(ctx, o.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", o.InstrumentID, err)
	}
	quote, err := e.quote(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	m := newMatcher(tx, inst, quote.ID, now)
	if o.Status.Terminal() {
		return nil, apperrors.Newf(apperrors.KindOrderNotCancelable, "order %s is %s", o.ID, o.Status)
	}
	if err := m.releaseOutstanding(ctx, o); err != nil {
		return nil, err
	}
	if err := lifecycle.Cancel(o, now); err != nil {
		return nil, err
	}
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	return m.result(o), nil
}

// OrderBook returns the aggregated depth of a tradable instrument.
func (e *Engine) OrderBook(ctx context.Context, ticker string, depth int) (*orderbook.Depth, error) {
	var out *orderbook.Depth
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inst, err := admit(ctx, tx, ticker)
		if err != nil {
			return err
		}
		open, err := tx.OpenOrders(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("open orders: %w", err)
		}
		book, err := orderbook.Build(inst.ID, open)
		if err != nil {
			return err
		}
		out = book.GetDepth(depth)
		return nil
	})
	return out, err
}

var maxUnits = decimal.NewFromInt(math.MaxInt64)

// affordable is how many units spendable buys at price, capped at math.MaxInt64.
func affordable(spendable, price decimal.Decimal) int64 {
	if !price.IsPositive() || !spendable.IsPositive() {
		return 0
	}
	q, _ := spendable.QuoRem(price, 0)
	if q.GreaterThanOrEqual(maxUnits) {
		return math.MaxInt64
	}
	return q.IntPart()
}

// insufficient converts a ledger shortfall into the caller-facing kind.
func insufficient(err error, kind apperrors.Kind, what string) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return apperrors.Newf(kind, "insufficient %s", what)
	}
	return err
}
