// Package exchange is the operation surface the HTTP layer calls: orders, the order
// book, deposits and withdrawals, balances and fills. Every committed matching result is
// fanned out to the registered publishers after commit.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/apperrors"
	"github.com/Abulk79/Virt/backend/internal/ledger"
	"github.com/Abulk79/Virt/backend/internal/matching"
	"github.com/Abulk79/Virt/backend/internal/metrics"
	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/orderbook"
	"github.com/Abulk79/Virt/backend/internal/store"
)

// DefaultDepth is the order book depth used when the caller asks for none.
const DefaultDepth = 10

// Publisher receives committed results. Errors are logged and never undo the commit.
type Publisher interface {
	Publish(ctx context.Context, res *matching.Result) error
}

// Service implements the exchange operations over one engine and store.
type Service struct {
	engine       *matching.Engine
	store        store.Store
	defaultDepth int
	publishers   []Publisher
	log          zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultDepth sets the depth used when GetOrderBook is called with depth <= 0.
func WithDefaultDepth(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultDepth = n
		}
	}
}

// WithPublishers adds post-commit publishers.
func WithPublishers(p ...Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p...) }
}

// New creates a service.
func New(engine *matching.Engine, st store.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		engine:       engine,
		store:        st,
		defaultDepth: DefaultDepth,
		log:          log.With().Str("component", "exchange").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OrderBody is what the user asked for. A nil Price means a market order.
type OrderBody struct {
	Direction models.Direction `json:"direction"`
	Ticker    string           `json:"ticker"`
	Qty       int64            `json:"qty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// OrderView is the projection of a stored order.
type OrderView struct {
	ID        uuid.UUID          `json:"id"`
	Status    models.OrderStatus `json:"status"`
	UserID    uuid.UUID          `json:"user_id"`
	Timestamp time.Time          `json:"timestamp"`
	Body      OrderBody          `json:"body"`
	Filled    int64              `json:"filled"`
}

// Placement is the answer to PlaceOrder: the order's final state and its fills.
type Placement struct {
	Order  OrderView      `json:"order"`
	Trades []models.Trade `json:"trades"`
}

// BalanceView is one instrument's holding.
type BalanceView struct {
	Amount    decimal.Decimal `json:"amount"`
	Locked    decimal.Decimal `json:"locked"`
	Spendable decimal.Decimal `json:"spendable"`
}

// TransactionView is one fill of one of the user's orders.
type TransactionView struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Ticker     string          `json:"ticker"`
	Price      decimal.Decimal `json:"price"`
	Qty        int64           `json:"qty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// PlaceOrder admits an order for user.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, body OrderBody) (*Placement, error) {
	req := matching.PlaceRequest{
		UserID:    userID,
		Ticker:    body.Ticker,
		Direction: body.Direction,
		Kind:      models.Market{},
		Quantity:  body.Qty,
	}
	if body.Price != nil {
		req.Kind = models.Limit{Price: *body.Price}
	}

	res, err := s.engine.PlaceOrder(ctx, req)
	if err != nil {
		metrics.IncOrderRejected(string(apperrors.KindOf(err)))
		return nil, err
	}
	s.Notify(ctx, res)
	return &Placement{Order: view(res.Order, res.Ticker), Trades: res.Trades}, nil
}

// CancelOrder cancels one of the user's open orders.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	res, err := s.engine.CancelOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, res)
	v := view(res.Order, res.Ticker)
	return &v, nil
}

// Notify counts the result's trades and hands it to every publisher.
func (s *Service) Notify(ctx context.Context, res *matching.Result) {
	if res == nil {
		return
	}
	metrics.AddTrades(res.Ticker, len(res.Trades))
	ctx = context.WithoutCancel(ctx)
	for _, p := range s.publishers {
		if err := p.Publish(ctx, res); err != nil {
			s.log.Error().Err(err).Str("ticker", res.Ticker).Msg("failed to publish committed result")
		}
	}
}

// GetOrderBook returns up to depth aggregated levels per side.
func (s *Service) GetOrderBook(ctx context.Context, ticker string, depth int) (*orderbook.Depth, error) {
	if !store.TickerPattern.MatchString(ticker) {
		return nil, apperrors.Newf(apperrors.KindValidation, "invalid ticker %q", ticker)
	}
	if depth <= 0 {
		depth = s.defaultDepth
	}
	return s.engine.OrderBook(ctx, ticker, depth)
}

// GetOrders lists the user's orders, oldest first.
func (s *Service) GetOrders(ctx context.Context, userID uuid.UUID) ([]OrderView, error) {
	var out []OrderView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = make([]OrderView, 0)
		orders, err := tx.OrdersByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("orders of %s: %w", userID, err)
		}
		names := tickers{tx: tx}
		for _, o := range orders {
			t, err := names.of(ctx, o.InstrumentID)
			if err != nil {
				return err
			}
			out = append(out, view(o, t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder returns one of the user's orders. Orders of other users are reported as not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	var out OrderView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && o.UserID != userID) {
			return apperrors.Newf(apperrors.KindOrderNotFound, "order %s not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		names := tickers{tx: tx}
		t, err := names.of(ctx, o.InstrumentID)
		if err != nil {
			return err
		}
		out = view(o, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Deposit credits amount of ticker to the user.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, ticker string, amount decimal.Decimal) (*BalanceView, error) {
	return s.move(ctx, userID, ticker, func(ctx context.Context, l *ledger.Ledger, instrumentID uuid.UUID) (*models.Balance, error) {
		return l.Deposit(ctx, userID, instrumentID, amount)
	})
}

// Withdraw debits amount of ticker from the user's spendable balance.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, ticker string, amount decimal.Decimal) (*BalanceView, error) {
	return s.move(ctx, userID, ticker, func(ctx context.Context, l *ledger.Ledger, instrumentID uuid.UUID) (*models.Balance, error) {
		return l.Withdraw(ctx, userID, instrumentID, amount)
	})
}

type movement func(ctx context.Context, l *ledger.Ledger, instrumentID uuid.UUID) (*models.Balance, error)

func (s *Service) move(ctx context.Context, userID uuid.UUID, ticker string, fn movement) (*BalanceView, error) {
	if !store.TickerPattern.MatchString(ticker) {
		return nil, apperrors.Newf(apperrors.KindValidation, "invalid ticker %q", ticker)
	}
	var out *BalanceView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inst, err := tx.InstrumentByTicker(ctx, ticker)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.Newf(apperrors.KindInstrumentUnavailable, "ticker %s not found", ticker)
		}
		if err != nil {
			return fmt.Errorf("lookup %s: %w", ticker, err)
		}
		if inst.Delisted {
			return apperrors.Newf(apperrors.KindInstrumentUnavailable, "ticker %s is delisted", ticker)
		}
		b, err := fn(ctx, ledger.New(tx, s.engine.Now), inst.ID)
		switch {
		case errors.Is(err, ledger.ErrNonPositiveAmount):
			return apperrors.New(apperrors.KindValidation, "amount must be positive")
		case errors.Is(err, ledger.ErrOutOfRange):
			return apperrors.New(apperrors.KindValidation, err.Error())
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return apperrors.Newf(apperrors.KindInsufficientFunds, "insufficient spendable %s", ticker)
		case err != nil:
			return err
		}
		v := balanceView(b)
		out = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID.String()).Str("ticker", ticker).Str("amount", out.Amount.String()).Msg("balance changed")
	return out, nil
}

// Balances returns the user's holdings keyed by ticker.
func (s *Service) Balances(ctx context.Context, userID uuid.UUID) (map[string]BalanceView, error) {
	var out map[string]BalanceView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = make(map[string]BalanceView)
		balances, err := tx.Balances(ctx, userID)
		if err != nil {
			return fmt.Errorf("balances of %s: %w", userID, err)
		}
		names := tickers{tx: tx}
		for _, b := range balances {
			t, err := names.of(ctx, b.InstrumentID)
			if err != nil {
				return err
			}
			out[t] = balanceView(b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transactions returns the user's fills, newest first. An empty ticker matches every
// instrument; limit <= 0 returns all of them.
func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, ticker string, limit int) ([]TransactionView, error) {
	if ticker != "" && !store.TickerPattern.MatchString(ticker) {
		return nil, apperrors.Newf(apperrors.KindValidation, "invalid ticker %q", ticker)
	}
	if limit < 0 {
		limit = 0
	}
	var out []TransactionView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = make([]TransactionView, 0)
		var instrumentID uuid.UUID
		if ticker != "" {
			inst, err := tx.InstrumentByTicker(ctx, ticker)
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.Newf(apperrors.KindInstrumentUnavailable, "ticker %s not found", ticker)
			}
			if err != nil {
				return fmt.Errorf("lookup %s: %w", ticker, err)
			}
			instrumentID = inst.ID
		}
		records, err := tx.Transactions(ctx, userID, instrumentID, limit)
		if err != nil {
			return fmt.Errorf("transactions of %s: %w", userID, err)
		}
		names := tickers{tx: tx}
		for _, r := range records {
			t, err := names.of(ctx, r.InstrumentID)
			if err != nil {
				return err
			}
			out = append(out, TransactionView{
				ID: r.ID, OrderID: r.OrderID, Ticker: t, Price: r.Price, Qty: r.Quantity, ExecutedAt: r.ExecutedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func view(o *models.Order, ticker string) OrderView {
	v := OrderView{
		ID:        o.ID,
		Status:    o.Status,
		UserID:    o.UserID,
		Timestamp: o.CreatedAt,
		Body:      OrderBody{Direction: o.Direction, Ticker: ticker, Qty: o.Quantity},
		Filled:    o.Filled,
	}
	if p, ok := o.Price(); ok {
		v.Body.Price = &p
	}
	return v
}

func balanceView(b *models.Balance) BalanceView {
	return BalanceView{Amount: b.Amount, Locked: b.Locked, Spendable: b.Spendable()}
}

// tickers resolves instrument ids to tickers, once per id.
type tickers struct {
	tx    store.Tx
	cache map[uuid.UUID]string
}

func (t *tickers) of(ctx context.Context, id uuid.UUID) (string, error) {
	if name, ok := t.cache[id]; ok {
		return name, nil
	}
	inst, err := t.tx.InstrumentByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("instrument %s: %w", id, err)
	}
	if t.cache == nil {
		t.cache = make(map[uuid.UUID]string)
	}
	t.cache[id] = inst.Ticker
	return inst.Ticker, nil
}
