// Package memstore is an in-process store.Store. Units of work run one at a time
// against a private copy of the data that replaces the shared copy only on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
)

type balanceKey struct {
	user       uuid.UUID
	instrument uuid.UUID
}

type state struct {
	instruments  map[uuid.UUID]*models.Instrument
	byTicker     map[string]uuid.UUID
	balances     map[balanceKey]*models.Balance
	orders       map[uuid.UUID]*models.Order
	orderSeq     map[uuid.UUID]int
	transactions []*models.Transaction
}

func newState() *state {
	return &state{
		instruments: make(map[uuid.UUID]*models.Instrument),
		byTicker:    make(map[string]uuid.UUID),
		balances:    make(map[balanceKey]*models.Balance),
		orders:      make(map[uuid.UUID]*models.Order),
		orderSeq:    make(map[uuid.UUID]int),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, in := range s.instruments {
		cp := *in
		c.instruments[id] = &cp
	}
	for t, id := range s.byTicker {
		c.byTicker[t] = id
	}
	for k, b := range s.balances {
		cp := *b
		c.balances[k] = &cp
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for id, n := range s.orderSeq {
		c.orderSeq[id] = n
	}
	c.transactions = append([]*models.Transaction(nil), s.transactions...)
	return c
}

// Store keeps everything in memory.
type Store struct {
	mu   sync.Mutex
	data *state
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// WithTx runs fn against a snapshot and publishes the snapshot if fn succeeds.
// Units of work are fully serialized, so LockInstrument needs no extra locking.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// EnsureInstrument returns the instrument with this ticker, creating it if missing.
func (s *Store) EnsureInstrument(ctx context.Context, ticker string) (*models.Instrument, error) {
	if !store.TickerPattern.MatchString(ticker) {
		return nil, fmt.Errorf("invalid ticker %q", ticker)
	}
	var out *models.Instrument
	err := s.WithTx(ctx, func(ctx context.Context, t store.Tx) error {
		st := t.(*tx).st
		if id, ok := st.byTicker[ticker]; ok {
			cp := *st.instruments[id]
			out = &cp
			return nil
		}
		in := &models.Instrument{ID: uuid.New(), Name: ticker, Ticker: ticker}
		st.instruments[in.ID] = in
		st.byTicker[ticker] = in.ID
		cp := *in
		out = &cp
		return nil
	})
	return out, err
}

// Delist marks an instrument delisted. The catalog is external to the core;
// this exists so callers embedding the store can model it.
func (s *Store) Delist(ticker string) error {
	return s.WithTx(context.Background(), func(ctx context.Context, t store.Tx) error {
		st := t.(*tx).st
		id, ok := st.byTicker[ticker]
		if !ok {
			return store.ErrNotFound
		}
		st.instruments[id].Delisted = true
		return nil
	})
}

// Close is a no-op.
func (s *Store) Close() {}

type tx struct {
	st *state
}

func (t *tx) InstrumentByTicker(ctx context.Context, ticker string) (*models.Instrument, error) {
	id, ok := t.st.byTicker[ticker]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t.st.instruments[id]
	return &cp, nil
}

func (t *tx) InstrumentByID(ctx context.Context, id uuid.UUID) (*models.Instrument, error) {
	in, ok := t.st.instruments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (t *tx) LockInstrument(ctx context.Context, instrumentID uuid.UUID) error {
	return nil
}

func (t *tx) BalanceForUpdate(ctx context.Context, userID, instrumentID uuid.UUID) (*models.Balance, error) {
	b, ok := t.st.balances[balanceKey{userID, instrumentID}]
	if !ok {
		return &models.Balance{UserID: userID, InstrumentID: instrumentID}, nil
	}
	cp := *b
	return &cp, nil
}

func (t *tx) SaveBalance(ctx context.Context, b *models.Balance) error {
	cp := *b
	cp.Exists = true
	t.st.balances[balanceKey{b.UserID, b.InstrumentID}] = &cp
	b.Exists = true
	return nil
}

func (t *tx) Balances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error) {
	out := make([]*models.Balance, 0)
	for k, b := range t.st.balances {
		if k.user == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstrumentID.String() < out[j].InstrumentID.String()
	})
	return out, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	if _, exists := t.st.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	t.st.orders[o.ID] = o.Clone()
	t.st.orderSeq[o.ID] = len(t.st.orderSeq)
	return nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	if _, exists := t.st.orders[o.ID]; !exists {
		return store.ErrNotFound
	}
	t.st.orders[o.ID] = o.Clone()
	return nil
}

func (t *tx) Order(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return o.Clone(), nil
}

func (t *tx) OrdersByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	out := make([]*models.Order, 0)
	for _, o := range t.st.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	t.sortByCreation(out)
	return out, nil
}

func (t *tx) OpenOrders(ctx context.Context, instrumentID uuid.UUID) ([]*models.Order, error) {
	out := make([]*models.Order, 0)
	for _, o := range t.st.orders {
		if o.InstrumentID == instrumentID && o.Status.Open() {
			out = append(out, o.Clone())
		}
	}
	t.sortByCreation(out)
	return out, nil
}

func (t *tx) InstrumentsWithOpenLimitOrders(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	out := make([]uuid.UUID, 0)
	for _, o := range t.st.orders {
		if !o.Status.Open() || o.Kind.Type() != models.TypeLimit || seen[o.InstrumentID] {
			continue
		}
		seen[o.InstrumentID] = true
		out = append(out, o.InstrumentID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (t *tx) AppendTransaction(ctx context.Context, tr *models.Transaction) error {
	cp := *tr
	t.st.transactions = append(t.st.transactions, &cp)
	return nil
}

func (t *tx) Transactions(ctx context.Context, userID, instrumentID uuid.UUID, limit int) ([]*models.Transaction, error) {
	out := make([]*models.Transaction, 0)
	for i := len(t.st.transactions) - 1; i >= 0; i-- {
		tr := t.st.transactions[i]
		o, ok := t.st.orders[tr.OrderID]
		if !ok || o.UserID != userID {
			continue
		}
		if instrumentID != uuid.Nil && tr.InstrumentID != instrumentID {
			continue
		}
		cp := *tr
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortByCreation orders by created_at, then by insertion so equal timestamps stay stable.
func (t *tx) sortByCreation(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return t.st.orderSeq[a.ID] < t.st.orderSeq[b.ID]
	})
}
