package matching

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Abulk79/Virt/backend/internal/ledger"
	"github.com/Abulk79/Virt/backend/internal/lifecycle"
	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
	"github.com/Abulk79/Virt/backend/internal/store/memstore"
)

// tester is the part of *testing.T and *rapid.T the fixture needs.
type tester interface {
	Errorf(format string, args ...interface{})
	FailNow()
	Helper()
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type fixture struct {
	t     tester
	ctx   context.Context
	st    *memstore.Store
	clock *fakeClock
	eng   *Engine
	rub   *models.Instrument
	abc   *models.Instrument
}

func newFixture(t tester) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	rub, err := st.EnsureInstrument(ctx, "RUB")
	require.NoError(t, err)
	abc, err := st.EnsureInstrument(ctx, "ABC")
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	return &fixture{
		t: t, ctx: ctx, st: st, clock: clock, rub: rub, abc: abc,
		eng: New(st, zerolog.Nop(), WithClock(clock)),
	}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f *fixture) deposit(user uuid.UUID, inst *models.Instrument, amount int64) {
	f.t.Helper()
	f.depositDec(user, inst, dec(amount))
}

func (f *fixture) depositDec(user uuid.UUID, inst *models.Instrument, amount decimal.Decimal) {
	f.t.Helper()
	require.NoError(f.t, f.st.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.New(tx, nil).Deposit(ctx, user, inst.ID, amount)
		return err
	}))
}

func (f *fixture) balance(user uuid.UUID, inst *models.Instrument) *models.Balance {
	f.t.Helper()
	var b *models.Balance
	require.NoError(f.t, f.st.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		b, err = tx.BalanceForUpdate(ctx, user, inst.ID)
		return err
	}))
	return b
}

func (f *fixture) limit(user uuid.UUID, dir models.Direction, price, qty int64) (*Result, error) {
	return f.eng.PlaceOrder(f.ctx, PlaceRequest{
		UserID: user, Ticker: "ABC", Direction: dir,
		Kind: models.Limit{Price: dec(price)}, Quantity: qty,
	})
}

func (f *fixture) market(user uuid.UUID, dir models.Direction, qty int64) (*Result, error) {
	return f.eng.PlaceOrder(f.ctx, PlaceRequest{
		UserID: user, Ticker: "ABC", Direction: dir, Kind: models.Market{}, Quantity: qty,
	})
}

func (f *fixture) order(id uuid.UUID) *models.Order {
	f.t.Helper()
	var o *models.Order
	require.NoError(f.t, f.st.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Order(ctx, id)
		return err
	}))
	return o
}

func (f *fixture) ordersOf(user uuid.UUID) []*models.Order {
	f.t.Helper()
	var out []*models.Order
	require.NoError(f.t, f.st.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.OrdersByUser(ctx, user)
		return err
	}))
	return out
}

func (f *fixture) transactionsOf(user uuid.UUID) []*models.Transaction {
	f.t.Helper()
	var out []*models.Transaction
	require.NoError(f.t, f.st.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Transactions(ctx, user, uuid.Nil, 0)
		return err
	}))
	return out
}

// rest writes a reserved limit order straight into the store, bypassing matching,
// so tests can build books that cross. With reserve=false the reservation is skipped.
func (f *fixture) rest(user uuid.UUID, inst *models.Instrument, dir models.Direction, price, qty int64, reserve bool) *models.Order {
	f.t.Helper()
	now := f.clock.Now()
	o := &models.Order{
		ID: uuid.New(), UserID: user, InstrumentID: inst.ID, Direction: dir,
		Kind: models.Limit{Price: dec(price)}, Quantity: qty, Status: models.StatusNew,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(f.t, f.st.WithTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		if reserve {
			l := ledger.New(tx, nil)
			var err error
			if dir == models.Buy {
				err = l.Reserve(ctx, user, f.rub.ID, dec(price*qty))
			} else {
				err = l.Reserve(ctx, user, inst.ID, dec(qty))
			}
			if err != nil {
				return err
			}
		}
		return tx.InsertOrder(ctx, o)
	}))
	return o
}

// checkLedger verifies conservation against deposits, non-negative spendable, no
// over-fill, an uncrossed book and that every locked amount equals what the user's
// open orders still reserve.
func (f *fixture) checkLedger(t tester, users []uuid.UUID, deposits map[uuid.UUID]decimal.Decimal) {
	t.Helper()
	expectedLocked := map[uuid.UUID]map[uuid.UUID]decimal.Decimal{}
	for _, u := range users {
		expectedLocked[u] = map[uuid.UUID]decimal.Decimal{}
		for _, o := range f.ordersOf(u) {
			require.GreaterOrEqual(t, o.Filled, int64(0))
			require.LessOrEqual(t, o.Filled, o.Quantity)
			if o.Filled == o.Quantity {
				require.Equal(t, models.StatusExecuted, o.Status)
			}
			if !o.Status.Open() {
				continue
			}
			r := lifecycle.Outstanding(o, f.rub.ID)
			expectedLocked[u][r.InstrumentID] = expectedLocked[u][r.InstrumentID].Add(r.Amount)
		}
	}

	for _, inst := range []*models.Instrument{f.rub, f.abc} {
		total := decimal.Zero
		for _, u := range users {
			b := f.balance(u, inst)
			require.False(t, b.Amount.IsNegative())
			require.False(t, b.Locked.IsNegative())
			require.False(t, b.Spendable().IsNegative(), "spendable %s", b.Spendable())
			require.True(t, b.Locked.Equal(expectedLocked[u][inst.ID]),
				"%s locked %s, open orders reserve %s", inst.Ticker, b.Locked, expectedLocked[u][inst.ID])
			total = total.Add(b.Amount)
		}
		require.True(t, total.Equal(deposits[inst.ID]), "%s total %s, deposited %s", inst.Ticker, total, deposits[inst.ID])
	}

	depth, err := f.eng.OrderBook(f.ctx, "ABC", 1)
	require.NoError(t, err)
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		require.True(t, depth.Bids[0].Price.LessThan(depth.Asks[0].Price), "book crossed")
	}
}

// faultyStore fails AppendTransaction after a number of successful calls.
type faultyStore struct {
	store.Store
	okAppends int
	err       error
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, s: s})
	})
}

type faultyTx struct {
	store.Tx
	s *faultyStore
}

func (t *faultyTx) AppendTransaction(ctx context.Context, tr *models.Transaction) error {
	if t.s.okAppends == 0 {
		return t.s.err
	}
	t.s.okAppends--
	return t.Tx.AppendTransaction(ctx, tr)
}
