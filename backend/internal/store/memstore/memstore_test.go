package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
)

func TestFailedUnitOfWorkLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	rub, err := s.EnsureInstrument(ctx, "RUB")
	require.NoError(t, err)
	user := uuid.New()

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.BalanceForUpdate(ctx, user, rub.ID)
		require.NoError(t, err)
		b.Amount = decimal.NewFromInt(100)
		require.NoError(t, tx.SaveBalance(ctx, b))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.BalanceForUpdate(ctx, user, rub.ID)
		require.NoError(t, err)
		assert.False(t, b.Exists)
		assert.True(t, b.Amount.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestEnsureInstrumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.EnsureInstrument(ctx, "ABC")
	require.NoError(t, err)
	b, err := s.EnsureInstrument(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = s.EnsureInstrument(ctx, "abc")
	assert.Error(t, err)
}

func TestOpenOrdersInCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	abc, err := s.EnsureInstrument(ctx, "ABC")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(at time.Time, status models.OrderStatus) *models.Order {
		return &models.Order{
			ID: uuid.New(), UserID: uuid.New(), InstrumentID: abc.ID,
			Direction: models.Sell, Kind: models.Limit{Price: decimal.NewFromInt(10)},
			Quantity: 1, Status: status, CreatedAt: at, UpdatedAt: at,
		}
	}
	late := mk(base.Add(time.Second), models.StatusNew)
	tieA := mk(base, models.StatusPartiallyFilled)
	tieB := mk(base, models.StatusNew)
	done := mk(base, models.StatusExecuted)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, o := range []*models.Order{late, tieA, tieB, done} {
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.OpenOrders(ctx, abc.ID)
		require.NoError(t, err)
		require.Len(t, open, 3)
		assert.Equal(t, tieA.ID, open[0].ID)
		assert.Equal(t, tieB.ID, open[1].ID)
		assert.Equal(t, late.ID, open[2].ID)

		ids, err := tx.InstrumentsWithOpenLimitOrders(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{abc.ID}, ids)
		return nil
	}))
}

func TestReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	abc, err := s.EnsureInstrument(ctx, "ABC")
	require.NoError(t, err)
	o := &models.Order{
		ID: uuid.New(), UserID: uuid.New(), InstrumentID: abc.ID, Direction: models.Buy,
		Kind: models.Market{}, Quantity: 3, Status: models.StatusNew,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
	o.Filled = 3

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.Order(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Filled)

		_, err = tx.Order(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}
