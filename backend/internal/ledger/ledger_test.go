package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
	"github.com/Abulk79/Virt/backend/internal/store/memstore"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func setup(t *testing.T) (*memstore.Store, *models.Instrument) {
	t.Helper()
	s := memstore.New()
	rub, err := s.EnsureInstrument(context.Background(), "RUB")
	require.NoError(t, err)
	return s, rub
}

func run(t *testing.T, s store.Store, fn func(ctx context.Context, l *Ledger) error) error {
	t.Helper()
	return s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, New(tx, nil))
	})
}

func balance(t *testing.T, s store.Store, user, inst uuid.UUID) *models.Balance {
	t.Helper()
	var out *models.Balance
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		var err error
		out, err = l.Balance(ctx, user, inst)
		return err
	}))
	return out
}

func TestReserveAndRelease(t *testing.T) {
	s, rub := setup(t)
	u := uuid.New()
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Deposit(ctx, u, rub.ID, d(100))
		return err
	}))

	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.Reserve(ctx, u, rub.ID, d(60))
	}))
	b := balance(t, s, u, rub.ID)
	assert.True(t, b.Amount.Equal(d(100)))
	assert.True(t, b.Locked.Equal(d(60)))
	assert.True(t, b.Spendable().Equal(d(40)))

	err := run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.Reserve(ctx, u, rub.ID, d(41))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Release is floored at zero.
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.Release(ctx, u, rub.ID, d(1000))
	}))
	b = balance(t, s, u, rub.ID)
	assert.True(t, b.Locked.IsZero())
	assert.True(t, b.Amount.Equal(d(100)))
}

func TestReserveOnMissingBalance(t *testing.T) {
	s, rub := setup(t)
	err := run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.Reserve(ctx, uuid.New(), rub.ID, d(1))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.Reserve(ctx, uuid.New(), rub.ID, decimal.Zero)
	}))
}

func TestSettleTransferFromLocked(t *testing.T) {
	s, rub := setup(t)
	payer, payee := uuid.New(), uuid.New()
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		if _, err := l.Deposit(ctx, payer, rub.ID, d(100)); err != nil {
			return err
		}
		if err := l.Reserve(ctx, payer, rub.ID, d(50)); err != nil {
			return err
		}
		return l.SettleTransfer(ctx, payer, payee, rub.ID, d(30), true)
	}))

	p := balance(t, s, payer, rub.ID)
	assert.True(t, p.Amount.Equal(d(70)))
	assert.True(t, p.Locked.Equal(d(20)))
	assert.True(t, balance(t, s, payee, rub.ID).Amount.Equal(d(30)))

	err := run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.SettleTransfer(ctx, payer, payee, rub.ID, d(21), true)
	})
	assert.ErrorIs(t, err, ErrLockedShortfall)
}

func TestSettleTransferFromSpendable(t *testing.T) {
	s, rub := setup(t)
	payer, payee := uuid.New(), uuid.New()
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		if _, err := l.Deposit(ctx, payer, rub.ID, d(100)); err != nil {
			return err
		}
		return l.Reserve(ctx, payer, rub.ID, d(80))
	}))

	err := run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.SettleTransfer(ctx, payer, payee, rub.ID, d(21), false)
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		return l.SettleTransfer(ctx, payer, payee, rub.ID, d(20), false)
	}))
	p := balance(t, s, payer, rub.ID)
	assert.True(t, p.Amount.Equal(d(80)))
	assert.True(t, p.Locked.Equal(d(80)))
	assert.True(t, p.Spendable().IsZero())
}

func TestSettleTransferToSelf(t *testing.T) {
	s, rub := setup(t)
	u := uuid.New()
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		if _, err := l.Deposit(ctx, u, rub.ID, d(10)); err != nil {
			return err
		}
		if err := l.Reserve(ctx, u, rub.ID, d(10)); err != nil {
			return err
		}
		return l.SettleTransfer(ctx, u, u, rub.ID, d(10), true)
	}))
	b := balance(t, s, u, rub.ID)
	assert.True(t, b.Amount.Equal(d(10)))
	assert.True(t, b.Locked.IsZero())
}

func TestDepositWithdraw(t *testing.T) {
	s, rub := setup(t)
	u := uuid.New()

	err := run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Deposit(ctx, u, rub.ID, decimal.Zero)
		return err
	})
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		if _, err := l.Deposit(ctx, u, rub.ID, d(50)); err != nil {
			return err
		}
		return l.Reserve(ctx, u, rub.ID, d(30))
	}))

	err = run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Withdraw(ctx, u, rub.ID, d(21))
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		b, err := l.Withdraw(ctx, u, rub.ID, d(20))
		if err != nil {
			return err
		}
		assert.True(t, b.Amount.Equal(d(30)))
		return nil
	}))
}

func TestCheckAmount(t *testing.T) {
	for _, v := range []string{"1", "0.000000000000000001", "99999999999999999999.999999999999999999", "-5", "1.500000000000000000000"} {
		assert.NoError(t, CheckAmount(decimal.RequireFromString(v)), v)
	}
	for _, v := range []string{"0.0000000000000000001", "1.5e-19", "1e20", "-1e20", "123456789012345678901"} {
		assert.ErrorIs(t, CheckAmount(decimal.RequireFromString(v)), ErrOutOfRange, v)
	}
}

func TestDepositOutOfRange(t *testing.T) {
	s, rub := setup(t)
	u := uuid.New()

	err := run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Deposit(ctx, u, rub.ID, decimal.RequireFromString("1e-19"))
		return err
	})
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Deposit(ctx, u, rub.ID, decimal.RequireFromString("6e19"))
		return err
	}))
	err = run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Deposit(ctx, u, rub.ID, decimal.RequireFromString("5e19"))
		return err
	})
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = run(t, s, func(ctx context.Context, l *Ledger) error {
		_, err := l.Withdraw(ctx, u, rub.ID, decimal.RequireFromString("0.00000000000000000001"))
		return err
	})
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		b, err := l.Balance(ctx, u, rub.ID)
		if err != nil {
			return err
		}
		assert.True(t, b.Amount.Equal(decimal.RequireFromString("6e19")))
		return nil
	}))
}

func TestHoldings(t *testing.T) {
	s, rub := setup(t)
	abc, err := s.EnsureInstrument(context.Background(), "ABC")
	require.NoError(t, err)
	u := uuid.New()
	require.NoError(t, run(t, s, func(ctx context.Context, l *Ledger) error {
		if _, err := l.Deposit(ctx, u, abc.ID, d(5)); err != nil {
			return err
		}
		h, err := l.Holdings(ctx, u, abc.ID, rub.ID)
		if err != nil {
			return err
		}
		assert.True(t, h.Instrument.Amount.Equal(d(5)))
		assert.True(t, h.Quote.Amount.IsZero())
		assert.False(t, h.Quote.Exists)
		return nil
	}))
}
