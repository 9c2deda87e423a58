// Package ledger moves value between balances inside a unit of work.
//
// A balance holds Amount (everything the user owns) and Locked (the part reserved
// against open orders). Spendable = Amount - Locked never goes negative. Nothing here
// commits on its own: every call reads and writes through the caller's store.Tx.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
)

var (
	// ErrInsufficientBalance means the spendable part cannot cover the request.
	ErrInsufficientBalance = errors.New("insufficient spendable balance")
	// ErrLockedShortfall means a settlement tried to consume more than was reserved.
	ErrLockedShortfall = errors.New("locked amount below settlement")
	// ErrNonPositiveAmount rejects zero or negative deposits and withdrawals.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	// ErrOutOfRange rejects values a stored balance or price cannot hold exactly.
	ErrOutOfRange = errors.New("amount out of range")
)

// Scale is the number of fractional digits a stored amount or price keeps.
const Scale = 18

// MaxAmount is the exclusive upper bound of a stored amount or price (NUMERIC(38, 18)).
var MaxAmount = decimal.New(1, 38-Scale)

// CheckAmount reports ErrOutOfRange when v has more than Scale fractional digits or
// its magnitude reaches MaxAmount.
func CheckAmount(v decimal.Decimal) error {
	if !v.Truncate(Scale).Equal(v) {
		return fmt.Errorf("%s has more than %d fractional digits: %w", v, Scale, ErrOutOfRange)
	}
	if v.Abs().GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%s exceeds %s: %w", v, MaxAmount, ErrOutOfRange)
	}
	return nil
}

// Ledger applies balance mutations through one transaction.
type Ledger struct {
	tx  store.Tx
	now func() time.Time
}

// New binds a ledger to tx.
func New(tx store.Tx, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{tx: tx, now: now}
}

// Balance returns the (user, instrument) row, zero if absent.
func (l *Ledger) Balance(ctx context.Context, userID, instrumentID uuid.UUID) (*models.Balance, error) {
	return l.tx.BalanceForUpdate(ctx, userID, instrumentID)
}

// Holdings returns the instrument and quote balances of a user.
func (l *Ledger) Holdings(ctx context.Context, userID, instrumentID, quoteID uuid.UUID) (models.Holdings, error) {
	inst, err := l.Balance(ctx, userID, instrumentID)
	if err != nil {
		return models.Holdings{}, err
	}
	quote, err := l.Balance(ctx, userID, quoteID)
	if err != nil {
		return models.Holdings{}, err
	}
	return models.Holdings{Instrument: inst, Quote: quote}, nil
}

// Reserve locks amount of the user's spendable balance. The row is created at zero
// before the check, so a failed reservation still reports against a real balance.
func (l *Ledger) Reserve(ctx context.Context, userID, instrumentID uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve %s: %w", amount, ErrNonPositiveAmount)
	}
	b, err := l.Balance(ctx, userID, instrumentID)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if b.Spendable().LessThan(amount) {
		return fmt.Errorf("reserve %s of %s (spendable %s): %w", amount, instrumentID, b.Spendable(), ErrInsufficientBalance)
	}
	b.Locked = b.Locked.Add(amount)
	return l.save(ctx, b)
}

// Release unlocks amount, never taking Locked below zero.
func (l *Ledger) Release(ctx context.Context, userID, instrumentID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	b, err := l.Balance(ctx, userID, instrumentID)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	b.Locked = decimal.Max(b.Locked.Sub(amount), decimal.Zero)
	return l.save(ctx, b)
}

// SettleTransfer moves amount of one instrument from payer to payee. With fromLocked the
// payer's reservation is consumed; otherwise it comes out of the payer's spendable part.
func (l *Ledger) SettleTransfer(ctx context.Context, fromUser, toUser, instrumentID uuid.UUID, amount decimal.Decimal, fromLocked bool) error {
	if !amount.IsPositive() {
		return nil
	}
	payer, err := l.Balance(ctx, fromUser, instrumentID)
	if err != nil {
		return fmt.Errorf("settle payer: %w", err)
	}
	if fromLocked {
		if payer.Locked.LessThan(amount) {
			return fmt.Errorf("settle %s from locked %s: %w", amount, payer.Locked, ErrLockedShortfall)
		}
		payer.Locked = payer.Locked.Sub(amount)
	} else if payer.Spendable().LessThan(amount) {
		return fmt.Errorf("settle %s from spendable %s: %w", amount, payer.Spendable(), ErrInsufficientBalance)
	}
	payer.Amount = payer.Amount.Sub(amount)
	if err := l.save(ctx, payer); err != nil {
		return err
	}

	payee, err := l.Balance(ctx, toUser, instrumentID)
	if err != nil {
		return fmt.Errorf("settle payee: %w", err)
	}
	payee.Amount = payee.Amount.Add(amount)
	return l.save(ctx, payee)
}

// Deposit credits amount.
func (l *Ledger) Deposit(ctx context.Context, userID, instrumentID uuid.UUID, amount decimal.Decimal) (*models.Balance, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}
	b, err := l.Balance(ctx, userID, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	if err := CheckAmount(b.Amount.Add(amount)); err != nil {
		return nil, fmt.Errorf("balance after deposit: %w", err)
	}
	b.Amount = b.Amount.Add(amount)
	if err := l.save(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Withdraw debits amount from the spendable part.
func (l *Ledger) Withdraw(ctx context.Context, userID, instrumentID uuid.UUID, amount decimal.Decimal) (*models.Balance, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}
	b, err := l.Balance(ctx, userID, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	if b.Spendable().LessThan(amount) {
		return nil, fmt.Errorf("withdraw %s (spendable %s): %w", amount, b.Spendable(), ErrInsufficientBalance)
	}
	b.Amount = b.Amount.Sub(amount)
	if err := l.save(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (l *Ledger) save(ctx context.Context, b *models.Balance) error {
	b.UpdatedAt = l.now()
	if err := l.tx.SaveBalance(ctx, b); err != nil {
		return fmt.Errorf("save balance %s/%s: %w", b.UserID, b.InstrumentID, err)
	}
	return nil
}
