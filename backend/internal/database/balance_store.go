package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/models"
)

const selectBalanceForUpdate = `SELECT amount::text, locked_amount::text, updated_at
	  FROM balances WHERE user_id = $1 AND instrument_id = $2 FOR UPDATE`

// BalanceForUpdate locks the (user, instrument) row, creating it at zero if absent.
func (t *pgTx) BalanceForUpdate(ctx context.Context, userID, instrumentID uuid.UUID) (*models.Balance, error) {
	b, err := t.lockBalance(ctx, userID, instrumentID)
	if err != nil || b != nil {
		return b, err
	}

	// ON CONFLICT covers a concurrent creator; the row is re-read under lock either way.
	_, err = t.tx.Exec(ctx,
		`INSERT INTO balances (user_id, instrument_id, amount, locked_amount)
		 VALUES ($1, $2, 0, 0)
		 ON CONFLICT (user_id, instrument_id) DO NOTHING`,
		userID, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("error creating balance for user %s instrument %s: %w", userID, instrumentID, err)
	}
	b, err = t.lockBalance(ctx, userID, instrumentID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("balance for user %s instrument %s vanished after insert", userID, instrumentID)
	}
	return b, nil
}

func (t *pgTx) lockBalance(ctx context.Context, userID, instrumentID uuid.UUID) (*models.Balance, error) {
	var amount, locked string
	var updatedAt time.Time
	err := t.tx.QueryRow(ctx, selectBalanceForUpdate, userID, instrumentID).Scan(&amount, &locked, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tx error getting balance for user %s instrument %s: %w", userID, instrumentID, err)
	}
	return parseBalance(userID, instrumentID, amount, locked, updatedAt)
}

func parseBalance(userID, instrumentID uuid.UUID, amount, locked string, updatedAt time.Time) (*models.Balance, error) {
	b := &models.Balance{UserID: userID, InstrumentID: instrumentID, UpdatedAt: updatedAt, Exists: true}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if b.Locked, err = decimal.NewFromString(locked); err != nil {
		return nil, fmt.Errorf("parse locked amount %q: %w", locked, err)
	}
	return b, nil
}

func (t *pgTx) SaveBalance(ctx context.Context, b *models.Balance) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO balances (user_id, instrument_id, amount, locked_amount, updated_at)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		 ON CONFLICT (user_id, instrument_id) DO UPDATE
		 SET amount = EXCLUDED.amount, locked_amount = EXCLUDED.locked_amount, updated_at = EXCLUDED.updated_at`,
		b.UserID, b.InstrumentID, b.Amount.String(), b.Locked.String(), b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving balance for user %s instrument %s: %w", b.UserID, b.InstrumentID, err)
	}
	b.Exists = true
	return nil
}

func (t *pgTx) Balances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT instrument_id, amount::text, locked_amount::text, updated_at
		 FROM balances WHERE user_id = $1 ORDER BY instrument_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying balances for user %s: %w", userID, err)
	}
	defer rows.Close()

	balances := make([]*models.Balance, 0)
	for rows.Next() {
		var instrumentID uuid.UUID
		var amount, locked string
		var updatedAt time.Time
		if err := rows.Scan(&instrumentID, &amount, &locked, &updatedAt); err != nil {
			return nil, fmt.Errorf("error scanning balance row for user %s: %w", userID, err)
		}
		b, err := parseBalance(userID, instrumentID, amount, locked, updatedAt)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows for user %s: %w", userID, err)
	}
	return balances, nil
}
