package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
)

const orderColumns = `id, user_id, instrument_id, order_type, direction, price::text,
	quantity, filled_quantity, status, created_at, updated_at`

func (t *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	var price *string
	if p, ok := o.Price(); ok {
		s := p.String()
		price = &s
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, instrument_id, order_type, direction, price,
		                     quantity, filled_quantity, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)`,
		o.ID, o.UserID, o.InstrumentID, string(o.Kind.Type()), string(o.Direction), price,
		o.Quantity, o.Filled, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating order for user %s: %w", o.UserID, err)
	}
	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE orders SET filled_quantity = $2, status = $3, updated_at = $4 WHERE id = $1`,
		o.ID, o.Filled, string(o.Status), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error updating order %s: %w", o.ID, err)
	}
	if cmdTag.RowsAffected() != 1 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) Order(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting order by id %s: %w", id, err)
	}
	return o, nil
}

func (t *pgTx) OrdersByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	return t.orders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at, seq`, userID)
}

func (t *pgTx) OpenOrders(ctx context.Context, instrumentID uuid.UUID) ([]*models.Order, error) {
	return t.orders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE instrument_id = $1 AND status IN ('new', 'partially_filled')
		 ORDER BY created_at, seq
		 FOR UPDATE`, instrumentID)
}

func (t *pgTx) orders(ctx context.Context, query string, arg any) ([]*models.Order, error) {
	rows, err := t.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("error querying orders for %s: %w", arg, err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order row for %s: %w", arg, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows for %s: %w", arg, err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var orderType, direction, status string
	var price *string
	err := row.Scan(&o.ID, &o.UserID, &o.InstrumentID, &orderType, &direction, &price,
		&o.Quantity, &o.Filled, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	var np decimal.NullDecimal
	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", *price, err)
		}
		np = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if o.Kind, err = models.KindFor(models.OrderType(orderType), np); err != nil {
		return nil, err
	}
	o.Direction = models.Direction(direction)
	o.Status = models.OrderStatus(status)
	return o, nil
}

func (t *pgTx) InstrumentsWithOpenLimitOrders(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT DISTINCT instrument_id FROM orders
		 WHERE order_type = 'limit' AND status IN ('new', 'partially_filled')
		 ORDER BY instrument_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying instruments with open orders: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning instrument id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) AppendTransaction(ctx context.Context, tr *models.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, order_id, instrument_id, price, quantity, executed_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		tr.ID, tr.OrderID, tr.InstrumentID, tr.Price.String(), tr.Quantity, tr.ExecutedAt)
	if err != nil {
		return fmt.Errorf("error appending transaction for order %s: %w", tr.OrderID, err)
	}
	return nil
}

func (t *pgTx) Transactions(ctx context.Context, userID, instrumentID uuid.UUID, limit int) ([]*models.Transaction, error) {
	var instrument *uuid.UUID
	if instrumentID != uuid.Nil {
		instrument = &instrumentID
	}
	rows, err := t.tx.Query(ctx,
		`SELECT t.id, t.order_id, t.instrument_id, t.price::text, t.quantity, t.executed_at
		 FROM transactions t JOIN orders o ON o.id = t.order_id
		 WHERE o.user_id = $1 AND ($2::uuid IS NULL OR t.instrument_id = $2)
		 ORDER BY t.executed_at DESC, t.seq DESC
		 LIMIT NULLIF($3, 0)`,
		userID, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions for user %s: %w", userID, err)
	}
	defer rows.Close()

	out := make([]*models.Transaction, 0)
	for rows.Next() {
		tr := &models.Transaction{}
		var price string
		if err := rows.Scan(&tr.ID, &tr.OrderID, &tr.InstrumentID, &price, &tr.Quantity, &tr.ExecutedAt); err != nil {
			return nil, fmt.Errorf("error scanning transaction row: %w", err)
		}
		if tr.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return out, nil
}
