// Package database is the PostgreSQL implementation of store.Store.
package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Abulk79/Virt/backend/internal/models"
	"github.com/Abulk79/Virt/backend/internal/store"
)

//go:embed schema.sql
var schema string

// Pool is the part of *pgxpool.Pool the store needs.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// Store runs units of work as READ COMMITTED transactions. Matching for an instrument is
// serialized by a transaction-scoped advisory lock, and balance and open-order rows are
// read FOR UPDATE, so every read after the lock sees the latest committed state.
type Store struct {
	pool       Pool
	maxRetries int
	log        zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps pool. maxRetries bounds how often a unit of work is re-run after a
// serialization failure or deadlock.
func New(pool Pool, maxRetries int, log zerolog.Logger) *Store {
	return &Store{pool: pool, maxRetries: maxRetries, log: log.With().Str("component", "database").Logger()}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info().Msg("database schema applied")
	return nil
}

// WithTx runs fn in a transaction and commits if it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	attempt := 0
	return store.Retry(ctx, s.maxRetries, func(ctx context.Context) error {
		attempt++
		err := s.runTx(ctx, fn)
		if errors.Is(err, store.ErrConflict) {
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("transaction conflict")
		}
		return err
	})
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify marks serialization failures and deadlocks as store.ErrConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

// EnsureInstrument returns the instrument with this ticker, creating it if missing.
func (s *Store) EnsureInstrument(ctx context.Context, ticker string) (*models.Instrument, error) {
	if !store.TickerPattern.MatchString(ticker) {
		return nil, fmt.Errorf("invalid ticker %q", ticker)
	}
	var out *models.Instrument
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t := tx.(*pgTx)
		_, err := t.tx.Exec(ctx,
			`INSERT INTO instruments (id, name, ticker) VALUES ($1, $2, $3) ON CONFLICT (ticker) DO NOTHING`,
			uuid.New(), ticker, ticker)
		if err != nil {
			return fmt.Errorf("insert instrument %s: %w", ticker, err)
		}
		out, err = t.InstrumentByTicker(ctx, ticker)
		return err
	})
	return out, err
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// pgTx implements store.Tx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockInstrument(ctx context.Context, instrumentID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, instrumentID.String()); err != nil {
		return fmt.Errorf("advisory lock %s: %w", instrumentID, err)
	}
	return nil
}

func (t *pgTx) InstrumentByTicker(ctx context.Context, ticker string) (*models.Instrument, error) {
	return t.instrument(ctx, `SELECT id, name, ticker, delisted FROM instruments WHERE ticker = $1`, ticker)
}

func (t *pgTx) InstrumentByID(ctx context.Context, id uuid.UUID) (*models.Instrument, error) {
	return t.instrument(ctx, `SELECT id, name, ticker, delisted FROM instruments WHERE id = $1`, id)
}

func (t *pgTx) instrument(ctx context.Context, query string, arg any) (*models.Instrument, error) {
	in := &models.Instrument{}
	err := t.tx.QueryRow(ctx, query, arg).Scan(&in.ID, &in.Name, &in.Ticker, &in.Delisted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting instrument %v: %w", arg, err)
	}
	return in, nil
}
