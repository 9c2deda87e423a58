// Package store defines the durable store the matching core reads and writes.
//
// Every operation runs inside a unit of work handed to Store.WithTx. The function either
// returns nil and everything it wrote commits together, or returns an error and nothing
// it wrote is visible. Implementations provide snapshot-or-stronger isolation and may
// re-run the whole function on a transient conflict.
package store

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"

	"github.com/Abulk79/Virt/backend/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrConflict marks a transient failure; the unit of work may be re-run from scratch.
var ErrConflict = errors.New("transaction conflict")

// TickerPattern is the accepted ticker format.
var TickerPattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

// Store opens units of work.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	EnsureInstrument(ctx context.Context, ticker string) (*models.Instrument, error)
	Close()
}

// Tx is the set of reads and writes available inside one unit of work.
type Tx interface {
	InstrumentByTicker(ctx context.Context, ticker string) (*models.Instrument, error)
	InstrumentByID(ctx context.Context, id uuid.UUID) (*models.Instrument, error)

	// LockInstrument serializes matching for one instrument until the unit of work ends.
	LockInstrument(ctx context.Context, instrumentID uuid.UUID) error

	// BalanceForUpdate returns the row locked for the rest of the unit of work.
	// An absent row comes back at zero with Exists=false.
	BalanceForUpdate(ctx context.Context, userID, instrumentID uuid.UUID) (*models.Balance, error)
	SaveBalance(ctx context.Context, b *models.Balance) error
	Balances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error)

	InsertOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
	// Order returns ErrNotFound when no such order exists.
	Order(ctx context.Context, id uuid.UUID) (*models.Order, error)
	OrdersByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error)
	// OpenOrders returns the new and partially filled orders of an instrument in
	// creation order, locked for the rest of the unit of work.
	OpenOrders(ctx context.Context, instrumentID uuid.UUID) ([]*models.Order, error)
	// InstrumentsWithOpenLimitOrders lists instruments the sweep has to visit.
	InstrumentsWithOpenLimitOrders(ctx context.Context) ([]uuid.UUID, error)

	AppendTransaction(ctx context.Context, t *models.Transaction) error
	// Transactions returns the user's fills, newest first. A zero instrumentID matches all.
	Transactions(ctx context.Context, userID, instrumentID uuid.UUID, limit int) ([]*models.Transaction, error)
}
