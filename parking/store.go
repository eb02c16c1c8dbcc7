/*
store.go - Persistence interface for users, lots, spots and reservations

PURPOSE:
  Defines the contract between the engine and the database. Traversals
  (lot -> spots, user -> reservations, lot -> reservations) are explicit
  methods so direction and ordering are part of the contract.

CHECK-THEN-SET:
  MarkSpotOccupied and CloseReservation are conditional writes. They fail
  with ErrAlreadyOccupied / ErrAlreadyClosed when the row is not in the
  expected state, so two concurrent bookings of the same spot can never
  both succeed, even if both passed an earlier read.

ATOMICITY:
  TxStore.WithTx runs fn in a single transaction. Every engine operation
  (create lot, resize, book, release, delete) is one WithTx call.

IMPLEMENTATIONS:
  - parking/store/memory.go: In-memory, snapshot/rollback transactions
  - store/sqlstore:          SQLite or PostgreSQL through sqlx

MISSING ROWS:
  Get* methods return an error wrapping ErrNotFound.
*/
package parking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Lots
	CreateLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, id LotID) (*Lot, error)

	// LockLot returns the lot and, where the backend supports it, holds a
	// row lock on it until the surrounding transaction ends.
	LockLot(ctx context.Context, id LotID) (*Lot, error)
	UpdateLot(ctx context.Context, lot *Lot) error
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)

	// Spots
	CreateSpots(ctx context.Context, spots []Spot) error
	GetSpot(ctx context.Context, id SpotID) (*Spot, error)

	// ListSpotsByLot returns the lot's spots ordered by Number ascending.
	ListSpotsByLot(ctx context.Context, lotID LotID) ([]Spot, error)
	DeleteSpots(ctx context.Context, ids []SpotID) error

	// MarkSpotOccupied sets occupied and ever_occupied only if the spot is
	// currently available. Returns ErrAlreadyOccupied otherwise.
	MarkSpotOccupied(ctx context.Context, id SpotID) error
	MarkSpotAvailable(ctx context.Context, id SpotID) error

	// Reservations
	CreateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// CloseReservation sets end time and final cost only if the reservation
	// is open. Returns ErrAlreadyClosed otherwise.
	CloseReservation(ctx context.Context, id ReservationID, end time.Time, cost decimal.Decimal) error

	// OpenReservationForSpot returns the open reservation of a spot, or ErrNotFound.
	OpenReservationForSpot(ctx context.Context, spotID SpotID) (*Reservation, error)

	// ListReservationsByUser returns reservations ordered by StartTime descending.
	ListReservationsByUser(ctx context.Context, userID UserID) ([]Reservation, error)

	// ListReservationsByLot returns reservations on any spot of the lot,
	// ordered by StartTime descending.
	ListReservationsByLot(ctx context.Context, lotID LotID) ([]Reservation, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
