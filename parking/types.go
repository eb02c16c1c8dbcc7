/*
Package parking provides the reservation engine for parking lots.

PURPOSE:
  Owns the spot lifecycle (book, release, delete), lot sizing (create,
  resize, deactivate) and cost accrual for reservations. Everything that
  decides whether a state change is allowed lives here; HTTP handlers and
  other callers only marshal input and display errors.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lot:         A parking facility with an hourly price and a spot count
  - Spot:        A single parking unit, occupied or available
  - Reservation: An occupancy record linking a user, a spot and a rate
  - User:        An account; admins manage lots, users book spots
  - Actor:       Who is performing an operation (passed explicitly)

INVARIANTS:
  1. Spot.Occupied is true iff the spot has an open reservation
  2. Lot.TotalSpots equals the number of live spots for the lot
  3. Spot.EverOccupied never goes back to false
  4. Reservation.HourlyRate is copied from the lot at booking and never changes

MONEY:
  Prices and costs are decimal.Decimal. Costs are rounded to 2 places
  (see cost.go for the rounding rule).

SEE ALSO:
  - engine.go:    Engine construction and transaction plumbing
  - sizing.go:    Lot creation and resize
  - lifecycle.go: Booking, release and deletion
  - cost.go:      Cost accrual
  - reporting.go: Revenue and occupancy queries
  - store.go:     Persistence interfaces
*/
package parking

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type LotID string
type SpotID string
type ReservationID string

// =============================================================================
// ACTOR - Explicit caller identity for every operation
// =============================================================================

// Actor is the identity performing an operation. The engine never reads
// ambient session state; callers resolve the actor and pass it in.
type Actor struct {
	UserID  UserID
	IsAdmin bool
}

// SystemActor is used for seeding and scenario loading.
var SystemActor = Actor{UserID: "system", IsAdmin: true}

// CanActFor reports whether the actor may operate on resources owned by userID.
func (a Actor) CanActFor(userID UserID) bool {
	return a.IsAdmin || (a.UserID != "" && a.UserID == userID)
}

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID           UserID
	Email        string
	PasswordHash string
	Name         string
	Phone        string
	Address      string
	PostalCode   string
	IsAdmin      bool
	CreatedAt    time.Time
}

// =============================================================================
// LOT
// =============================================================================

type Lot struct {
	ID          LotID
	Name        string
	HourlyPrice decimal.Decimal
	Address     string
	PostalCode  string
	TotalSpots  int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LotInput holds the fields needed to create a lot.
type LotInput struct {
	Name        string
	HourlyPrice decimal.Decimal
	Address     string
	PostalCode  string
	Capacity    int
}

// LotUpdate holds optional changes to a lot. Nil fields are left unchanged.
type LotUpdate struct {
	Name        *string
	HourlyPrice *decimal.Decimal
	Address     *string
	PostalCode  *string
	Capacity    *int
}

// LotFilter narrows ListLots results.
type LotFilter struct {
	IncludeInactive bool
}

// =============================================================================
// SPOT
// =============================================================================

type Spot struct {
	ID           SpotID
	LotID        LotID
	Number       int // 1-based, assigned in creation order within a lot
	Label        string
	Occupied     bool
	EverOccupied bool
	CreatedAt    time.Time
}

// SpotLabel returns the display label for a spot number.
func SpotLabel(number int) string {
	return fmt.Sprintf("S-%03d", number)
}

// =============================================================================
// RESERVATION
// =============================================================================

type Reservation struct {
	ID         ReservationID
	SpotID     SpotID
	UserID     UserID
	VehicleID  string
	StartTime  time.Time
	EndTime    *time.Time       // nil while the reservation is open
	HourlyRate decimal.Decimal  // snapshot of the lot price at booking
	Cost       *decimal.Decimal // final charge, set on release
}

// IsOpen reports whether the reservation is still active.
func (r Reservation) IsOpen() bool { return r.EndTime == nil }

// BookingRequest asks for a specific spot.
type BookingRequest struct {
	SpotID    SpotID
	UserID    UserID // defaults to the actor
	VehicleID string
}
