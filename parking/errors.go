/*
errors.go - Error taxonomy for the parking engine

PURPOSE:
  All engine errors in one place. Callers compare with errors.Is against
  the sentinels; structured errors carry details and unwrap to a sentinel.

ERROR CATEGORIES:
  1. Validation     - malformed input, caller must re-prompt
  2. State conflict - AlreadyOccupied, AlreadyClosed
  3. Policy         - BelowOccupied, EverOccupiedRemoval, HasOccupiedSpots,
                      Occupied, HasHistory, LotInactive, LotFull
  4. Lookup         - NotFound
  5. Access         - Forbidden, InvalidCredentials

  Every rejection is recoverable and leaves no partial mutation behind.
*/
package parking

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")

	// ErrAlreadyOccupied is returned when booking a spot that has an open reservation.
	ErrAlreadyOccupied = errors.New("spot already occupied")

	// ErrAlreadyClosed is returned when releasing a reservation that already has an end time.
	ErrAlreadyClosed = errors.New("reservation already closed")

	// ErrBelowOccupied is returned when a resize would drop capacity below the occupied count.
	ErrBelowOccupied = errors.New("capacity below occupied spot count")

	// ErrEverOccupiedRemoval is returned when a resize would remove a spot with history.
	ErrEverOccupiedRemoval = errors.New("cannot remove spot that has been occupied")

	ErrOccupied         = errors.New("spot is occupied")
	ErrHasHistory       = errors.New("spot has reservation history")
	ErrHasOccupiedSpots = errors.New("lot has occupied spots")
	ErrLotInactive      = errors.New("lot is inactive")
	ErrLotFull          = errors.New("no available spots in lot")

	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// BelowOccupiedError reports a resize that would evict parked vehicles.
type BelowOccupiedError struct {
	LotID     LotID
	Requested int
	Occupied  int
}

func (e *BelowOccupiedError) Error() string {
	return fmt.Sprintf("lot %s: requested capacity %d is below %d occupied spots",
		e.LotID, e.Requested, e.Occupied)
}

func (e *BelowOccupiedError) Unwrap() error { return ErrBelowOccupied }

// EverOccupiedRemovalError lists spots selected for removal that have history.
type EverOccupiedRemovalError struct {
	LotID LotID
	Spots []string // labels
}

func (e *EverOccupiedRemovalError) Error() string {
	return fmt.Sprintf("lot %s: spots %s have reservation history and cannot be removed",
		e.LotID, strings.Join(e.Spots, ", "))
}

func (e *EverOccupiedRemovalError) Unwrap() error { return ErrEverOccupiedRemoval }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict returns true for state conflicts and policy violations.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyOccupied) ||
		errors.Is(err, ErrAlreadyClosed) ||
		errors.Is(err, ErrBelowOccupied) ||
		errors.Is(err, ErrEverOccupiedRemoval) ||
		errors.Is(err, ErrOccupied) ||
		errors.Is(err, ErrHasHistory) ||
		errors.Is(err, ErrHasOccupiedSpots) ||
		errors.Is(err, ErrLotInactive) ||
		errors.Is(err, ErrLotFull) ||
		errors.Is(err, ErrDuplicateEmail)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
