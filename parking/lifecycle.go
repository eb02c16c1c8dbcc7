/*
lifecycle.go - Booking, release and deletion of spots and lots

STATE MACHINE (per spot):

  available --Book--> occupied --Release--> available
      |                                         |
      +--------- ever_occupied stays true ------+

  DeleteSpot is only allowed from available with no history.
  DeleteLot deactivates the lot; spots and reservations are kept.

LOCKING:
  Book, BookFirstAvailable, DeleteSpot and DeleteLot lock the lot row first
  so deactivation and booking cannot interleave. The spot itself is
  claimed with a conditional update (MarkSpotOccupied) after checking
  that no open reservation already references it.
*/
package parking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxVehicleIDLength = 20

// =============================================================================
// BOOK
// =============================================================================

// Book opens a reservation on a specific spot.
func (e *Engine) Book(ctx context.Context, actor Actor, req BookingRequest) (*Reservation, error) {
	userID := req.UserID
	if userID == "" {
		userID = actor.UserID
	}
	if !actor.CanActFor(userID) {
		return nil, ErrForbidden
	}
	vehicle, err := normalizeVehicleID(req.VehicleID)
	if err != nil {
		return nil, err
	}

	var (
		res   *Reservation
		lotID LotID
	)
	err = e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		spot, err := s.GetSpot(ctx, req.SpotID)
		if err != nil {
			return err
		}
		lot, err := s.LockLot(ctx, spot.LotID)
		if err != nil {
			return err
		}
		if !lot.Active {
			return ErrLotInactive
		}
		// Re-read under the lot lock.
		spot, err = s.GetSpot(ctx, req.SpotID)
		if err != nil {
			return err
		}
		res, err = e.occupy(ctx, s, lot, spot, userID, vehicle)
		lotID = lot.ID
		return err
	})
	if err != nil {
		e.log.Debug("booking rejected", zap.String("spot_id", string(req.SpotID)), zap.Error(err))
		return nil, err
	}

	e.invalidate(ctx, lotID)
	e.logBooked(res, lotID)
	return res, nil
}

// BookFirstAvailable opens a reservation on the lowest-numbered free spot of a lot.
func (e *Engine) BookFirstAvailable(ctx context.Context, actor Actor, lotID LotID, userID UserID, vehicleID string) (*Reservation, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if !actor.CanActFor(userID) {
		return nil, ErrForbidden
	}
	vehicle, err := normalizeVehicleID(vehicleID)
	if err != nil {
		return nil, err
	}

	var res *Reservation
	err = e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		lot, err := s.LockLot(ctx, lotID)
		if err != nil {
			return err
		}
		if !lot.Active {
			return ErrLotInactive
		}
		spots, err := s.ListSpotsByLot(ctx, lotID)
		if err != nil {
			return err
		}
		for _, sp := range spots {
			if sp.Occupied {
				continue
			}
			res, err = e.occupy(ctx, s, lot, &sp, userID, vehicle)
			if errors.Is(err, ErrAlreadyOccupied) {
				continue
			}
			return err
		}
		return ErrLotFull
	})
	if err != nil {
		e.log.Debug("booking rejected", zap.String("lot_id", string(lotID)), zap.Error(err))
		return nil, err
	}

	e.invalidate(ctx, lotID)
	e.logBooked(res, lotID)
	return res, nil
}

func (e *Engine) occupy(ctx context.Context, s Store, lot *Lot, spot *Spot, userID UserID, vehicle string) (*Reservation, error) {
	if spot.Occupied {
		return nil, ErrAlreadyOccupied
	}
	// The flag and the reservation rows must agree; an open row wins.
	if open, err := s.OpenReservationForSpot(ctx, spot.ID); err == nil {
		e.log.Warn("spot marked free with an open reservation",
			zap.String("spot_id", string(spot.ID)),
			zap.String("reservation_id", string(open.ID)))
		return nil, ErrAlreadyOccupied
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := s.MarkSpotOccupied(ctx, spot.ID); err != nil {
		return nil, err
	}

	r := &Reservation{
		ID:         ReservationID(e.newID()),
		SpotID:     spot.ID,
		UserID:     userID,
		VehicleID:  vehicle,
		StartTime:  e.now(),
		HourlyRate: lot.HourlyPrice,
	}
	if err := s.CreateReservation(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) logBooked(r *Reservation, lotID LotID) {
	e.log.Info("spot booked",
		zap.String("reservation_id", string(r.ID)),
		zap.String("lot_id", string(lotID)),
		zap.String("spot_id", string(r.SpotID)),
		zap.String("user_id", string(r.UserID)),
		zap.String("hourly_rate", r.HourlyRate.String()))
}

// =============================================================================
// RELEASE
// =============================================================================

// Release closes an open reservation, frees its spot and returns the final cost.
func (e *Engine) Release(ctx context.Context, actor Actor, id ReservationID) (decimal.Decimal, error) {
	var (
		cost  decimal.Decimal
		lotID LotID
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !actor.CanActFor(r.UserID) {
			return ErrForbidden
		}
		if !r.IsOpen() {
			return ErrAlreadyClosed
		}

		end := e.now()
		r.EndTime = &end
		cost = Estimate(*r, end)
		if err := s.CloseReservation(ctx, id, end, cost); err != nil {
			return err
		}
		if err := s.MarkSpotAvailable(ctx, r.SpotID); err != nil {
			return err
		}

		spot, err := s.GetSpot(ctx, r.SpotID)
		if err != nil {
			return err
		}
		lotID = spot.LotID
		return nil
	})
	if err != nil {
		e.log.Debug("release rejected", zap.String("reservation_id", string(id)), zap.Error(err))
		return decimal.Decimal{}, err
	}

	e.invalidate(ctx, lotID)
	e.log.Info("reservation released",
		zap.String("reservation_id", string(id)),
		zap.String("lot_id", string(lotID)),
		zap.String("cost", cost.StringFixed(CostPlaces)))
	return cost, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteSpot removes one never-used spot and shrinks the lot by one.
func (e *Engine) DeleteSpot(ctx context.Context, actor Actor, id SpotID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	var lotID LotID
	err := e.store.WithTx(ctx, func(s Store) error {
		spot, err := s.GetSpot(ctx, id)
		if err != nil {
			return err
		}
		lot, err := s.LockLot(ctx, spot.LotID)
		if err != nil {
			return err
		}
		spot, err = s.GetSpot(ctx, id)
		if err != nil {
			return err
		}
		if err := removalBlocker(*spot); err != nil {
			return fmt.Errorf("spot %s: %w", spot.Label, err)
		}
		if err := s.DeleteSpots(ctx, []SpotID{id}); err != nil {
			return err
		}
		lot.TotalSpots--
		lot.UpdatedAt = e.now()
		lotID = lot.ID
		return s.UpdateLot(ctx, lot)
	})
	if err != nil {
		e.log.Debug("spot deletion rejected", zap.String("spot_id", string(id)), zap.Error(err))
		return err
	}

	e.invalidate(ctx, lotID)
	e.log.Info("spot deleted", zap.String("spot_id", string(id)), zap.String("lot_id", string(lotID)))
	return nil
}

// DeleteLot deactivates a lot. Spots and reservation history are kept;
// an inactive lot accepts no bookings or resizes. Deactivating an already
// inactive lot is a no-op.
func (e *Engine) DeleteLot(ctx context.Context, actor Actor, id LotID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		lot, err := s.LockLot(ctx, id)
		if err != nil {
			return err
		}
		spots, err := s.ListSpotsByLot(ctx, id)
		if err != nil {
			return err
		}
		for _, sp := range spots {
			if sp.Occupied {
				return ErrHasOccupiedSpots
			}
		}
		if !lot.Active {
			return nil
		}
		lot.Active = false
		lot.UpdatedAt = e.now()
		return s.UpdateLot(ctx, lot)
	})
	if err != nil {
		e.log.Debug("lot deactivation rejected", zap.String("lot_id", string(id)), zap.Error(err))
		return err
	}

	e.invalidate(ctx, id)
	e.log.Info("lot deactivated", zap.String("lot_id", string(id)))
	return nil
}

// ActivateLot reverses DeleteLot.
func (e *Engine) ActivateLot(ctx context.Context, actor Actor, id LotID) (*Lot, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var lot *Lot
	err := e.store.WithTx(ctx, func(s Store) error {
		l, err := s.LockLot(ctx, id)
		if err != nil {
			return err
		}
		if !l.Active {
			l.Active = true
			l.UpdatedAt = e.now()
			if err := s.UpdateLot(ctx, l); err != nil {
				return err
			}
		}
		lot = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, id)
	e.log.Info("lot activated", zap.String("lot_id", string(id)))
	return lot, nil
}

func normalizeVehicleID(v string) (string, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return "", invalid("vehicle_id", "is required")
	}
	if len(v) > maxVehicleIDLength {
		return "", invalid("vehicle_id", "must be at most %d characters", maxVehicleIDLength)
	}
	return v, nil
}
