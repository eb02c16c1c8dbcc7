/*
sizing.go - Lot creation and capacity reconciliation

PURPOSE:
  Keeps Lot.TotalSpots equal to the number of live spot rows while the
  declared capacity changes.

RESIZE RULES:
  Grow:   append spots numbered max(existing)+1, +2, ...
  Shrink: refuse if the new capacity is below the occupied count;
          otherwise pick the highest-numbered (newest) spots and refuse
          if any of them was ever occupied. Never partially applied.

  Spot numbers are assigned in creation order and never reused while the
  higher-numbered spot exists, so "newest first" is "highest number first".
*/
package parking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxCapacity bounds a single lot's spot count.
const MaxCapacity = 10000

// =============================================================================
// CREATE / UPDATE
// =============================================================================

// CreateLot creates an active lot with one spot per unit of capacity.
func (e *Engine) CreateLot(ctx context.Context, actor Actor, in LotInput) (*Lot, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	if err := validateLotFields(in.Name, in.HourlyPrice, in.Address, in.PostalCode); err != nil {
		return nil, err
	}
	if err := validateCapacity(in.Capacity); err != nil {
		return nil, err
	}

	now := e.now()
	lot := &Lot{
		ID:          LotID(e.newID()),
		Name:        in.Name,
		HourlyPrice: in.HourlyPrice,
		Address:     in.Address,
		PostalCode:  in.PostalCode,
		TotalSpots:  in.Capacity,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		if err := s.CreateLot(ctx, lot); err != nil {
			return err
		}
		return s.CreateSpots(ctx, e.newSpots(lot.ID, 1, in.Capacity, now))
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("lot created",
		zap.String("lot_id", string(lot.ID)),
		zap.String("name", lot.Name),
		zap.Int("capacity", lot.TotalSpots))
	return lot, nil
}

// UpdateLot applies the non-nil fields of upd. A capacity change follows
// the same rules as Resize, in the same transaction as the other fields.
func (e *Engine) UpdateLot(ctx context.Context, actor Actor, lotID LotID, upd LotUpdate) (*Lot, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if upd.Capacity != nil {
		if err := validateCapacity(*upd.Capacity); err != nil {
			return nil, err
		}
	}

	var lot *Lot
	err := e.store.WithTx(ctx, func(s Store) error {
		l, err := s.LockLot(ctx, lotID)
		if err != nil {
			return err
		}

		if upd.Name != nil {
			l.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.HourlyPrice != nil {
			l.HourlyPrice = *upd.HourlyPrice
		}
		if upd.Address != nil {
			l.Address = strings.TrimSpace(*upd.Address)
		}
		if upd.PostalCode != nil {
			l.PostalCode = strings.TrimSpace(*upd.PostalCode)
		}
		if err := validateLotFields(l.Name, l.HourlyPrice, l.Address, l.PostalCode); err != nil {
			return err
		}

		if upd.Capacity != nil {
			if !l.Active {
				return ErrLotInactive
			}
			if err := e.reconcile(ctx, s, l, *upd.Capacity); err != nil {
				return err
			}
		}

		l.UpdatedAt = e.now()
		if err := s.UpdateLot(ctx, l); err != nil {
			return err
		}
		lot = l
		return nil
	})
	if err != nil {
		e.log.Debug("lot update rejected", zap.String("lot_id", string(lotID)), zap.Error(err))
		return nil, err
	}

	e.invalidate(ctx, lotID)
	e.log.Info("lot updated", zap.String("lot_id", string(lotID)), zap.Int("capacity", lot.TotalSpots))
	return lot, nil
}

// =============================================================================
// RESIZE
// =============================================================================

// Resize changes the number of spots in a lot.
func (e *Engine) Resize(ctx context.Context, actor Actor, lotID LotID, capacity int) (*Lot, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}

	var lot *Lot
	err := e.store.WithTx(ctx, func(s Store) error {
		l, err := s.LockLot(ctx, lotID)
		if err != nil {
			return err
		}
		if !l.Active {
			return ErrLotInactive
		}
		if err := e.reconcile(ctx, s, l, capacity); err != nil {
			return err
		}
		l.UpdatedAt = e.now()
		if err := s.UpdateLot(ctx, l); err != nil {
			return err
		}
		lot = l
		return nil
	})
	if err != nil {
		e.log.Debug("resize rejected",
			zap.String("lot_id", string(lotID)),
			zap.Int("requested", capacity),
			zap.Error(err))
		return nil, err
	}

	e.invalidate(ctx, lotID)
	e.log.Info("lot resized", zap.String("lot_id", string(lotID)), zap.Int("capacity", capacity))
	return lot, nil
}

// reconcile adds or removes spots so the lot has exactly capacity spots,
// and sets lot.TotalSpots. The caller persists the lot row.
func (e *Engine) reconcile(ctx context.Context, s Store, lot *Lot, capacity int) error {
	spots, err := s.ListSpotsByLot(ctx, lot.ID)
	if err != nil {
		return err
	}
	current := len(spots)

	switch {
	case capacity > current:
		next := 1
		if current > 0 {
			next = spots[current-1].Number + 1
		}
		if err := s.CreateSpots(ctx, e.newSpots(lot.ID, next, capacity-current, e.now())); err != nil {
			return err
		}

	case capacity < current:
		occupied := 0
		for _, sp := range spots {
			if sp.Occupied {
				occupied++
			}
		}
		if capacity < occupied {
			return &BelowOccupiedError{LotID: lot.ID, Requested: capacity, Occupied: occupied}
		}

		victims := spots[capacity:]
		var blocked []string
		ids := make([]SpotID, 0, len(victims))
		for _, sp := range victims {
			if removalBlocker(sp) != nil {
				blocked = append(blocked, sp.Label)
			}
			ids = append(ids, sp.ID)
		}
		if len(blocked) > 0 {
			return &EverOccupiedRemovalError{LotID: lot.ID, Spots: blocked}
		}
		if err := s.DeleteSpots(ctx, ids); err != nil {
			return err
		}
	}

	lot.TotalSpots = capacity
	return nil
}

// removalBlocker is the single guard for every spot-removal path.
func removalBlocker(sp Spot) error {
	switch {
	case sp.Occupied:
		return ErrOccupied
	case sp.EverOccupied:
		return ErrHasHistory
	}
	return nil
}

func (e *Engine) newSpots(lotID LotID, first, count int, now time.Time) []Spot {
	spots := make([]Spot, count)
	for i := range spots {
		n := first + i
		spots[i] = Spot{
			ID:        SpotID(e.newID()),
			LotID:     lotID,
			Number:    n,
			Label:     SpotLabel(n),
			CreatedAt: now,
		}
	}
	return spots
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateLotFields(name string, price decimal.Decimal, address, postalCode string) error {
	switch {
	case name == "":
		return invalid("name", "is required")
	case len(name) > 50:
		return invalid("name", "must be at most 50 characters")
	case price.IsNegative():
		return invalid("hourly_price", "must not be negative")
	case address == "":
		return invalid("address", "is required")
	case len(address) > 200:
		return invalid("address", "must be at most 200 characters")
	case postalCode == "":
		return invalid("postal_code", "is required")
	case len(postalCode) > 10:
		return invalid("postal_code", "must be at most 10 characters")
	}
	return nil
}

func validateCapacity(capacity int) error {
	if capacity < 0 {
		return invalid("capacity", "must not be negative")
	}
	if capacity > MaxCapacity {
		return invalid("capacity", "must be at most %d", MaxCapacity)
	}
	return nil
}
