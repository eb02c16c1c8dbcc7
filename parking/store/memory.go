// Package store provides in-process parking.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/parking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

type data struct {
	users        map[parking.UserID]parking.User
	lots         map[parking.LotID]parking.Lot
	spots        map[parking.SpotID]parking.Spot
	reservations map[parking.ReservationID]parking.Reservation
}

func newData() data {
	return data{
		users:        make(map[parking.UserID]parking.User),
		lots:         make(map[parking.LotID]parking.Lot),
		spots:        make(map[parking.SpotID]parking.Spot),
		reservations: make(map[parking.ReservationID]parking.Reservation),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

func (m *Memory) CreateUser(ctx context.Context, u *parking.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id parking.UserID) (*parking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetUser(ctx, id)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*parking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetUserByEmail(ctx, email)
}

func (m *Memory) CreateLot(ctx context.Context, lot *parking.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateLot(ctx, lot)
}

func (m *Memory) GetLot(ctx context.Context, id parking.LotID) (*parking.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetLot(ctx, id)
}

func (m *Memory) LockLot(ctx context.Context, id parking.LotID) (*parking.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LockLot(ctx, id)
}

func (m *Memory) UpdateLot(ctx context.Context, lot *parking.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateLot(ctx, lot)
}

func (m *Memory) ListLots(ctx context.Context, filter parking.LotFilter) ([]parking.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListLots(ctx, filter)
}

func (m *Memory) CreateSpots(ctx context.Context, spots []parking.Spot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateSpots(ctx, spots)
}

func (m *Memory) GetSpot(ctx context.Context, id parking.SpotID) (*parking.Spot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetSpot(ctx, id)
}

func (m *Memory) ListSpotsByLot(ctx context.Context, lotID parking.LotID) ([]parking.Spot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListSpotsByLot(ctx, lotID)
}

func (m *Memory) DeleteSpots(ctx context.Context, ids []parking.SpotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteSpots(ctx, ids)
}

func (m *Memory) MarkSpotOccupied(ctx context.Context, id parking.SpotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.MarkSpotOccupied(ctx, id)
}

func (m *Memory) MarkSpotAvailable(ctx context.Context, id parking.SpotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.MarkSpotAvailable(ctx, id)
}

func (m *Memory) CreateReservation(ctx context.Context, r *parking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateReservation(ctx, r)
}

func (m *Memory) GetReservation(ctx context.Context, id parking.ReservationID) (*parking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetReservation(ctx, id)
}

func (m *Memory) CloseReservation(ctx context.Context, id parking.ReservationID, end time.Time, cost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CloseReservation(ctx, id, end, cost)
}

func (m *Memory) OpenReservationForSpot(ctx context.Context, spotID parking.SpotID) (*parking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.OpenReservationForSpot(ctx, spotID)
}

func (m *Memory) ListReservationsByUser(ctx context.Context, userID parking.UserID) ([]parking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListReservationsByUser(ctx, userID)
}

func (m *Memory) ListReservationsByLot(ctx context.Context, lotID parking.LotID) ([]parking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListReservationsByLot(ctx, lotID)
}

// =============================================================================
// UNLOCKED OPERATIONS - Callers hold Memory.mu
// =============================================================================

func (d *data) CreateUser(_ context.Context, u *parking.User) error {
	if _, ok := d.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	for _, existing := range d.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return parking.ErrDuplicateEmail
		}
	}
	d.users[u.ID] = *u
	return nil
}

func (d *data) GetUser(_ context.Context, id parking.UserID) (*parking.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, parking.ErrNotFound)
	}
	return &u, nil
}

func (d *data) GetUserByEmail(_ context.Context, email string) (*parking.User, error) {
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, parking.ErrNotFound)
}

func (d *data) CreateLot(_ context.Context, lot *parking.Lot) error {
	if _, ok := d.lots[lot.ID]; ok {
		return fmt.Errorf("lot %s already exists", lot.ID)
	}
	d.lots[lot.ID] = *lot
	return nil
}

func (d *data) GetLot(_ context.Context, id parking.LotID) (*parking.Lot, error) {
	lot, ok := d.lots[id]
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", id, parking.ErrNotFound)
	}
	return &lot, nil
}

// LockLot is a plain read; WithTx already serializes transactions.
func (d *data) LockLot(ctx context.Context, id parking.LotID) (*parking.Lot, error) {
	return d.GetLot(ctx, id)
}

func (d *data) UpdateLot(_ context.Context, lot *parking.Lot) error {
	if _, ok := d.lots[lot.ID]; !ok {
		return fmt.Errorf("lot %s: %w", lot.ID, parking.ErrNotFound)
	}
	d.lots[lot.ID] = *lot
	return nil
}

func (d *data) ListLots(_ context.Context, filter parking.LotFilter) ([]parking.Lot, error) {
	result := make([]parking.Lot, 0, len(d.lots))
	for _, lot := range d.lots {
		if lot.Active || filter.IncludeInactive {
			result = append(result, lot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (d *data) CreateSpots(_ context.Context, spots []parking.Spot) error {
	for _, sp := range spots {
		if _, ok := d.lots[sp.LotID]; !ok {
			return fmt.Errorf("lot %s: %w", sp.LotID, parking.ErrNotFound)
		}
		for _, existing := range d.spots {
			if existing.LotID == sp.LotID && existing.Number == sp.Number {
				return fmt.Errorf("spot number %d already exists in lot %s", sp.Number, sp.LotID)
			}
		}
	}
	for _, sp := range spots {
		d.spots[sp.ID] = sp
	}
	return nil
}

func (d *data) GetSpot(_ context.Context, id parking.SpotID) (*parking.Spot, error) {
	sp, ok := d.spots[id]
	if !ok {
		return nil, fmt.Errorf("spot %s: %w", id, parking.ErrNotFound)
	}
	return &sp, nil
}

func (d *data) ListSpotsByLot(_ context.Context, lotID parking.LotID) ([]parking.Spot, error) {
	var result []parking.Spot
	for _, sp := range d.spots {
		if sp.LotID == lotID {
			result = append(result, sp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// DeleteSpots removes all of ids or none of them. Spots that are occupied
// or have history are refused.
func (d *data) DeleteSpots(_ context.Context, ids []parking.SpotID) error {
	for _, id := range ids {
		sp, ok := d.spots[id]
		if !ok {
			return fmt.Errorf("spot %s: %w", id, parking.ErrNotFound)
		}
		if sp.Occupied {
			return fmt.Errorf("spot %s: %w", sp.Label, parking.ErrOccupied)
		}
		if sp.EverOccupied {
			return fmt.Errorf("spot %s: %w", sp.Label, parking.ErrHasHistory)
		}
	}
	for _, id := range ids {
		delete(d.spots, id)
	}
	return nil
}

func (d *data) MarkSpotOccupied(_ context.Context, id parking.SpotID) error {
	sp, ok := d.spots[id]
	if !ok {
		return fmt.Errorf("spot %s: %w", id, parking.ErrNotFound)
	}
	if sp.Occupied {
		return parking.ErrAlreadyOccupied
	}
	sp.Occupied = true
	sp.EverOccupied = true
	d.spots[id] = sp
	return nil
}

func (d *data) MarkSpotAvailable(_ context.Context, id parking.SpotID) error {
	sp, ok := d.spots[id]
	if !ok {
		return fmt.Errorf("spot %s: %w", id, parking.ErrNotFound)
	}
	sp.Occupied = false
	d.spots[id] = sp
	return nil
}

func (d *data) CreateReservation(_ context.Context, r *parking.Reservation) error {
	if _, ok := d.spots[r.SpotID]; !ok {
		return fmt.Errorf("spot %s: %w", r.SpotID, parking.ErrNotFound)
	}
	if _, ok := d.users[r.UserID]; !ok {
		return fmt.Errorf("user %s: %w", r.UserID, parking.ErrNotFound)
	}
	if r.EndTime == nil {
		for _, existing := range d.reservations {
			if existing.SpotID == r.SpotID && existing.IsOpen() {
				return parking.ErrAlreadyOccupied
			}
		}
	}
	d.reservations[r.ID] = cloneReservation(*r)
	return nil
}

func (d *data) GetReservation(_ context.Context, id parking.ReservationID) (*parking.Reservation, error) {
	r, ok := d.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, parking.ErrNotFound)
	}
	r = cloneReservation(r)
	return &r, nil
}

func (d *data) CloseReservation(_ context.Context, id parking.ReservationID, end time.Time, cost decimal.Decimal) error {
	r, ok := d.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, parking.ErrNotFound)
	}
	if !r.IsOpen() {
		return parking.ErrAlreadyClosed
	}
	r.EndTime = &end
	r.Cost = &cost
	d.reservations[id] = r
	return nil
}

func (d *data) OpenReservationForSpot(_ context.Context, spotID parking.SpotID) (*parking.Reservation, error) {
	for _, r := range d.reservations {
		if r.SpotID == spotID && r.IsOpen() {
			r = cloneReservation(r)
			return &r, nil
		}
	}
	return nil, fmt.Errorf("open reservation for spot %s: %w", spotID, parking.ErrNotFound)
}

func (d *data) ListReservationsByUser(_ context.Context, userID parking.UserID) ([]parking.Reservation, error) {
	return d.reservationsWhere(func(r parking.Reservation) bool { return r.UserID == userID }), nil
}

// Spots with history are never deleted, so every reservation resolves to a lot.
func (d *data) ListReservationsByLot(_ context.Context, lotID parking.LotID) ([]parking.Reservation, error) {
	return d.reservationsWhere(func(r parking.Reservation) bool {
		sp, ok := d.spots[r.SpotID]
		return ok && sp.LotID == lotID
	}), nil
}

func (d *data) reservationsWhere(keep func(parking.Reservation) bool) []parking.Reservation {
	var result []parking.Reservation
	for _, r := range d.reservations {
		if keep(r) {
			result = append(result, cloneReservation(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.After(result[j].StartTime)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func cloneReservation(r parking.Reservation) parking.Reservation {
	if r.EndTime != nil {
		end := *r.EndTime
		r.EndTime = &end
	}
	if r.Cost != nil {
		cost := *r.Cost
		r.Cost = &cost
	}
	return r
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(parking.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	// fn sees the unlocked operations; the whole transaction holds mu.
	if err := fn(&tm.data); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() data {
	s := newData()
	for k, v := range tm.users {
		s.users[k] = v
	}
	for k, v := range tm.lots {
		s.lots[k] = v
	}
	for k, v := range tm.spots {
		s.spots[k] = v
	}
	for k, v := range tm.reservations {
		s.reservations[k] = cloneReservation(v)
	}
	return s
}
