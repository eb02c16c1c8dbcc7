/*
reporting.go - Read models for lots, occupancy, revenue and history

PURPOSE:
  Aggregates consumed by admin and user views. Nothing here mutates state.
  Closed reservations report the charge stored on release; open ones are
  priced with Estimate as of the reporter's clock.

CACHING:
  LotOccupancy is read-through cached under "occupancy:<lotID>" when a
  Cache is configured. The engine calls InvalidateLot after every change
  to a lot. Each invalidation bumps a per-lot generation; a snapshot read
  before a bump is never left in the cache, so a booking that commits
  between the store read and the cache write cannot be hidden for a TTL.
  The TTL only bounds staleness when another process invalidates.
*/
package parking

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cache is a byte-oriented key/value cache with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// =============================================================================
// REPORT TYPES
// =============================================================================

type OccupancySnapshot struct {
	LotID     LotID     `json:"lot_id"`
	Total     int       `json:"total"`
	Occupied  int       `json:"occupied"`
	Available int       `json:"available"`
	AsOf      time.Time `json:"as_of"`
}

type RevenueReport struct {
	LotID    LotID           `json:"lot_id"`
	Closed   int             `json:"closed"`
	Revenue  decimal.Decimal `json:"revenue"`
	Open     int             `json:"open"`
	Accruing decimal.Decimal `json:"accruing"`
	AsOf     time.Time       `json:"as_of"`
}

// ReservationView is a reservation with its lot context and current cost.
// Final is true when Cost is the settled charge rather than a live estimate.
type ReservationView struct {
	Reservation
	LotID     LotID
	LotName   string
	SpotLabel string
	Cost      decimal.Decimal
	Final     bool
	AsOf      time.Time // clock reading Cost was computed at
}

type LotSummary struct {
	Lot       Lot
	Occupancy OccupancySnapshot
	Revenue   RevenueReport
}

// =============================================================================
// REPORTER
// =============================================================================

type Reporter struct {
	store Store
	now   Clock
	cache Cache
	ttl   time.Duration
	log   *zap.Logger

	mu          sync.Mutex
	generations map[LotID]uint64
}

type ReporterOption func(*Reporter)

func WithCache(c Cache, ttl time.Duration) ReporterOption {
	return func(r *Reporter) { r.cache, r.ttl = c, ttl }
}

func WithReporterClock(c Clock) ReporterOption { return func(r *Reporter) { r.now = c } }

func WithReporterLogger(l *zap.Logger) ReporterOption { return func(r *Reporter) { r.log = l } }

func NewReporter(store Store, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		log:         zap.NewNop(),
		generations: make(map[LotID]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func occupancyKey(id LotID) string { return "occupancy:" + string(id) }

func (r *Reporter) generation(id LotID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[id]
}

// InvalidateLot implements Invalidator.
func (r *Reporter) InvalidateLot(ctx context.Context, id LotID) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	r.generations[id]++
	r.mu.Unlock()

	if err := r.cache.Delete(ctx, occupancyKey(id)); err != nil {
		r.log.Warn("cache invalidation failed", zap.String("lot_id", string(id)), zap.Error(err))
	}
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (r *Reporter) Lots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return r.store.ListLots(ctx, filter)
}

func (r *Reporter) Lot(ctx context.Context, id LotID) (*Lot, error) {
	return r.store.GetLot(ctx, id)
}

func (r *Reporter) Spots(ctx context.Context, lotID LotID) ([]Spot, error) {
	if _, err := r.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return r.store.ListSpotsByLot(ctx, lotID)
}

// Reservation returns a reservation view if the actor may see it.
func (r *Reporter) Reservation(ctx context.Context, actor Actor, id ReservationID) (*ReservationView, error) {
	res, err := r.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(res.UserID) {
		return nil, ErrForbidden
	}
	v, err := r.view(ctx, *res, r.now(), map[LotID]*Lot{})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

// LotOccupancy counts occupied and available spots.
func (r *Reporter) LotOccupancy(ctx context.Context, id LotID) (*OccupancySnapshot, error) {
	if r.cache != nil {
		if raw, ok, err := r.cache.Get(ctx, occupancyKey(id)); err != nil {
			r.log.Warn("cache read failed", zap.String("lot_id", string(id)), zap.Error(err))
		} else if ok {
			var snap OccupancySnapshot
			if err := json.Unmarshal(raw, &snap); err == nil {
				return &snap, nil
			}
		}
	}

	gen := r.generation(id)
	if _, err := r.store.GetLot(ctx, id); err != nil {
		return nil, err
	}
	spots, err := r.store.ListSpotsByLot(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := occupancyOf(id, spots, r.now())

	if r.cache != nil {
		r.storeOccupancy(ctx, id, gen, snap)
	}
	return &snap, nil
}

// storeOccupancy caches snap unless the lot was invalidated after gen was
// read. An invalidation racing with the write is caught by the re-check.
func (r *Reporter) storeOccupancy(ctx context.Context, id LotID, gen uint64, snap OccupancySnapshot) {
	if r.generation(id) != gen {
		return
	}
	raw, _ := json.Marshal(snap)
	if err := r.cache.Set(ctx, occupancyKey(id), raw, r.ttl); err != nil {
		r.log.Warn("cache write failed", zap.String("lot_id", string(id)), zap.Error(err))
		return
	}
	if r.generation(id) != gen {
		if err := r.cache.Delete(ctx, occupancyKey(id)); err != nil {
			r.log.Warn("cache invalidation failed", zap.String("lot_id", string(id)), zap.Error(err))
		}
	}
}

func occupancyOf(id LotID, spots []Spot, asOf time.Time) OccupancySnapshot {
	snap := OccupancySnapshot{LotID: id, Total: len(spots), AsOf: asOf}
	for _, sp := range spots {
		if sp.Occupied {
			snap.Occupied++
		}
	}
	snap.Available = snap.Total - snap.Occupied
	return snap
}

// LotRevenue sums the charges of closed reservations on the lot's spots.
// Open reservations are reported separately as Accruing.
func (r *Reporter) LotRevenue(ctx context.Context, id LotID) (*RevenueReport, error) {
	if _, err := r.store.GetLot(ctx, id); err != nil {
		return nil, err
	}
	reservations, err := r.store.ListReservationsByLot(ctx, id)
	if err != nil {
		return nil, err
	}
	report := revenueOf(id, reservations, r.now())
	return &report, nil
}

func revenueOf(id LotID, reservations []Reservation, asOf time.Time) RevenueReport {
	report := RevenueReport{LotID: id, Revenue: decimal.Zero, Accruing: decimal.Zero, AsOf: asOf}
	for _, res := range reservations {
		if res.IsOpen() {
			report.Open++
			report.Accruing = report.Accruing.Add(Estimate(res, asOf))
			continue
		}
		report.Closed++
		report.Revenue = report.Revenue.Add(settledCost(res))
	}
	return report
}

// settledCost is the charge recorded on release. Rows closed without a
// stored cost are priced from their start and end times.
func settledCost(res Reservation) decimal.Decimal {
	if res.Cost != nil {
		return *res.Cost
	}
	return Estimate(res, *res.EndTime)
}

// UserHistory lists a user's reservations, newest first.
func (r *Reporter) UserHistory(ctx context.Context, actor Actor, userID UserID) ([]ReservationView, error) {
	if !actor.CanActFor(userID) {
		return nil, ErrForbidden
	}
	if _, err := r.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	reservations, err := r.store.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	asOf := r.now()
	lots := make(map[LotID]*Lot)
	views := make([]ReservationView, 0, len(reservations))
	for _, res := range reservations {
		v, err := r.view(ctx, res, asOf, lots)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].StartTime.After(views[j].StartTime)
	})
	return views, nil
}

// Summary reports occupancy and revenue for every lot, including inactive ones.
func (r *Reporter) Summary(ctx context.Context) ([]LotSummary, error) {
	lots, err := r.store.ListLots(ctx, LotFilter{IncludeInactive: true})
	if err != nil {
		return nil, err
	}

	asOf := r.now()
	out := make([]LotSummary, 0, len(lots))
	for _, lot := range lots {
		spots, err := r.store.ListSpotsByLot(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		reservations, err := r.store.ListReservationsByLot(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, LotSummary{
			Lot:       lot,
			Occupancy: occupancyOf(lot.ID, spots, asOf),
			Revenue:   revenueOf(lot.ID, reservations, asOf),
		})
	}
	return out, nil
}

func (r *Reporter) view(ctx context.Context, res Reservation, asOf time.Time, lots map[LotID]*Lot) (ReservationView, error) {
	spot, err := r.store.GetSpot(ctx, res.SpotID)
	if err != nil {
		return ReservationView{}, err
	}
	lot, ok := lots[spot.LotID]
	if !ok {
		lot, err = r.store.GetLot(ctx, spot.LotID)
		if err != nil {
			return ReservationView{}, err
		}
		lots[spot.LotID] = lot
	}

	v := ReservationView{
		Reservation: res,
		LotID:       lot.ID,
		LotName:     lot.Name,
		SpotLabel:   spot.Label,
		Cost:        Estimate(res, asOf),
		Final:       !res.IsOpen(),
		AsOf:        asOf,
	}
	if !res.IsOpen() {
		v.Cost = settledCost(res)
	}
	return v, nil
}
