package parking_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/cache"
	"github.com/warp/parking-engine/parking"
)

// hookedStore runs afterListSpots once, after the spot read has returned.
type hookedStore struct {
	parking.Store
	afterListSpots func()
}

func (s *hookedStore) ListSpotsByLot(ctx context.Context, lotID parking.LotID) ([]parking.Spot, error) {
	spots, err := s.Store.ListSpotsByLot(ctx, lotID)
	if hook := s.afterListSpots; hook != nil {
		s.afterListSpots = nil
		hook()
	}
	return spots, err
}

func TestLotRevenue_ClosedAndAccruing(t *testing.T) {
	// GIVEN: One reservation closed after 2h and one open for 1h, both at 10/hr
	// WHEN: Asking for lot revenue
	// THEN: Revenue counts only the closed charge; the open one is accruing

	f := newFixture(t)
	ctx := context.Background()
	lot := f.createLot(t, 2, "10")
	spots := f.spots(t, lot.ID)

	first := f.book(t, spots[0].ID)
	f.clock.Advance(time.Hour)
	f.book(t, spots[1].ID)
	f.clock.Advance(time.Hour)
	_, err := f.engine.Release(ctx, f.driver, first.ID)
	require.NoError(t, err)

	report, err := f.reporter.LotRevenue(ctx, lot.ID)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, "20.00", report.Revenue.StringFixed(2))
	assert.Equal(t, 1, report.Open)
	assert.Equal(t, "10.00", report.Accruing.StringFixed(2))
}

func TestLotRevenue_MatchesSumOfReleaseCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.createLot(t, 1, "3.17")
	spot := f.spots(t, lot.ID)[0]

	var charged []string
	for _, d := range []time.Duration{7 * time.Minute, 53 * time.Minute, 2*time.Hour + 11*time.Minute} {
		res := f.book(t, spot.ID)
		f.clock.Advance(d)
		cost, err := f.engine.Release(ctx, f.driver, res.ID)
		require.NoError(t, err)
		charged = append(charged, cost.StringFixed(2))
	}

	report, err := f.reporter.LotRevenue(ctx, lot.ID)
	require.NoError(t, err)

	// 0.37 + 2.80 + 6.92
	assert.Equal(t, []string{"0.37", "2.80", "6.92"}, charged)
	assert.Equal(t, "10.09", report.Revenue.StringFixed(2))
	assert.Equal(t, 3, report.Closed)
}

func TestLotRevenue_UsesStoredCharge(t *testing.T) {
	// GIVEN: A closed reservation whose stored charge differs from a recomputation
	// WHEN: Reporting revenue and viewing the reservation
	// THEN: Both use the stored charge

	f := newFixture(t)
	ctx := context.Background()
	lot := f.createLot(t, 1, "10")
	spot := f.spots(t, lot.ID)[0]
	res := &parking.Reservation{
		ID:         "settled",
		SpotID:     spot.ID,
		UserID:     f.driver.UserID,
		VehicleID:  "A",
		StartTime:  f.clock.Now(),
		HourlyRate: decimal.NewFromInt(10),
	}
	require.NoError(t, f.store.CreateReservation(ctx, res))
	end := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.store.CloseReservation(ctx, res.ID, end, decimal.RequireFromString("7.50")))

	report, err := f.reporter.LotRevenue(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "7.50", report.Revenue.StringFixed(2))

	view, err := f.reporter.Reservation(ctx, f.driver, res.ID)
	require.NoError(t, err)
	assert.True(t, view.Final)
	assert.Equal(t, "7.50", view.Cost.StringFixed(2))
}

func TestLotOccupancy_InvalidatedByEngine(t *testing.T) {
	// GIVEN: A cached occupancy snapshot
	// WHEN: A spot is booked
	// THEN: The next read reflects the booking

	f := newFixture(t)
	ctx := context.Background()
	lot := f.createLot(t, 3, "1")

	snap, err := f.reporter.LotOccupancy(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Occupied)
	assert.Equal(t, 3, snap.Available)

	f.book(t, f.spots(t, lot.ID)[1].ID)

	snap, err = f.reporter.LotOccupancy(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Occupied)
	assert.Equal(t, 2, snap.Available)
}

func TestLotOccupancy_BookingDuringReadIsNotCached(t *testing.T) {
	// GIVEN: A cold cache and a booking that commits right after the spots are read
	// WHEN: Occupancy is read twice
	// THEN: The second read sees the booking instead of the earlier snapshot

	f := newFixture(t)
	ctx := context.Background()
	lot := f.createLot(t, 3, "1")
	spot := f.spots(t, lot.ID)[0]

	hooked := &hookedStore{Store: f.store}
	reporter := parking.NewReporter(hooked,
		parking.WithReporterClock(f.clock.Now),
		parking.WithCache(cache.NewMemory(), time.Hour),
	)
	engine := parking.NewEngine(f.store,
		parking.WithClock(f.clock.Now),
		parking.WithInvalidator(reporter),
	)
	hooked.afterListSpots = func() {
		_, err := engine.Book(ctx, f.driver, parking.BookingRequest{SpotID: spot.ID, VehicleID: "A"})
		require.NoError(t, err)
	}

	first, err := reporter.LotOccupancy(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Occupied, "read happened before the booking")

	second, err := reporter.LotOccupancy(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Occupied)
	assert.Equal(t, 2, second.Available)
}

func TestLotOccupancy_UnknownLot(t *testing.T) {
	f := newFixture(t)

	_, err := f.reporter.LotOccupancy(context.Background(), "missing")

	assert.ErrorIs(t, err, parking.ErrNotFound)
}

func TestUserHistory_NewestFirstWithLotContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.createLot(t, 2, "10")
	spots := f.spots(t, lot.ID)

	first := f.book(t, spots[0].ID)
	f.clock.Advance(time.Hour)
	_, err := f.engine.Release(ctx, f.driver, first.ID)
	require.NoError(t, err)
	second := f.book(t, spots[1].ID)
	f.clock.Advance(30 * time.Minute)

	history, err := f.reporter.UserHistory(ctx, f.driver, f.driver.UserID)

	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, second.ID, history[0].ID)
	assert.False(t, history[0].Final)
	assert.Equal(t, "5.00", history[0].Cost.StringFixed(2), "open reservation shows live estimate")
	assert.Equal(t, "S-002", history[0].SpotLabel)

	assert.Equal(t, first.ID, history[1].ID)
	assert.True(t, history[1].Final)
	assert.Equal(t, "10.00", history[1].Cost.StringFixed(2))
	assert.Equal(t, "Central", history[1].LotName)
	assert.Equal(t, lot.ID, history[1].LotID)
}

func TestUserHistory_OtherUser_Forbidden(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(t, "other", false)

	_, err := f.reporter.UserHistory(context.Background(), other, f.driver.UserID)
	assert.ErrorIs(t, err, parking.ErrForbidden)

	_, err = f.reporter.UserHistory(context.Background(), f.admin, f.driver.UserID)
	assert.NoError(t, err)
}

func TestReservation_AccessCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addUser(t, "other", false)
	res := f.book(t, f.spots(t, f.createLot(t, 1, "4").ID)[0].ID)
	f.clock.Advance(15 * time.Minute)

	view, err := f.reporter.Reservation(ctx, f.driver, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.00", view.Cost.StringFixed(2))
	assert.Equal(t, f.clock.Now(), view.AsOf, "estimate is stamped with the clock it used")

	_, err = f.reporter.Reservation(ctx, other, res.ID)
	assert.ErrorIs(t, err, parking.ErrForbidden)
}

func TestSummary_IncludesInactiveLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createLot(t, 2, "1")
	f.clock.Advance(time.Second)
	b := f.createLot(t, 1, "1")
	require.NoError(t, f.engine.DeleteLot(ctx, f.admin, b.ID))
	f.book(t, f.spots(t, a.ID)[0].ID)

	summary, err := f.reporter.Summary(ctx)

	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, a.ID, summary[0].Lot.ID)
	assert.Equal(t, 1, summary[0].Occupancy.Occupied)
	assert.Equal(t, 1, summary[0].Revenue.Open)
	assert.False(t, summary[1].Lot.Active)
}
