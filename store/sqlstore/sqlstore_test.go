package sqlstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, s *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &parking.User{ID: "u1", Email: "Driver@Example.com", Name: "Driver", CreatedAt: t0}))
	require.NoError(t, s.CreateLot(ctx, &parking.Lot{
		ID: "lot-1", Name: "Central", HourlyPrice: decimal.RequireFromString("2.50"),
		Address: "1 Main St", PostalCode: "10001", TotalSpots: 2, Active: true,
		CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, s.CreateSpots(ctx, []parking.Spot{
		{ID: "s1", LotID: "lot-1", Number: 1, Label: parking.SpotLabel(1), CreatedAt: t0},
		{ID: "s2", LotID: "lot-1", Number: 2, Label: parking.SpotLabel(2), CreatedAt: t0},
	}))
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func TestStore_LotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	lot, err := s.GetLot(context.Background(), "lot-1")

	require.NoError(t, err)
	assert.Equal(t, "Central", lot.Name)
	assert.Equal(t, "2.5", lot.HourlyPrice.String())
	assert.Equal(t, 2, lot.TotalSpots)
	assert.True(t, lot.Active)
	assert.True(t, t0.Equal(lot.CreatedAt))
}

func TestStore_UserEmailIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	u, err := s.GetUserByEmail(ctx, "DRIVER@example.com")
	require.NoError(t, err)
	assert.Equal(t, parking.UserID("u1"), u.ID)

	err = s.CreateUser(ctx, &parking.User{ID: "u2", Email: "driver@example.COM", CreatedAt: t0})
	assert.ErrorIs(t, err, parking.ErrDuplicateEmail)
}

func TestStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetLot(ctx, "missing")
	assert.ErrorIs(t, err, parking.ErrNotFound)
	_, err = s.GetSpot(ctx, "missing")
	assert.ErrorIs(t, err, parking.ErrNotFound)
	_, err = s.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, parking.ErrNotFound)
	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, parking.ErrNotFound)
}

func TestStore_ListLots_FiltersInactive(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	lot, err := s.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	lot.Active = false
	require.NoError(t, s.UpdateLot(ctx, lot))

	active, err := s.ListLots(ctx, parking.LotFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListLots(ctx, parking.LotFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// CONDITIONAL WRITES
// =============================================================================

func TestStore_MarkSpotOccupied_Conditional(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.MarkSpotOccupied(ctx, "s1"))
	assert.ErrorIs(t, s.MarkSpotOccupied(ctx, "s1"), parking.ErrAlreadyOccupied)
	assert.ErrorIs(t, s.MarkSpotOccupied(ctx, "nope"), parking.ErrNotFound)

	require.NoError(t, s.MarkSpotAvailable(ctx, "s1"))
	sp, err := s.GetSpot(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sp.Occupied)
	assert.True(t, sp.EverOccupied)
}

func TestStore_OneOpenReservationPerSpot(t *testing.T) {
	// GIVEN: An open reservation on s1
	// WHEN: Inserting a second open reservation on s1
	// THEN: The partial unique index rejects it as AlreadyOccupied

	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	first := &parking.Reservation{ID: "r1", SpotID: "s1", UserID: "u1", VehicleID: "A", StartTime: t0, HourlyRate: decimal.NewFromInt(2)}
	require.NoError(t, s.CreateReservation(ctx, first))

	second := &parking.Reservation{ID: "r2", SpotID: "s1", UserID: "u1", VehicleID: "B", StartTime: t0, HourlyRate: decimal.NewFromInt(2)}
	assert.ErrorIs(t, s.CreateReservation(ctx, second), parking.ErrAlreadyOccupied)

	// Closing the first frees the index slot.
	require.NoError(t, s.CloseReservation(ctx, "r1", t0.Add(time.Hour), decimal.RequireFromString("2.00")))
	assert.NoError(t, s.CreateReservation(ctx, second))
}

func TestStore_CloseReservation_Conditional(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	r := &parking.Reservation{ID: "r1", SpotID: "s1", UserID: "u1", VehicleID: "A", StartTime: t0, HourlyRate: decimal.RequireFromString("2.50")}
	require.NoError(t, s.CreateReservation(ctx, r))

	end := t0.Add(90 * time.Minute)
	require.NoError(t, s.CloseReservation(ctx, "r1", end, decimal.RequireFromString("3.75")))
	err := s.CloseReservation(ctx, "r1", end.Add(time.Hour), decimal.RequireFromString("99"))
	assert.ErrorIs(t, err, parking.ErrAlreadyClosed)

	got, err := s.GetReservation(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	require.NotNil(t, got.Cost)
	assert.Equal(t, "3.75", got.Cost.StringFixed(2))
	assert.Equal(t, "2.5", got.HourlyRate.String())
}

func TestStore_DeleteSpots_RefusesHistory(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.MarkSpotOccupied(ctx, "s2"))
	require.NoError(t, s.MarkSpotAvailable(ctx, "s2"))

	err := s.WithTx(ctx, func(tx parking.Store) error {
		return tx.DeleteSpots(ctx, []parking.SpotID{"s1", "s2"})
	})

	assert.ErrorIs(t, err, parking.ErrHasHistory)
	spots, err := s.ListSpotsByLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Len(t, spots, 2, "transaction rolled back the partial delete")
}

func TestStore_WithTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx parking.Store) error {
		lot, err := tx.LockLot(ctx, "lot-1")
		if err != nil {
			return err
		}
		lot.Name = "Changed"
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	lot, err := s.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Equal(t, "Central", lot.Name)
}

func TestStore_ListReservations_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	for i, id := range []parking.ReservationID{"r1", "r2", "r3"} {
		start := t0.Add(time.Duration(i) * time.Hour)
		r := &parking.Reservation{ID: id, SpotID: "s1", UserID: "u1", VehicleID: "A", StartTime: start, HourlyRate: decimal.NewFromInt(1)}
		require.NoError(t, s.CreateReservation(ctx, r))
		require.NoError(t, s.CloseReservation(ctx, id, start.Add(30*time.Minute), decimal.RequireFromString("0.50")))
	}

	byUser, err := s.ListReservationsByUser(ctx, "u1")
	require.NoError(t, err)
	byLot, err := s.ListReservationsByLot(ctx, "lot-1")
	require.NoError(t, err)

	for _, list := range [][]parking.Reservation{byUser, byLot} {
		require.Len(t, list, 3)
		assert.Equal(t, parking.ReservationID("r3"), list[0].ID)
		assert.Equal(t, parking.ReservationID("r1"), list[2].ID)
	}
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.Reset(ctx))

	lots, err := s.ListLots(ctx, parking.LotFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, lots)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_FullScenario_SQLite(t *testing.T) {
	// GIVEN: The engine on a SQLite store
	// WHEN: Running book, resize, release and resize again
	// THEN: Results match the in-memory store and rejected resizes roll back

	s := newTestStore(t)
	ctx := context.Background()
	now := t0
	engine := parking.NewEngine(s, parking.WithClock(func() time.Time { return now }))
	admin := parking.Actor{UserID: "admin", IsAdmin: true}
	driver := parking.Actor{UserID: "u1"}
	require.NoError(t, s.CreateUser(ctx, &parking.User{ID: "u1", Email: "u1@example.com", CreatedAt: now}))

	lot, err := engine.CreateLot(ctx, admin, parking.LotInput{
		Name: "Central", HourlyPrice: decimal.NewFromInt(10),
		Address: "1 Main St", PostalCode: "10001", Capacity: 3,
	})
	require.NoError(t, err)
	spots, err := s.ListSpotsByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, spots, 3)

	res, err := engine.Book(ctx, driver, parking.BookingRequest{SpotID: spots[0].ID, VehicleID: "ab-1"})
	require.NoError(t, err)

	_, err = engine.Resize(ctx, admin, lot.ID, 0)
	require.ErrorIs(t, err, parking.ErrBelowOccupied)

	now = now.Add(2 * time.Hour)
	cost, err := engine.Release(ctx, driver, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", cost.StringFixed(2))

	_, err = engine.Resize(ctx, admin, lot.ID, 0)
	require.ErrorIs(t, err, parking.ErrEverOccupiedRemoval)
	spots, err = s.ListSpotsByLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Len(t, spots, 3)

	resized, err := engine.Resize(ctx, admin, lot.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, resized.TotalSpots)
	spots, err = s.ListSpotsByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, "S-001", spots[0].Label)

	err = engine.DeleteSpot(ctx, admin, spots[0].ID)
	assert.ErrorIs(t, err, parking.ErrHasHistory)
}

func TestOpen_Postgres(t *testing.T) {
	dsn := os.Getenv("PARKING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARKING_TEST_POSTGRES_DSN not set")
	}
	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			s, err := sqlstore.Open(driver, dsn)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			require.NoError(t, s.Reset(context.Background()))
			seed(t, s)

			lot, err := s.LockLot(context.Background(), "lot-1")
			require.NoError(t, err)
			assert.Equal(t, "2.5", lot.HourlyPrice.String())
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlstore.Open("mysql", "x")
	assert.Error(t, err)
}
