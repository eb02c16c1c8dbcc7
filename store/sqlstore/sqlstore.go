/*
Package sqlstore provides a SQL-backed implementation of parking.TxStore.

PURPOSE:
  Persists users, lots, spots and reservations in SQLite (development,
  tests) or PostgreSQL (production). Queries are written once with "?"
  placeholders and rebound per driver by sqlx.

DRIVERS:
  sqlite3:  github.com/mattn/go-sqlite3
  postgres: github.com/lib/pq
  pgx:      github.com/jackc/pgx/v5/stdlib

KEY TABLES:
  users:        Accounts (unique email)
  lots:         Facilities with hourly price and declared spot count
  spots:        One row per live spot, unique (lot_id, number)
  reservations: Occupancy records; end_time NULL while open

CONSTRAINTS THAT BACK ENGINE RULES:
  - idx_reservations_open_spot: at most one open reservation per spot
  - spots CHECK: occupied implies ever_occupied
  - reservations.spot_id REFERENCES spots: a spot with history cannot be
    deleted even if the engine guard were bypassed

CONCURRENCY:
  Every engine operation runs in one WithTx. On PostgreSQL LockLot takes
  SELECT ... FOR UPDATE on the lot row, so operations on the same lot are
  serialized. SQLite allows a single connection, which serializes all
  transactions in-process.

USAGE:
  store, err := sqlstore.NewSQLite("./data/parking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := parking.NewEngine(store)

SEE ALSO:
  - parking/store.go:        Interface definitions
  - parking/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/parking"
	"gopkg.in/guregu/null.v4"
)

// Store implements parking.TxStore over database/sql.
type Store struct {
	queries
	db *sqlx.DB
}

// Open connects with the given driver ("sqlite3", "postgres" or "pgx")
// and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	if driver == "sqlite3" {
		return NewSQLite(dsn)
	}
	if driver != "postgres" && driver != "pgx" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newStore(db, true)
}

// NewSQLite opens a SQLite database at path.
// Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is private to its connection,
	// and SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	return newStore(db, false)
}

func newStore(db *sqlx.DB, postgres bool) (*Store, error) {
	s := &Store{db: db, queries: queries{q: db, postgres: postgres}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := sqliteSchema
	if s.postgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reset removes all rows. Used by the scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Children first for the foreign keys.
	for _, table := range []string{"reservations", "spots", "lots", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(parking.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx, postgres: s.postgres}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// QUERIES - Shared by the root store and transactional views
// =============================================================================

type queries struct {
	q        sqlx.ExtContext
	postgres bool
}

func (qs *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return qs.q.ExecContext(ctx, qs.q.Rebind(query), args...)
}

func (qs *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, qs.q, dest, qs.q.Rebind(query), args...)
}

func (qs *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, qs.q, dest, qs.q.Rebind(query), args...)
}

// =============================================================================
// USERS
// =============================================================================

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Name         string    `db:"name"`
	Phone        string    `db:"phone"`
	Address      string    `db:"address"`
	PostalCode   string    `db:"postal_code"`
	IsAdmin      bool      `db:"is_admin"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toUser() *parking.User {
	return &parking.User{
		ID:           parking.UserID(r.ID),
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Name:         r.Name,
		Phone:        r.Phone,
		Address:      r.Address,
		PostalCode:   r.PostalCode,
		IsAdmin:      r.IsAdmin,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

const userColumns = `id, email, password_hash, name, phone, address, postal_code, is_admin, created_at`

func (qs *queries) CreateUser(ctx context.Context, u *parking.User) error {
	_, err := qs.exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.Name, u.Phone,
		u.Address, u.PostalCode, u.IsAdmin, u.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "email") {
			return parking.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (qs *queries) GetUser(ctx context.Context, id parking.UserID) (*parking.User, error) {
	var row userRow
	err := qs.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "user", string(id))
	}
	return row.toUser(), nil
}

func (qs *queries) GetUserByEmail(ctx context.Context, email string) (*parking.User, error) {
	var row userRow
	err := qs.get(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	if err != nil {
		return nil, notFound(err, "user", email)
	}
	return row.toUser(), nil
}

// =============================================================================
// LOTS
// =============================================================================

type lotRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	HourlyPrice decimal.Decimal `db:"hourly_price"`
	Address     string          `db:"address"`
	PostalCode  string          `db:"postal_code"`
	TotalSpots  int             `db:"total_spots"`
	Active      bool            `db:"active"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r lotRow) toLot() parking.Lot {
	return parking.Lot{
		ID:          parking.LotID(r.ID),
		Name:        r.Name,
		HourlyPrice: r.HourlyPrice,
		Address:     r.Address,
		PostalCode:  r.PostalCode,
		TotalSpots:  r.TotalSpots,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const lotColumns = `id, name, hourly_price, address, postal_code, total_spots, active, created_at, updated_at`

func (qs *queries) CreateLot(ctx context.Context, lot *parking.Lot) error {
	_, err := qs.exec(ctx, `
		INSERT INTO lots (`+lotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.Name, lot.HourlyPrice, lot.Address, lot.PostalCode,
		lot.TotalSpots, lot.Active, lot.CreatedAt.UTC(), lot.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return nil
}

func (qs *queries) GetLot(ctx context.Context, id parking.LotID) (*parking.Lot, error) {
	return qs.getLot(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
}

func (qs *queries) LockLot(ctx context.Context, id parking.LotID) (*parking.Lot, error) {
	if !qs.postgres {
		return qs.GetLot(ctx, id)
	}
	return qs.getLot(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ? FOR UPDATE`, id)
}

func (qs *queries) getLot(ctx context.Context, query string, id parking.LotID) (*parking.Lot, error) {
	var row lotRow
	if err := qs.get(ctx, &row, query, id); err != nil {
		return nil, notFound(err, "lot", string(id))
	}
	lot := row.toLot()
	return &lot, nil
}

func (qs *queries) UpdateLot(ctx context.Context, lot *parking.Lot) error {
	res, err := qs.exec(ctx, `
		UPDATE lots
		SET name = ?, hourly_price = ?, address = ?, postal_code = ?,
		    total_spots = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		lot.Name, lot.HourlyPrice, lot.Address, lot.PostalCode,
		lot.TotalSpots, lot.Active, lot.UpdatedAt.UTC(), lot.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lot %s: %w", lot.ID, parking.ErrNotFound)
	}
	return nil
}

func (qs *queries) ListLots(ctx context.Context, filter parking.LotFilter) ([]parking.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots`
	if !filter.IncludeInactive {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at, id`

	var rows []lotRow
	if err := qs.selectAll(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	lots := make([]parking.Lot, len(rows))
	for i, r := range rows {
		lots[i] = r.toLot()
	}
	return lots, nil
}

// =============================================================================
// SPOTS
// =============================================================================

type spotRow struct {
	ID           string    `db:"id"`
	LotID        string    `db:"lot_id"`
	Number       int       `db:"number"`
	Label        string    `db:"label"`
	Occupied     bool      `db:"occupied"`
	EverOccupied bool      `db:"ever_occupied"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r spotRow) toSpot() parking.Spot {
	return parking.Spot{
		ID:           parking.SpotID(r.ID),
		LotID:        parking.LotID(r.LotID),
		Number:       r.Number,
		Label:        r.Label,
		Occupied:     r.Occupied,
		EverOccupied: r.EverOccupied,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

const spotColumns = `id, lot_id, number, label, occupied, ever_occupied, created_at`

func (qs *queries) CreateSpots(ctx context.Context, spots []parking.Spot) error {
	query := `INSERT INTO spots (` + spotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, sp := range spots {
		_, err := qs.exec(ctx, query,
			sp.ID, sp.LotID, sp.Number, sp.Label, sp.Occupied, sp.EverOccupied, sp.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to create spot %s: %w", sp.Label, err)
		}
	}
	return nil
}

func (qs *queries) GetSpot(ctx context.Context, id parking.SpotID) (*parking.Spot, error) {
	var row spotRow
	if err := qs.get(ctx, &row, `SELECT `+spotColumns+` FROM spots WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "spot", string(id))
	}
	sp := row.toSpot()
	return &sp, nil
}

func (qs *queries) ListSpotsByLot(ctx context.Context, lotID parking.LotID) ([]parking.Spot, error) {
	var rows []spotRow
	err := qs.selectAll(ctx, &rows,
		`SELECT `+spotColumns+` FROM spots WHERE lot_id = ? ORDER BY number`, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spots: %w", err)
	}
	spots := make([]parking.Spot, len(rows))
	for i, r := range rows {
		spots[i] = r.toSpot()
	}
	return spots, nil
}

// DeleteSpots deletes only free spots without history. If any id is not
// deletable the count falls short and the caller's transaction is rolled back.
func (qs *queries) DeleteSpots(ctx context.Context, ids []parking.SpotID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		DELETE FROM spots
		WHERE id IN (?) AND occupied = FALSE AND ever_occupied = FALSE`, ids)
	if err != nil {
		return err
	}
	res, err := qs.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete spots: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(ids) {
		return fmt.Errorf("%d of %d spots removable: %w", n, len(ids), parking.ErrHasHistory)
	}
	return nil
}

func (qs *queries) MarkSpotOccupied(ctx context.Context, id parking.SpotID) error {
	res, err := qs.exec(ctx, `
		UPDATE spots SET occupied = TRUE, ever_occupied = TRUE
		WHERE id = ? AND occupied = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to occupy spot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := qs.GetSpot(ctx, id); err != nil {
			return err
		}
		return parking.ErrAlreadyOccupied
	}
	return nil
}

func (qs *queries) MarkSpotAvailable(ctx context.Context, id parking.SpotID) error {
	res, err := qs.exec(ctx, `UPDATE spots SET occupied = FALSE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to free spot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spot %s: %w", id, parking.ErrNotFound)
	}
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type reservationRow struct {
	ID         string              `db:"id"`
	SpotID     string              `db:"spot_id"`
	UserID     string              `db:"user_id"`
	VehicleID  string              `db:"vehicle_id"`
	StartTime  time.Time           `db:"start_time"`
	EndTime    null.Time           `db:"end_time"`
	HourlyRate decimal.Decimal     `db:"hourly_rate"`
	Cost       decimal.NullDecimal `db:"cost"`
}

func (r reservationRow) toReservation() parking.Reservation {
	res := parking.Reservation{
		ID:         parking.ReservationID(r.ID),
		SpotID:     parking.SpotID(r.SpotID),
		UserID:     parking.UserID(r.UserID),
		VehicleID:  r.VehicleID,
		StartTime:  r.StartTime.UTC(),
		HourlyRate: r.HourlyRate,
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time.UTC()
		res.EndTime = &end
	}
	if r.Cost.Valid {
		cost := r.Cost.Decimal
		res.Cost = &cost
	}
	return res
}

const reservationColumns = `r.id, r.spot_id, r.user_id, r.vehicle_id, r.start_time, r.end_time, r.hourly_rate, r.cost`

func (qs *queries) CreateReservation(ctx context.Context, r *parking.Reservation) error {
	cost := decimal.NullDecimal{}
	if r.Cost != nil {
		cost = decimal.NewNullDecimal(*r.Cost)
	}
	_, err := qs.exec(ctx, `
		INSERT INTO reservations (id, spot_id, user_id, vehicle_id, start_time, end_time, hourly_rate, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SpotID, r.UserID, r.VehicleID, r.StartTime.UTC(),
		null.TimeFromPtr(utcPtr(r.EndTime)), r.HourlyRate, cost,
	)
	if err != nil {
		if isUniqueViolation(err, "spot") {
			return parking.ErrAlreadyOccupied
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (qs *queries) GetReservation(ctx context.Context, id parking.ReservationID) (*parking.Reservation, error) {
	var row reservationRow
	err := qs.get(ctx, &row, `SELECT `+reservationColumns+` FROM reservations r WHERE r.id = ?`, id)
	if err != nil {
		return nil, notFound(err, "reservation", string(id))
	}
	res := row.toReservation()
	return &res, nil
}

func (qs *queries) CloseReservation(ctx context.Context, id parking.ReservationID, end time.Time, cost decimal.Decimal) error {
	res, err := qs.exec(ctx, `
		UPDATE reservations SET end_time = ?, cost = ?
		WHERE id = ? AND end_time IS NULL`,
		end.UTC(), cost, id)
	if err != nil {
		return fmt.Errorf("failed to close reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := qs.GetReservation(ctx, id); err != nil {
			return err
		}
		return parking.ErrAlreadyClosed
	}
	return nil
}

func (qs *queries) OpenReservationForSpot(ctx context.Context, spotID parking.SpotID) (*parking.Reservation, error) {
	var row reservationRow
	err := qs.get(ctx, &row, `
		SELECT `+reservationColumns+` FROM reservations r
		WHERE r.spot_id = ? AND r.end_time IS NULL`, spotID)
	if err != nil {
		return nil, notFound(err, "open reservation for spot", string(spotID))
	}
	res := row.toReservation()
	return &res, nil
}

func (qs *queries) ListReservationsByUser(ctx context.Context, userID parking.UserID) ([]parking.Reservation, error) {
	return qs.listReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations r
		WHERE r.user_id = ?
		ORDER BY r.start_time DESC, r.id DESC`, userID)
}

func (qs *queries) ListReservationsByLot(ctx context.Context, lotID parking.LotID) ([]parking.Reservation, error) {
	return qs.listReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations r
		JOIN spots s ON s.id = r.spot_id
		WHERE s.lot_id = ?
		ORDER BY r.start_time DESC, r.id DESC`, lotID)
}

func (qs *queries) listReservations(ctx context.Context, query string, args ...any) ([]parking.Reservation, error) {
	var rows []reservationRow
	if err := qs.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	out := make([]parking.Reservation, len(rows))
	for i, r := range rows {
		out[i] = r.toReservation()
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, parking.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// isUniqueViolation reports whether err is a unique-constraint failure whose
// constraint name (or, for SQLite, message) mentions hint.
func isUniqueViolation(err error, hint string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(sqliteErr.Error(), hint)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation" && strings.Contains(pqErr.Constraint, hint)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, hint)
	}
	return false
}
