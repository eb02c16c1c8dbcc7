package sqlstore

// Statements are separated by ";" and run one at a time by migrate.
// For production, use a migration tool with versioned migrations.

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hourly_price TEXT NOT NULL,
		address TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		total_spots INTEGER NOT NULL CHECK (total_spots >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spots (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id),
		number INTEGER NOT NULL,
		label TEXT NOT NULL,
		occupied BOOLEAN NOT NULL DEFAULT FALSE,
		ever_occupied BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (lot_id, number),
		CHECK (NOT occupied OR ever_occupied)
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		spot_id TEXT NOT NULL REFERENCES spots(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		vehicle_id TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		hourly_rate TEXT NOT NULL,
		cost TEXT
	);

	-- At most one open reservation per spot
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_open_spot
		ON reservations(spot_id) WHERE end_time IS NULL;

	CREATE INDEX IF NOT EXISTS idx_reservations_user_start
		ON reservations(user_id, start_time DESC);

	CREATE INDEX IF NOT EXISTS idx_reservations_spot
		ON reservations(spot_id)
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hourly_price NUMERIC NOT NULL CHECK (hourly_price >= 0),
		address TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		total_spots INTEGER NOT NULL CHECK (total_spots >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spots (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id),
		number INTEGER NOT NULL,
		label TEXT NOT NULL,
		occupied BOOLEAN NOT NULL DEFAULT FALSE,
		ever_occupied BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (lot_id, number),
		CHECK (NOT occupied OR ever_occupied)
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		spot_id TEXT NOT NULL REFERENCES spots(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		vehicle_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		hourly_rate NUMERIC NOT NULL,
		cost NUMERIC(12, 2),
		CHECK (end_time IS NULL OR end_time >= start_time)
	);

	-- At most one open reservation per spot
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_open_spot
		ON reservations(spot_id) WHERE end_time IS NULL;

	CREATE INDEX IF NOT EXISTS idx_reservations_user_start
		ON reservations(user_id, start_time DESC);

	CREATE INDEX IF NOT EXISTS idx_reservations_spot
		ON reservations(spot_id)
`
