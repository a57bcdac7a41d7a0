package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	leverage REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	exit_time DATETIME NOT NULL,
	fee REAL NOT NULL,
	pnl REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	time DATETIME NOT NULL,
	decision TEXT NOT NULL,
	cash REAL NOT NULL,
	equity REAL NOT NULL,
	mark_price REAL NOT NULL,
	pending_orders INTEGER NOT NULL,
	open_positions INTEGER NOT NULL,
	error TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_time ON steps(time);
`
