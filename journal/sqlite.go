package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordPosition(r PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(position_id, symbol, side, quantity, leverage, entry_price, exit_price, entry_time, exit_time, fee, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PositionID, r.Symbol, r.Side, r.Quantity, r.Leverage,
		r.EntryPrice, r.ExitPrice, r.EntryTime, r.ExitTime, r.Fee, r.PnL,
	)
	return err
}

func (j *SQLiteJournal) RecordStep(r StepRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO steps
		(time, decision, cash, equity, mark_price, pending_orders, open_positions, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Time, r.Decision, r.Cash, r.Equity, r.MarkPrice,
		r.PendingOrders, r.OpenPositions, r.Error,
	)
	return err
}

// Positions returns the recorded closed positions ordered by exit time.
func (j *SQLiteJournal) Positions() ([]PositionRecord, error) {
	rows, err := j.db.Query(`
		SELECT position_id, symbol, side, quantity, leverage, entry_price, exit_price, entry_time, exit_time, fee, pnl
		FROM positions ORDER BY exit_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var r PositionRecord
		if err := rows.Scan(&r.PositionID, &r.Symbol, &r.Side, &r.Quantity, &r.Leverage,
			&r.EntryPrice, &r.ExitPrice, &r.EntryTime, &r.ExitTime, &r.Fee, &r.PnL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Steps returns the recorded per-bar snapshots in time order.
func (j *SQLiteJournal) Steps() ([]StepRecord, error) {
	rows, err := j.db.Query(`
		SELECT time, decision, cash, equity, mark_price, pending_orders, open_positions, error
		FROM steps ORDER BY time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var r StepRecord
		if err := rows.Scan(&r.Time, &r.Decision, &r.Cash, &r.Equity, &r.MarkPrice,
			&r.PendingOrders, &r.OpenPositions, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
