package feed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/backtest/market"
)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	time DATETIME NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (symbol, interval, time)
);
`

// SQLiteFeed serves candles for one symbol and interval out of a local
// candle database.
type SQLiteFeed struct {
	db       *sql.DB
	symbol   string
	interval market.Interval
}

func NewSQLite(path, symbol string, interval market.Interval) (*SQLiteFeed, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open candle db: %w", err)
	}
	if _, err := db.Exec(candleSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create candle schema: %w", err)
	}
	return &SQLiteFeed{db: db, symbol: symbol, interval: interval}, nil
}

func (f *SQLiteFeed) Candles(ctx context.Context, from, to time.Time) ([]market.Candle, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval = ? AND time >= ? AND time <= ?
		ORDER BY time`,
		f.symbol, f.interval.String(), from, to)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		c := market.Candle{Interval: f.interval}
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = c.Time.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Store inserts candles, replacing duplicates on (symbol, interval, time).
func (f *SQLiteFeed) Store(ctx context.Context, candles []market.Candle) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles
		(symbol, interval, time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, f.symbol, f.interval.String(),
			c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("insert candle %s: %w", c.Time, err)
		}
	}
	return tx.Commit()
}

func (f *SQLiteFeed) Close() error {
	return f.db.Close()
}
