// Package feed loads historical candles for the backtest engine from local
// storage: CSV files (optionally xz-compressed) and SQLite databases.
package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/backtest/market"
	"github.com/ulikunitz/xz"
)

// CSVFeed reads candles from a CSV file with the columns
// time,open,high,low,close,volume. Time is RFC3339 or a unix timestamp in
// seconds or milliseconds. Files ending in .xz are decompressed
// transparently.
type CSVFeed struct {
	Path     string
	Interval market.Interval
}

func NewCSV(path string, interval market.Interval) *CSVFeed {
	return &CSVFeed{Path: path, Interval: interval}
}

// Candles loads the file and returns the candles inside [from, to] in time
// order.
func (f *CSVFeed) Candles(ctx context.Context, from, to time.Time) ([]market.Candle, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(f.Path, ".xz") {
		xr, err := xz.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("open xz stream %s: %w", f.Path, err)
		}
		src = xr
	}

	candles, err := f.parse(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	var out []market.Candle
	for _, c := range candles {
		if !c.Time.Before(from) && !c.Time.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *CSVFeed) parse(ctx context.Context, src io.Reader) ([]market.Candle, error) {
	r := csv.NewReader(src)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	var candles []market.Candle
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if len(rec) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", line, len(rec))
		}
		// Header row.
		if line == 1 && !isNumeric(rec[1]) {
			continue
		}

		t, err := parseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d col %d: %w", line, i+2, err)
			}
			vals[i] = v
		}

		candles = append(candles, market.Candle{
			Time:     t,
			Interval: f.Interval,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Millisecond stamps are 13 digits into the foreseeable future.
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
