package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSVJournal struct {
	positions *csv.Writer
	steps     *csv.Writer
	pf, sf    *os.File
}

func NewCSV(positionsPath, stepsPath string) (*CSVJournal, error) {
	pf, err := os.Create(positionsPath)
	if err != nil {
		return nil, err
	}
	sf, err := os.Create(stepsPath)
	if err != nil {
		pf.Close()
		return nil, err
	}

	pw := csv.NewWriter(pf)
	sw := csv.NewWriter(sf)

	fail := func(err error) (*CSVJournal, error) {
		pf.Close()
		sf.Close()
		return nil, err
	}

	if err := pw.Write([]string{"position_id", "symbol", "side", "quantity", "leverage", "entry_price", "exit_price", "entry_time", "exit_time", "fee", "pnl"}); err != nil {
		return fail(err)
	}
	if err := sw.Write([]string{"time", "decision", "cash", "equity", "mark_price", "pending_orders", "open_positions", "error"}); err != nil {
		return fail(err)
	}

	pw.Flush()
	if err := pw.Error(); err != nil {
		return fail(err)
	}
	sw.Flush()
	if err := sw.Error(); err != nil {
		return fail(err)
	}

	return &CSVJournal{pw, sw, pf, sf}, nil
}

func (j *CSVJournal) RecordPosition(r PositionRecord) error {
	err := j.positions.Write([]string{
		r.PositionID,
		r.Symbol,
		r.Side,
		f(r.Quantity),
		f(r.Leverage),
		f(r.EntryPrice),
		f(r.ExitPrice),
		r.EntryTime.Format(time.RFC3339),
		r.ExitTime.Format(time.RFC3339),
		f(r.Fee),
		f(r.PnL),
	})
	if err != nil {
		return err
	}

	j.positions.Flush()
	return j.positions.Error()
}

func (j *CSVJournal) RecordStep(r StepRecord) error {
	err := j.steps.Write([]string{
		r.Time.Format(time.RFC3339),
		r.Decision,
		f(r.Cash),
		f(r.Equity),
		f(r.MarkPrice),
		strconv.Itoa(r.PendingOrders),
		strconv.Itoa(r.OpenPositions),
		r.Error,
	})
	if err != nil {
		return err
	}

	j.steps.Flush()
	return j.steps.Error()
}

func (j *CSVJournal) Close() error {
	j.positions.Flush()
	if err := j.positions.Error(); err != nil {
		return err
	}
	j.steps.Flush()
	if err := j.steps.Error(); err != nil {
		return err
	}

	if err := j.pf.Close(); err != nil {
		return err
	}
	return j.sf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
