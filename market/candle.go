package market

import (
	"fmt"
	"time"
)

// Interval is the fixed duration of a candle in seconds.
type Interval int

const (
	Minute1  Interval = 60
	Minute5  Interval = 60 * 5
	Minute15 Interval = 60 * 15
	Minute30 Interval = 60 * 30
	Hour1    Interval = 60 * 60
	Hour2    Interval = 60 * 60 * 2
	Hour4    Interval = 60 * 60 * 4
	Hour12   Interval = 60 * 60 * 12
	Day1     Interval = 60 * 60 * 24
	Week1    Interval = 60 * 60 * 24 * 7
)

func (i Interval) Duration() time.Duration {
	return time.Duration(i) * time.Second
}

func (i Interval) String() string {
	switch i {
	case Minute1:
		return "1m"
	case Minute5:
		return "5m"
	case Minute15:
		return "15m"
	case Minute30:
		return "30m"
	case Hour1:
		return "1h"
	case Hour2:
		return "2h"
	case Hour4:
		return "4h"
	case Hour12:
		return "12h"
	case Day1:
		return "1d"
	case Week1:
		return "1w"
	}
	return fmt.Sprintf("%ds", int(i))
}

// ParseInterval converts a string like "1h" or "1d" to an Interval.
func ParseInterval(s string) (Interval, error) {
	for _, i := range []Interval{
		Minute1, Minute5, Minute15, Minute30,
		Hour1, Hour2, Hour4, Hour12, Day1, Week1,
	} {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown interval %q", s)
}

// Candle represents OHLCV candlestick data for a single interval.
type Candle struct {
	Time     time.Time
	Interval Interval
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// PriceHit reports whether p falls inside the candle's traded range.
func (c Candle) PriceHit(p float64) bool {
	return p >= c.Low && p <= c.High
}
