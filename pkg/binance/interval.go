package binance

import (
	"fmt"
	"time"
)

// Interval is a Binance kline interval code such as "4h" or "1M".
type Interval string

// IntervalMeta holds the fixed length of an interval. Monthly bars have no
// fixed length; Minutes is an approximation used only for sizing.
type IntervalMeta struct {
	Code    Interval
	Minutes int
	Monthly bool
}

const (
	Interval1Min   Interval = "1m"
	Interval3Min   Interval = "3m"
	Interval5Min   Interval = "5m"
	Interval15Min  Interval = "15m"
	Interval30Min  Interval = "30m"
	Interval1Hour  Interval = "1h"
	Interval2Hour  Interval = "2h"
	Interval4Hour  Interval = "4h"
	Interval6Hour  Interval = "6h"
	Interval8Hour  Interval = "8h"
	Interval12Hour Interval = "12h"
	Interval1Day   Interval = "1d"
	Interval3Day   Interval = "3d"
	Interval1Week  Interval = "1w"
	Interval1Month Interval = "1M"
)

var validIntervals = map[Interval]IntervalMeta{
	Interval1Min:   {Code: Interval1Min, Minutes: 1},
	Interval3Min:   {Code: Interval3Min, Minutes: 3},
	Interval5Min:   {Code: Interval5Min, Minutes: 5},
	Interval15Min:  {Code: Interval15Min, Minutes: 15},
	Interval30Min:  {Code: Interval30Min, Minutes: 30},
	Interval1Hour:  {Code: Interval1Hour, Minutes: 60},
	Interval2Hour:  {Code: Interval2Hour, Minutes: 120},
	Interval4Hour:  {Code: Interval4Hour, Minutes: 240},
	Interval6Hour:  {Code: Interval6Hour, Minutes: 360},
	Interval8Hour:  {Code: Interval8Hour, Minutes: 480},
	Interval12Hour: {Code: Interval12Hour, Minutes: 720},
	Interval1Day:   {Code: Interval1Day, Minutes: 1440},
	Interval3Day:   {Code: Interval3Day, Minutes: 4320},
	Interval1Week:  {Code: Interval1Week, Minutes: 10080},
	Interval1Month: {Code: Interval1Month, Minutes: 43200, Monthly: true},
}

// IsValid checks if the Interval is a supported code.
func (i Interval) IsValid() bool {
	_, ok := validIntervals[i]
	return ok
}

// ParseInterval parses a string into a supported IntervalMeta.
func ParseInterval(s string) (IntervalMeta, error) {
	meta, ok := validIntervals[Interval(s)]
	if !ok {
		return IntervalMeta{}, fmt.Errorf("invalid interval: %s", s)
	}
	return meta, nil
}

// Duration is the nominal bar length.
func (m IntervalMeta) Duration() time.Duration {
	return time.Duration(m.Minutes) * time.Minute
}

// BarIndex maps an open time (unix ms) to a monotonically increasing bar
// ordinal. Consecutive bars differ by exactly one, calendar months included.
func (m IntervalMeta) BarIndex(openTime int64) int64 {
	t := time.UnixMilli(openTime).UTC()
	if m.Monthly {
		return int64(t.Year())*12 + int64(t.Month()) - 1
	}
	return openTime / m.Duration().Milliseconds()
}

// BarIndex is a convenience for callers holding a raw interval string.
// Unknown intervals yield ok=false.
func BarIndex(interval string, openTime int64) (int64, bool) {
	meta, err := ParseInterval(interval)
	if err != nil {
		return 0, false
	}
	return meta.BarIndex(openTime), true
}
