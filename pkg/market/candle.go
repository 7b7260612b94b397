package market

import "fmt"

// Candle is one OHLCV bar keyed by (Symbol, Interval, OpenTime).
// Times are unix milliseconds, UTC.
type Candle struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsClosed  bool    `json:"is_closed"`
}

// Key returns the per-series key, e.g. "BTCUSDT_4h".
func (c Candle) Key() string {
	return SeriesKey(c.Symbol, c.Interval)
}

// SeriesKey builds the key used by every per-(symbol, interval) map in the pipeline.
func SeriesKey(symbol, interval string) string {
	return fmt.Sprintf("%s_%s", symbol, interval)
}

// Series identifies one configured (symbol, interval) pair.
type Series struct {
	Symbol   string
	Interval string
}

func (s Series) Key() string {
	return SeriesKey(s.Symbol, s.Interval)
}

// Closes extracts close prices, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
