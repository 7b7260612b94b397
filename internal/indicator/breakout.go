package indicator

import "candlealert/pkg/market"

type BreakoutDirection string

const (
	Bull BreakoutDirection = "BULL"
	Bear BreakoutDirection = "BEAR"
)

// Breakout is a live price escaping the previous closed candle's range.
type Breakout struct {
	Direction    BreakoutDirection
	Price        float64
	Level        float64 // prior high for Bull, prior low for Bear
	ChangePct    float64 // signed distance from Level, in percent
	PrevOpenTime int64
}

// CheckBreakout compares price with prev's high/low widened by marginPct percent.
func CheckBreakout(prev market.Candle, price, marginPct float64) (Breakout, bool) {
	up := prev.High * (1 + marginPct/100)
	down := prev.Low * (1 - marginPct/100)

	switch {
	case price > up && prev.High > 0:
		return Breakout{
			Direction:    Bull,
			Price:        price,
			Level:        prev.High,
			ChangePct:    (price - prev.High) / prev.High * 100,
			PrevOpenTime: prev.OpenTime,
		}, true
	case price < down && prev.Low > 0:
		return Breakout{
			Direction:    Bear,
			Price:        price,
			Level:        prev.Low,
			ChangePct:    (price - prev.Low) / prev.Low * 100,
			PrevOpenTime: prev.OpenTime,
		}, true
	}
	return Breakout{}, false
}
