package indicator

import "math"

// RSICondition classifies an RSI value against configured thresholds.
type RSICondition string

const (
	Normal            RSICondition = "NORMAL"
	Oversold          RSICondition = "OVERSOLD"
	Overbought        RSICondition = "OVERBOUGHT"
	ExtremeOversold   RSICondition = "EXTREME_OVERSOLD"
	ExtremeOverbought RSICondition = "EXTREME_OVERBOUGHT"
)

// Side is +1 for the overbought side, -1 for the oversold side and 0 otherwise.
func (c RSICondition) Side() int {
	switch c {
	case Overbought, ExtremeOverbought:
		return 1
	case Oversold, ExtremeOversold:
		return -1
	default:
		return 0
	}
}

func (c RSICondition) IsExtreme() bool {
	return c == ExtremeOverbought || c == ExtremeOversold
}

// Critical reports whether c is anything other than Normal.
func (c RSICondition) Critical() bool {
	return c.Side() != 0
}

// Thresholds are inclusive bounds; extreme bounds win over normal ones.
type Thresholds struct {
	Oversold          float64
	Overbought        float64
	ExtremeOversold   float64
	ExtremeOverbought float64
}

// Classify maps an RSI value to its zone under t.
func Classify(rsi float64, t Thresholds) RSICondition {
	switch {
	case rsi >= t.ExtremeOverbought:
		return ExtremeOverbought
	case rsi <= t.ExtremeOversold:
		return ExtremeOversold
	case rsi >= t.Overbought:
		return Overbought
	case rsi <= t.Oversold:
		return Oversold
	default:
		return Normal
	}
}

// RSI returns Wilder's RSI of the last close, rounded to 2 decimals.
// ok is false when fewer than period+1 closes are given.
func RSI(closes []float64, period int) (float64, bool) {
	series := RSISeries(closes, period)
	if len(series) == 0 || series[len(series)-1] == nil {
		return 0, false
	}
	return *series[len(series)-1], true
}

// RSISeries returns one RSI value per close; the first period entries are nil.
func RSISeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) *float64 {
	v := 100.0
	if avgLoss != 0 {
		v = 100 - 100/(1+avgGain/avgLoss)
	}
	v = math.Round(v*100) / 100
	return &v
}
