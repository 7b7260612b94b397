package indicator

import (
	"testing"

	"candlealert/pkg/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs = int64(3_600_000)

func defaultParams() DivergenceParams {
	return DivergenceParams{
		RSIPeriod:     14,
		Left:          5,
		Right:         5,
		RangeMin:      5,
		RangeMax:      60,
		BullishRSIMax: 40,
		BearishRSIMin: 60,
		History:       50,
		Lookback:      80,
	}
}

// valleyCandles yields 31 closed 1h candles whose RSI has a single pivot low
// at index 25 (close 89, low 88, RSI 25.06).
func valleyCandles() []market.Candle {
	closes := alternating(20)
	closes = append(closes, 99, 97, 95, 93, 91, 89, 91, 93, 95, 97, 99)

	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Symbol:   "BTCUSDT",
			Interval: "1h",
			OpenTime: int64(i) * hourMs,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			IsClosed: true,
		}
	}
	return out
}

func withPrevBullish(tr *DivergenceTracker, p Pivot) {
	tr.get(market.SeriesKey("BTCUSDT", "1h")).bullish.Push(p)
}

// go test -v --run TestDetectDivergence
func TestDetectDivergence(t *testing.T) {
	p := defaultParams()

	assert.True(t, DetectDivergence(Bullish, 90, 30, 95, 25, p))
	assert.False(t, DetectDivergence(Bullish, 95, 30, 95, 25, p), "equal price")
	assert.False(t, DetectDivergence(Bullish, 90, 25, 95, 25, p), "equal rsi")
	assert.False(t, DetectDivergence(Bullish, 90, 40, 95, 25, p), "rsi at max")
	assert.False(t, DetectDivergence(Bullish, 90, 30, 95, 40, p), "prev rsi at max")

	assert.True(t, DetectDivergence(Bearish, 110, 70, 100, 75, p))
	assert.False(t, DetectDivergence(Bearish, 110, 60, 100, 75, p), "rsi at min")
	assert.False(t, DetectDivergence(Bearish, 100, 70, 100, 75, p), "equal price")
	assert.False(t, DetectDivergence(Bearish, 110, 76, 100, 75, p), "rsi higher")
}

// go test -v --run TestDivergenceFirstPivotOnlyRecords
func TestDivergenceFirstPivotOnlyRecords(t *testing.T) {
	tr := NewDivergenceTracker(defaultParams())

	_, ok := tr.Process("BTCUSDT", "1h", valleyCandles())
	assert.False(t, ok)

	pivots := tr.Pivots("BTCUSDT", "1h", Bullish)
	require.Len(t, pivots, 1)
	assert.Equal(t, int64(25), pivots[0].Bar)
	assert.Equal(t, 88.0, pivots[0].Price)
	assert.Equal(t, 25.06, pivots[0].RSI)
	assert.Empty(t, tr.Pivots("BTCUSDT", "1h", Bearish))
}

// go test -v --run TestDivergenceWithinRange
func TestDivergenceWithinRange(t *testing.T) {
	tr := NewDivergenceTracker(defaultParams())
	withPrevBullish(tr, Pivot{Price: 95, RSI: 10, OpenTime: 10 * hourMs, Bar: 10})

	sig, ok := tr.Process("BTCUSDT", "1h", valleyCandles())
	require.True(t, ok)
	assert.Equal(t, Bullish, sig.Kind)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, int64(15), sig.Bars)
	assert.Equal(t, 88.0, sig.Price)
	assert.Equal(t, 95.0, sig.PrevPrice)
	assert.Equal(t, 25*hourMs, sig.OpenTime)

	// the same confirmation center is never evaluated twice
	_, ok = tr.Process("BTCUSDT", "1h", valleyCandles())
	assert.False(t, ok)
	assert.Len(t, tr.Pivots("BTCUSDT", "1h", Bullish), 2)
}

// go test -v --run TestDivergenceRangeGate
func TestDivergenceRangeGate(t *testing.T) {
	for _, prevBar := range []int64{22, -40} {
		tr := NewDivergenceTracker(defaultParams())
		withPrevBullish(tr, Pivot{Price: 95, RSI: 10, Bar: prevBar})

		_, ok := tr.Process("BTCUSDT", "1h", valleyCandles())
		assert.False(t, ok, "prev bar %d", prevBar)
	}
}

// go test -v --run TestDivergenceSameSignalSuppressed
func TestDivergenceSameSignalSuppressed(t *testing.T) {
	tr := NewDivergenceTracker(defaultParams())
	withPrevBullish(tr, Pivot{Price: 95, RSI: 10, Bar: 10})
	tr.get(market.SeriesKey("BTCUSDT", "1h")).last[Bullish] = lastSignal{price: 88, rsi: 25.1}

	_, ok := tr.Process("BTCUSDT", "1h", valleyCandles())
	assert.False(t, ok)
	// the pivot is still recorded
	assert.Len(t, tr.Pivots("BTCUSDT", "1h", Bullish), 2)
}

// go test -v --run TestDivergenceIgnoresOpenCandle
func TestDivergenceIgnoresOpenCandle(t *testing.T) {
	candles := valleyCandles()
	candles = append(candles, market.Candle{
		Symbol: "BTCUSDT", Interval: "1h", OpenTime: 31 * hourMs, Close: 10, Low: 9, High: 11,
	})

	tr := NewDivergenceTracker(defaultParams())
	withPrevBullish(tr, Pivot{Price: 95, RSI: 10, Bar: 10})

	sig, ok := tr.Process("BTCUSDT", "1h", candles)
	require.True(t, ok)
	assert.Equal(t, int64(25), sig.OpenTime/hourMs)
}

// go test -v --run TestDivergenceInitialize
func TestDivergenceInitialize(t *testing.T) {
	tr := NewDivergenceTracker(defaultParams())

	n := tr.Initialize("BTCUSDT", "1h", valleyCandles())
	assert.Equal(t, 1, n)

	// the newest center was consumed by the scan
	_, ok := tr.Process("BTCUSDT", "1h", valleyCandles())
	assert.False(t, ok)

	assert.Zero(t, tr.Initialize("BTCUSDT", "1h", valleyCandles()[:5]))

	removed := tr.Retain(map[string]bool{})
	assert.Equal(t, 1, removed)
	assert.Nil(t, tr.Pivots("BTCUSDT", "1h", Bullish))
}
