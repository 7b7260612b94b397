package condition

import (
	"testing"
	"time"

	"candlealert/internal/indicator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var thresholds = indicator.Thresholds{Oversold: 30, Overbought: 70, ExtremeOversold: 20, ExtremeOverbought: 80}

func newTracker() *Tracker {
	return NewTracker(Config{RecoveryLow: 35, RecoveryHigh: 65, DedupTTL: time.Hour}, zap.NewNop())
}

// feed runs closed-candle RSI readings through the tracker, committing every
// transition as a successful flush would, and returns the alerted conditions.
func feed(tr *Tracker, readings ...float64) []string {
	var alerted []string
	for i, rsi := range readings {
		t, ok := tr.CheckRSI("BTCUSDT", "4h", int64(i+1)*1000, rsi, indicator.Classify(rsi, thresholds))
		if !ok {
			continue
		}
		tr.Mark(t)
		tr.Commit(t)
		alerted = append(alerted, t.Condition)
	}
	return alerted
}

// go test -v --run TestRecoveryZone
func TestRecoveryZone(t *testing.T) {
	// 68 and 66 stay above the band: the second breach is suppressed
	assert.Equal(t, []string{"OVERBOUGHT"}, feed(newTracker(), 76, 68, 66, 72))

	// 60 is inside the band: state resets and 72 alerts again
	assert.Equal(t, []string{"OVERBOUGHT", "OVERBOUGHT"}, feed(newTracker(), 76, 60, 72))

	// the band is inclusive
	assert.Equal(t, []string{"OVERBOUGHT", "OVERBOUGHT"}, feed(newTracker(), 76, 65, 72))
	assert.Equal(t, []string{"OVERSOLD", "OVERSOLD"}, feed(newTracker(), 25, 35, 28))
}

// go test -v --run TestOppositeAndEscalation
func TestOppositeAndEscalation(t *testing.T) {
	// side flip without recovery is a new transition
	assert.Equal(t, []string{"OVERBOUGHT", "OVERSOLD"}, feed(newTracker(), 75, 25))

	// escalation alerts, de-escalation back to the milder band does not
	assert.Equal(t, []string{"OVERBOUGHT", "EXTREME_OVERBOUGHT"}, feed(newTracker(), 72, 85, 74, 86))

	// normal readings outside the band never alert nor reset
	assert.Equal(t, []string{"OVERSOLD"}, feed(newTracker(), 25, 32, 33, 29))
}

// go test -v --run TestSameCandleDedup
func TestSameCandleDedup(t *testing.T) {
	tr := newTracker()

	first, ok := tr.CheckRSI("BTCUSDT", "1h", 1000, 75, indicator.Overbought)
	require.True(t, ok)
	assert.Equal(t, "", first.Prev)
	tr.Mark(first)

	// re-evaluation before the consolidator committed: blocked by the tag and the pending slot
	_, ok = tr.CheckRSI("BTCUSDT", "1h", 1000, 75, indicator.Overbought)
	assert.False(t, ok)
	assert.True(t, tr.Marked(first))

	// even a state reset cannot re-open the same tuple
	_, ok = tr.CheckRSI("BTCUSDT", "1h", 1000, 50, indicator.Normal)
	assert.False(t, ok)
	_, ok = tr.CheckRSI("BTCUSDT", "1h", 1000, 75, indicator.Overbought)
	assert.False(t, ok)
}

// go test -v --run TestCommitAfterRecoveryIsIgnored
func TestCommitAfterRecoveryIsIgnored(t *testing.T) {
	tr := newTracker()

	first, ok := tr.CheckRSI("BTCUSDT", "1h", 1000, 75, indicator.Overbought)
	require.True(t, ok)
	tr.Mark(first)

	_, ok = tr.CheckRSI("BTCUSDT", "1h", 2000, 50, indicator.Normal)
	assert.False(t, ok)

	tr.Commit(first)
	assert.Equal(t, "", tr.Last(KindRSI, "BTCUSDT", "1h"))
}

// go test -v --run TestBreakoutStates
func TestBreakoutStates(t *testing.T) {
	tr := newTracker()

	b, ok := tr.CheckBreakout("ETHUSDT", "1d", 100, indicator.Bull, true)
	require.True(t, ok)
	tr.Mark(b)
	tr.Commit(b)

	// persisting breakout is suppressed
	_, ok = tr.CheckBreakout("ETHUSDT", "1d", 100, indicator.Bull, true)
	assert.False(t, ok)

	// back in range resets, but the per-candle tag still blocks a second BULL
	_, ok = tr.CheckBreakout("ETHUSDT", "1d", 100, "", false)
	assert.False(t, ok)
	assert.Equal(t, "", tr.Last(KindBreakout, "ETHUSDT", "1d"))
	_, ok = tr.CheckBreakout("ETHUSDT", "1d", 100, indicator.Bull, true)
	assert.False(t, ok)

	// the opposite direction in the same candle is new
	bear, ok := tr.CheckBreakout("ETHUSDT", "1d", 100, indicator.Bear, true)
	require.True(t, ok)
	tr.Mark(bear)
	tr.Commit(bear)

	// a new candle starts clean
	tr.CandleOpened("ETHUSDT", "1d", 200)
	b, ok = tr.CheckBreakout("ETHUSDT", "1d", 200, indicator.Bull, true)
	require.True(t, ok)
	assert.Equal(t, "", b.Prev)
}

// go test -v --run TestDivergenceDedup
func TestDivergenceDedup(t *testing.T) {
	tr := newTracker()
	sig := indicator.DivergenceSignal{Kind: indicator.Bullish, Symbol: "BTCUSDT", Interval: "1d", OpenTime: 5}

	d, ok := tr.CheckDivergence(sig)
	require.True(t, ok)
	assert.Equal(t, KindDivergence, d.Kind)
	tr.Mark(d)
	tr.Commit(d)

	_, ok = tr.CheckDivergence(sig)
	assert.False(t, ok)
}

// go test -v --run TestPrune
func TestPrune(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTracker()
	tr.SetClock(func() time.Time { return now })

	a, _ := tr.CheckRSI("BTCUSDT", "1h", 1000, 75, indicator.Overbought)
	tr.Mark(a)
	b, _ := tr.CheckRSI("ETHUSDT", "1h", 1000, 25, indicator.Oversold)
	tr.Mark(b)
	assert.Equal(t, Stats{States: 2, Tags: 2}, tr.Stats())

	now = now.Add(30 * time.Minute)
	tags, states := tr.Prune(nil)
	assert.Zero(t, tags)
	assert.Zero(t, states)

	now = now.Add(31 * time.Minute)
	tags, states = tr.Prune(map[string]bool{"BTCUSDT_1h": true})
	assert.Equal(t, 2, tags)
	assert.Equal(t, 1, states)
	assert.Equal(t, Stats{States: 1, Tags: 0}, tr.Stats())
}

// go test -v --run TestCandleOpenedDropsOlderTags
func TestCandleOpenedDropsOlderTags(t *testing.T) {
	tr := newTracker()
	a, _ := tr.CheckRSI("BTCUSDT", "1h", 1000, 75, indicator.Overbought)
	tr.Mark(a)

	assert.Zero(t, tr.CandleOpened("BTCUSDT", "1h", 1000))
	assert.Equal(t, 1, tr.CandleOpened("BTCUSDT", "1h", 2000))
	assert.False(t, tr.Marked(a))
}
