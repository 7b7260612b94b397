package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func alternating(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i%2)
	}
	return out
}

// go test -v --run TestRSIMonotonic
func TestRSIMonotonic(t *testing.T) {
	v, ok := RSI(ramp(100, 1, 25), 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	v, ok = RSI(ramp(125, -1, 25), 14)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

// go test -v --run TestRSIFlat
func TestRSIFlat(t *testing.T) {
	v, ok := RSI(alternating(25), 14)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 40.0)
	assert.LessOrEqual(t, v, 60.0)
}

// go test -v --run TestRSIInsufficientData
func TestRSIInsufficientData(t *testing.T) {
	_, ok := RSI(ramp(100, 1, 14), 14)
	assert.False(t, ok)

	_, ok = RSI(nil, 14)
	assert.False(t, ok)

	// exactly period+1 closes is enough
	_, ok = RSI(ramp(100, 1, 15), 14)
	assert.True(t, ok)
}

// go test -v --run TestRSISeries
func TestRSISeries(t *testing.T) {
	closes := alternating(30)
	series := RSISeries(closes, 14)
	require.Len(t, series, 30)

	for i := 0; i < 14; i++ {
		assert.Nil(t, series[i], "index %d", i)
	}
	require.NotNil(t, series[14])
	assert.Equal(t, 50.0, *series[14])

	last, ok := RSI(closes, 14)
	require.True(t, ok)
	assert.Equal(t, last, *series[29])
}

// go test -v --run TestRSIRounding
func TestRSIRounding(t *testing.T) {
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.00,
	}
	v, ok := RSI(closes, 14)
	require.True(t, ok)
	// 3.34/14 average gain against 1.68/14 average loss
	assert.InDelta(t, 66.53, v, 1e-9)
}

// go test -v --run TestClassify
func TestClassify(t *testing.T) {
	th := Thresholds{Oversold: 30, Overbought: 70, ExtremeOversold: 20, ExtremeOverbought: 80}

	tests := []struct {
		rsi  float64
		want RSICondition
	}{
		{50, Normal},
		{70, Overbought},
		{79.99, Overbought},
		{80, ExtremeOverbought},
		{100, ExtremeOverbought},
		{30, Oversold},
		{20.01, Oversold},
		{20, ExtremeOversold},
		{0, ExtremeOversold},
		{30.01, Normal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.rsi, th), "rsi=%v", tt.rsi)
	}

	assert.Equal(t, 1, ExtremeOverbought.Side())
	assert.Equal(t, -1, Oversold.Side())
	assert.False(t, Normal.Critical())
	assert.True(t, ExtremeOversold.IsExtreme())
}
