package indicator

import (
	"math"
	"sync"

	"candlealert/pkg/binance"
	"candlealert/pkg/market"
)

type DivergenceKind string

const (
	Bullish DivergenceKind = "BULLISH"
	Bearish DivergenceKind = "BEARISH"
)

type DivergenceParams struct {
	RSIPeriod     int
	Left          int
	Right         int
	RangeMin      int64
	RangeMax      int64
	BullishRSIMax float64
	BearishRSIMin float64
	History       int // pivots kept per direction
	Lookback      int // bars; older pivots are dropped
}

// DetectDivergence compares a new pivot with the previous one of the same kind.
// All comparisons are strict.
func DetectDivergence(kind DivergenceKind, newPrice, newRSI, prevPrice, prevRSI float64, p DivergenceParams) bool {
	switch kind {
	case Bullish:
		return newPrice < prevPrice && newRSI > prevRSI &&
			newRSI < p.BullishRSIMax && prevRSI < p.BullishRSIMax
	case Bearish:
		return newPrice > prevPrice && newRSI < prevRSI &&
			newRSI > p.BearishRSIMin && prevRSI > p.BearishRSIMin
	}
	return false
}

type DivergenceSignal struct {
	Kind         DivergenceKind
	Symbol       string
	Interval     string
	Price        float64
	RSI          float64
	OpenTime     int64
	PrevPrice    float64
	PrevRSI      float64
	PrevOpenTime int64
	Bars         int64
}

type lastSignal struct {
	price float64 // rounded to 2dp
	rsi   float64 // rounded to 1dp
}

type divergenceState struct {
	bullish    *pivotRing
	bearish    *pivotRing
	lastCenter int64
	hasCenter  bool
	last       map[DivergenceKind]lastSignal
}

// DivergenceTracker holds pivot history per (symbol, interval) and turns newly
// confirmed pivots into divergence signals.
type DivergenceTracker struct {
	params DivergenceParams

	mu    sync.Mutex
	state map[string]*divergenceState
}

func NewDivergenceTracker(p DivergenceParams) *DivergenceTracker {
	if p.History <= 0 {
		p.History = 50
	}
	return &DivergenceTracker{
		params: p,
		state:  make(map[string]*divergenceState),
	}
}

func (t *DivergenceTracker) get(key string) *divergenceState {
	st, ok := t.state[key]
	if !ok {
		st = &divergenceState{
			bullish: newPivotRing(t.params.History),
			bearish: newPivotRing(t.params.History),
			last:    make(map[DivergenceKind]lastSignal),
		}
		t.state[key] = st
	}
	return st
}

// closedOnly strips a trailing open candle.
func closedOnly(candles []market.Candle) []market.Candle {
	if n := len(candles); n > 0 && !candles[n-1].IsClosed {
		return candles[:n-1]
	}
	return candles
}

func barOf(c market.Candle, fallback int) int64 {
	if b, ok := binance.BarIndex(c.Interval, c.OpenTime); ok {
		return b
	}
	return int64(fallback)
}

// Initialize scans history and records every confirmed pivot without emitting signals.
// It returns the number of pivots recorded.
func (t *DivergenceTracker) Initialize(symbol, interval string, candles []market.Candle) int {
	candles = closedOnly(candles)
	left, right := t.params.Left, t.params.Right
	if len(candles) < left+right+1 {
		return 0
	}

	rsi := RSISeries(market.Closes(candles), t.params.RSIPeriod)

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.get(market.SeriesKey(symbol, interval))
	n := 0
	for i := left; i < len(candles)-right; i++ {
		if IsPivotLow(rsi, i, left, right) {
			st.bullish.Push(Pivot{Price: candles[i].Low, RSI: *rsi[i], OpenTime: candles[i].OpenTime, Bar: barOf(candles[i], i)})
			n++
		}
		if IsPivotHigh(rsi, i, left, right) {
			st.bearish.Push(Pivot{Price: candles[i].High, RSI: *rsi[i], OpenTime: candles[i].OpenTime, Bar: barOf(candles[i], i)})
			n++
		}
	}
	if c := len(candles) - right - 1; c >= left {
		st.lastCenter, st.hasCenter = candles[c].OpenTime, true
	}
	return n
}

// Process tests the candle right bars before the newest closed one as a pivot
// and compares it with the previous pivot of the same kind. Each center is
// evaluated once.
func (t *DivergenceTracker) Process(symbol, interval string, candles []market.Candle) (DivergenceSignal, bool) {
	candles = closedOnly(candles)
	left, right := t.params.Left, t.params.Right
	if len(candles) < left+right+1 {
		return DivergenceSignal{}, false
	}

	center := len(candles) - right - 1
	cc := candles[center]

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.get(market.SeriesKey(symbol, interval))
	if st.hasCenter && st.lastCenter >= cc.OpenTime {
		return DivergenceSignal{}, false
	}
	st.lastCenter, st.hasCenter = cc.OpenTime, true

	rsi := RSISeries(market.Closes(candles), t.params.RSIPeriod)
	if rsi[center] == nil {
		return DivergenceSignal{}, false
	}

	bar := barOf(cc, center)
	if t.params.Lookback > 0 {
		horizon := int64(t.params.Lookback)
		if t.params.RangeMax > horizon {
			horizon = t.params.RangeMax
		}
		st.bullish.DropBefore(bar - horizon)
		st.bearish.DropBefore(bar - horizon)
	}

	var (
		sig   DivergenceSignal
		found bool
	)
	if IsPivotLow(rsi, center, left, right) {
		p := Pivot{Price: cc.Low, RSI: *rsi[center], OpenTime: cc.OpenTime, Bar: bar}
		if s, ok := t.compare(st, Bullish, st.bullish, p); ok {
			sig, found = s, true
		}
		st.bullish.Push(p)
	}
	if IsPivotHigh(rsi, center, left, right) {
		p := Pivot{Price: cc.High, RSI: *rsi[center], OpenTime: cc.OpenTime, Bar: bar}
		if s, ok := t.compare(st, Bearish, st.bearish, p); ok {
			sig, found = s, true
		}
		st.bearish.Push(p)
	}

	if found {
		sig.Symbol, sig.Interval = symbol, interval
	}
	return sig, found
}

func (t *DivergenceTracker) compare(st *divergenceState, kind DivergenceKind, ring *pivotRing, p Pivot) (DivergenceSignal, bool) {
	prev, ok := ring.Last()
	if !ok {
		return DivergenceSignal{}, false
	}

	bars := p.Bar - prev.Bar
	if bars < t.params.RangeMin || bars > t.params.RangeMax {
		return DivergenceSignal{}, false
	}
	if !DetectDivergence(kind, p.Price, p.RSI, prev.Price, prev.RSI, t.params) {
		return DivergenceSignal{}, false
	}

	ls := lastSignal{price: round(p.Price, 2), rsi: round(p.RSI, 1)}
	if st.last[kind] == ls {
		return DivergenceSignal{}, false
	}
	st.last[kind] = ls

	return DivergenceSignal{
		Kind:         kind,
		Price:        p.Price,
		RSI:          p.RSI,
		OpenTime:     p.OpenTime,
		PrevPrice:    prev.Price,
		PrevRSI:      prev.RSI,
		PrevOpenTime: prev.OpenTime,
		Bars:         bars,
	}, true
}

// Pivots returns the recorded pivots of one kind, oldest first.
func (t *DivergenceTracker) Pivots(symbol, interval string, kind DivergenceKind) []Pivot {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[market.SeriesKey(symbol, interval)]
	if !ok {
		return nil
	}
	if kind == Bullish {
		return st.bullish.Slice()
	}
	return st.bearish.Slice()
}

// Retain drops state for keys not in keep.
func (t *DivergenceTracker) Retain(keep map[string]bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for k := range t.state {
		if !keep[k] {
			delete(t.state, k)
			n++
		}
	}
	return n
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
