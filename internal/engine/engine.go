// Package engine polls the candle store, evaluates indicators on changed
// series and queues accepted condition transitions as alert candidates.
package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"candlealert/config"
	"candlealert/internal/alert"
	"candlealert/internal/condition"
	"candlealert/internal/indicator"
	"candlealert/pkg/market"

	"go.uber.org/zap"
)

// Store is the read side of the candle store used by the engine.
type Store interface {
	Latest(ctx context.Context, symbol, interval string) (market.Candle, bool, error)
	LatestClosed(ctx context.Context, symbol, interval string) (market.Candle, bool, error)
	Recent(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	GetPreviousClosed(ctx context.Context, symbol, interval string, openTime int64) (market.Candle, bool, error)
}

type Observer interface {
	Evaluated(d time.Duration)
	Throttled(reason string)
}

type nopObserver struct{}

func (nopObserver) Evaluated(time.Duration) {}
func (nopObserver) Throttled(string)        {}

// cursor remembers the last candle seen for a series.
type cursor struct {
	openTime   int64
	close      float64
	closed     bool
	lastClosed int64
}

type Engine struct {
	cfg        *config.Config
	series     []market.Series
	thresholds indicator.Thresholds

	store      Store
	tracker    *condition.Tracker
	divergence *indicator.DivergenceTracker
	throttler  *alert.Throttler
	observer   Observer
	logger     *zap.Logger
	now        func() time.Time

	// owned by the polling goroutine
	cursors  map[string]*cursor
	readings map[string]alert.Reading
}

func New(cfg *config.Config, store Store, tracker *condition.Tracker, div *indicator.DivergenceTracker, throttler *alert.Throttler, logger *zap.Logger) *Engine {
	rsi := cfg.Indicators.RSI
	return &Engine{
		cfg:    cfg,
		series: cfg.Series(),
		thresholds: indicator.Thresholds{
			Oversold:          rsi.Oversold,
			Overbought:        rsi.Overbought,
			ExtremeOversold:   rsi.ExtremeOversold,
			ExtremeOverbought: rsi.ExtremeOverbought,
		},
		store:      store,
		tracker:    tracker,
		divergence: div,
		throttler:  throttler,
		observer:   nopObserver{},
		logger:     logger,
		now:        time.Now,
		cursors:    make(map[string]*cursor),
		readings:   make(map[string]alert.Reading),
	}
}

// DivergenceParams maps the divergence configuration onto tracker parameters.
func DivergenceParams(cfg *config.Config) indicator.DivergenceParams {
	d := cfg.Indicators.Divergence
	return indicator.DivergenceParams{
		RSIPeriod:     cfg.Indicators.RSI.Period,
		Left:          d.PivotLeft,
		Right:         d.PivotRight,
		RangeMin:      int64(d.RangeMin),
		RangeMax:      int64(d.RangeMax),
		BullishRSIMax: d.BullishRSIMax,
		BearishRSIMin: d.BearishRSIMin,
		History:       d.PivotHistory,
		Lookback:      d.Lookback,
	}
}

func (e *Engine) SetObserver(o Observer) {
	if o != nil {
		e.observer = o
	}
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Configured returns the keys of every configured series.
func (e *Engine) Configured() map[string]bool {
	keys := make(map[string]bool, len(e.series))
	for _, s := range e.series {
		keys[s.Key()] = true
	}
	return keys
}

func (e *Engine) rsiOn(interval string) bool {
	return e.cfg.Indicators.RSI.Enabled && config.Contains(e.cfg.Indicators.RSI.Timeframes, interval)
}

func (e *Engine) breakoutOn(interval string) bool {
	return e.cfg.Indicators.Breakout.Enabled && config.Contains(e.cfg.Indicators.Breakout.Timeframes, interval)
}

func (e *Engine) divergenceOn(interval string) bool {
	return e.cfg.Indicators.Divergence.Enabled && config.Contains(e.cfg.Indicators.Divergence.Timeframes, interval)
}

// Initialize seeds the divergence tracker with pivots already present in the
// stored history so the first live pivot has something to compare against.
func (e *Engine) Initialize(ctx context.Context) error {
	for _, s := range e.series {
		if !e.divergenceOn(s.Interval) {
			continue
		}
		candles, err := e.store.Recent(ctx, s.Symbol, s.Interval, e.cfg.Indicators.Divergence.Lookback+1)
		if err != nil {
			return err
		}
		n := e.divergence.Initialize(s.Symbol, s.Interval, candles)
		e.logger.Info("divergence history loaded",
			zap.String("symbol", s.Symbol),
			zap.String("interval", s.Interval),
			zap.Int("candles", len(candles)),
			zap.Int("pivots", n),
		)
	}
	return nil
}

// Run evaluates every poll interval and sends accepted candidates on out
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, out chan<- alert.Candidate) error {
	ticker := time.NewTicker(e.cfg.Alerts.PollInterval)
	defer ticker.Stop()

	for {
		for _, c := range e.Evaluate(ctx) {
			select {
			case out <- c:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Evaluate runs one polling cycle and returns the candidates that passed
// the throttler pre-check. Their transitions are already marked.
func (e *Engine) Evaluate(ctx context.Context) []alert.Candidate {
	start := time.Now()
	defer func() { e.observer.Evaluated(time.Since(start)) }()

	var (
		out []alert.Candidate
		rsi = map[string][]alert.Candidate{} // symbol -> new RSI transitions
	)

	for _, s := range e.series {
		if ctx.Err() != nil {
			return nil
		}
		cands, rsiCand := e.evaluateSeries(ctx, s)
		out = append(out, cands...)
		if rsiCand != nil {
			rsi[s.Symbol] = append(rsi[s.Symbol], *rsiCand)
		}
	}

	symbols := make([]string, 0, len(rsi))
	for sym := range rsi {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		if m, ok := e.multiTF(sym, rsi[sym]); ok {
			out = append(out, m)
			continue
		}
		out = append(out, rsi[sym]...)
	}

	admitted := out[:0]
	for _, c := range out {
		if e.admit(c) {
			admitted = append(admitted, c)
		}
	}
	return admitted
}

func (e *Engine) evaluateSeries(ctx context.Context, s market.Series) ([]alert.Candidate, *alert.Candidate) {
	key := s.Key()
	latest, ok, err := e.store.Latest(ctx, s.Symbol, s.Interval)
	if err != nil {
		e.logger.Warn("failed to read latest candle", zap.String("series", key), zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	cur, seen := e.cursors[key]
	if !seen {
		cur = &cursor{lastClosed: math.MinInt64}
		e.cursors[key] = cur
	}
	if latest.OpenTime < cur.openTime {
		return nil, nil
	}
	if latest.OpenTime > cur.openTime && seen {
		e.tracker.CandleOpened(s.Symbol, s.Interval, latest.OpenTime)
	}

	changed := !seen || latest.OpenTime != cur.openTime || latest.Close != cur.close || latest.IsClosed != cur.closed
	cur.openTime, cur.close, cur.closed = latest.OpenTime, latest.Close, latest.IsClosed

	var (
		cands   []alert.Candidate
		rsiCand *alert.Candidate
	)

	if changed && e.breakoutOn(s.Interval) {
		if c, ok := e.checkBreakout(ctx, latest); ok {
			cands = append(cands, c)
		}
	}

	closed := latest
	if !latest.IsClosed {
		closed, ok, err = e.store.GetPreviousClosed(ctx, s.Symbol, s.Interval, latest.OpenTime)
		if err != nil {
			e.logger.Warn("failed to read last closed candle", zap.String("series", key), zap.Error(err))
			return cands, nil
		}
		if !ok {
			return cands, nil
		}
	}
	if closed.OpenTime <= cur.lastClosed {
		return cands, nil
	}
	cur.lastClosed = closed.OpenTime

	if !e.rsiOn(s.Interval) && !e.divergenceOn(s.Interval) {
		return cands, nil
	}

	history, err := e.closedHistory(ctx, s, closed.OpenTime)
	if err != nil {
		e.logger.Warn("failed to read candle history", zap.String("series", key), zap.Error(err))
		return cands, nil
	}

	if e.rsiOn(s.Interval) {
		rsiCand = e.checkRSI(s, history)
	}
	if e.divergenceOn(s.Interval) {
		if c, ok := e.checkDivergence(s, history); ok {
			cands = append(cands, c)
		}
	}
	return cands, rsiCand
}

// closedHistory returns the newest closed candles up to and including openTime.
func (e *Engine) closedHistory(ctx context.Context, s market.Series, openTime int64) ([]market.Candle, error) {
	limit := e.cfg.Indicators.RSI.Lookback
	if l := e.cfg.Indicators.Divergence.Lookback; l > limit {
		limit = l
	}
	candles, err := e.store.Recent(ctx, s.Symbol, s.Interval, limit+1)
	if err != nil {
		return nil, err
	}
	for len(candles) > 0 {
		last := candles[len(candles)-1]
		if last.IsClosed && last.OpenTime <= openTime {
			break
		}
		candles = candles[:len(candles)-1]
	}
	return candles, nil
}

func (e *Engine) checkBreakout(ctx context.Context, latest market.Candle) (alert.Candidate, bool) {
	prev, ok, err := e.store.GetPreviousClosed(ctx, latest.Symbol, latest.Interval, latest.OpenTime)
	if err != nil {
		e.logger.Warn("failed to read previous candle", zap.String("series", latest.Key()), zap.Error(err))
		return alert.Candidate{}, false
	}
	if !ok {
		return alert.Candidate{}, false
	}

	b, found := indicator.CheckBreakout(prev, latest.Close, e.cfg.Indicators.Breakout.MarginPct)
	tr, ok := e.tracker.CheckBreakout(latest.Symbol, latest.Interval, latest.OpenTime, b.Direction, found)
	if !ok {
		return alert.Candidate{}, false
	}
	return alert.Candidate{
		Type:        alert.TypeBreakout,
		Condition:   tr.Condition,
		Symbol:      latest.Symbol,
		Interval:    latest.Interval,
		OpenTime:    latest.OpenTime,
		Price:       b.Price,
		Level:       b.Level,
		ChangePct:   b.ChangePct,
		ThrottleKey: alert.BreakoutKey(latest.Symbol, latest.Interval, tr.Condition),
		Transitions: []condition.Transition{tr},
		DetectedAt:  e.now(),
	}, true
}

func (e *Engine) checkRSI(s market.Series, history []market.Candle) *alert.Candidate {
	value, ok := indicator.RSI(market.Closes(history), e.cfg.Indicators.RSI.Period)
	if !ok {
		return nil
	}
	last := history[len(history)-1]
	cond := indicator.Classify(value, e.thresholds)
	e.readings[s.Key()] = alert.Reading{Interval: s.Interval, RSI: value, Condition: string(cond)}

	tr, ok := e.tracker.CheckRSI(s.Symbol, s.Interval, last.OpenTime, value, cond)
	if !ok {
		return nil
	}
	return &alert.Candidate{
		Type:        alert.TypeRSI,
		Condition:   tr.Condition,
		Symbol:      s.Symbol,
		Interval:    s.Interval,
		OpenTime:    last.OpenTime,
		Price:       last.Close,
		RSI:         value,
		ThrottleKey: alert.RSIKey(s.Symbol, s.Interval, tr.Condition),
		Transitions: []condition.Transition{tr},
		DetectedAt:  e.now(),
	}
}

func (e *Engine) checkDivergence(s market.Series, history []market.Candle) (alert.Candidate, bool) {
	sig, ok := e.divergence.Process(s.Symbol, s.Interval, history)
	if !ok {
		return alert.Candidate{}, false
	}
	tr, ok := e.tracker.CheckDivergence(sig)
	if !ok {
		return alert.Candidate{}, false
	}
	return alert.Candidate{
		Type:        alert.TypeDivergence,
		Condition:   tr.Condition,
		Symbol:      s.Symbol,
		Interval:    s.Interval,
		OpenTime:    sig.OpenTime,
		Price:       sig.Price,
		RSI:         sig.RSI,
		PrevPrice:   sig.PrevPrice,
		PrevRSI:     sig.PrevRSI,
		Bars:        sig.Bars,
		ThrottleKey: alert.DivergenceKey(s.Symbol, s.Interval, tr.Condition),
		Transitions: []condition.Transition{tr},
		DetectedAt:  e.now(),
	}, true
}

// multiTF collapses the new RSI transitions of one symbol into a single
// candidate when two or more of its timeframes are in a critical condition.
func (e *Engine) multiTF(symbol string, fresh []alert.Candidate) (alert.Candidate, bool) {
	if !e.cfg.Alerts.ConsolidateMultiTF {
		return alert.Candidate{}, false
	}

	var readings []alert.Reading
	for _, s := range e.series {
		if s.Symbol != symbol {
			continue
		}
		r, ok := e.readings[s.Key()]
		if ok && indicator.RSICondition(r.Condition).Critical() {
			readings = append(readings, r)
		}
	}
	if len(readings) < 2 {
		return alert.Candidate{}, false
	}

	c := alert.Candidate{
		Type:        alert.TypeMultiTF,
		Condition:   string(alert.TypeMultiTF),
		Symbol:      symbol,
		Readings:    readings,
		ThrottleKey: alert.MultiTFKey(symbol),
		DetectedAt:  e.now(),
	}
	intervals := make([]string, 0, len(readings))
	for _, r := range readings {
		intervals = append(intervals, r.Interval)
	}
	c.Interval = strings.Join(intervals, ",")
	for _, f := range fresh {
		c.Transitions = append(c.Transitions, f.Transitions...)
		if f.OpenTime > c.OpenTime {
			c.OpenTime, c.Price, c.RSI = f.OpenTime, f.Price, f.RSI
		}
	}
	return c, true
}

// admit runs the throttler pre-check and marks the candidate's transitions.
// A candidate dropped by the hourly cap is committed right away so the
// condition does not fire again on the next cycle. While only the circuit
// breaker is tripped the candidate is still queued for consolidation.
func (e *Engine) admit(c alert.Candidate) bool {
	ok, reason := e.throttler.CanSend(c.ThrottleKey)
	if !ok && e.throttler.HourlyExhausted() {
		for _, tr := range c.Transitions {
			e.tracker.Mark(tr)
			e.tracker.Commit(tr)
		}
		e.logger.Warn("alert throttled",
			zap.String("key", c.ThrottleKey),
			zap.String("reason", reason),
		)
		e.observer.Throttled("hourly_limit")
		return false
	}
	if !ok {
		e.logger.Debug("circuit breaker active, queueing for consolidation", zap.String("key", c.ThrottleKey))
	}

	for _, tr := range c.Transitions {
		e.tracker.Mark(tr)
	}
	e.logger.Info("alert queued",
		zap.String("type", string(c.Type)),
		zap.String("condition", c.Condition),
		zap.String("symbol", c.Symbol),
		zap.String("interval", c.Interval),
	)
	return true
}
