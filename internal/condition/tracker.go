package condition

import (
	"fmt"
	"sync"
	"time"

	"candlealert/internal/indicator"
	"candlealert/pkg/market"

	"go.uber.org/zap"
)

type Kind string

const (
	KindRSI        Kind = "RSI"
	KindBreakout   Kind = "BREAKOUT"
	KindDivergence Kind = "DIVERGENCE"
)

// Transition is an accepted change of condition that is worth an alert.
type Transition struct {
	Kind      Kind
	Symbol    string
	Interval  string
	OpenTime  int64
	Condition string
	Prev      string // "" means NONE
}

func (t Transition) Tag() Tag {
	return Tag{Symbol: t.Symbol, Interval: t.Interval, OpenTime: t.OpenTime, Condition: t.Condition}
}

// StateKey names the ConditionState the transition belongs to.
func (t Transition) StateKey() string {
	return stateKey(t.Kind, t.Symbol, t.Interval)
}

func stateKey(kind Kind, symbol, interval string) string {
	return fmt.Sprintf("%s:%s", kind, market.SeriesKey(symbol, interval))
}

type state struct {
	series market.Series

	last string
	// pending is a marked transition not yet committed by the consolidator.
	pending     string
	pendingOpen int64

	// breakout only: open time the state belongs to
	openTime int64
}

func (s *state) effective() string {
	if s.pending != "" {
		return s.pending
	}
	return s.last
}

func (s *state) reset() {
	s.last = ""
	s.pending = ""
	s.pendingOpen = 0
}

type Config struct {
	RecoveryLow  float64
	RecoveryHigh float64
	DedupTTL     time.Duration
}

// Tracker is the per-key condition state machine with per-candle dedup.
// Safe for concurrent use by the polling and consolidation tasks.
type Tracker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*state
	tags   *dedup
}

// NewTracker returns a tracker with no recorded states.
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		states: make(map[string]*state),
		tags:   newDedup(cfg.DedupTTL),
	}
}

func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) get(kind Kind, symbol, interval string) *state {
	key := stateKey(kind, symbol, interval)
	st, ok := t.states[key]
	if !ok {
		st = &state{series: market.Series{Symbol: symbol, Interval: interval}}
		t.states[key] = st
	}
	return st
}

// CheckRSI feeds one RSI reading for a closed candle. Entering the recovery
// band resets the state; a returned transition still has to be marked.
func (t *Tracker) CheckRSI(symbol, interval string, openTime int64, rsi float64, cond indicator.RSICondition) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.get(KindRSI, symbol, interval)

	if st.effective() != "" && rsi >= t.cfg.RecoveryLow && rsi <= t.cfg.RecoveryHigh {
		t.logger.Debug("rsi recovered",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.String("from", st.effective()),
			zap.Float64("rsi", rsi),
		)
		st.reset()
	}

	if !cond.Critical() {
		return Transition{}, false
	}

	tr := Transition{Kind: KindRSI, Symbol: symbol, Interval: interval, OpenTime: openTime, Condition: string(cond), Prev: st.effective()}
	if t.tags.marked(tr.Tag()) || !rsiAlertable(indicator.RSICondition(tr.Prev), cond) {
		return Transition{}, false
	}
	return tr, true
}

// rsiAlertable: NONE to anything, a side flip, or an escalation to the
// extreme band of the same side.
func rsiAlertable(prev, next indicator.RSICondition) bool {
	switch {
	case prev == "":
		return true
	case prev == next:
		return false
	case prev.Side() != next.Side():
		return true
	default:
		return next.IsExtreme() && !prev.IsExtreme()
	}
}

// CheckBreakout feeds one live-price evaluation. State resets when a new
// candle opens and whenever the price is back inside the previous range.
func (t *Tracker) CheckBreakout(symbol, interval string, openTime int64, dir indicator.BreakoutDirection, found bool) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.get(KindBreakout, symbol, interval)
	if st.openTime != openTime {
		st.reset()
		st.openTime = openTime
	}
	if !found {
		st.reset()
		return Transition{}, false
	}

	tr := Transition{Kind: KindBreakout, Symbol: symbol, Interval: interval, OpenTime: openTime, Condition: string(dir), Prev: st.effective()}
	if tr.Prev == tr.Condition || t.tags.marked(tr.Tag()) {
		return Transition{}, false
	}
	return tr, true
}

// CheckDivergence only applies per-candle dedup; the divergence tracker
// already suppresses repeated signals.
func (t *Tracker) CheckDivergence(sig indicator.DivergenceSignal) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr := Transition{Kind: KindDivergence, Symbol: sig.Symbol, Interval: sig.Interval, OpenTime: sig.OpenTime, Condition: string(sig.Kind)}
	if t.tags.marked(tr.Tag()) {
		return Transition{}, false
	}
	return tr, true
}

// Mark records the dedup tag of an enqueued transition. Until Commit the
// transition counts as the key's condition for suppression.
func (t *Tracker) Mark(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tags.mark(tr.Tag(), t.now())
	if tr.Kind == KindDivergence {
		return
	}
	st := t.get(tr.Kind, tr.Symbol, tr.Interval)
	st.pending, st.pendingOpen = tr.Condition, tr.OpenTime
}

// Marked reports whether tr's dedup tag is set.
func (t *Tracker) Marked(tr Transition) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tags.marked(tr.Tag())
}

// Commit makes tr the key's last condition. A transition whose pending slot
// was cleared by a recovery or a new candle in the meantime is ignored.
func (t *Tracker) Commit(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr.Kind == KindDivergence {
		return
	}
	st, ok := t.states[tr.StateKey()]
	if !ok || st.pending != tr.Condition || st.pendingOpen != tr.OpenTime {
		return
	}
	st.last = tr.Condition
	st.pending, st.pendingOpen = "", 0
}

// Last returns the committed condition of a key, "" for NONE.
func (t *Tracker) Last(kind Kind, symbol, interval string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.states[stateKey(kind, symbol, interval)]; ok {
		return st.last
	}
	return ""
}

// CandleOpened drops dedup tags of earlier candles of the series.
func (t *Tracker) CandleOpened(symbol, interval string, openTime int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tags.dropBefore(symbol, interval, openTime)
}

// Prune expires dedup tags older than the TTL and drops state for series
// no longer configured. A nil configured map keeps every key.
func (t *Tracker) Prune(configured map[string]bool) (tags, states int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tags = t.tags.expire(t.now())
	if configured == nil {
		return tags, 0
	}
	for k, st := range t.states {
		if !configured[st.series.Key()] {
			delete(t.states, k)
			states++
		}
	}
	return tags, states
}

type Stats struct {
	States int `json:"states"`
	Tags   int `json:"dedup_tags"`
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{States: len(t.states), Tags: len(t.tags.marks)}
}
