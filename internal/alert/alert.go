// Package alert batches accepted condition transitions, rate limits them and
// hands them to a notifier.
package alert

import (
	"fmt"
	"time"

	"candlealert/internal/condition"
	"candlealert/internal/notify"
)

type Type string

const (
	TypeRSI        Type = "RSI"
	TypeBreakout   Type = "BREAKOUT"
	TypeDivergence Type = "DIVERGENCE"
	TypeMultiTF    Type = "MULTI_TF"
)

// Reading is one timeframe of a multi-timeframe RSI alert.
type Reading = notify.Reading

// Candidate is an alert waiting for the next consolidation flush.
type Candidate struct {
	Type      Type
	Condition string
	Symbol    string
	Interval  string
	OpenTime  int64
	Price     float64

	RSI float64 // RSI, DIVERGENCE

	Level     float64 // BREAKOUT: broken prior high/low
	ChangePct float64

	PrevPrice float64 // DIVERGENCE
	PrevRSI   float64
	Bars      int64

	Readings []Reading // MULTI_TF

	ThrottleKey string
	// Transitions are committed to the tracker once the candidate leaves the queue.
	Transitions []condition.Transition
	DetectedAt  time.Time
}

// StateKeys lists the condition states this candidate commits.
func (c Candidate) StateKeys() []string {
	keys := make([]string, 0, len(c.Transitions))
	for _, t := range c.Transitions {
		keys = append(keys, t.StateKey())
	}
	return keys
}

// Item is the structured form of c sent along with the rendered text.
func (c Candidate) Item() notify.Item {
	return notify.Item{
		Type:      string(c.Type),
		Condition: c.Condition,
		Symbol:    c.Symbol,
		Interval:  c.Interval,
		OpenTime:  c.OpenTime,
		Price:     c.Price,
		RSI:       c.RSI,
		Level:     c.Level,
		ChangePct: c.ChangePct,
		PrevPrice: c.PrevPrice,
		PrevRSI:   c.PrevRSI,
		Bars:      c.Bars,
		Readings:  c.Readings,
	}
}

func RSIKey(symbol, interval, cond string) string {
	return fmt.Sprintf("RSI_%s_%s_%s", cond, symbol, interval)
}

func BreakoutKey(symbol, interval, dir string) string {
	return fmt.Sprintf("BREAKOUT_%s_%s_%s", dir, symbol, interval)
}

func DivergenceKey(symbol, interval, kind string) string {
	return fmt.Sprintf("DIVERGENCE_%s_%s_%s", kind, symbol, interval)
}

func MultiTFKey(symbol string) string {
	return "RSI_MULTI_TF_" + symbol
}
