package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"candlealert/internal/indicator"
	"candlealert/internal/notify"
)

// Render turns one or more candidates into a single outgoing alert.
func Render(batch []Candidate, now time.Time) notify.Alert {
	a := notify.Alert{Count: len(batch), CreatedAt: now.UTC()}
	if len(batch) == 0 {
		return a
	}

	symbols := map[string]bool{}
	for _, c := range batch {
		if !symbols[c.Symbol] {
			symbols[c.Symbol] = true
			a.Symbols = append(a.Symbols, c.Symbol)
		}
		a.Conditions = append(a.Conditions, c.Condition)
		a.Items = append(a.Items, c.Item())
		if rank(level(c)) > rank(a.Level) {
			a.Level = level(c)
		}
	}

	if len(batch) == 1 {
		c := batch[0]
		a.Type = string(c.Type)
		a.Title = title(c)
		a.Message = body(c)
		return a
	}

	a.Type = "CONSOLIDATED"
	sort.Strings(a.Symbols)
	a.Title = fmt.Sprintf("%d alerts: %s", len(batch), strings.Join(a.Symbols, ", "))

	lines := make([]string, 0, len(batch))
	for _, c := range batch {
		lines = append(lines, fmt.Sprintf("%s: %s", title(c), strings.ReplaceAll(body(c), "\n", "; ")))
	}
	a.Message = strings.Join(lines, "\n")
	return a
}

func rank(l notify.Level) int {
	switch l {
	case notify.LevelCritical:
		return 3
	case notify.LevelWarning:
		return 2
	case notify.LevelInfo:
		return 1
	}
	return 0
}

func level(c Candidate) notify.Level {
	switch c.Type {
	case TypeMultiTF:
		return notify.LevelCritical
	case TypeRSI:
		if indicator.RSICondition(c.Condition).IsExtreme() {
			return notify.LevelCritical
		}
		return notify.LevelWarning
	case TypeBreakout:
		return notify.LevelWarning
	default:
		return notify.LevelInfo
	}
}

func title(c Candidate) string {
	switch c.Type {
	case TypeRSI:
		return fmt.Sprintf("RSI %s %s %s", c.Condition, c.Symbol, c.Interval)
	case TypeBreakout:
		return fmt.Sprintf("Breakout %s %s %s", c.Condition, c.Symbol, c.Interval)
	case TypeDivergence:
		return fmt.Sprintf("%s divergence %s %s", c.Condition, c.Symbol, c.Interval)
	case TypeMultiTF:
		return fmt.Sprintf("RSI multi-timeframe %s", c.Symbol)
	}
	return fmt.Sprintf("%s %s %s", c.Type, c.Symbol, c.Interval)
}

func body(c Candidate) string {
	switch c.Type {
	case TypeRSI:
		return fmt.Sprintf("RSI %.2f, price %.2f", c.RSI, c.Price)
	case TypeBreakout:
		side := "high"
		if c.Condition == string(indicator.Bear) {
			side = "low"
		}
		return fmt.Sprintf("price %.2f broke previous %s %.2f (%+.2f%%)", c.Price, side, c.Level, c.ChangePct)
	case TypeDivergence:
		return fmt.Sprintf("price %.2f vs %.2f, RSI %.1f vs %.1f, %d bars apart", c.Price, c.PrevPrice, c.RSI, c.PrevRSI, c.Bars)
	case TypeMultiTF:
		lines := make([]string, 0, len(c.Readings))
		for _, r := range c.Readings {
			lines = append(lines, fmt.Sprintf("%s %s RSI %.2f", r.Interval, r.Condition, r.RSI))
		}
		return strings.Join(lines, "\n")
	}
	return c.Condition
}
