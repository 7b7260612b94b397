// Package notify delivers rendered alerts to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is one outgoing message, possibly merging several candidates.
type Alert struct {
	Level      Level     `json:"level"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Symbols    []string  `json:"symbols"`
	Conditions []string  `json:"conditions"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
	Items      []Item    `json:"items"`
}

// Item carries the structured fields of one merged candidate.
type Item struct {
	Type      string    `json:"type"`
	Condition string    `json:"condition"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  int64     `json:"open_time"`
	Price     float64   `json:"price,omitempty"`
	RSI       float64   `json:"rsi,omitempty"`
	Level     float64   `json:"level,omitempty"`
	ChangePct float64   `json:"change_pct,omitempty"`
	PrevPrice float64   `json:"prev_price,omitempty"`
	PrevRSI   float64   `json:"prev_rsi,omitempty"`
	Bars      int64     `json:"bars,omitempty"`
	Readings  []Reading `json:"readings,omitempty"`
}

// Reading is one timeframe of a multi-timeframe RSI alert.
type Reading struct {
	Interval  string  `json:"interval"`
	RSI       float64 `json:"rsi"`
	Condition string  `json:"condition"`
}

// Notifier is the interface for all delivery backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier only logs alerts. Used for dry runs.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.logger.Info("alert",
		zap.String("level", string(alert.Level)),
		zap.String("type", alert.Type),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.Int("count", alert.Count),
	)
	return nil
}

// Multi fans an alert out to every sink. It fails only when all sinks fail.
type Multi struct {
	sinks  []named
	logger *zap.Logger
}

type named struct {
	name string
	n    Notifier
}

func NewMulti(logger *zap.Logger) *Multi {
	return &Multi{logger: logger}
}

// Add registers a sink under name.
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.sinks = append(m.sinks, named{name: name, n: n})
	return m
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	if len(m.sinks) == 0 {
		return errors.New("no notifier configured")
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.n.Send(ctx, alert); err != nil {
			m.logger.Warn("notifier failed", zap.String("sink", s.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(errs) == len(m.sinks) {
		return errors.Join(errs...)
	}
	return nil
}
