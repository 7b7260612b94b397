package alert

import (
	"fmt"
	"sync"
	"time"
)

type ThrottleConfig struct {
	MaxPerHour     int
	MaxPerMinute   int
	CircuitBreaker bool
}

// Throttler enforces the global hourly cap and the per-minute circuit breaker.
type Throttler struct {
	cfg ThrottleConfig
	now func() time.Time

	mu     sync.Mutex
	global *Window
	perKey map[string]*Window
}

// NewThrottler returns a throttler with empty history and a closed breaker.
func NewThrottler(cfg ThrottleConfig) *Throttler {
	capacity := windowCapacity
	if cfg.MaxPerHour > capacity {
		capacity = cfg.MaxPerHour
	}
	return &Throttler{
		cfg:    cfg,
		now:    time.Now,
		global: NewWindow(capacity),
		perKey: make(map[string]*Window),
	}
}

func (t *Throttler) SetClock(now func() time.Time) {
	t.now = now
}

// CanSend reports whether an alert for key may go out now, and why not.
func (t *Throttler) CanSend(key string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if hourly := t.global.CountSince(now.Add(-time.Hour)); hourly >= t.cfg.MaxPerHour {
		return false, fmt.Sprintf("hourly limit reached (%d/%d)", hourly, t.cfg.MaxPerHour)
	}
	if t.cfg.CircuitBreaker {
		if minute := t.global.CountSince(now.Add(-time.Minute)); minute >= t.cfg.MaxPerMinute {
			return false, fmt.Sprintf("circuit breaker active (%d/%d)", minute, t.cfg.MaxPerMinute)
		}
	}
	return true, ""
}

// Record charges one global event plus one event per key.
func (t *Throttler) Record(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.global.Add(now)
	for _, k := range keys {
		w, ok := t.perKey[k]
		if !ok {
			w = NewWindow(windowCapacity)
			t.perKey[k] = w
		}
		w.Add(now)
	}
}

func (t *Throttler) HourlyExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global.CountSince(t.now().Add(-time.Hour)) >= t.cfg.MaxPerHour
}

// ShouldConsolidate reports whether the circuit breaker is tripped.
func (t *Throttler) ShouldConsolidate() bool {
	if !t.cfg.CircuitBreaker {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global.CountSince(t.now().Add(-time.Minute)) >= t.cfg.MaxPerMinute
}

type ThrottleStats struct {
	LastMinute    int  `json:"alerts_last_minute"`
	LastHour      int  `json:"alerts_last_hour"`
	MaxPerHour    int  `json:"max_per_hour"`
	MaxPerMinute  int  `json:"max_per_minute"`
	BreakerActive bool `json:"circuit_breaker_active"`
	Keys          int  `json:"keys"`
}

func (t *Throttler) Stats() ThrottleStats {
	t.mu.Lock()
	now := t.now()
	s := ThrottleStats{
		LastMinute:   t.global.CountSince(now.Add(-time.Minute)),
		LastHour:     t.global.CountSince(now.Add(-time.Hour)),
		MaxPerHour:   t.cfg.MaxPerHour,
		MaxPerMinute: t.cfg.MaxPerMinute,
		Keys:         len(t.perKey),
	}
	t.mu.Unlock()

	s.BreakerActive = t.cfg.CircuitBreaker && s.LastMinute >= s.MaxPerMinute
	return s
}

// KeyCount returns how many alerts went out for key in the last hour.
func (t *Throttler) KeyCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.perKey[key]; ok {
		return w.CountSince(t.now().Add(-time.Hour))
	}
	return 0
}

// Prune drops per-key windows without events in the last hour.
func (t *Throttler) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-time.Hour)
	n := 0
	for k, w := range t.perKey {
		if last, ok := w.Latest(); !ok || !last.After(cutoff) {
			delete(t.perKey, k)
			n++
		}
	}
	return n
}
