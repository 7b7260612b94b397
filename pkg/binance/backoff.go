package binance

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff yields exponentially growing reconnect delays with multiplicative jitter.
// The un-jittered delay starts at Initial, doubles per call and is capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64 // 0.2 means the returned delay lies within ±20% of the base

	mu      sync.Mutex
	current time.Duration
	rng     *rand.Rand
}

// NewBackoff builds a Backoff; zero values fall back to 1s / 30s / 0.2.
func NewBackoff(initial, max time.Duration, jitter float64) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = 30 * time.Second
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0.2
	}
	return &Backoff{
		Initial: initial,
		Max:     max,
		Jitter:  jitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to wait before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == 0 {
		b.current = b.Initial
	}
	base := b.current

	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}

	factor := 1 + b.Jitter*(2*b.rng.Float64()-1)
	return time.Duration(float64(base) * factor)
}

// Reset puts the schedule back at Initial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}

// Base reports the un-jittered delay the next call to Next will use.
func (b *Backoff) Base() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == 0 {
		return b.Initial
	}
	return b.current
}
