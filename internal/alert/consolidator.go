package alert

import (
	"context"
	"sync"
	"time"

	"candlealert/internal/condition"
	"candlealert/internal/notify"

	"go.uber.org/zap"
)

// Committer receives transitions once their candidate left the queue.
type Committer interface {
	Commit(t condition.Transition)
}

// Observer is told what each flush did. Implemented by the metrics package.
type Observer interface {
	Queued(c Candidate)
	Sent(a notify.Alert, candidates int)
	Discarded(reason string, candidates int)
	DispatchFailed(err error)
	Pending(n int)
}

type nopObserver struct{}

func (nopObserver) Queued(Candidate)       {}
func (nopObserver) Sent(notify.Alert, int) {}
func (nopObserver) Discarded(string, int)  {}
func (nopObserver) DispatchFailed(error)   {}
func (nopObserver) Pending(int)            {}

type ConsolidatorConfig struct {
	Interval     time.Duration
	CleanupEvery int
	FlushTimeout time.Duration
}

// FlushResult describes what a flush did with the pending batch.
type FlushResult string

const (
	FlushEmpty     FlushResult = "empty"
	FlushSent      FlushResult = "sent"
	FlushFailed    FlushResult = "failed"
	FlushDiscarded FlushResult = "discarded"
	FlushDeferred  FlushResult = "deferred"
)

// Consolidator owns the pending queue and is the only caller of the notifier.
type Consolidator struct {
	cfg       ConsolidatorConfig
	throttler *Throttler
	tracker   Committer
	notifier  notify.Notifier
	logger    *zap.Logger
	observer  Observer
	cleanup   func()
	now       func() time.Time

	mu        sync.Mutex
	pending   []Candidate
	lastAlert time.Time
	sent      int64
}

func NewConsolidator(cfg ConsolidatorConfig, throttler *Throttler, tracker Committer, notifier notify.Notifier, logger *zap.Logger) *Consolidator {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Consolidator{
		cfg:       cfg,
		throttler: throttler,
		tracker:   tracker,
		notifier:  notifier,
		logger:    logger,
		observer:  nopObserver{},
		now:       time.Now,
	}
}

func (c *Consolidator) SetObserver(o Observer) {
	if o != nil {
		c.observer = o
	}
}

// SetCleanup installs the hook run every CleanupEvery flushes.
func (c *Consolidator) SetCleanup(fn func()) {
	c.cleanup = fn
}

func (c *Consolidator) SetClock(now func() time.Time) {
	c.now = now
}

// Add appends a candidate to the pending batch.
func (c *Consolidator) Add(cand Candidate) {
	c.mu.Lock()
	c.pending = append(c.pending, cand)
	n := len(c.pending)
	c.mu.Unlock()

	c.observer.Queued(cand)
	c.observer.Pending(n)
}

// Run consumes candidates until ctx is cancelled or in is closed, flushing on
// every tick. A last flush with a bounded timeout runs before it returns.
func (c *Consolidator) Run(ctx context.Context, in <-chan Candidate) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	flushes := 0
	for {
		select {
		case <-ctx.Done():
			c.drain(in)
			c.finalFlush()
			return nil

		case cand, ok := <-in:
			if !ok {
				c.finalFlush()
				return nil
			}
			c.Add(cand)

		case <-ticker.C:
			c.Flush(ctx)
			flushes++
			if c.cfg.CleanupEvery > 0 && flushes%c.cfg.CleanupEvery == 0 && c.cleanup != nil {
				c.cleanup()
			}
		}
	}
}

func (c *Consolidator) drain(in <-chan Candidate) {
	for {
		select {
		case cand, ok := <-in:
			if !ok {
				return
			}
			c.Add(cand)
		default:
			return
		}
	}
}

func (c *Consolidator) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
	defer cancel()

	if res := c.Flush(ctx); res != FlushEmpty {
		c.logger.Info("final flush", zap.String("result", string(res)))
	}
}

// Flush dispatches the pending batch as one alert.
func (c *Consolidator) Flush(ctx context.Context) FlushResult {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return FlushEmpty
	}

	if c.throttler.HourlyExhausted() {
		c.commit(batch)
		c.logger.Warn("hourly alert cap reached, discarding batch", zap.Int("candidates", len(batch)))
		c.observer.Discarded("hourly_cap", len(batch))
		c.observer.Pending(0)
		return FlushDiscarded
	}

	// while the breaker is tripped keep collecting so the backlog leaves as one message
	if c.throttler.ShouldConsolidate() && ctx.Err() == nil {
		c.mu.Lock()
		c.pending = append(batch, c.pending...)
		n := len(c.pending)
		c.mu.Unlock()

		c.logger.Warn("circuit breaker active, deferring batch", zap.Int("candidates", n))
		c.observer.Pending(n)
		return FlushDeferred
	}

	a := Render(batch, c.now())
	err := c.notifier.Send(ctx, a)

	// state is committed whatever the outcome: a failed alert is lost, never retried
	c.commit(batch)
	c.observer.Pending(c.Pending())

	if err != nil {
		c.logger.Error("failed to dispatch alert",
			zap.String("title", a.Title),
			zap.Int("candidates", len(batch)),
			zap.Error(err),
		)
		c.observer.DispatchFailed(err)
		return FlushFailed
	}

	keys := make([]string, 0, len(batch))
	for _, cand := range batch {
		keys = append(keys, cand.ThrottleKey)
	}
	c.throttler.Record(keys...)

	c.mu.Lock()
	c.lastAlert = c.now()
	c.sent++
	c.mu.Unlock()

	c.logger.Info("alert sent",
		zap.String("type", a.Type),
		zap.String("title", a.Title),
		zap.Int("candidates", len(batch)),
	)
	c.observer.Sent(a, len(batch))
	return FlushSent
}

func (c *Consolidator) commit(batch []Candidate) {
	for _, cand := range batch {
		for _, t := range cand.Transitions {
			c.tracker.Commit(t)
		}
	}
}

func (c *Consolidator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LastAlert returns the time of the last successful dispatch and the number sent.
func (c *Consolidator) LastAlert() (time.Time, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAlert, c.sent
}
