package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"candlealert/pkg/market"
	"candlealert/pkg/storage"

	"go.uber.org/zap"
)

// Fetcher pulls historical klines for backfill.
type Fetcher interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// Streamer delivers live kline updates until ctx is done.
type Streamer interface {
	Run(ctx context.Context, subs []market.Series, out chan<- market.Candle) error
}

// Writer persists candles.
type Writer interface {
	UpsertResult(ctx context.Context, c market.Candle) (storage.UpsertResult, error)
}

// Observer is told the result of every candle write.
type Observer interface {
	Upserted(result string)
}

type nopObserver struct{}

func (nopObserver) Upserted(string) {}

const (
	backfillWorkers = 5
	writeTimeout    = 2 * time.Second
	statsInterval   = time.Minute
)

// Collector fills the candle store: a one-shot REST backfill, then the live
// stream through a single writer goroutine.
type Collector struct {
	series        []market.Series
	backfillLimit int

	fetcher  Fetcher
	streamer Streamer
	store    Writer
	observer Observer
	logger   *zap.Logger

	stored    atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64
}

// New creates a collector for the given series.
func New(series []market.Series, backfillLimit int, fetcher Fetcher, streamer Streamer, store Writer, logger *zap.Logger) *Collector {
	return &Collector{
		series:        series,
		backfillLimit: backfillLimit,
		fetcher:       fetcher,
		streamer:      streamer,
		store:         store,
		observer:      nopObserver{},
		logger:        logger,
	}
}

// SetObserver replaces the upsert observer.
func (c *Collector) SetObserver(o Observer) {
	if o != nil {
		c.observer = o
	}
}

// Run backfills, then streams until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.Backfill(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return c.Stream(ctx)
}

// Stream feeds live candles to the store until ctx is cancelled. Candles
// already in the channel when the stream stops are still written.
func (c *Collector) Stream(ctx context.Context) error {
	ch := make(chan market.Candle, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.write(ch)
	}()

	err := c.streamer.Run(ctx, c.series, ch)
	close(ch)
	wg.Wait()

	c.logger.Info("collector stopped",
		zap.Int64("stored", c.stored.Load()),
		zap.Int64("throttled", c.throttled.Load()),
		zap.Int64("failed", c.failed.Load()),
	)
	return err
}

// Backfill fetches the latest candles of every series, five at a time, and
// returns how many were stored. Per-series failures are logged.
func (c *Collector) Backfill(ctx context.Context) int64 {
	if c.fetcher == nil || c.backfillLimit <= 0 {
		return 0
	}

	var (
		wg    sync.WaitGroup
		total atomic.Int64
		sem   = make(chan struct{}, backfillWorkers)
	)

	for _, s := range c.series {
		s := s
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return total.Load()
		}

		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			n, err := c.backfillSeries(ctx, s)
			total.Add(n)
			if err != nil {
				c.logger.Warn("backfill failed",
					zap.String("symbol", s.Symbol),
					zap.String("interval", s.Interval),
					zap.Error(err),
				)
				return
			}
			c.logger.Info("backfill completed",
				zap.String("symbol", s.Symbol),
				zap.String("interval", s.Interval),
				zap.Int64("stored", n),
			)
		}()
	}
	wg.Wait()
	return total.Load()
}

func (c *Collector) backfillSeries(ctx context.Context, s market.Series) (int64, error) {
	candles, err := c.fetcher.Klines(ctx, s.Symbol, s.Interval, c.backfillLimit)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, k := range candles {
		if c.upsert(ctx, k) == storage.Stored {
			n++
		}
	}
	return n, nil
}

func (c *Collector) upsert(ctx context.Context, k market.Candle) storage.UpsertResult {
	dbCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	res, _ := c.store.UpsertResult(dbCtx, k) // errors are logged by the store
	cancel()

	switch res {
	case storage.Stored:
		c.stored.Add(1)
	case storage.Throttled:
		c.throttled.Add(1)
	case storage.Failed:
		c.failed.Add(1)
	}
	c.observer.Upserted(res.String())
	return res
}

// write is the single consumer of the stream channel.
func (c *Collector) write(ch <-chan market.Candle) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case k, ok := <-ch:
			if !ok {
				return
			}
			// a cancelled run must not abort writes still in the channel
			c.upsert(context.Background(), k)

		case <-ticker.C:
			c.logger.Info("candle writes",
				zap.Int64("stored", c.stored.Load()),
				zap.Int64("throttled", c.throttled.Load()),
				zap.Int64("failed", c.failed.Load()),
			)
		}
	}
}

// Counts returns stored, throttled and failed write totals.
func (c *Collector) Counts() (stored, throttled, failed int64) {
	return c.stored.Load(), c.throttled.Load(), c.failed.Load()
}
