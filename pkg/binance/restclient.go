package binance

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"candlealert/pkg/market"

	gobinance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RESTClient fetches historical klines for backfill.
type RESTClient struct {
	client      *gobinance.Client
	limiter     *rate.Limiter
	maxAttempts int
	logger      *zap.Logger

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

// NewRESTClient creates a public-data client. rps <= 0 disables pacing.
func NewRESTClient(baseURL string, timeout time.Duration, rps float64, maxAttempts int, logger *zap.Logger) *RESTClient {
	c := gobinance.NewClient("", "")
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	c.HTTPClient = &http.Client{Timeout: timeout}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	return &RESTClient{
		client:      c,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: maxAttempts,
		logger:      logger,
		wait:        sleepCtx,
		now:         time.Now,
	}
}

// Klines fetches the latest limit candles of one series (max 1000 per call).
// Failed attempts are retried after 1s, 2s, 4s, ...
func (c *RESTClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		rows, err := c.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err == nil {
			return ToCandles(symbol, interval, rows, c.now())
		}
		lastErr = err

		if attempt == c.maxAttempts || ctx.Err() != nil {
			break
		}

		delay := time.Duration(1<<(attempt-1)) * time.Second
		c.logger.Warn("klines request failed, retrying",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if err := c.wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("klines %s %s failed after %d attempts: %w", symbol, interval, c.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
