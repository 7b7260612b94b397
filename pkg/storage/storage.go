package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"candlealert/pkg/market"

	"go.uber.org/zap"
)

// Repository is the persistence backend behind a CandleStore.
// Implementations must make every call a short atomic operation.
type Repository interface {
	// SaveCandle inserts or overwrites the OHLCV fields of (symbol, interval, open_time).
	// A stored closed candle is never modified again.
	SaveCandle(ctx context.Context, c market.Candle) error
	Latest(ctx context.Context, symbol, interval string) (market.Candle, bool, error)
	// Recent returns up to limit newest candles, oldest first.
	Recent(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	// Range returns candles with from <= open_time <= to, oldest first.
	Range(ctx context.Context, symbol, interval string, from, to int64) ([]market.Candle, error)
	// PreviousClosed returns the newest closed candle with open_time < before.
	PreviousClosed(ctx context.Context, symbol, interval string, before int64) (market.Candle, bool, error)
	// DeleteBefore removes candles older than cutoff while keeping at least keep newest rows.
	DeleteBefore(ctx context.Context, symbol, interval string, cutoff int64, keep int) (int64, error)
}

// UpsertResult explains what Upsert did with a candle.
type UpsertResult int

const (
	Stored UpsertResult = iota
	Throttled
	Failed
)

func (r UpsertResult) String() string {
	switch r {
	case Stored:
		return "stored"
	case Throttled:
		return "throttled"
	default:
		return "failed"
	}
}

// CandleStore is the only owner of persisted candles. It throttles writes of
// in-progress candles and always persists the closing update.
type CandleStore struct {
	repo         Repository
	openInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.Mutex
	lastWrite map[string]time.Time // key: symbol_interval_opentime
}

// NewCandleStore wraps repo. openInterval is the minimum spacing between
// persisted updates of the same open candle.
func NewCandleStore(repo Repository, openInterval time.Duration, logger *zap.Logger) *CandleStore {
	return &CandleStore{
		repo:         repo,
		openInterval: openInterval,
		logger:       logger,
		now:          time.Now,
		lastWrite:    make(map[string]time.Time),
	}
}

// SetClock overrides the store clock.
func (s *CandleStore) SetClock(now func() time.Time) {
	s.now = now
}

func throttleKey(c market.Candle) string {
	return fmt.Sprintf("%s_%s_%d", c.Symbol, c.Interval, c.OpenTime)
}

// Upsert persists c unless it is an open-candle update arriving within the
// throttle interval of the previous write for the same key. A persistence
// error is logged and reported as stored=false.
func (s *CandleStore) Upsert(ctx context.Context, c market.Candle) (bool, error) {
	res, err := s.UpsertResult(ctx, c)
	return res == Stored, err
}

// UpsertResult is Upsert with the reason for a skipped write.
func (s *CandleStore) UpsertResult(ctx context.Context, c market.Candle) (UpsertResult, error) {
	key := throttleKey(c)
	now := s.now()

	if !c.IsClosed {
		s.mu.Lock()
		last, ok := s.lastWrite[key]
		if ok && now.Sub(last) < s.openInterval {
			s.mu.Unlock()
			return Throttled, nil
		}
		s.mu.Unlock()
	}

	if err := s.repo.SaveCandle(ctx, c); err != nil {
		s.logger.Warn("failed to upsert candle",
			zap.String("symbol", c.Symbol),
			zap.String("interval", c.Interval),
			zap.Int64("open_time", c.OpenTime),
			zap.Bool("closed", c.IsClosed),
			zap.Error(err),
		)
		return Failed, fmt.Errorf("upsert %s: %w", key, err)
	}

	s.mu.Lock()
	if c.IsClosed {
		delete(s.lastWrite, key)
	} else {
		s.lastWrite[key] = now
	}
	s.mu.Unlock()

	return Stored, nil
}

// Latest returns the newest candle of a series, open or closed.
func (s *CandleStore) Latest(ctx context.Context, symbol, interval string) (market.Candle, bool, error) {
	return s.repo.Latest(ctx, symbol, interval)
}

// Recent returns up to limit newest candles, oldest first.
func (s *CandleStore) Recent(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return s.repo.Recent(ctx, symbol, interval, limit)
}

// GetRange returns candles with from <= open_time <= to, oldest first.
func (s *CandleStore) GetRange(ctx context.Context, symbol, interval string, from, to int64) ([]market.Candle, error) {
	return s.repo.Range(ctx, symbol, interval, from, to)
}

// GetPreviousClosed returns the newest closed candle strictly before openTime.
func (s *CandleStore) GetPreviousClosed(ctx context.Context, symbol, interval string, openTime int64) (market.Candle, bool, error) {
	return s.repo.PreviousClosed(ctx, symbol, interval, openTime)
}

// LatestClosed returns the newest closed candle of a series.
func (s *CandleStore) LatestClosed(ctx context.Context, symbol, interval string) (market.Candle, bool, error) {
	return s.repo.PreviousClosed(ctx, symbol, interval, math.MaxInt64)
}

// Cleanup deletes candles older than retention while keeping at least minKeep
// newest candles per series. It returns the number of deleted rows.
func (s *CandleStore) Cleanup(ctx context.Context, series []market.Series, retention time.Duration, minKeep int) (int64, error) {
	cutoff := s.now().Add(-retention).UnixMilli()

	var total int64
	for _, ser := range series {
		n, err := s.repo.DeleteBefore(ctx, ser.Symbol, ser.Interval, cutoff, minKeep)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", ser.Key(), err)
		}
		if n > 0 {
			s.logger.Info("deleted old candles",
				zap.String("symbol", ser.Symbol),
				zap.String("interval", ser.Interval),
				zap.Int64("deleted", n),
			)
		}
		total += n
	}

	// throttle entries of candles that never closed (e.g. stream gaps)
	s.mu.Lock()
	for k, t := range s.lastWrite {
		if s.now().Sub(t) > retention {
			delete(s.lastWrite, k)
		}
	}
	s.mu.Unlock()

	return total, nil
}

// PruneThrottle drops throttle entries older than maxAge.
func (s *CandleStore) PruneThrottle(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, t := range s.lastWrite {
		if now.Sub(t) > maxAge {
			delete(s.lastWrite, k)
			n++
		}
	}
	return n
}
