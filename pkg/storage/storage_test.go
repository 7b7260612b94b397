package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"candlealert/pkg/market"
	"candlealert/pkg/storage"
	"candlealert/pkg/storage/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newStore(t *testing.T) (*storage.CandleStore, *memstore.Store, *fakeClock) {
	t.Helper()
	repo := memstore.New()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := storage.NewCandleStore(repo, 10*time.Second, zap.NewNop())
	s.SetClock(clock.now)
	return s, repo, clock
}

func open(closePrice float64) market.Candle {
	return market.Candle{Symbol: "BTCUSDT", Interval: "1m", OpenTime: 60_000, CloseTime: 119_999, Close: closePrice}
}

// go test -v --run TestUpsertThrottlesOpenCandle
func TestUpsertThrottlesOpenCandle(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	stored, err := s.Upsert(ctx, open(1))
	require.NoError(t, err)
	assert.True(t, stored)

	clock.advance(5 * time.Second)
	res, err := s.UpsertResult(ctx, open(2))
	require.NoError(t, err)
	assert.Equal(t, storage.Throttled, res)

	got, _, err := s.Latest(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Close)

	clock.advance(6 * time.Second)
	stored, err = s.Upsert(ctx, open(3))
	require.NoError(t, err)
	assert.True(t, stored)
}

// go test -v --run TestUpsertAlwaysWritesClose
func TestUpsertAlwaysWritesClose(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, open(1))
	require.NoError(t, err)

	clock.advance(time.Second)
	c := open(7)
	c.IsClosed = true
	stored, err := s.Upsert(ctx, c)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok, err := s.LatestClosed(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, got.Close)
	assert.Zero(t, s.PruneThrottle(0))
}

type brokenRepo struct{ *memstore.Store }

func (brokenRepo) SaveCandle(context.Context, market.Candle) error { return errors.New("disk full") }

// go test -v --run TestUpsertReportsFailure
func TestUpsertReportsFailure(t *testing.T) {
	s := storage.NewCandleStore(brokenRepo{memstore.New()}, 10*time.Second, zap.NewNop())

	res, err := s.UpsertResult(context.Background(), open(1))
	assert.Error(t, err)
	assert.Equal(t, storage.Failed, res)

	// a failed write must not start the throttle window
	res, _ = s.UpsertResult(context.Background(), open(1))
	assert.Equal(t, storage.Failed, res)
}

// go test -v --run TestCleanupRetention
func TestCleanupRetention(t *testing.T) {
	s, repo, clock := newStore(t)
	ctx := context.Background()

	day := int64(24 * time.Hour / time.Millisecond)
	base := clock.now().UnixMilli()
	for i := int64(0); i < 10; i++ {
		require.NoError(t, repo.SaveCandle(ctx, market.Candle{
			Symbol: "BTCUSDT", Interval: "1d", OpenTime: base - (100-i)*day, IsClosed: true,
		}))
	}
	for i := int64(0); i < 3; i++ {
		require.NoError(t, repo.SaveCandle(ctx, market.Candle{
			Symbol: "BTCUSDT", Interval: "1d", OpenTime: base - i*day, IsClosed: true,
		}))
	}

	series := []market.Series{{Symbol: "BTCUSDT", Interval: "1d"}}
	deleted, err := s.Cleanup(ctx, series, 90*24*time.Hour, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(8), deleted)
	assert.Equal(t, 5, repo.CountAll())
}
