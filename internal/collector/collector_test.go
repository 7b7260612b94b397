package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"candlealert/pkg/market"
	"candlealert/pkg/storage"
	"candlealert/pkg/storage/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	fail map[string]bool
}

func (f *fakeFetcher) Klines(_ context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if f.fail[market.SeriesKey(symbol, interval)] {
		return nil, errors.New("rest unavailable")
	}
	out := make([]market.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, market.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: int64(i) * 1000,
			Close:    float64(100 + i),
			IsClosed: i < limit-1,
		})
	}
	return out, nil
}

// fakeStreamer emits its candles and then blocks until ctx is done.
type fakeStreamer struct {
	candles []market.Candle
	subs    []market.Series
}

func (f *fakeStreamer) Run(ctx context.Context, subs []market.Series, out chan<- market.Candle) error {
	f.subs = subs
	for _, c := range f.candles {
		out <- c
	}
	<-ctx.Done()
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) Upserted(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func series() []market.Series {
	return []market.Series{
		{Symbol: "BTCUSDT", Interval: "4h"},
		{Symbol: "BTCUSDT", Interval: "1d"},
		{Symbol: "ETHUSDT", Interval: "4h"},
	}
}

// go test -v --run TestBackfillStoresEverySeries
func TestBackfillStoresEverySeries(t *testing.T) {
	repo := memstore.New()
	store := storage.NewCandleStore(repo, 10*time.Second, zap.NewNop())
	fetcher := &fakeFetcher{fail: map[string]bool{"ETHUSDT_4h": true}}

	c := New(series(), 5, fetcher, nil, store, zap.NewNop())
	n := c.Backfill(context.Background())

	assert.Equal(t, int64(10), n)
	assert.Equal(t, 10, repo.CountAll())

	latest, ok, err := store.Latest(context.Background(), "BTCUSDT", "1d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, latest.IsClosed)
	assert.Equal(t, int64(4000), latest.OpenTime)
}

// go test -v --run TestRunWritesStream
func TestRunWritesStream(t *testing.T) {
	repo := memstore.New()
	store := storage.NewCandleStore(repo, time.Hour, zap.NewNop())

	open := market.Candle{Symbol: "BTCUSDT", Interval: "4h", OpenTime: 9000, Close: 1}
	streamer := &fakeStreamer{candles: []market.Candle{
		open,
		{Symbol: "BTCUSDT", Interval: "4h", OpenTime: 9000, Close: 2},
		{Symbol: "BTCUSDT", Interval: "4h", OpenTime: 9000, Close: 3, IsClosed: true},
	}}
	obs := &countingObserver{}

	c := New(series(), 0, nil, streamer, store, zap.NewNop())
	c.SetObserver(obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, throttled, _ := c.Counts()
		return stored == 2 && throttled == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, series(), streamer.subs)
	got, ok, err := store.Latest(context.Background(), "BTCUSDT", "4h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.IsClosed)
	assert.Equal(t, 3.0, got.Close)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, map[string]int{"stored": 2, "throttled": 1}, obs.results)
}
