package memstore

import (
	"context"
	"sort"
	"sync"

	"candlealert/pkg/market"
)

// Store keeps candles in memory, one ordered series per (symbol, interval).
// It implements storage.Repository for tests and for the "memory" driver.
type Store struct {
	globalMu sync.RWMutex
	data     map[string]*series
}

type series struct {
	mu      sync.Mutex
	candles []market.Candle // ascending by OpenTime, unique
}

func New() *Store {
	return &Store{
		data: make(map[string]*series),
	}
}

func (s *Store) get(symbol, interval string, create bool) *series {
	key := market.SeriesKey(symbol, interval)

	s.globalMu.RLock()
	ser, ok := s.data[key]
	s.globalMu.RUnlock()
	if ok || !create {
		return ser
	}

	s.globalMu.Lock()
	if ser, ok = s.data[key]; !ok {
		ser = &series{}
		s.data[key] = ser
	}
	s.globalMu.Unlock()
	return ser
}

func (s *Store) SaveCandle(_ context.Context, c market.Candle) error {
	ser := s.get(c.Symbol, c.Interval, true)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	i := sort.Search(len(ser.candles), func(i int) bool { return ser.candles[i].OpenTime >= c.OpenTime })
	if i < len(ser.candles) && ser.candles[i].OpenTime == c.OpenTime {
		if !ser.candles[i].IsClosed {
			ser.candles[i] = c
		}
		return nil
	}

	ser.candles = append(ser.candles, market.Candle{})
	copy(ser.candles[i+1:], ser.candles[i:])
	ser.candles[i] = c
	return nil
}

func (s *Store) Latest(_ context.Context, symbol, interval string) (market.Candle, bool, error) {
	ser := s.get(symbol, interval, false)
	if ser == nil {
		return market.Candle{}, false, nil
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	if len(ser.candles) == 0 {
		return market.Candle{}, false, nil
	}
	return ser.candles[len(ser.candles)-1], true, nil
}

func (s *Store) Recent(_ context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	ser := s.get(symbol, interval, false)
	if ser == nil || limit <= 0 {
		return nil, nil
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	start := len(ser.candles) - limit
	if start < 0 {
		start = 0
	}
	cp := make([]market.Candle, len(ser.candles)-start)
	copy(cp, ser.candles[start:])
	return cp, nil
}

func (s *Store) Range(_ context.Context, symbol, interval string, from, to int64) ([]market.Candle, error) {
	ser := s.get(symbol, interval, false)
	if ser == nil {
		return nil, nil
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	lo := sort.Search(len(ser.candles), func(i int) bool { return ser.candles[i].OpenTime >= from })
	hi := sort.Search(len(ser.candles), func(i int) bool { return ser.candles[i].OpenTime > to })
	if lo >= hi {
		return nil, nil
	}
	cp := make([]market.Candle, hi-lo)
	copy(cp, ser.candles[lo:hi])
	return cp, nil
}

func (s *Store) PreviousClosed(_ context.Context, symbol, interval string, before int64) (market.Candle, bool, error) {
	ser := s.get(symbol, interval, false)
	if ser == nil {
		return market.Candle{}, false, nil
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	i := sort.Search(len(ser.candles), func(i int) bool { return ser.candles[i].OpenTime >= before })
	for i--; i >= 0; i-- {
		if ser.candles[i].IsClosed {
			return ser.candles[i], true, nil
		}
	}
	return market.Candle{}, false, nil
}

func (s *Store) DeleteBefore(_ context.Context, symbol, interval string, cutoff int64, keep int) (int64, error) {
	ser := s.get(symbol, interval, false)
	if ser == nil {
		return 0, nil
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	n := sort.Search(len(ser.candles), func(i int) bool { return ser.candles[i].OpenTime >= cutoff })
	if maxDel := len(ser.candles) - keep; n > maxDel {
		n = maxDel
	}
	if n <= 0 {
		return 0, nil
	}
	ser.candles = append(ser.candles[:0:0], ser.candles[n:]...)
	return int64(n), nil
}

// CountAll returns the total number of candles stored across all series.
func (s *Store) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, ser := range s.data {
		ser.mu.Lock()
		total += len(ser.candles)
		ser.mu.Unlock()
	}
	return total
}
