package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"candlealert/pkg/market"

	gobinance "github.com/adshao/go-binance/v2"
)

var (
	// ErrMalformed marks a kline message that cannot be normalized.
	ErrMalformed = errors.New("malformed kline message")
	// ErrIrrelevant marks a well-formed message that carries no kline (acks, other events).
	ErrIrrelevant = errors.New("not a kline message")
)

// ParseStreamMessage normalizes one combined-stream (or raw-stream) kline message.
func ParseStreamMessage(raw []byte) (market.Candle, error) {
	var env CombinedMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return market.Candle{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	payload := []byte(env.Data)
	if len(payload) == 0 {
		// raw /ws streams deliver the event without an envelope
		payload = raw
	}

	var ev KlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return market.Candle{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Kline == nil {
		if ev.EventType == "kline" {
			return market.Candle{}, fmt.Errorf("%w: missing k", ErrMalformed)
		}
		return market.Candle{}, ErrIrrelevant
	}

	return ev.Kline.toCandle(ev.Symbol)
}

func (k *KlinePayload) toCandle(eventSymbol string) (market.Candle, error) {
	symbol := k.Symbol
	if symbol == "" {
		symbol = eventSymbol
	}

	var missing []string
	if symbol == "" {
		missing = append(missing, "s")
	}
	if k.Interval == "" {
		missing = append(missing, "i")
	}
	if k.OpenTime == nil {
		missing = append(missing, "t")
	}
	if k.CloseTime == nil {
		missing = append(missing, "T")
	}
	if k.Open == nil {
		missing = append(missing, "o")
	}
	if k.High == nil {
		missing = append(missing, "h")
	}
	if k.Low == nil {
		missing = append(missing, "l")
	}
	if k.Close == nil {
		missing = append(missing, "c")
	}
	if k.Volume == nil {
		missing = append(missing, "v")
	}
	if k.IsClosed == nil {
		missing = append(missing, "x")
	}
	if len(missing) > 0 {
		return market.Candle{}, fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ","))
	}

	return market.Candle{
		Symbol:    strings.ToUpper(symbol),
		Interval:  k.Interval,
		OpenTime:  int64(*k.OpenTime),
		CloseTime: int64(*k.CloseTime),
		Open:      float64(*k.Open),
		High:      float64(*k.High),
		Low:       float64(*k.Low),
		Close:     float64(*k.Close),
		Volume:    float64(*k.Volume),
		IsClosed:  bool(*k.IsClosed),
	}, nil
}

// ToCandles converts REST klines to candles. A row is closed once its close
// time has passed; the trailing in-progress row stays open.
func ToCandles(symbol, interval string, rows []*gobinance.Kline, now time.Time) ([]market.Candle, error) {
	out := make([]market.Candle, 0, len(rows))
	nowMs := now.UnixMilli()

	for _, row := range rows {
		if row == nil {
			continue
		}

		open, err := parseFinite(row.Open)
		if err != nil {
			return nil, fmt.Errorf("open at %d: %w", row.OpenTime, err)
		}
		high, err := parseFinite(row.High)
		if err != nil {
			return nil, fmt.Errorf("high at %d: %w", row.OpenTime, err)
		}
		low, err := parseFinite(row.Low)
		if err != nil {
			return nil, fmt.Errorf("low at %d: %w", row.OpenTime, err)
		}
		closePrice, err := parseFinite(row.Close)
		if err != nil {
			return nil, fmt.Errorf("close at %d: %w", row.OpenTime, err)
		}
		volume, err := parseFinite(row.Volume)
		if err != nil {
			return nil, fmt.Errorf("volume at %d: %w", row.OpenTime, err)
		}

		out = append(out, market.Candle{
			Symbol:    strings.ToUpper(symbol),
			Interval:  interval,
			OpenTime:  row.OpenTime,
			CloseTime: row.CloseTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			IsClosed:  row.CloseTime < nowMs,
		})
	}
	return out, nil
}
