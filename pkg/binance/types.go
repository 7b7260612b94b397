package binance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var errNotFinite = errors.New("not a finite number")

// CombinedMessage is the envelope of the /stream endpoint.
type CombinedMessage struct {
	Stream string          `json:"stream"` // e.g. "btcusdt@kline_4h"
	Data   json.RawMessage `json:"data"`
}

// KlineEvent is the payload of a kline stream message.
type KlineEvent struct {
	EventType string        `json:"e"` // "kline"
	EventTime int64         `json:"E"` // ms
	Symbol    string        `json:"s"`
	Kline     *KlinePayload `json:"k"`
}

// KlinePayload carries one candle update. Pointer fields distinguish "absent" from zero.
type KlinePayload struct {
	Symbol    string     `json:"s"`
	Interval  string     `json:"i"`
	OpenTime  *flexInt   `json:"t"`
	CloseTime *flexInt   `json:"T"`
	Open      *flexFloat `json:"o"`
	High      *flexFloat `json:"h"`
	Low       *flexFloat `json:"l"`
	Close     *flexFloat `json:"c"`
	Volume    *flexFloat `json:"v"`
	IsClosed  *flexBool  `json:"x"`
}

// flexFloat accepts 1.5 and "1.5".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	v, err := parseFinite(string(bytes.Trim(b, `"`)))
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// parseFinite rejects NaN and ±Inf, which ParseFloat otherwise accepts.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse float %q: %w", s, errNotFinite)
	}
	return v, nil
}

// flexInt accepts 1700000000000 and "1700000000000".
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse int %q: %w", s, err)
	}
	*i = flexInt(v)
	return nil
}

// flexBool accepts true and "true".
type flexBool bool

func (x *flexBool) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("parse bool %q: %w", s, err)
	}
	*x = flexBool(v)
	return nil
}
