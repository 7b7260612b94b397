package sqlstore

import (
	"time"

	"candlealert/pkg/market"
)

// CandleRecord is one persisted candle. (symbol, timeframe, open_time) is unique.
type CandleRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol    string `gorm:"type:varchar(20);not null;uniqueIndex:uq_candle_symbol_tf_open,priority:1;index:idx_candle_closed,priority:1"`
	Timeframe string `gorm:"type:varchar(4);not null;uniqueIndex:uq_candle_symbol_tf_open,priority:2;index:idx_candle_closed,priority:2"`
	OpenTime  int64  `gorm:"not null;uniqueIndex:uq_candle_symbol_tf_open,priority:3"`
	CloseTime int64  `gorm:"not null"`

	Open   float64 `gorm:"not null"`
	High   float64 `gorm:"not null"`
	Low    float64 `gorm:"not null"`
	Close  float64 `gorm:"not null"`
	Volume float64 `gorm:"not null"`

	IsClosed bool `gorm:"not null;default:false;index:idx_candle_closed,priority:3"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (CandleRecord) TableName() string {
	return "candles"
}

func toRecord(c market.Candle) *CandleRecord {
	return &CandleRecord{
		Symbol:    c.Symbol,
		Timeframe: c.Interval,
		OpenTime:  c.OpenTime,
		CloseTime: c.CloseTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		IsClosed:  c.IsClosed,
	}
}

func (r CandleRecord) Candle() market.Candle {
	return market.Candle{
		Symbol:    r.Symbol,
		Interval:  r.Timeframe,
		OpenTime:  r.OpenTime,
		CloseTime: r.CloseTime,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		IsClosed:  r.IsClosed,
	}
}
