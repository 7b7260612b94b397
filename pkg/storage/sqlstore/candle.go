package sqlstore

import (
	"context"

	"candlealert/pkg/market"

	"gorm.io/gorm/clause"
)

// SaveCandle inserts c or refreshes an existing open row. Rows already marked
// closed are left untouched.
func (c *Client) SaveCandle(ctx context.Context, candle market.Candle) error {
	return c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "timeframe"},
			{Name: "open_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"close_time", "open", "high", "low", "close", "volume", "is_closed", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "candles.is_closed = ?", Vars: []interface{}{false}},
		}},
	}).Create(toRecord(candle)).Error
}

func (c *Client) Latest(ctx context.Context, symbol, interval string) (market.Candle, bool, error) {
	var recs []CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, interval).
		Order("open_time DESC").
		Limit(1).
		Find(&recs).Error
	if err != nil || len(recs) == 0 {
		return market.Candle{}, false, err
	}
	return recs[0].Candle(), true, nil
}

func (c *Client) Recent(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	var recs []CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, interval).
		Order("open_time DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]market.Candle, len(recs))
	for i, r := range recs {
		out[len(recs)-1-i] = r.Candle()
	}
	return out, nil
}

func (c *Client) Range(ctx context.Context, symbol, interval string, from, to int64) ([]market.Candle, error) {
	var recs []CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?", symbol, interval, from, to).
		Order("open_time ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]market.Candle, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Candle())
	}
	return out, nil
}

func (c *Client) PreviousClosed(ctx context.Context, symbol, interval string, before int64) (market.Candle, bool, error) {
	var recs []CandleRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND is_closed = ? AND open_time < ?", symbol, interval, true, before).
		Order("open_time DESC").
		Limit(1).
		Find(&recs).Error
	if err != nil || len(recs) == 0 {
		return market.Candle{}, false, err
	}
	return recs[0].Candle(), true, nil
}

// DeleteBefore removes rows with open_time < cutoff, never touching the keep newest rows.
func (c *Client) DeleteBefore(ctx context.Context, symbol, interval string, cutoff int64, keep int) (int64, error) {
	boundary := cutoff
	if keep > 0 {
		var pivot []int64
		err := c.DB.WithContext(ctx).
			Model(&CandleRecord{}).
			Where("symbol = ? AND timeframe = ?", symbol, interval).
			Order("open_time DESC").
			Offset(keep-1).
			Limit(1).
			Pluck("open_time", &pivot).Error
		if err != nil {
			return 0, err
		}
		if len(pivot) == 0 {
			return 0, nil
		}
		if pivot[0] < boundary {
			boundary = pivot[0]
		}
	}

	tx := c.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND open_time < ?", symbol, interval, boundary).
		Delete(&CandleRecord{})
	return tx.RowsAffected, tx.Error
}

// Count returns the number of stored rows for a series.
func (c *Client) Count(ctx context.Context, symbol, interval string) (int64, error) {
	var n int64
	err := c.DB.WithContext(ctx).
		Model(&CandleRecord{}).
		Where("symbol = ? AND timeframe = ?", symbol, interval).
		Count(&n).Error
	return n, err
}
