package store

import (
	"time"

	"main/internal/model"
)

// CandleRecord is the persisted form of a closed-window candle.
type CandleRecord struct {
	ID          uint64        `gorm:"primaryKey;autoIncrement"`
	Source      string        `gorm:"size:128;index:idx_candle_key"`
	Exchange    string        `gorm:"size:64;index:idx_candle_lookup"`
	Symbol      string        `gorm:"size:64;index:idx_candle_lookup"`
	WindowStart time.Time     `gorm:"index:idx_candle_lookup"`
	// "window" is reserved in PostgreSQL.
	Window time.Duration `gorm:"column:window_size;index:idx_candle_lookup"`
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Count       int64
	CreatedAt   time.Time
}

func (CandleRecord) TableName() string { return "candles" }

// MetricsRecord is the persisted form of a window metrics snapshot.
type MetricsRecord struct {
	ID           uint64        `gorm:"primaryKey;autoIncrement"`
	Source       string        `gorm:"size:128"`
	Exchange     string        `gorm:"size:64;index:idx_metrics_lookup"`
	Symbol       string        `gorm:"size:64;index:idx_metrics_lookup"`
	WindowStart  time.Time     `gorm:"index:idx_metrics_lookup"`
	Window       time.Duration `gorm:"column:window_size;index:idx_metrics_lookup"`
	AveragePrice float64
	Volatility   float64
	Count        int64
	CreatedAt    time.Time
}

func (MetricsRecord) TableName() string { return "window_metrics" }

// AlertRecord is the persisted form of a fired alert.
type AlertRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Rule      string    `gorm:"size:128;index:idx_alert_lookup"`
	Source    string    `gorm:"size:128;index:idx_alert_lookup"`
	Exchange  string    `gorm:"size:64"`
	Symbol    string    `gorm:"size:64;index:idx_alert_lookup"`
	Message   string    `gorm:"size:512"`
	FiredAt   time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (AlertRecord) TableName() string { return "alerts" }

func candleRecord(c model.Candle) CandleRecord {
	return CandleRecord{
		Source:      c.Source,
		Exchange:    c.Exchange,
		Symbol:      c.Symbol,
		WindowStart: c.WindowStart,
		Window:      c.Window,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		Count:       c.Count,
	}
}

func metricsRecord(s model.MetricsSnapshot) MetricsRecord {
	return MetricsRecord{
		Source:       s.Source,
		Exchange:     s.Exchange,
		Symbol:       s.Symbol,
		WindowStart:  s.WindowStart,
		Window:       s.Window,
		AveragePrice: s.AveragePrice,
		Volatility:   s.Volatility,
		Count:        s.Count,
	}
}

func alertRecord(a model.Alert) AlertRecord {
	return AlertRecord{
		Rule:     a.Rule,
		Source:   a.Source,
		Exchange: a.Exchange,
		Symbol:   a.Symbol,
		Message:  a.Message,
		FiredAt:  a.Timestamp,
	}
}

func (r CandleRecord) toModel() model.Candle {
	return model.Candle{
		Source:      r.Source,
		Exchange:    r.Exchange,
		Symbol:      r.Symbol,
		WindowStart: r.WindowStart,
		Window:      r.Window,
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		Count:       r.Count,
	}
}

func (r MetricsRecord) toModel() model.MetricsSnapshot {
	return model.MetricsSnapshot{
		Source:       r.Source,
		Exchange:     r.Exchange,
		Symbol:       r.Symbol,
		WindowStart:  r.WindowStart,
		Window:       r.Window,
		AveragePrice: r.AveragePrice,
		Volatility:   r.Volatility,
		Count:        r.Count,
	}
}

func (r AlertRecord) toModel() model.Alert {
	return model.Alert{
		Rule:      r.Rule,
		Source:    r.Source,
		Exchange:  r.Exchange,
		Symbol:    r.Symbol,
		Message:   r.Message,
		Timestamp: r.FiredAt,
	}
}
