package model

import "time"

// Candle is the OHLCV summary of ticks within one closed window.
// Produced exactly once per window key, never revised afterwards.
type Candle struct {
	Source      string        `json:"source"`
	Exchange    string        `json:"exchange"`
	Symbol      string        `json:"symbol"`
	WindowStart time.Time     `json:"window_start"`
	Window      time.Duration `json:"window"`
	Open        float64       `json:"open"`
	High        float64       `json:"high"`
	Low         float64       `json:"low"`
	Close       float64       `json:"close"`
	Volume      float64       `json:"volume"`
	Count       int64         `json:"count"`
}

// MetricsSnapshot carries the average price and population volatility of the
// same window a Candle was emitted for.
type MetricsSnapshot struct {
	Source       string        `json:"source"`
	Exchange     string        `json:"exchange"`
	Symbol       string        `json:"symbol"`
	WindowStart  time.Time     `json:"window_start"`
	Window       time.Duration `json:"window"`
	AveragePrice float64       `json:"average_price"`
	Volatility   float64       `json:"volatility"`
	Count        int64         `json:"count"`
}
