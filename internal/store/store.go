package store

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// Config tunes the async writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Store persists candles, window metrics and alerts and serves the paginated
// query surface.
type Store struct {
	db      *gorm.DB
	cfg     Config
	metrics *obs.Metrics
}

// New wraps an open gorm connection.
func New(db *gorm.DB, cfg Config, metrics *obs.Metrics) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Store{db: db, cfg: cfg, metrics: metrics}
}

// Migrate creates or updates the persisted tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&CandleRecord{}, &MetricsRecord{}, &AlertRecord{}); err != nil {
		return errors.Wrap(err, "migrate market data tables")
	}
	return nil
}

// Run consumes the candle, metrics and alert streams, batching writes until
// the batch size or flush interval is reached. The final batches flush on
// shutdown.
func (s *Store) Run(
	ctx context.Context,
	candles *bus.Subscriber[model.Candle],
	snapshots *bus.Subscriber[model.MetricsSnapshot],
	alerts *bus.Subscriber[model.Alert],
) {
	var (
		candleBatch  []CandleRecord
		metricsBatch []MetricsRecord
		alertBatch   []AlertRecord
	)
	flush := func() {
		if len(candleBatch) > 0 {
			s.write(&candleBatch)
		}
		if len(metricsBatch) > 0 {
			s.write(&metricsBatch)
		}
		if len(alertBatch) > 0 {
			s.write(&alertBatch)
		}
		candleBatch = candleBatch[:0]
		metricsBatch = metricsBatch[:0]
		alertBatch = alertBatch[:0]
	}
	defer flush()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flush()
		case candle, ok := <-candles.C():
			if !ok {
				return
			}
			candleBatch = append(candleBatch, candleRecord(candle))
			if len(candleBatch) >= s.cfg.BatchSize {
				flush()
			}
		case snapshot, ok := <-snapshots.C():
			if !ok {
				return
			}
			metricsBatch = append(metricsBatch, metricsRecord(snapshot))
			if len(metricsBatch) >= s.cfg.BatchSize {
				flush()
			}
		case alert, ok := <-alerts.C():
			if !ok {
				return
			}
			alertBatch = append(alertBatch, alertRecord(alert))
			if len(alertBatch) >= s.cfg.BatchSize {
				flush()
			}
		}
	}
}

func (s *Store) write(batch any) {
	if err := s.db.CreateInBatches(batch, s.cfg.BatchSize).Error; err != nil {
		s.metrics.IncStoreError()
		logs.Errorf("persist batch: %+v", err)
	}
}

// Page is a 1-based pagination request.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() Page {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 || p.PageSize > 1000 {
		p.PageSize = 100
	}
	return p
}

func (p Page) offset() int { return (p.Page - 1) * p.PageSize }

// CandleFilter selects candles or window metrics.
type CandleFilter struct {
	Exchange string
	Symbol   string
	Window   time.Duration
	From     time.Time
	To       time.Time
	Page     Page
}

// AlertFilter selects persisted alerts.
type AlertFilter struct {
	Rule   string
	Source string
	Symbol string
	From   time.Time
	To     time.Time
	Page   Page
}

// CandlePage is one page of candle query results.
type CandlePage struct {
	Total int64          `json:"total"`
	Items []model.Candle `json:"items"`
}

// MetricsPage is one page of window metrics query results.
type MetricsPage struct {
	Total int64                   `json:"total"`
	Items []model.MetricsSnapshot `json:"items"`
}

// AlertPage is one page of alert query results.
type AlertPage struct {
	Total int64         `json:"total"`
	Items []model.Alert `json:"items"`
}

// Candles queries persisted candles ordered by window start descending.
func (s *Store) Candles(ctx context.Context, filter CandleFilter) (CandlePage, error) {
	query := s.db.WithContext(ctx).Model(&CandleRecord{})
	query = applyCandleFilter(query, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return CandlePage{}, errors.Wrap(err, "count candles")
	}

	page := filter.Page.normalize()
	var records []CandleRecord
	if err := query.Order("window_start DESC").Offset(page.offset()).Limit(page.PageSize).Find(&records).Error; err != nil {
		return CandlePage{}, errors.Wrap(err, "query candles")
	}

	result := CandlePage{Total: total, Items: make([]model.Candle, 0, len(records))}
	for _, record := range records {
		result.Items = append(result.Items, record.toModel())
	}
	return result, nil
}

// Metrics queries persisted window metrics ordered by window start descending.
func (s *Store) Metrics(ctx context.Context, filter CandleFilter) (MetricsPage, error) {
	query := s.db.WithContext(ctx).Model(&MetricsRecord{})
	query = applyCandleFilter(query, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return MetricsPage{}, errors.Wrap(err, "count window metrics")
	}

	page := filter.Page.normalize()
	var records []MetricsRecord
	if err := query.Order("window_start DESC").Offset(page.offset()).Limit(page.PageSize).Find(&records).Error; err != nil {
		return MetricsPage{}, errors.Wrap(err, "query window metrics")
	}

	result := MetricsPage{Total: total, Items: make([]model.MetricsSnapshot, 0, len(records))}
	for _, record := range records {
		result.Items = append(result.Items, record.toModel())
	}
	return result, nil
}

// Alerts queries persisted alerts ordered by firing time descending.
func (s *Store) Alerts(ctx context.Context, filter AlertFilter) (AlertPage, error) {
	query := s.db.WithContext(ctx).Model(&AlertRecord{})
	if filter.Rule != "" {
		query = query.Where("rule = ?", filter.Rule)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if !filter.From.IsZero() {
		query = query.Where("fired_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("fired_at < ?", filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return AlertPage{}, errors.Wrap(err, "count alerts")
	}

	page := filter.Page.normalize()
	var records []AlertRecord
	if err := query.Order("fired_at DESC").Offset(page.offset()).Limit(page.PageSize).Find(&records).Error; err != nil {
		return AlertPage{}, errors.Wrap(err, "query alerts")
	}

	result := AlertPage{Total: total, Items: make([]model.Alert, 0, len(records))}
	for _, record := range records {
		result.Items = append(result.Items, record.toModel())
	}
	return result, nil
}

func applyCandleFilter(query *gorm.DB, filter CandleFilter) *gorm.DB {
	if filter.Exchange != "" {
		query = query.Where("exchange = ?", filter.Exchange)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Window > 0 {
		query = query.Where("window_size = ?", filter.Window)
	}
	if !filter.From.IsZero() {
		query = query.Where("window_start >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("window_start < ?", filter.To)
	}
	return query
}
