package aggregate

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
)

const (
	shardCount           = 16
	defaultSweepInterval = time.Second
	defaultGrace         = 5 * time.Second
)

type accKey struct {
	source string
	symbol string
	window time.Duration
}

// accumulator is the mutable state for one open window. It lives under its
// shard mutex and is destroyed when the window closes.
type accumulator struct {
	exchange    string
	windowStart time.Time
	openedAt    time.Time

	open   float64
	high   float64
	low    float64
	close  float64
	volume float64
	count  int64

	sumPrice   float64
	sumSqPrice float64
}

type shard struct {
	mu       sync.Mutex
	open     map[accKey]*accumulator
	closedAt map[accKey]time.Time
}

// Config tunes the aggregation engine.
type Config struct {
	Windows       []time.Duration
	Grace         time.Duration
	SweepInterval time.Duration
}

// Engine converts the tick stream into closed, immutable window summaries.
// Per-key state is partitioned across shards so ticks for different keys
// proceed without contention.
type Engine struct {
	cfg     Config
	shards  [shardCount]shard
	metrics *obs.Metrics

	candles   *bus.Stream[model.Candle]
	snapshots *bus.Stream[model.MetricsSnapshot]

	now func() time.Time
}

// NewEngine builds an engine emitting one candle and metrics snapshot per
// closed (source, symbol, window) accumulator.
func NewEngine(cfg Config, metrics *obs.Metrics) *Engine {
	if len(cfg.Windows) == 0 {
		cfg.Windows = []time.Duration{time.Minute}
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	e := &Engine{
		cfg:       cfg,
		metrics:   metrics,
		candles:   bus.NewStream[model.Candle](),
		snapshots: bus.NewStream[model.MetricsSnapshot](),
		now:       time.Now,
	}
	for i := range e.shards {
		e.shards[i].open = make(map[accKey]*accumulator)
		e.shards[i].closedAt = make(map[accKey]time.Time)
	}
	return e
}

// Candles is the closed-window candle stream.
func (e *Engine) Candles() *bus.Stream[model.Candle] { return e.candles }

// Snapshots is the closed-window metrics stream.
func (e *Engine) Snapshots() *bus.Stream[model.MetricsSnapshot] { return e.snapshots }

// Run consumes ticks until the context ends or the subscription closes,
// sweeping idle windows at a fixed interval.
func (e *Engine) Run(ctx context.Context, sub *bus.Subscriber[model.Tick]) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		case tick, ok := <-sub.C():
			if !ok {
				return
			}
			e.Process(tick)
		}
	}
}

// Process folds one tick into every configured window.
func (e *Engine) Process(tick model.Tick) {
	for _, window := range e.cfg.Windows {
		e.processWindow(tick, window)
	}
}

func (e *Engine) processWindow(tick model.Tick, window time.Duration) {
	key := accKey{source: tick.Source, symbol: tick.Symbol, window: window}
	windowStart := tick.EventAt.Truncate(window)
	s := e.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.open[key]
	if !ok {
		if closed, seen := s.closedAt[key]; seen && !windowStart.After(closed) {
			e.metrics.IncLateWindowDrop()
			return
		}
		s.open[key] = newAccumulator(tick, windowStart, e.now())
		return
	}

	switch {
	case windowStart.Equal(acc.windowStart):
		acc.fold(tick)
	case windowStart.After(acc.windowStart):
		e.closeLocked(s, key, acc)
		s.open[key] = newAccumulator(tick, windowStart, e.now())
	default:
		e.metrics.IncLateWindowDrop()
	}
}

// Sweep force-closes any accumulator whose window has been open longer than
// window size plus the grace period, bounding emission latency during quiet
// periods.
func (e *Engine) Sweep() {
	now := e.now()
	for i := range e.shards {
		s := &e.shards[i]
		s.mu.Lock()
		for key, acc := range s.open {
			if now.Sub(acc.openedAt) > key.window+e.cfg.Grace {
				e.closeLocked(s, key, acc)
				e.metrics.IncForcedClose()
				delete(s.open, key)
			}
		}
		s.mu.Unlock()
	}
}

// Flush closes and emits every open accumulator. Used at shutdown.
func (e *Engine) Flush() {
	for i := range e.shards {
		s := &e.shards[i]
		s.mu.Lock()
		for key, acc := range s.open {
			e.closeLocked(s, key, acc)
			delete(s.open, key)
		}
		s.mu.Unlock()
	}
}

func (e *Engine) closeLocked(s *shard, key accKey, acc *accumulator) {
	s.closedAt[key] = acc.windowStart

	candle := model.Candle{
		Source:      key.source,
		Exchange:    acc.exchange,
		Symbol:      key.symbol,
		WindowStart: acc.windowStart,
		Window:      key.window,
		Open:        acc.open,
		High:        acc.high,
		Low:         acc.low,
		Close:       acc.close,
		Volume:      acc.volume,
		Count:       acc.count,
	}
	n := float64(acc.count)
	mean := acc.sumPrice / n
	variance := acc.sumSqPrice/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	snapshot := model.MetricsSnapshot{
		Source:       key.source,
		Exchange:     acc.exchange,
		Symbol:       key.symbol,
		WindowStart:  acc.windowStart,
		Window:       key.window,
		AveragePrice: mean,
		Volatility:   math.Sqrt(variance),
		Count:        acc.count,
	}

	e.metrics.IncCandleEmitted()
	e.metrics.ObservePipeline(e.now().Sub(acc.windowStart))
	e.metrics.AddQueueDrops(e.candles.Publish(candle))
	e.metrics.AddQueueDrops(e.snapshots.Publish(snapshot))

	if candle.High < candle.Low {
		logs.Errorf("inconsistent candle for %s/%s: %+v", key.source, key.symbol, candle)
	}
}

func (e *Engine) shardFor(key accKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.symbol))
	return &e.shards[h.Sum32()%shardCount]
}

func newAccumulator(tick model.Tick, windowStart, openedAt time.Time) *accumulator {
	return &accumulator{
		exchange:    tick.Exchange,
		windowStart: windowStart,
		openedAt:    openedAt,
		open:        tick.Price,
		high:        tick.Price,
		low:         tick.Price,
		close:       tick.Price,
		volume:      tick.Volume,
		count:       1,
		sumPrice:    tick.Price,
		sumSqPrice:  tick.Price * tick.Price,
	}
}

func (acc *accumulator) fold(tick model.Tick) {
	if tick.Price > acc.high {
		acc.high = tick.Price
	}
	if tick.Price < acc.low {
		acc.low = tick.Price
	}
	acc.close = tick.Price
	acc.volume += tick.Volume
	acc.count++
	acc.sumPrice += tick.Price
	acc.sumSqPrice += tick.Price * tick.Price
}
