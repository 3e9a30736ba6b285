package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
)

// Engine evaluates the active rule set against ticks and window aggregates.
// Rule set updates swap atomically; every event is evaluated against exactly
// one rule set version. Evaluation failures of one rule never affect others.
type Engine struct {
	rules   atomic.Value // []RuleConfig
	metrics *obs.Metrics
	alerts  *bus.Stream[model.Alert]

	mu        sync.Mutex
	lastFired map[string]time.Time

	now func() time.Time
}

// NewEngine builds an engine with an empty rule set.
func NewEngine(metrics *obs.Metrics) *Engine {
	e := &Engine{
		metrics:   metrics,
		alerts:    bus.NewStream[model.Alert](),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
	e.rules.Store([]RuleConfig(nil))
	return e
}

// Alerts is the emitted alert stream.
func (e *Engine) Alerts() *bus.Stream[model.Alert] { return e.alerts }

// Rules returns the active rule set.
func (e *Engine) Rules() []RuleConfig {
	return e.rules.Load().([]RuleConfig)
}

// Update validates and atomically replaces the active rule set. No event is
// ever evaluated against a half-updated set.
func (e *Engine) Update(rules []RuleConfig) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	next := make([]RuleConfig, len(rules))
	copy(next, rules)
	e.rules.Store(next)
	return nil
}

// Run consumes ticks, candles and window metrics until the context ends.
func (e *Engine) Run(
	ctx context.Context,
	ticks *bus.Subscriber[model.Tick],
	candles *bus.Subscriber[model.Candle],
	snapshots *bus.Subscriber[model.MetricsSnapshot],
) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks.C():
			if !ok {
				return
			}
			e.EvalTick(tick)
		case candle, ok := <-candles.C():
			if !ok {
				return
			}
			e.EvalCandle(candle)
		case snapshot, ok := <-snapshots.C():
			if !ok {
				return
			}
			e.EvalMetrics(snapshot)
		}
	}
}

// EvalTick evaluates tick-scoped rules against one tick.
func (e *Engine) EvalTick(tick model.Tick) {
	for _, rule := range e.Rules() {
		if !rule.Enabled || rule.Kind != KindPriceThreshold || !rule.Matches(tick.Exchange, tick.Symbol) {
			continue
		}
		e.evalPriceThreshold(rule, tick)
	}
}

// EvalCandle evaluates window-scoped rules against one closed candle.
func (e *Engine) EvalCandle(candle model.Candle) {
	for _, rule := range e.Rules() {
		if !rule.Enabled || !rule.Matches(candle.Exchange, candle.Symbol) {
			continue
		}
		switch rule.Kind {
		case KindPriceChange:
			e.evalPriceChange(rule, candle)
		case KindVolumeSpike:
			e.evalVolumeSpike(rule, candle)
		}
	}
}

// EvalMetrics evaluates volatility rules against one window metrics record.
func (e *Engine) EvalMetrics(snapshot model.MetricsSnapshot) {
	for _, rule := range e.Rules() {
		if !rule.Enabled || rule.Kind != KindVolatility || !rule.Matches(snapshot.Exchange, snapshot.Symbol) {
			continue
		}
		e.evalVolatility(rule, snapshot)
	}
}

func (e *Engine) evalPriceThreshold(rule RuleConfig, tick model.Tick) {
	min, hasMin, err := rule.floatParam("min_price")
	if err != nil {
		e.skip(rule, err)
		return
	}
	max, hasMax, err := rule.floatParam("max_price")
	if err != nil {
		e.skip(rule, err)
		return
	}
	if !hasMin && !hasMax {
		return
	}
	switch {
	case hasMin && tick.Price < min:
		e.fire(rule, tick.Source, tick.Exchange, tick.Symbol, tick.EventAt,
			fmt.Sprintf("%s price %.8g below minimum %.8g", tick.Symbol, tick.Price, min))
	case hasMax && tick.Price > max:
		e.fire(rule, tick.Source, tick.Exchange, tick.Symbol, tick.EventAt,
			fmt.Sprintf("%s price %.8g above maximum %.8g", tick.Symbol, tick.Price, max))
	}
}

func (e *Engine) evalPriceChange(rule RuleConfig, candle model.Candle) {
	maxChange, ok, err := rule.floatParam("max_change_pct")
	if err != nil {
		e.skip(rule, err)
		return
	}
	if !ok || candle.Open == 0 {
		return
	}
	change := (candle.Close - candle.Open) / candle.Open * 100
	if change < 0 {
		change = -change
	}
	if change >= maxChange {
		e.fire(rule, candle.Source, candle.Exchange, candle.Symbol, candle.WindowStart.Add(candle.Window),
			fmt.Sprintf("%s moved %.4g%% in %s window (open %.8g close %.8g)",
				candle.Symbol, change, candle.Window, candle.Open, candle.Close))
	}
}

func (e *Engine) evalVolumeSpike(rule RuleConfig, candle model.Candle) {
	minVolume, ok, err := rule.floatParam("min_volume")
	if err != nil {
		e.skip(rule, err)
		return
	}
	if !ok {
		return
	}
	if candle.Volume >= minVolume {
		e.fire(rule, candle.Source, candle.Exchange, candle.Symbol, candle.WindowStart.Add(candle.Window),
			fmt.Sprintf("%s volume %.8g reached %.8g in %s window",
				candle.Symbol, candle.Volume, minVolume, candle.Window))
	}
}

func (e *Engine) evalVolatility(rule RuleConfig, snapshot model.MetricsSnapshot) {
	maxVolatility, ok, err := rule.floatParam("max_volatility")
	if err != nil {
		e.skip(rule, err)
		return
	}
	if !ok {
		return
	}
	if snapshot.Volatility >= maxVolatility {
		e.fire(rule, snapshot.Source, snapshot.Exchange, snapshot.Symbol, snapshot.WindowStart.Add(snapshot.Window),
			fmt.Sprintf("%s volatility %.6g reached %.6g in %s window",
				snapshot.Symbol, snapshot.Volatility, maxVolatility, snapshot.Window))
	}
}

func (e *Engine) fire(rule RuleConfig, source, exchange, symbol string, at time.Time, message string) {
	cooldown, err := rule.cooldown()
	if err != nil {
		e.skip(rule, err)
		return
	}
	if at.IsZero() {
		at = e.now()
	}
	if cooldown > 0 {
		key := rule.Name + "|" + source + "|" + symbol
		e.mu.Lock()
		if last, ok := e.lastFired[key]; ok && e.now().Sub(last) < cooldown {
			e.mu.Unlock()
			return
		}
		e.lastFired[key] = e.now()
		e.mu.Unlock()
	}
	e.metrics.IncAlertFired()
	e.metrics.AddQueueDrops(e.alerts.Publish(model.Alert{
		Rule:      rule.Name,
		Source:    source,
		Exchange:  exchange,
		Symbol:    symbol,
		Message:   message,
		Timestamp: at,
	}))
}

func (e *Engine) skip(rule RuleConfig, err error) {
	e.metrics.IncRuleEvalError()
	logs.Errorf("skip rule %s: %+v", rule.Name, err)
}
