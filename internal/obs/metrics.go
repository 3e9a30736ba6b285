package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the
// market-data pipeline. All methods are safe for concurrent use and
// tolerate a nil receiver so components can run without observation.
type Metrics struct {
	ticksNormalized   uint64
	malformedPayloads uint64
	candlesEmitted    uint64
	lateWindowDrops   uint64
	forcedCloses      uint64
	alertsFired       uint64
	ruleEvalErrors    uint64
	queueDrops        uint64
	storeErrors       uint64
	cacheErrors       uint64

	normalizeLatency LatencyStats
	pipelineLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TicksNormalized   uint64 `json:"ticks_normalized"`
	MalformedPayloads uint64 `json:"malformed_payloads"`
	CandlesEmitted    uint64 `json:"candles_emitted"`
	LateWindowDrops   uint64 `json:"late_window_drops"`
	ForcedCloses      uint64 `json:"forced_closes"`
	AlertsFired       uint64 `json:"alerts_fired"`
	RuleEvalErrors    uint64 `json:"rule_eval_errors"`
	QueueDrops        uint64 `json:"queue_drops"`
	StoreErrors       uint64 `json:"store_errors"`
	CacheErrors       uint64 `json:"cache_errors"`

	NormalizeLatency LatencySnapshot `json:"normalize_latency"`
	PipelineLatency  LatencySnapshot `json:"pipeline_latency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncTickNormalized records one successfully normalized tick.
func (m *Metrics) IncTickNormalized() { m.inc(&m.ticksNormalized) }

// IncMalformedPayload records one payload the normalizer rejected.
func (m *Metrics) IncMalformedPayload() { m.inc(&m.malformedPayloads) }

// IncCandleEmitted records one closed-window candle emission.
func (m *Metrics) IncCandleEmitted() { m.inc(&m.candlesEmitted) }

// IncLateWindowDrop records a tick dropped for arriving after its window closed.
func (m *Metrics) IncLateWindowDrop() { m.inc(&m.lateWindowDrops) }

// IncForcedClose records a window closed by the sweep rather than by tick arrival.
func (m *Metrics) IncForcedClose() { m.inc(&m.forcedCloses) }

// IncAlertFired records one emitted alert.
func (m *Metrics) IncAlertFired() { m.inc(&m.alertsFired) }

// IncRuleEvalError records a rule skipped due to unparsable parameters.
func (m *Metrics) IncRuleEvalError() { m.inc(&m.ruleEvalErrors) }

// AddQueueDrops records subscriber-queue drops.
func (m *Metrics) AddQueueDrops(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.queueDrops, uint64(n))
}

// IncStoreError records a failed persistence write.
func (m *Metrics) IncStoreError() { m.inc(&m.storeErrors) }

// IncCacheError records a failed cache write.
func (m *Metrics) IncCacheError() { m.inc(&m.cacheErrors) }

// ObserveNormalize measures raw-payload to tick latency.
func (m *Metrics) ObserveNormalize(d time.Duration) {
	if m == nil {
		return
	}
	m.normalizeLatency.Observe(d)
}

// ObservePipeline measures exchange event time to candle emission latency.
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineLatency.Observe(d)
}

func (m *Metrics) inc(p *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(p, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TicksNormalized:   atomic.LoadUint64(&m.ticksNormalized),
		MalformedPayloads: atomic.LoadUint64(&m.malformedPayloads),
		CandlesEmitted:    atomic.LoadUint64(&m.candlesEmitted),
		LateWindowDrops:   atomic.LoadUint64(&m.lateWindowDrops),
		ForcedCloses:      atomic.LoadUint64(&m.forcedCloses),
		AlertsFired:       atomic.LoadUint64(&m.alertsFired),
		RuleEvalErrors:    atomic.LoadUint64(&m.ruleEvalErrors),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		StoreErrors:       atomic.LoadUint64(&m.storeErrors),
		CacheErrors:       atomic.LoadUint64(&m.cacheErrors),
		NormalizeLatency:  m.normalizeLatency.Snapshot(),
		PipelineLatency:   m.pipelineLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
