package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/obs"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func tickAt(at time.Time, price, volume float64) model.Tick {
	return model.Tick{
		Source:     "kraken/websocket/BTC-USD",
		Exchange:   "kraken",
		Symbol:     "BTC-USD",
		Price:      price,
		Volume:     volume,
		EventAt:    at,
		ReceivedAt: at,
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, <-chan model.Candle, <-chan model.MetricsSnapshot) {
	t.Helper()
	e := NewEngine(cfg, obs.NewMetrics())
	candleSub := e.Candles().Subscribe(64)
	snapSub := e.Snapshots().Subscribe(64)
	t.Cleanup(func() {
		e.Candles().Unsubscribe(candleSub)
		e.Snapshots().Unsubscribe(snapSub)
	})
	return e, candleSub.C(), snapSub.C()
}

func awaitCandle(t *testing.T, candles <-chan model.Candle) model.Candle {
	t.Helper()
	select {
	case c := <-candles:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("candle never emitted")
		return model.Candle{}
	}
}

func TestSingleWindowOHLCV(t *testing.T) {
	e, candles, snaps := newTestEngine(t, Config{Windows: []time.Duration{time.Minute}})

	e.Process(tickAt(t0, 100, 1))
	e.Process(tickAt(t0.Add(time.Second), 110, 2))
	e.Process(tickAt(t0.Add(2*time.Second), 90, 3))
	// Next minute closes the window.
	e.Process(tickAt(t0.Add(time.Minute), 95, 1))

	candle := awaitCandle(t, candles)
	assert.Equal(t, t0, candle.WindowStart)
	assert.Equal(t, time.Minute, candle.Window)
	assert.Equal(t, 100.0, candle.Open)
	assert.Equal(t, 110.0, candle.High)
	assert.Equal(t, 90.0, candle.Low)
	assert.Equal(t, 90.0, candle.Close)
	assert.Equal(t, 6.0, candle.Volume)
	assert.EqualValues(t, 3, candle.Count)
	assert.GreaterOrEqual(t, candle.High, candle.Open)
	assert.GreaterOrEqual(t, candle.High, candle.Close)
	assert.LessOrEqual(t, candle.Low, candle.Open)
	assert.LessOrEqual(t, candle.Low, candle.Close)

	select {
	case snap := <-snaps:
		assert.Equal(t, t0, snap.WindowStart)
		assert.InDelta(t, 100.0, snap.AveragePrice, 1e-9)
		assert.InDelta(t, 8.16496580927726, snap.Volatility, 1e-9)
		assert.EqualValues(t, 3, snap.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics snapshot never emitted")
	}
}

func TestWindowClosesExactlyOnce(t *testing.T) {
	e, candles, _ := newTestEngine(t, Config{Windows: []time.Duration{time.Minute}})

	e.Process(tickAt(t0, 100, 1))
	e.Process(tickAt(t0.Add(time.Minute), 101, 1))
	first := awaitCandle(t, candles)
	assert.Equal(t, t0, first.WindowStart)

	// A late tick for the closed window must not re-emit it.
	e.Process(tickAt(t0.Add(30*time.Second), 999, 1))
	e.Process(tickAt(t0.Add(2*time.Minute), 102, 1))
	second := awaitCandle(t, candles)
	assert.Equal(t, t0.Add(time.Minute), second.WindowStart)
	assert.Equal(t, 101.0, second.Open)
	assert.Equal(t, 101.0, second.Close)
}

func TestLateTickIsDroppedAndCounted(t *testing.T) {
	metrics := obs.NewMetrics()
	e := NewEngine(Config{Windows: []time.Duration{time.Minute}}, metrics)

	e.Process(tickAt(t0.Add(time.Minute), 100, 1))
	e.Process(tickAt(t0.Add(2*time.Minute), 101, 1))

	// Now t0+1m is closed; anything at or before it is late.
	e.Process(tickAt(t0.Add(time.Minute+time.Second), 999, 1))
	e.Process(tickAt(t0, 999, 1))

	snap := metrics.Snapshot()
	assert.EqualValues(t, 2, snap.LateWindowDrops)
	assert.EqualValues(t, 1, snap.CandlesEmitted)
}

func TestSweepForceClosesIdleWindow(t *testing.T) {
	e, candles, _ := newTestEngine(t, Config{
		Windows: []time.Duration{time.Minute},
		Grace:   5 * time.Second,
	})

	now := t0
	e.now = func() time.Time { return now }

	e.Process(tickAt(t0, 100, 1))

	// Inside window + grace nothing closes.
	now = t0.Add(time.Minute)
	e.Sweep()
	select {
	case c := <-candles:
		t.Fatalf("unexpected candle %+v", c)
	case <-time.After(20 * time.Millisecond):
	}

	now = t0.Add(time.Minute + 6*time.Second)
	e.Sweep()
	candle := awaitCandle(t, candles)
	assert.Equal(t, t0, candle.WindowStart)
	assert.Equal(t, 100.0, candle.Close)

	// The force-closed window never re-emits, even if swept again or fed a
	// late tick.
	e.Sweep()
	e.Process(tickAt(t0.Add(time.Second), 999, 1))
	select {
	case c := <-candles:
		t.Fatalf("window re-emitted: %+v", c)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMultipleWindowsPerTick(t *testing.T) {
	e, candles, _ := newTestEngine(t, Config{
		Windows: []time.Duration{time.Minute, 5 * time.Minute},
	})

	e.Process(tickAt(t0, 100, 1))
	e.Process(tickAt(t0.Add(time.Minute), 110, 1))

	candle := awaitCandle(t, candles)
	assert.Equal(t, time.Minute, candle.Window)
	assert.EqualValues(t, 1, candle.Count)

	e.Process(tickAt(t0.Add(5*time.Minute), 120, 1))
	seen := map[time.Duration]model.Candle{}
	for len(seen) < 2 {
		c := awaitCandle(t, candles)
		seen[c.Window] = c
	}
	assert.EqualValues(t, 2, seen[5*time.Minute].Count)
	assert.Equal(t, 110.0, seen[5*time.Minute].High)
}

func TestKeysAreIndependent(t *testing.T) {
	e, candles, _ := newTestEngine(t, Config{Windows: []time.Duration{time.Minute}})

	btc := tickAt(t0, 100, 1)
	eth := tickAt(t0, 2500, 1)
	eth.Symbol = "ETH-USD"

	e.Process(btc)
	e.Process(eth)

	// Closing BTC's window leaves ETH's accumulator open.
	next := tickAt(t0.Add(time.Minute), 101, 1)
	e.Process(next)

	candle := awaitCandle(t, candles)
	assert.Equal(t, "BTC-USD", candle.Symbol)

	select {
	case c := <-candles:
		t.Fatalf("unexpected candle %+v", c)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFlushEmitsOpenWindows(t *testing.T) {
	e, candles, _ := newTestEngine(t, Config{Windows: []time.Duration{time.Minute}})

	e.Process(tickAt(t0, 100, 1))
	e.Flush()

	candle := awaitCandle(t, candles)
	require.Equal(t, t0, candle.WindowStart)
	assert.EqualValues(t, 1, candle.Count)
}
