package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/pkg/conn"
)

func TestPageNormalize(t *testing.T) {
	p := Page{}.normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.PageSize)
	assert.Equal(t, 0, p.offset())

	p = Page{Page: 3, PageSize: 50}.normalize()
	assert.Equal(t, 100, p.offset())

	p = Page{Page: 1, PageSize: 100000}.normalize()
	assert.Equal(t, 100, p.PageSize)
}

func TestRecordConversionsRoundTrip(t *testing.T) {
	candle := model.Candle{
		Source:      "kraken/websocket/BTC-USD",
		Exchange:    "kraken",
		Symbol:      "BTC-USD",
		WindowStart: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Window:      time.Minute,
		Open:        100, High: 110, Low: 90, Close: 95,
		Volume: 12.5,
		Count:  42,
	}
	assert.Equal(t, candle, candleRecord(candle).toModel())

	snapshot := model.MetricsSnapshot{
		Source:       candle.Source,
		Exchange:     candle.Exchange,
		Symbol:       candle.Symbol,
		WindowStart:  candle.WindowStart,
		Window:       candle.Window,
		AveragePrice: 98.75,
		Volatility:   8.16,
		Count:        42,
	}
	assert.Equal(t, snapshot, metricsRecord(snapshot).toModel())

	alert := model.Alert{
		Rule:      "btc-band",
		Source:    candle.Source,
		Exchange:  candle.Exchange,
		Symbol:    candle.Symbol,
		Message:   "BTC-USD price above maximum",
		Timestamp: candle.WindowStart,
	}
	assert.Equal(t, alert, alertRecord(alert).toModel())
}

// TestStoreAgainstPostgres exercises migration, the batched writer and the
// paginated queries against a real database.
func TestStoreAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("MARKETD_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MARKETD_TEST_PG_DSN not set")
	}

	client, err := conn.New(conn.Option{ConnString: dsn})
	require.NoError(t, err)
	defer client.Close()

	s := New(client.DB(), Config{BatchSize: 2, FlushInterval: 20 * time.Millisecond}, obs.NewMetrics())
	require.NoError(t, s.Migrate())

	candleStream := bus.NewStream[model.Candle]()
	snapStream := bus.NewStream[model.MetricsSnapshot]()
	alertStream := bus.NewStream[model.Alert]()

	candleSub := candleStream.Subscribe(16)
	snapSub := snapStream.Subscribe(16)
	alertSub := alertStream.Subscribe(16)
	go s.Run(t.Context(), candleSub, snapSub, alertSub)

	windowStart := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < 3; i++ {
		candleStream.Publish(model.Candle{
			Source:      "kraken/websocket/BTC-USD",
			Exchange:    "kraken",
			Symbol:      "BTC-USD",
			WindowStart: windowStart.Add(time.Duration(i) * time.Minute),
			Window:      time.Minute,
			Open:        100, High: 110, Low: 90, Close: 95,
			Volume: 1,
			Count:  1,
		})
	}
	alertStream.Publish(model.Alert{Rule: "btc-band", Symbol: "BTC-USD", Timestamp: time.Now().UTC()})

	require.Eventually(t, func() bool {
		page, err := s.Candles(t.Context(), CandleFilter{Exchange: "kraken", Symbol: "BTC-USD", From: windowStart})
		return err == nil && page.Total >= 3
	}, 5*time.Second, 100*time.Millisecond)

	page, err := s.Candles(t.Context(), CandleFilter{
		Exchange: "kraken",
		Symbol:   "BTC-USD",
		From:     windowStart,
		Page:     Page{Page: 1, PageSize: 2},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Items, 2)

	alerts, err := s.Alerts(t.Context(), AlertFilter{Rule: "btc-band"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, alerts.Total, int64(1))
}
