package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/obs"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "md:tick:kraken:BTC-USD", tickKey("kraken", "BTC-USD"))
	assert.Equal(t, "md:candle:kraken:BTC-USD:1m0s", candleKey("kraken", "BTC-USD", time.Minute))
}

// TestCacheAgainstRedis exercises the latest-value round trip against a real
// Redis instance.
func TestCacheAgainstRedis(t *testing.T) {
	addr := os.Getenv("MARKETD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARKETD_TEST_REDIS_ADDR not set")
	}

	c, err := New(Config{Address: addr, TTL: time.Minute}, obs.NewMetrics())
	require.NoError(t, err)
	defer c.Close()

	tick := model.Tick{
		Source:     "kraken/websocket/BTC-USD",
		Exchange:   "kraken",
		Symbol:     "BTC-USD",
		Price:      64500.5,
		Volume:     0.25,
		EventAt:    time.Now().UTC().Truncate(time.Millisecond),
		ReceivedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, c.SetLatestTick(t.Context(), tick))

	got, found, err := c.LatestTick(t.Context(), "kraken", "BTC-USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tick, got)

	_, found, err = c.LatestTick(t.Context(), "kraken", "NOPE-USD")
	require.NoError(t, err)
	assert.False(t, found)

	candle := model.Candle{
		Exchange:    "kraken",
		Symbol:      "BTC-USD",
		WindowStart: time.Now().UTC().Truncate(time.Minute),
		Window:      time.Minute,
		Open:        100, High: 110, Low: 90, Close: 95,
		Volume: 1,
		Count:  3,
	}
	require.NoError(t, c.SetLatestCandle(t.Context(), candle))

	gotCandle, found, err := c.LatestCandle(t.Context(), "kraken", "BTC-USD", time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, candle, gotCandle)
}
