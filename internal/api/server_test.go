package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/alert"
	"main/internal/bus"
	"main/internal/model"
	"main/internal/monitor"
	"main/internal/obs"
)

func newTestServer(t *testing.T, alerts *alert.Engine) *Server {
	t.Helper()
	return New(
		Config{Listen: "127.0.0.1:0"},
		monitor.NewCollector(monitor.Config{}),
		obs.NewMetrics(),
		nil,
		nil,
		alerts,
	)
}

func doRequest(s *Server, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsMetricsAndChannels(t *testing.T) {
	s := newTestServer(t, nil)
	s.metrics.IncTickNormalized()

	rec := doRequest(s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string `json:"status"`
		Metrics struct {
			TicksNormalized uint64 `json:"ticks_normalized"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, uint64(1), body.Metrics.TicksNormalized)
}

func TestQueryEndpointsWithoutStorageAnswer503(t *testing.T) {
	s := newTestServer(t, nil)
	for _, target := range []string{"/api/candles", "/api/window-metrics", "/api/alerts"} {
		rec := doRequest(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestLatestEndpointsWithoutCacheAnswer503(t *testing.T) {
	s := newTestServer(t, nil)
	for _, target := range []string{"/api/latest/tick", "/api/latest/candle"} {
		rec := doRequest(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestRulesRoundTrip(t *testing.T) {
	engine := alert.NewEngine(obs.NewMetrics())
	s := newTestServer(t, engine)

	rec := doRequest(s, http.MethodPut, "/api/rules", `{
		"rules": [{
			"name":       "btc-floor",
			"kind":       "price_threshold",
			"enabled":    true,
			"symbol":     "BTC-USD",
			"parameters": {"min_price": "10000"}
		}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, engine.Rules(), 1)
	assert.Equal(t, "btc-floor", engine.Rules()[0].Name)

	rec = doRequest(s, http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "btc-floor")
}

func TestUpdateRulesRejectsInvalidSet(t *testing.T) {
	engine := alert.NewEngine(obs.NewMetrics())
	s := newTestServer(t, engine)

	rec := doRequest(s, http.MethodPut, "/api/rules", `{
		"rules": [{"name": "", "kind": "price_threshold"}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.Rules())
}

func queryContext(t *testing.T, target string) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c
}

func TestCandleFilterParsing(t *testing.T) {
	c := queryContext(t, "/api/candles?exchange=kraken&symbol=BTC-USD&window=1m&from=2026-01-02T15:00:00Z&page=2&page_size=50")

	filter, err := candleFilterFrom(c)
	require.NoError(t, err)
	assert.Equal(t, "kraken", filter.Exchange)
	assert.Equal(t, "BTC-USD", filter.Symbol)
	assert.Equal(t, time.Minute, filter.Window)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC), filter.From)
	assert.True(t, filter.To.IsZero())
	assert.Equal(t, 2, filter.Page.Page)
	assert.Equal(t, 50, filter.Page.PageSize)
}

func TestCandleFilterRejectsMalformedParams(t *testing.T) {
	for name, target := range map[string]string{
		"window":    "/api/candles?window=bogus",
		"from":      "/api/candles?from=not-a-ts",
		"to":        "/api/candles?to=yesterday",
		"page":      "/api/candles?page=abc",
		"page size": "/api/candles?page_size=abc",
	} {
		_, err := candleFilterFrom(queryContext(t, target))
		assert.Error(t, err, name)
	}
}

func TestAlertFilterParsing(t *testing.T) {
	c := queryContext(t, "/api/alerts?rule=btc-floor&source=kraken-websocket&to=2026-01-02T15:00:00Z")

	filter, err := alertFilterFrom(c)
	require.NoError(t, err)
	assert.Equal(t, "btc-floor", filter.Rule)
	assert.Equal(t, "kraken-websocket", filter.Source)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC), filter.To)
}

func TestHubBroadcastsToClientsAndPrunesSlowOnes(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	fast := &client{hub: hub, send: make(chan []byte, 4)}
	slow := &client{hub: hub, send: make(chan []byte)}
	hub.register <- fast
	hub.register <- slow

	hub.Broadcast(PushEvent{Type: "tick", Data: map[string]string{"symbol": "BTC-USD"}})

	select {
	case msg := <-fast.send:
		assert.Contains(t, string(msg), `"type":"tick"`)
	case <-time.After(2 * time.Second):
		t.Fatal("fast client never received the event")
	}

	// The slow client has no reader and an unbuffered queue, so the first
	// broadcast already evicted it and closed its channel.
	select {
	case _, ok := <-slow.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not pruned")
	}
}

func TestStoppedHubRejectsClientsWithoutBlocking(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(t.Context())
	go hub.Run(ctx)
	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never stopped")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c := &client{hub: hub, send: make(chan []byte, 1)}
		assert.False(t, hub.add(c))
		hub.remove(c)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("add/remove blocked on a stopped hub")
	}
}

func TestPumpForwardsStreams(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	ticks := bus.NewStream[model.Tick]()
	candles := bus.NewStream[model.Candle]()
	alerts := bus.NewStream[model.Alert]()
	go hub.Pump(ctx, ticks.Subscribe(16), candles.Subscribe(16), alerts.Subscribe(16))

	sink := &client{hub: hub, send: make(chan []byte, 16)}
	hub.register <- sink

	require.Eventually(t, func() bool {
		ticks.Publish(model.Tick{Symbol: "BTC-USD"})
		select {
		case msg := <-sink.send:
			return strings.Contains(string(msg), `"type":"tick"`)
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketPushDeliversEvents(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		s.hub.Broadcast(PushEvent{Type: "alert", Data: model.Alert{Rule: "btc-floor"}})
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, msg, err := conn.ReadMessage()
		return err == nil && strings.Contains(string(msg), "btc-floor")
	}, 2*time.Second, 10*time.Millisecond)
}
