package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/alert"
	"main/internal/cache"
	"main/internal/monitor"
	"main/internal/obs"
	"main/internal/store"
)

// Config tunes the HTTP surface.
type Config struct {
	Listen string
}

// Server exposes the query, monitoring and live-push surface over HTTP.
// Store and cache are optional; endpoints depending on a missing backend
// answer 503.
type Server struct {
	cfg       Config
	engine    *gin.Engine
	hub       *Hub
	store     *store.Store
	cache     *cache.Cache
	collector *monitor.Collector
	alerts    *alert.Engine
	metrics   *obs.Metrics
	connIDs   *obs.IDSource
	upgrader  websocket.Upgrader
}

// New wires the routes. Any of store, cache and alerts may be nil.
func New(
	cfg Config,
	collector *monitor.Collector,
	metrics *obs.Metrics,
	st *store.Store,
	ca *cache.Cache,
	alerts *alert.Engine,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		engine:    gin.New(),
		hub:       NewHub(),
		store:     st,
		cache:     ca,
		collector: collector,
		alerts:    alerts,
		metrics:   metrics,
		connIDs:   obs.NewIDSource(0),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// Hub exposes the push hub so the caller can pump bus streams into it.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.engine.GET("/api/health", s.handleHealth)
	s.engine.GET("/api/monitoring", s.handleMonitoring)
	s.engine.GET("/api/candles", s.handleCandles)
	s.engine.GET("/api/window-metrics", s.handleWindowMetrics)
	s.engine.GET("/api/alerts", s.handleAlerts)
	s.engine.GET("/api/rules", s.handleRules)
	s.engine.PUT("/api/rules", s.handleUpdateRules)
	s.engine.GET("/api/latest/tick", s.handleLatestTick)
	s.engine.GET("/api/latest/candle", s.handleLatestCandle)
	s.engine.GET("/ws", s.handleWebsocket)
}

// Run serves until the context ends, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("api listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "api serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api shutdown")
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"metrics":  s.metrics.Snapshot(),
		"channels": s.collector.Snapshot().Channels,
	})
}

func (s *Server) handleMonitoring(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	filter, err := candleFilterFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := s.store.Candles(c.Request.Context(), filter)
	if err != nil {
		logs.Errorf("query candles: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleWindowMetrics(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	filter, err := candleFilterFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := s.store.Metrics(c.Request.Context(), filter)
	if err != nil {
		logs.Errorf("query window metrics: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	filter, err := alertFilterFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := s.store.Alerts(c.Request.Context(), filter)
	if err != nil {
		logs.Errorf("query alerts: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleRules(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alerting disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": s.alerts.Rules()})
}

func (s *Server) handleUpdateRules(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alerting disabled"})
		return
	}
	var body struct {
		Rules []alert.RuleConfig `json:"rules"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.alerts.Update(body.Rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": s.alerts.Rules()})
}

func (s *Server) handleLatestTick(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache disabled"})
		return
	}
	exchange, symbol := c.Query("exchange"), c.Query("symbol")
	if exchange == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange and symbol are required"})
		return
	}
	tick, found, err := s.cache.LatestTick(c.Request.Context(), exchange, symbol)
	if err != nil {
		logs.Errorf("latest tick: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tick cached"})
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (s *Server) handleLatestCandle(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache disabled"})
		return
	}
	exchange, symbol := c.Query("exchange"), c.Query("symbol")
	if exchange == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange and symbol are required"})
		return
	}
	window, err := windowParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if window == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window is required"})
		return
	}
	candle, found, err := s.cache.LatestCandle(c.Request.Context(), exchange, symbol, window)
	if err != nil {
		logs.Errorf("latest candle: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candle cached"})
		return
	}
	c.JSON(http.StatusOK, candle)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Errorf("websocket upgrade: %+v", err)
		return
	}
	cl := &client{id: s.connIDs.Next(), hub: s.hub, conn: conn, send: make(chan []byte, 256)}
	if !s.hub.add(cl) {
		conn.Close()
		return
	}
	logs.Infof("websocket client %d connected from %s", cl.id, c.ClientIP())
	go cl.writePump()
	go cl.readPump()
}

func candleFilterFrom(c *gin.Context) (store.CandleFilter, error) {
	var filter store.CandleFilter
	filter.Exchange = c.Query("exchange")
	filter.Symbol = c.Query("symbol")
	window, err := windowParam(c)
	if err != nil {
		return filter, err
	}
	filter.Window = window
	filter.From, err = timeParam(c, "from")
	if err != nil {
		return filter, err
	}
	filter.To, err = timeParam(c, "to")
	if err != nil {
		return filter, err
	}
	filter.Page, err = pageParam(c)
	return filter, err
}

func alertFilterFrom(c *gin.Context) (store.AlertFilter, error) {
	var filter store.AlertFilter
	var err error
	filter.Rule = c.Query("rule")
	filter.Source = c.Query("source")
	filter.Symbol = c.Query("symbol")
	filter.From, err = timeParam(c, "from")
	if err != nil {
		return filter, err
	}
	filter.To, err = timeParam(c, "to")
	if err != nil {
		return filter, err
	}
	filter.Page, err = pageParam(c)
	return filter, err
}

func windowParam(c *gin.Context) (time.Duration, error) {
	raw := c.Query("window")
	if raw == "" {
		return 0, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Errorf("invalid window %q", raw)
	}
	return window, nil
}

func timeParam(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid %s %q, expected RFC3339", key, raw)
	}
	return t, nil
}

func pageParam(c *gin.Context) (store.Page, error) {
	var page store.Page
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.Errorf("invalid page %q", raw)
		}
		page.Page = n
	}
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.Errorf("invalid page_size %q", raw)
		}
		page.PageSize = n
	}
	return page, nil
}
