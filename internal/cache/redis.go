package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
)

const connectTimeout = 5 * time.Second

// Config describes the Redis latest-value cache.
type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache keeps the most recent tick and candle per (exchange, symbol) in
// Redis so the query surface can serve them without touching the database.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *obs.Metrics
}

// New connects to Redis and verifies the connection.
func New(cfg Config, metrics *obs.Metrics) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "connect redis %s", cfg.Address)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl, metrics: metrics}, nil
}

// Close releases the client connection pool.
func (c *Cache) Close() error { return c.client.Close() }

// Run consumes tick and candle streams, keeping the latest value per key.
func (c *Cache) Run(ctx context.Context, ticks *bus.Subscriber[model.Tick], candles *bus.Subscriber[model.Candle]) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks.C():
			if !ok {
				return
			}
			if err := c.SetLatestTick(ctx, tick); err != nil {
				c.metrics.IncCacheError()
				logs.Errorf("cache tick %s/%s: %+v", tick.Exchange, tick.Symbol, err)
			}
		case candle, ok := <-candles.C():
			if !ok {
				return
			}
			if err := c.SetLatestCandle(ctx, candle); err != nil {
				c.metrics.IncCacheError()
				logs.Errorf("cache candle %s/%s: %+v", candle.Exchange, candle.Symbol, err)
			}
		}
	}
}

// SetLatestTick stores the most recent tick for its key.
func (c *Cache) SetLatestTick(ctx context.Context, tick model.Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return errors.Wrap(err, "marshal tick")
	}
	return c.client.Set(ctx, tickKey(tick.Exchange, tick.Symbol), data, c.ttl).Err()
}

// LatestTick loads the most recent tick for a key. Returns found=false when
// the key expired or was never written.
func (c *Cache) LatestTick(ctx context.Context, exchange, symbol string) (model.Tick, bool, error) {
	data, err := c.client.Get(ctx, tickKey(exchange, symbol)).Bytes()
	if err == redis.Nil {
		return model.Tick{}, false, nil
	}
	if err != nil {
		return model.Tick{}, false, errors.Wrap(err, "get latest tick")
	}
	var tick model.Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		return model.Tick{}, false, errors.Wrap(err, "unmarshal tick")
	}
	return tick, true, nil
}

// SetLatestCandle stores the most recent closed candle for its key and window.
func (c *Cache) SetLatestCandle(ctx context.Context, candle model.Candle) error {
	data, err := json.Marshal(candle)
	if err != nil {
		return errors.Wrap(err, "marshal candle")
	}
	return c.client.Set(ctx, candleKey(candle.Exchange, candle.Symbol, candle.Window), data, c.ttl).Err()
}

// LatestCandle loads the most recent candle for a key and window.
func (c *Cache) LatestCandle(ctx context.Context, exchange, symbol string, window time.Duration) (model.Candle, bool, error) {
	data, err := c.client.Get(ctx, candleKey(exchange, symbol, window)).Bytes()
	if err == redis.Nil {
		return model.Candle{}, false, nil
	}
	if err != nil {
		return model.Candle{}, false, errors.Wrap(err, "get latest candle")
	}
	var candle model.Candle
	if err := json.Unmarshal(data, &candle); err != nil {
		return model.Candle{}, false, errors.Wrap(err, "unmarshal candle")
	}
	return candle, true, nil
}

func tickKey(exchange, symbol string) string {
	return fmt.Sprintf("md:tick:%s:%s", exchange, symbol)
}

func candleKey(exchange, symbol string, window time.Duration) string {
	return fmt.Sprintf("md:candle:%s:%s:%s", exchange, symbol, window)
}
