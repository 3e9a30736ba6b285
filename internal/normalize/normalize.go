package normalize

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/channel"
	"main/internal/model"
	"main/internal/obs"
)

// DecodeFunc converts one raw exchange payload into ticks. Exchanges that
// batch several trades per frame yield them all, in payload order.
type DecodeFunc func(raw model.RawMessage) ([]model.Tick, error)

// Normalizer converts raw channel payloads into canonical ticks. It is
// stateless per message; each payload is decoded by the dialect registered
// for its exchange.
type Normalizer struct {
	dialects map[string]DecodeFunc
	metrics  *obs.Metrics
}

// New builds a normalizer with the built-in exchange dialects.
func New(metrics *obs.Metrics) *Normalizer {
	n := &Normalizer{
		dialects: make(map[string]DecodeFunc),
		metrics:  metrics,
	}
	n.Register("binance", decodeBinance)
	n.Register("kraken", decodeKraken)
	n.Register("synthetic", decodeSynthetic)
	return n
}

// Register installs or replaces the decoder for an exchange dialect.
func (n *Normalizer) Register(exchange string, decode DecodeFunc) {
	n.dialects[strings.ToLower(exchange)] = decode
}

// Normalize decodes a single raw message into one tick per contained trade.
func (n *Normalizer) Normalize(raw model.RawMessage) ([]model.Tick, error) {
	decode, ok := n.dialects[strings.ToLower(raw.Exchange)]
	if !ok {
		decode = decodeSynthetic
	}
	ticks, err := decode(raw)
	if err != nil {
		return nil, err
	}
	for i := range ticks {
		if ticks[i].EventAt.IsZero() {
			ticks[i].EventAt = raw.ReceivedAt
		}
		ticks[i].Source = raw.ChannelID
		ticks[i].Exchange = raw.Exchange
		ticks[i].ReceivedAt = raw.ReceivedAt
	}
	return ticks, nil
}

// Run consumes raw messages until the context ends or the subscription
// closes, publishing normalized ticks. Malformed payloads are counted and
// logged, never fatal.
func (n *Normalizer) Run(ctx context.Context, sub *bus.Subscriber[model.RawMessage], out *bus.Stream[model.Tick]) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.C():
			if !ok {
				return
			}
			begin := time.Now()
			ticks, err := n.Normalize(raw)
			if err != nil {
				n.metrics.IncMalformedPayload()
				logs.Errorf("normalize payload from %s: %+v", raw.ChannelID, err)
				continue
			}
			n.metrics.ObserveNormalize(time.Since(begin))
			for _, tick := range ticks {
				n.metrics.IncTickNormalized()
				n.metrics.AddQueueDrops(out.Publish(tick))
			}
		}
	}
}

// binanceTrade is the binance trade stream payload. Prices and quantities
// arrive as decimal strings.
type binanceTrade struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
	TradeTime int64           `json:"T"`
}

func decodeBinance(raw model.RawMessage) ([]model.Tick, error) {
	var trade binanceTrade
	if err := json.Unmarshal(raw.Payload, &trade); err != nil {
		return nil, errors.Wrap(err, "unmarshal binance trade")
	}
	if trade.EventType != "trade" {
		return nil, errors.Errorf("unexpected binance event type: %q", trade.EventType)
	}
	if len(trade.Symbol) == 0 {
		return nil, errors.Errorf("binance trade missing symbol")
	}
	price, err := decimalToFloat(trade.Price)
	if err != nil {
		return nil, errors.Wrap(err, "parse binance price")
	}
	volume, err := decimalToFloat(trade.Quantity)
	if err != nil {
		return nil, errors.Wrap(err, "parse binance quantity")
	}
	eventMs := trade.TradeTime
	if eventMs == 0 {
		eventMs = trade.EventTime
	}
	return []model.Tick{{
		Symbol:  trade.Symbol,
		Price:   price,
		Volume:  volume,
		EventAt: time.UnixMilli(eventMs).UTC(),
	}}, nil
}

// krakenTrade is the kraken v2 trade payload shape.
type krakenTrade struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol    string  `json:"symbol"`
		Price     float64 `json:"price"`
		Quantity  float64 `json:"qty"`
		Timestamp string  `json:"timestamp"`
	} `json:"data"`
}

func decodeKraken(raw model.RawMessage) ([]model.Tick, error) {
	var trade krakenTrade
	if err := json.Unmarshal(raw.Payload, &trade); err != nil {
		return nil, errors.Wrap(err, "unmarshal kraken trade")
	}
	if trade.Channel != "trade" || len(trade.Data) == 0 {
		return nil, errors.Errorf("unexpected kraken payload: channel=%q entries=%d", trade.Channel, len(trade.Data))
	}
	// Kraken batches several trades per frame; every entry becomes a tick.
	ticks := make([]model.Tick, 0, len(trade.Data))
	for i, entry := range trade.Data {
		if len(entry.Symbol) == 0 {
			return nil, errors.Errorf("kraken trade %d missing symbol", i)
		}
		var eventAt time.Time
		if ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err == nil {
			eventAt = ts.UTC()
		}
		ticks = append(ticks, model.Tick{
			Symbol:  entry.Symbol,
			Price:   entry.Price,
			Volume:  entry.Quantity,
			EventAt: eventAt,
		})
	}
	return ticks, nil
}

func decodeSynthetic(raw model.RawMessage) ([]model.Tick, error) {
	var payload channel.SyntheticPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal synthetic payload")
	}
	if len(payload.Symbol) == 0 {
		return nil, errors.Errorf("synthetic payload missing symbol")
	}
	tick := model.Tick{
		Symbol: payload.Symbol,
		Price:  payload.Price,
		Volume: payload.Volume,
	}
	if payload.EventTs > 0 {
		tick.EventAt = time.Unix(0, payload.EventTs).UTC()
	}
	return []model.Tick{tick}, nil
}

func decimalToFloat(d decimal.Decimal) (float64, error) {
	s := d.String()
	if len(s) == 0 {
		return 0, errors.Errorf("empty decimal")
	}
	return strconv.ParseFloat(s, 64)
}
