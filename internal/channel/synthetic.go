package channel

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync/atomic"
	"time"
)

// SyntheticPayload is the wire shape the synthetic feed produces. The
// normalizer decodes it under the "synthetic" exchange dialect.
type SyntheticPayload struct {
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	EventTs int64   `json:"event_ts"` // unix nanoseconds
}

// SyntheticTransport generates a random-walk trade feed without any network.
// Used for test mode and local development.
type SyntheticTransport struct {
	symbols  []string
	interval time.Duration
	rng      *rand.Rand

	prices    []float64
	index     int
	connected atomic.Bool
}

// NewSyntheticTransport creates a generator emitting one trade per interval,
// rotating through the symbols.
func NewSyntheticTransport(symbols []string, interval time.Duration, basePrice float64, seed int64) *SyntheticTransport {
	if interval <= 0 {
		interval = time.Second
	}
	if basePrice <= 0 {
		basePrice = 100
	}
	prices := make([]float64, len(symbols))
	for i := range prices {
		prices[i] = basePrice * float64(i+1)
	}
	return &SyntheticTransport{
		symbols:  symbols,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		prices:   prices,
	}
}

func (t *SyntheticTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.connected.Store(true)
	return nil
}

func (t *SyntheticTransport) Read(ctx context.Context) ([]byte, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	i := t.index
	t.index = (t.index + 1) % len(t.symbols)

	// Bounded random walk around the per-symbol base price.
	step := (t.rng.Float64() - 0.5) * t.prices[i] * 0.002
	t.prices[i] += step
	payload := SyntheticPayload{
		Symbol:  t.symbols[i],
		Price:   t.prices[i],
		Volume:  t.rng.Float64() * 2,
		EventTs: time.Now().UnixNano(),
	}
	return json.Marshal(payload)
}

func (t *SyntheticTransport) Close() error {
	t.connected.Store(false)
	return nil
}
