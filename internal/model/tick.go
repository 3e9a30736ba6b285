package model

import "time"

// RawMessage is an opaque feed payload before normalization.
// It is owned by the producing channel until handed to the normalizer.
type RawMessage struct {
	ChannelID  string
	Exchange   string
	Payload    []byte
	ReceivedAt time.Time
}

// Tick is a single normalized trade observation. Immutable once created.
type Tick struct {
	Source     string    `json:"source"`
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	EventAt    time.Time `json:"event_at"`
	ReceivedAt time.Time `json:"received_at"`
}
