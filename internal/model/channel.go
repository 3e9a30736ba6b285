package model

import "time"

// ChannelStatistics is a read-only snapshot of one channel's counters.
// Only the owning channel mutates the underlying values.
type ChannelStatistics struct {
	ChannelID        string        `json:"channel_id"`
	MessagesReceived uint64        `json:"messages_received"`
	ErrorCount       uint64        `json:"error_count"`
	DroppedMessages  uint64        `json:"dropped_messages"`
	LastMessageAt    time.Time     `json:"last_message_at"`
	AverageLatency   time.Duration `json:"average_latency"`
}

// SourceConnectivityStatus is emitted on every connectivity flip.
type SourceConnectivityStatus struct {
	ChannelID        string    `json:"channel_id"`
	Connected        bool      `json:"connected"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	LastError        string    `json:"last_error,omitempty"`
}
