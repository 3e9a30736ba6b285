package model

import (
	"time"

	"main/internal/model/enum"
)

// ChannelHealth is the point-in-time health view of one channel.
type ChannelHealth struct {
	ChannelID   string              `json:"channel_id"`
	State       enum.LifecycleState `json:"state"`
	Connected   bool                `json:"connected"`
	LastError   string              `json:"last_error,omitempty"`
	Statistics  ChannelStatistics   `json:"statistics"`
	SLABreached bool                `json:"sla_breached"`
}

// MonitoringSnapshot is recomputed on demand and carries no persistent
// identity.
type MonitoringSnapshot struct {
	Channels    []ChannelHealth `json:"channels"`
	GeneratedAt time.Time       `json:"generated_at"`
}
