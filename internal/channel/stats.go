package channel

import (
	"sync/atomic"
	"time"

	"main/internal/model"
)

// Statistics aggregates one channel's counters. Mutated only by the owning
// channel; exposed to readers as an immutable snapshot.
type Statistics struct {
	messages  atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64
	lastMsgNs atomic.Int64

	latencyCount atomic.Uint64
	latencySum   atomic.Uint64
}

// ObserveMessage records one inbound message and its dispatch latency.
func (s *Statistics) ObserveMessage(at time.Time, latency time.Duration) {
	s.messages.Add(1)
	s.lastMsgNs.Store(at.UnixNano())
	if latency > 0 {
		s.latencyCount.Add(1)
		s.latencySum.Add(uint64(latency))
	}
}

// IncError records a transport fault.
func (s *Statistics) IncError() {
	s.errors.Add(1)
}

// AddDropped records subscriber-side queue evictions.
func (s *Statistics) AddDropped(n uint64) {
	if n > 0 {
		s.dropped.Add(n)
	}
}

// Snapshot renders the current counters as a read-only view.
func (s *Statistics) Snapshot(channelID string) model.ChannelStatistics {
	snap := model.ChannelStatistics{
		ChannelID:        channelID,
		MessagesReceived: s.messages.Load(),
		ErrorCount:       s.errors.Load(),
		DroppedMessages:  s.dropped.Load(),
	}
	if ns := s.lastMsgNs.Load(); ns > 0 {
		snap.LastMessageAt = time.Unix(0, ns)
	}
	if count := s.latencyCount.Load(); count > 0 {
		snap.AverageLatency = time.Duration(s.latencySum.Load() / count)
	}
	return snap
}
