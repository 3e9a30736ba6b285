package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/channel"
	"main/internal/model"
	"main/internal/model/enum"
)

const defaultMaxTickDelay = 2 * time.Second

// Config tunes SLA evaluation.
type Config struct {
	// MaxTickDelay is the longest a channel may go without a message
	// before it is considered in breach.
	MaxTickDelay time.Duration
}

type channelView struct {
	state      enum.LifecycleState
	hasState   bool
	connected  bool
	lastError  string
	lastSeenAt time.Time
	stats      model.ChannelStatistics
}

// Collector folds lifecycle, connectivity and statistics events into the
// latest-value view per channel and assembles monitoring snapshots on
// demand.
type Collector struct {
	cfg Config

	mu       sync.RWMutex
	channels map[string]*channelView

	now func() time.Time
}

// NewCollector builds an empty collector.
func NewCollector(cfg Config) *Collector {
	if cfg.MaxTickDelay <= 0 {
		cfg.MaxTickDelay = defaultMaxTickDelay
	}
	return &Collector{
		cfg:      cfg,
		channels: make(map[string]*channelView),
		now:      time.Now,
	}
}

// Run consumes the supervisor's aggregate event streams until the context
// ends. Removal events drop the channel from the snapshot entirely.
func (c *Collector) Run(
	ctx context.Context,
	lifecycle *bus.Subscriber[channel.LifecycleEvent],
	status *bus.Subscriber[model.SourceConnectivityStatus],
	stats *bus.Subscriber[model.ChannelStatistics],
	removals *bus.Subscriber[string],
) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-lifecycle.C():
			if !ok {
				return
			}
			c.ObserveLifecycle(ev)
		case st, ok := <-status.C():
			if !ok {
				return
			}
			c.ObserveStatus(st)
		case snap, ok := <-stats.C():
			if !ok {
				return
			}
			c.ObserveStats(snap)
		case channelID, ok := <-removals.C():
			if !ok {
				return
			}
			c.Forget(channelID)
		}
	}
}

// ObserveLifecycle records a lifecycle transition.
func (c *Collector) ObserveLifecycle(ev channel.LifecycleEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.view(ev.ChannelID)
	view.state = ev.State
	view.hasState = true
	if !ev.At.IsZero() {
		view.lastSeenAt = ev.At
	}
}

// ObserveStatus records a connectivity flip.
func (c *Collector) ObserveStatus(status model.SourceConnectivityStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.view(status.ChannelID)
	view.connected = status.Connected
	view.lastError = status.LastError
	if !status.LastTransitionAt.IsZero() {
		view.lastSeenAt = status.LastTransitionAt
	}
}

// ObserveStats records a statistics snapshot.
func (c *Collector) ObserveStats(stats model.ChannelStatistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view(stats.ChannelID).stats = stats
}

// Forget drops all state for a channel that is no longer desired.
func (c *Collector) Forget(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
}

// Snapshot assembles the current health view. A channel breaches its SLA
// when it is Faulted, disconnected, or silent for longer than MaxTickDelay.
func (c *Collector) Snapshot() model.MonitoringSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	snapshot := model.MonitoringSnapshot{
		Channels:    make([]model.ChannelHealth, 0, len(c.channels)),
		GeneratedAt: now,
	}
	for channelID, view := range c.channels {
		state := view.state
		if !view.hasState {
			state = enum.LifecycleCreated
		}
		snapshot.Channels = append(snapshot.Channels, model.ChannelHealth{
			ChannelID:   channelID,
			State:       state,
			Connected:   view.connected,
			LastError:   view.lastError,
			Statistics:  view.stats,
			SLABreached: c.breached(now, state, view),
		})
	}
	sort.Slice(snapshot.Channels, func(i, j int) bool {
		return snapshot.Channels[i].ChannelID < snapshot.Channels[j].ChannelID
	})
	return snapshot
}

func (c *Collector) breached(now time.Time, state enum.LifecycleState, view *channelView) bool {
	if state == enum.LifecycleFaulted || state == enum.LifecycleReconnecting {
		return true
	}
	if state == enum.LifecycleRunning && !view.connected {
		return true
	}
	last := view.stats.LastMessageAt
	if last.IsZero() {
		// Feed has never delivered; measure silence from the last
		// lifecycle or connectivity transition instead.
		last = view.lastSeenAt
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > c.cfg.MaxTickDelay
}

func (c *Collector) view(channelID string) *channelView {
	view, ok := c.channels[channelID]
	if !ok {
		view = &channelView{}
		c.channels[channelID] = view
	}
	return view
}
