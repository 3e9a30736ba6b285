package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/channel"
	"main/internal/model"
	"main/internal/model/enum"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector() *Collector {
	c := NewCollector(Config{MaxTickDelay: 10 * time.Second})
	c.now = func() time.Time { return now }
	return c
}

func observeHealthy(c *Collector, channelID string) {
	c.ObserveLifecycle(channel.LifecycleEvent{ChannelID: channelID, State: enum.LifecycleRunning, At: now})
	c.ObserveStatus(model.SourceConnectivityStatus{ChannelID: channelID, Connected: true, LastTransitionAt: now})
	c.ObserveStats(model.ChannelStatistics{
		ChannelID:        channelID,
		MessagesReceived: 10,
		LastMessageAt:    now.Add(-time.Second),
	})
}

func healthOf(t *testing.T, c *Collector, channelID string) model.ChannelHealth {
	t.Helper()
	for _, h := range c.Snapshot().Channels {
		if h.ChannelID == channelID {
			return h
		}
	}
	t.Fatalf("channel %s missing from snapshot", channelID)
	return model.ChannelHealth{}
}

func TestRunningChannelWithRecentMessageMeetsSLA(t *testing.T) {
	c := newTestCollector()
	observeHealthy(c, "kraken/ws/BTC-USD")

	h := healthOf(t, c, "kraken/ws/BTC-USD")
	assert.Equal(t, enum.LifecycleRunning, h.State)
	assert.True(t, h.Connected)
	assert.False(t, h.SLABreached)
	assert.EqualValues(t, 10, h.Statistics.MessagesReceived)
}

func TestSilentChannelBreachesSLA(t *testing.T) {
	c := newTestCollector()
	observeHealthy(c, "kraken/ws/BTC-USD")
	c.ObserveStats(model.ChannelStatistics{
		ChannelID:     "kraken/ws/BTC-USD",
		LastMessageAt: now.Add(-11 * time.Second),
	})

	assert.True(t, healthOf(t, c, "kraken/ws/BTC-USD").SLABreached)
}

func TestFaultedChannelBreachesSLAWithLastError(t *testing.T) {
	c := newTestCollector()
	observeHealthy(c, "kraken/ws/BTC-USD")
	c.ObserveStatus(model.SourceConnectivityStatus{
		ChannelID: "kraken/ws/BTC-USD",
		Connected: false,
		LastError: "read: connection reset",
	})
	c.ObserveLifecycle(channel.LifecycleEvent{ChannelID: "kraken/ws/BTC-USD", State: enum.LifecycleFaulted, At: now})

	h := healthOf(t, c, "kraken/ws/BTC-USD")
	assert.Equal(t, enum.LifecycleFaulted, h.State)
	assert.True(t, h.SLABreached)
	assert.Equal(t, "read: connection reset", h.LastError)
}

func TestReconnectingChannelBreachesSLA(t *testing.T) {
	c := newTestCollector()
	observeHealthy(c, "kraken/ws/BTC-USD")
	c.ObserveLifecycle(channel.LifecycleEvent{ChannelID: "kraken/ws/BTC-USD", State: enum.LifecycleReconnecting, At: now})

	assert.True(t, healthOf(t, c, "kraken/ws/BTC-USD").SLABreached)
}

func TestDisconnectedRunningChannelBreachesSLA(t *testing.T) {
	c := newTestCollector()
	observeHealthy(c, "kraken/ws/BTC-USD")
	c.ObserveStatus(model.SourceConnectivityStatus{ChannelID: "kraken/ws/BTC-USD", Connected: false})

	assert.True(t, healthOf(t, c, "kraken/ws/BTC-USD").SLABreached)
}

func TestDeadFeedWithNoMessagesEverBreachesSLA(t *testing.T) {
	c := newTestCollector()
	c.ObserveLifecycle(channel.LifecycleEvent{ChannelID: "dead", State: enum.LifecycleRunning, At: now.Add(-time.Minute)})
	c.ObserveStatus(model.SourceConnectivityStatus{ChannelID: "dead", Connected: true, LastTransitionAt: now.Add(-time.Minute)})
	c.ObserveStats(model.ChannelStatistics{ChannelID: "dead"})

	h := healthOf(t, c, "dead")
	assert.Equal(t, enum.LifecycleRunning, h.State)
	assert.True(t, h.Connected)
	assert.True(t, h.SLABreached)
}

func TestChannelWithoutMessagesYetDoesNotBreach(t *testing.T) {
	c := newTestCollector()
	c.ObserveLifecycle(channel.LifecycleEvent{ChannelID: "fresh", State: enum.LifecycleStarting, At: now})

	assert.False(t, healthOf(t, c, "fresh").SLABreached)
}

func TestRunDropsRemovedChannelsFromSnapshot(t *testing.T) {
	c := newTestCollector()

	lifecycle := bus.NewStream[channel.LifecycleEvent]()
	status := bus.NewStream[model.SourceConnectivityStatus]()
	stats := bus.NewStream[model.ChannelStatistics]()
	removals := bus.NewStream[string]()
	go c.Run(t.Context(),
		lifecycle.Subscribe(8),
		status.Subscribe(8),
		stats.Subscribe(8),
		removals.Subscribe(8),
	)

	lifecycle.Publish(channel.LifecycleEvent{ChannelID: "stale", State: enum.LifecycleRunning, At: now})
	require.Eventually(t, func() bool {
		return len(c.Snapshot().Channels) == 1
	}, 2*time.Second, 5*time.Millisecond)

	removals.Publish("stale")
	require.Eventually(t, func() bool {
		return len(c.Snapshot().Channels) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSnapshotIsSortedAndForgetRemoves(t *testing.T) {
	c := newTestCollector()
	observeHealthy(c, "b-channel")
	observeHealthy(c, "a-channel")

	snap := c.Snapshot()
	require.Len(t, snap.Channels, 2)
	assert.Equal(t, "a-channel", snap.Channels[0].ChannelID)
	assert.Equal(t, now, snap.GeneratedAt)

	c.Forget("a-channel")
	snap = c.Snapshot()
	require.Len(t, snap.Channels, 1)
	assert.Equal(t, "b-channel", snap.Channels[0].ChannelID)
}
