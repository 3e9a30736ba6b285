package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/model/enum"
)

const (
	defaultQueueSize     = 1024
	defaultStatsInterval = time.Second
	defaultMaxRetries    = 8
)

// Fault is emitted for every transport-level error on a channel.
type Fault struct {
	ChannelID string
	Err       error
	At        time.Time
}

// LifecycleEvent is emitted on every lifecycle transition.
type LifecycleEvent struct {
	ChannelID string
	State     enum.LifecycleState
	At        time.Time
}

// Config tunes one channel's runtime behavior.
type Config struct {
	Backoff       Backoff
	MaxRetries    int
	QueueSize     int
	StatsInterval time.Duration
}

// Channel owns one logical connection to an exchange feed. It translates
// transport events into four event streams (raw messages, faults,
// connectivity status, statistics) and drives an explicit lifecycle.
type Channel struct {
	id        string
	profile   Profile
	transport Transport
	cfg       Config

	sm    *stateMachine
	stats Statistics

	raw       *bus.Stream[model.RawMessage]
	faults    *bus.Stream[Fault]
	status    *bus.Stream[model.SourceConnectivityStatus]
	statsOut  *bus.Stream[model.ChannelStatistics]
	lifecycle *bus.Stream[LifecycleEvent]

	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a channel for the profile over the given transport.
func New(profile Profile, transport Transport, cfg Config) *Channel {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Channel{
		id:        profile.Key(),
		profile:   profile,
		transport: transport,
		cfg:       cfg,
		sm:        newStateMachine(),
		raw:       bus.NewStream[model.RawMessage](),
		faults:    bus.NewStream[Fault](),
		status:    bus.NewStream[model.SourceConnectivityStatus](),
		statsOut:  bus.NewStream[model.ChannelStatistics](),
		lifecycle: bus.NewStream[LifecycleEvent](),
	}
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Profile() Profile { return c.profile }

func (c *Channel) State() enum.LifecycleState { return c.sm.Current() }

// StatsSnapshot returns the current counters.
func (c *Channel) StatsSnapshot() model.ChannelStatistics { return c.stats.Snapshot(c.id) }

func (c *Channel) Raw() *bus.Stream[model.RawMessage]                  { return c.raw }
func (c *Channel) Faults() *bus.Stream[Fault]                          { return c.faults }
func (c *Channel) Status() *bus.Stream[model.SourceConnectivityStatus] { return c.status }
func (c *Channel) Stats() *bus.Stream[model.ChannelStatistics]         { return c.statsOut }
func (c *Channel) Lifecycle() *bus.Stream[LifecycleEvent]              { return c.lifecycle }

// Start begins the connection lifecycle. Idempotent while the channel is
// already starting or running; a stopped or faulted channel begins a fresh
// lifecycle. Fails with ErrChannelStart for an invalid profile.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.sm.Current() {
	case enum.LifecycleStarting, enum.LifecycleRunning, enum.LifecycleReconnecting:
		return nil
	case enum.LifecycleStopping:
		return errors.Wrap(ErrChannelStart, "channel is stopping")
	}
	if err := c.profile.Validate(); err != nil {
		return err
	}
	if c.transport == nil {
		return errors.Wrap(ErrChannelStart, "nil transport")
	}

	c.transition(enum.LifecycleStarting)
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, cancel)
	go c.statsLoop(runCtx)
	return nil
}

// Stop drains the channel within the context deadline, then forces closure.
// The channel always reaches Stopped.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	state := c.sm.Current()
	if state == enum.LifecycleStopped || state == enum.LifecycleFaulted {
		c.mu.Unlock()
		return nil
	}
	if state == enum.LifecycleCreated {
		c.transition(enum.LifecycleStopped)
		c.mu.Unlock()
		return nil
	}
	if c.sm.TryTo(enum.LifecycleStopping) {
		c.emitLifecycle(enum.LifecycleStopping)
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			// Grace period elapsed: force the transport down so the read
			// loop unblocks, but do not wait on it any longer.
			_ = c.transport.Close()
		}
	}
	if c.sm.TryTo(enum.LifecycleStopped) {
		c.emitLifecycle(enum.LifecycleStopped)
	}
	return nil
}

func (c *Channel) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(c.done)
	defer cancel()
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.finishStopped()
			return
		}
		if err := c.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				c.finishStopped()
				return
			}
			attempt++
			c.stats.IncError()
			c.emitFault(err)
			if attempt > c.cfg.MaxRetries {
				c.fault(err)
				return
			}
			c.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		if c.sm.TryTo(enum.LifecycleRunning) {
			c.emitLifecycle(enum.LifecycleRunning)
		}
		c.setConnected(true, nil)

		readErr := c.readLoop(ctx)
		c.setConnected(false, readErr)
		_ = c.transport.Close()

		if ctx.Err() != nil {
			c.finishStopped()
			return
		}

		c.stats.IncError()
		c.emitFault(readErr)
		if c.sm.TryTo(enum.LifecycleReconnecting) {
			c.emitLifecycle(enum.LifecycleReconnecting)
		}
		attempt++
		if attempt > c.cfg.MaxRetries {
			c.fault(errors.Wrap(ErrExhaustedRetries, readErr.Error()))
			return
		}
		c.sleepBackoff(ctx, attempt)
	}
}

func (c *Channel) readLoop(ctx context.Context) error {
	for {
		payload, err := c.transport.Read(ctx)
		if err != nil {
			return err
		}
		now := time.Now()
		dropped := c.raw.Publish(model.RawMessage{
			ChannelID:  c.id,
			Exchange:   c.profile.Exchange,
			Payload:    payload,
			ReceivedAt: now,
		})
		c.stats.AddDropped(uint64(dropped))
		c.stats.ObserveMessage(now, time.Since(now))
	}
}

// statsLoop publishes statistics at a bounded rate, never per message.
func (c *Channel) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.statsOut.Publish(c.stats.Snapshot(c.id))
			return
		case <-ticker.C:
			c.statsOut.Publish(c.stats.Snapshot(c.id))
		}
	}
}

func (c *Channel) sleepBackoff(ctx context.Context, attempt int) {
	wait := c.cfg.Backoff.Next(attempt)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *Channel) finishStopped() {
	if c.sm.TryTo(enum.LifecycleStopping) {
		c.emitLifecycle(enum.LifecycleStopping)
	}
	if c.sm.TryTo(enum.LifecycleStopped) {
		c.emitLifecycle(enum.LifecycleStopped)
	}
	if c.connected.Load() {
		c.setConnected(false, nil)
	}
}

func (c *Channel) fault(err error) {
	logs.Errorf("channel %s faulted: %+v", c.id, err)
	if c.sm.TryTo(enum.LifecycleFaulted) {
		c.emitLifecycle(enum.LifecycleFaulted)
	}
	c.setConnected(false, err)
}

func (c *Channel) transition(next enum.LifecycleState) {
	c.sm.To(next)
	c.emitLifecycle(next)
}

func (c *Channel) emitLifecycle(state enum.LifecycleState) {
	c.lifecycle.Publish(LifecycleEvent{ChannelID: c.id, State: state, At: time.Now()})
}

func (c *Channel) emitFault(err error) {
	c.faults.Publish(Fault{ChannelID: c.id, Err: err, At: time.Now()})
}

// setConnected emits a connectivity status only on actual flips.
func (c *Channel) setConnected(connected bool, err error) {
	if !c.connected.CompareAndSwap(!connected, connected) {
		return
	}
	status := model.SourceConnectivityStatus{
		ChannelID:        c.id,
		Connected:        connected,
		LastTransitionAt: time.Now(),
	}
	if err != nil {
		status.LastError = err.Error()
	}
	c.status.Publish(status)
}
