package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/channel"
	"main/internal/model"
	"main/internal/model/enum"
)

const defaultRestartCooldown = 10 * time.Second

// TransportFactory builds the transport for a channel profile.
type TransportFactory func(p channel.Profile) (channel.Transport, error)

// Config tunes supervisor behavior and the channels it creates.
type Config struct {
	Channel         channel.Config
	RestartCooldown time.Duration
}

type managed struct {
	profile     channel.Profile
	ch          *channel.Channel
	lastStartAt time.Time
	unpipe      []func()
}

// Supervisor reconciles the desired set of channel profiles against the
// running set. It is the only writer of the active-channel map; concurrent
// Reconcile calls serialize on the supervisor mutex so at most one channel
// ever exists per profile key.
type Supervisor struct {
	cfg     Config
	factory TransportFactory

	mu       sync.Mutex
	channels map[string]*managed

	raw       *bus.Stream[model.RawMessage]
	faults    *bus.Stream[channel.Fault]
	status    *bus.Stream[model.SourceConnectivityStatus]
	stats     *bus.Stream[model.ChannelStatistics]
	lifecycle *bus.Stream[channel.LifecycleEvent]
	removals  *bus.Stream[string]
}

// New builds a supervisor that creates transports through the factory.
func New(factory TransportFactory, cfg Config) *Supervisor {
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = defaultRestartCooldown
	}
	return &Supervisor{
		cfg:       cfg,
		factory:   factory,
		channels:  make(map[string]*managed),
		raw:       bus.NewStream[model.RawMessage](),
		faults:    bus.NewStream[channel.Fault](),
		status:    bus.NewStream[model.SourceConnectivityStatus](),
		stats:     bus.NewStream[model.ChannelStatistics](),
		lifecycle: bus.NewStream[channel.LifecycleEvent](),
		removals:  bus.NewStream[string](),
	}
}

// Raw aggregates raw messages across all managed channels.
func (s *Supervisor) Raw() *bus.Stream[model.RawMessage] { return s.raw }

// Faults aggregates transport faults across all managed channels.
func (s *Supervisor) Faults() *bus.Stream[channel.Fault] { return s.faults }

// Status aggregates connectivity flips across all managed channels.
func (s *Supervisor) Status() *bus.Stream[model.SourceConnectivityStatus] { return s.status }

// Stats aggregates statistics snapshots across all managed channels.
func (s *Supervisor) Stats() *bus.Stream[model.ChannelStatistics] { return s.stats }

// Lifecycle aggregates lifecycle transitions across all managed channels.
func (s *Supervisor) Lifecycle() *bus.Stream[channel.LifecycleEvent] { return s.lifecycle }

// Removals announces the ID of every channel stopped because its profile
// was removed or disabled, so downstream views can drop their state.
func (s *Supervisor) Removals() *bus.Stream[string] { return s.removals }

// Reconcile drives the running set toward the desired profiles: missing
// channels are created and started, removed or disabled ones are stopped,
// and faulted but still-desired ones are restarted after a cool-down.
func (s *Supervisor) Reconcile(ctx context.Context, profiles []channel.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]channel.Profile, len(profiles))
	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		// Duplicate keys collapse to a single channel.
		desired[p.Key()] = p
	}

	var firstErr error

	// Stop channels whose profile disappeared or was disabled.
	for key, m := range s.channels {
		if _, ok := desired[key]; ok {
			continue
		}
		s.stopLocked(ctx, key, m)
	}

	// Start missing channels, restart faulted ones past their cool-down.
	for key, p := range desired {
		m, ok := s.channels[key]
		if !ok {
			if err := s.startLocked(ctx, p); err != nil {
				logs.Errorf("supervisor: start channel %s: %+v", key, err)
				if firstErr == nil {
					firstErr = err
				}
			}
			continue
		}
		if m.ch.State() == enum.LifecycleFaulted && time.Since(m.lastStartAt) >= s.cfg.RestartCooldown {
			logs.Infof("supervisor: restarting faulted channel %s", key)
			m.lastStartAt = time.Now()
			if err := m.ch.Start(ctx); err != nil {
				logs.Errorf("supervisor: restart channel %s: %+v", key, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// Shutdown stops every managed channel within the context deadline.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.channels {
		s.stopLocked(ctx, key, m)
	}
}

// States snapshots the lifecycle state of every managed channel.
func (s *Supervisor) States() map[string]enum.LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]enum.LifecycleState, len(s.channels))
	for key, m := range s.channels {
		states[key] = m.ch.State()
	}
	return states
}

// Statistics snapshots the counters of every managed channel.
func (s *Supervisor) Statistics() map[string]model.ChannelStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[string]model.ChannelStatistics, len(s.channels))
	for key, m := range s.channels {
		stats[key] = m.ch.StatsSnapshot()
	}
	return stats
}

func (s *Supervisor) startLocked(ctx context.Context, p channel.Profile) error {
	transport, err := s.factory(p)
	if err != nil {
		return errors.Wrapf(channel.ErrChannelStart, "build transport for %s: %v", p.Key(), err)
	}
	ch := channel.New(p, transport, s.cfg.Channel)

	m := &managed{profile: p, ch: ch, lastStartAt: time.Now()}
	m.unpipe = []func(){
		pipe(ctx, ch.Raw(), s.raw),
		pipe(ctx, ch.Faults(), s.faults),
		pipe(ctx, ch.Status(), s.status),
		pipe(ctx, ch.Stats(), s.stats),
		pipe(ctx, ch.Lifecycle(), s.lifecycle),
	}

	if err := ch.Start(ctx); err != nil {
		m.detach()
		return err
	}
	s.channels[p.Key()] = m
	return nil
}

func (s *Supervisor) stopLocked(ctx context.Context, key string, m *managed) {
	stopCtx, cancel := context.WithTimeout(ctx, stopGrace(ctx))
	defer cancel()
	if err := m.ch.Stop(stopCtx); err != nil {
		logs.Errorf("supervisor: stop channel %s: %+v", key, err)
	}
	m.detach()
	delete(s.channels, key)
	s.removals.Publish(m.ch.ID())
}

func (m *managed) detach() {
	for _, unpipe := range m.unpipe {
		unpipe()
	}
	m.unpipe = nil
}

func stopGrace(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < 5*time.Second {
			return left
		}
	}
	return 5 * time.Second
}

// pipe forwards events from a channel-owned stream into an aggregate stream
// until unsubscribed.
func pipe[T any](ctx context.Context, from *bus.Stream[T], to *bus.Stream[T]) func() {
	sub := from.Subscribe(1024)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				to.Publish(v)
			}
		}
	}()
	return func() { from.Unsubscribe(sub) }
}
