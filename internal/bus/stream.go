package bus

import (
	"sync"
	"sync/atomic"
)

// Stream fans events out to any number of bounded subscriber queues.
// Publish never blocks: a subscriber that falls behind loses its oldest
// pending event and has its drop counter incremented instead.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscriber[T]]struct{}
	closed bool
}

// Subscriber receives events from a Stream over a bounded queue.
type Subscriber[T any] struct {
	ch    chan T
	drops atomic.Uint64
}

// NewStream allocates an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[*Subscriber[T]]struct{})}
}

// Subscribe attaches a new subscriber with the given queue capacity.
func (s *Stream[T]) Subscribe(capacity int) *Subscriber[T] {
	if capacity <= 0 {
		capacity = 1
	}
	sub := &Subscriber[T]{ch: make(chan T, capacity)}
	s.mu.Lock()
	if s.closed {
		close(sub.ch)
	} else {
		s.subs[sub] = struct{}{}
	}
	s.mu.Unlock()
	return sub
}

// Unsubscribe detaches the subscriber and closes its queue.
func (s *Stream[T]) Unsubscribe(sub *Subscriber[T]) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.mu.Unlock()
}

// Publish delivers the event to every subscriber without blocking and
// returns how many subscriber-side events were dropped to make room.
func (s *Stream[T]) Publish(v T) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	dropped := 0
	for sub := range s.subs {
		select {
		case sub.ch <- v:
			continue
		default:
		}
		// Queue full: evict the oldest pending event to make room.
		select {
		case <-sub.ch:
			sub.drops.Add(1)
			dropped++
		default:
		}
		select {
		case sub.ch <- v:
		default:
			sub.drops.Add(1)
			dropped++
		}
	}
	return dropped
}

// Close detaches all subscribers and closes their queues.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for sub := range s.subs {
			close(sub.ch)
		}
		s.subs = make(map[*Subscriber[T]]struct{})
	}
	s.mu.Unlock()
}

// C exposes the subscriber's receive queue.
func (sub *Subscriber[T]) C() <-chan T {
	return sub.ch
}

// Dropped returns how many events this subscriber has lost to overflow.
func (sub *Subscriber[T]) Dropped() uint64 {
	return sub.drops.Load()
}
