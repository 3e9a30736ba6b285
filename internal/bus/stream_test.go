package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFanOut(t *testing.T) {
	s := NewStream[int]()
	a := s.Subscribe(4)
	b := s.Subscribe(4)

	s.Publish(1)
	s.Publish(2)

	assert.Equal(t, 1, <-a.C())
	assert.Equal(t, 2, <-a.C())
	assert.Equal(t, 1, <-b.C())
	assert.Equal(t, 2, <-b.C())
}

func TestStreamDropOldestOnOverflow(t *testing.T) {
	s := NewStream[int]()
	sub := s.Subscribe(2)

	s.Publish(1)
	s.Publish(2)
	s.Publish(3) // evicts 1

	assert.Equal(t, uint64(1), sub.Dropped())
	assert.Equal(t, 2, <-sub.C())
	assert.Equal(t, 3, <-sub.C())
}

func TestStreamSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	s := NewStream[int]()
	slow := s.Subscribe(1)
	fast := s.Subscribe(16)

	for i := 0; i < 10; i++ {
		s.Publish(i)
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, i, <-fast.C())
	}
	assert.Equal(t, uint64(9), slow.Dropped())
	assert.Equal(t, 9, <-slow.C())
}

func TestStreamUnsubscribeClosesQueue(t *testing.T) {
	s := NewStream[int]()
	sub := s.Subscribe(1)
	s.Unsubscribe(sub)

	_, ok := <-sub.C()
	require.False(t, ok)

	// Publishing after unsubscribe must not panic.
	s.Publish(7)
}

func TestStreamClose(t *testing.T) {
	s := NewStream[int]()
	sub := s.Subscribe(1)
	s.Close()

	_, ok := <-sub.C()
	require.False(t, ok)

	late := s.Subscribe(1)
	_, ok = <-late.C()
	require.False(t, ok)
}
