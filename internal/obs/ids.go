package obs

import (
	"sync/atomic"
	"time"
)

// IDSource hands out monotonically increasing IDs, used to tag websocket
// connections in logs.
type IDSource struct {
	next uint64
}

// NewIDSource returns a source seeded with the given value. A zero seed
// starts from the current time so IDs stay unique across restarts.
func NewIDSource(seed uint64) *IDSource {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &IDSource{next: seed}
}

// Next returns the next ID.
func (s *IDSource) Next() uint64 {
	if s == nil {
		return 0
	}
	return atomic.AddUint64(&s.next, 1)
}
