package protocol

import (
	"math/rand"
	"sync"
)

// Correlation id ranges. Reads and subscriptions use the short range, writes
// the long range, so a frame's origin is visible from its id alone.
const (
	ShortIDMin = 1_000_000
	ShortIDMax = 9_999_999
	LongIDMin  = 1_000_000_000
	LongIDMax  = 9_999_999_999
)

const (
	historyCap  = 1000
	maxAttempts = 100
)

// IDAllocator issues correlation ids that avoid collisions within a rolling
// window. The history is bounded: at capacity it is cleared in full and the
// generation counter is bumped, so uniqueness is guaranteed only between
// clears. Correlation here only disambiguates a login ack, a bulk fetch
// response and method-tagged pushes, so a rare collision is acceptable.
type IDAllocator struct {
	mu         sync.Mutex
	history    map[int64]struct{}
	generation uint64
	intN       func(n int64) int64
}

// NewIDAllocator creates an allocator with an empty history.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		history: make(map[int64]struct{}, historyCap),
		intN:    rand.Int63n,
	}
}

// Allocate draws an id from the short range, or the long range when longForm
// is set. After a bounded number of draws a colliding id is accepted as a
// last resort.
func (a *IDAllocator) Allocate(longForm bool) int64 {
	lo, hi := int64(ShortIDMin), int64(ShortIDMax)
	if longForm {
		lo, hi = LongIDMin, LongIDMax
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.history) >= historyCap {
		a.history = make(map[int64]struct{}, historyCap)
		a.generation++
	}

	var id int64
	for attempts := 0; attempts < maxAttempts; attempts++ {
		id = lo + a.intN(hi-lo+1)
		if _, seen := a.history[id]; !seen {
			break
		}
	}
	a.history[id] = struct{}{}
	return id
}

// Generation reports how many times the history has been cleared. It makes
// the reset boundary observable for callers and tests.
func (a *IDAllocator) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}
