package timeline

import (
	"sync"

	"github.com/carewatch/guardian/internal/model"
)

// BufferCapacity bounds the staging buffer; the oldest events are
// dropped on overflow.
const BufferCapacity = 10000

// RingBuffer is the in-memory staging area the Scheduler drains every
// 10s into the warehouse client. It is not a ring in the classic
// fixed-array sense — a growable slice trimmed from the front — since
// the drop-oldest rule only needs to bound memory, not avoid
// reallocation.
type RingBuffer struct {
	mu    sync.Mutex
	items []model.TimelineEvent
}

// NewRingBuffer creates an empty RingBuffer at BufferCapacity.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{items: make([]model.TimelineEvent, 0, 256)}
}

// Push appends an event, dropping the oldest entries once the buffer
// exceeds BufferCapacity.
func (b *RingBuffer) Push(e model.TimelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, e)
	if len(b.items) > BufferCapacity {
		b.items = b.items[len(b.items)-BufferCapacity:]
	}
}

// Drain removes and returns every buffered event.
func (b *RingBuffer) Drain() []model.TimelineEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = make([]model.TimelineEvent, 0, 256)
	return out
}

// Len reports the current buffer depth, for diagnostics and tests.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
