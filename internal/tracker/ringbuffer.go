package tracker

import "sync"

// ringBuffer keeps the most recent values, overwriting the oldest once
// full.
type ringBuffer struct {
	mu    sync.Mutex
	items []int
	next  int
	full  bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{items: make([]int, size)}
}

func (b *ringBuffer) Add(v int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.next] = v
	b.next++
	if b.next == len(b.items) {
		b.next = 0
		b.full = true
	}
}

// Snapshot returns the stored values oldest first.
func (b *ringBuffer) Snapshot() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]int, b.next)
		copy(out, b.items[:b.next])
		return out
	}

	out := make([]int, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}
