package term

import "sync"

// Buffer is a byte-capped replay buffer for terminal output. Writes past
// the cap evict the oldest bytes first; Snapshot returns the retained
// bytes in original write order without consuming them, so any number of
// late joiners can replay the same history.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	size   int
	start  int
	length int
}

// NewBuffer creates a buffer holding at most size bytes.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, evicting from the front when the cap is exceeded.
// A p longer than the whole buffer keeps only its tail.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		copy(b.data, p[n-b.size:])
		b.start = 0
		b.length = b.size
		return n, nil
	}

	// Evict enough old bytes to make room.
	overflow := b.length + n - b.size
	if overflow > 0 {
		b.start = (b.start + overflow) % b.size
		b.length -= overflow
	}

	writeAt := (b.start + b.length) % b.size
	first := copy(b.data[writeAt:], p)
	if first < n {
		copy(b.data, p[first:])
	}
	b.length += n

	return n, nil
}

// Snapshot returns a copy of the retained bytes in write order.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.length)
	first := copy(out, b.data[b.start:min(b.start+b.length, b.size)])
	if first < b.length {
		copy(out[first:], b.data[:b.length-first])
	}
	return out
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Cap returns the buffer's byte cap.
func (b *Buffer) Cap() int {
	return b.size
}
