package audio

import "time"

// RingBuffer keeps the most recent span of PCM bytes. The segment detector
// uses it to hold lead-in audio while idle so that speech onset is not
// clipped. It is owned by a single goroutine and is not safe for concurrent use.
type RingBuffer struct {
	data     []byte
	writePos int
	size     int
}

// NewRingBuffer creates a buffer holding up to d of audio in format f.
func NewRingBuffer(f Format, d time.Duration) *RingBuffer {
	return &RingBuffer{data: make([]byte, f.Bytes(d))}
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
func (rb *RingBuffer) Write(p []byte) {
	capacity := len(rb.data)
	if capacity == 0 || len(p) == 0 {
		return
	}

	if len(p) >= capacity {
		copy(rb.data, p[len(p)-capacity:])
		rb.writePos = 0
		rb.size = capacity
		return
	}

	n := copy(rb.data[rb.writePos:], p)
	if n < len(p) {
		copy(rb.data, p[n:])
	}
	rb.writePos = (rb.writePos + len(p)) % capacity

	rb.size += len(p)
	if rb.size > capacity {
		rb.size = capacity
	}
}

// Bytes returns the buffered data oldest first. The buffer is left unchanged.
func (rb *RingBuffer) Bytes() []byte {
	if rb.size == 0 {
		return nil
	}

	out := make([]byte, rb.size)
	if rb.size < len(rb.data) {
		copy(out, rb.data[:rb.size])
		return out
	}

	n := copy(out, rb.data[rb.writePos:])
	copy(out[n:], rb.data[:rb.writePos])
	return out
}

// Reset drops all buffered data.
func (rb *RingBuffer) Reset() {
	rb.writePos = 0
	rb.size = 0
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int { return rb.size }

// Cap returns the buffer capacity in bytes.
func (rb *RingBuffer) Cap() int { return len(rb.data) }
