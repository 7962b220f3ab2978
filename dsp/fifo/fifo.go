// Package fifo provides a lock-free single-producer single-consumer ring
// of float64 samples. It carries audio across the capture/playback
// boundary: exactly one goroutine pushes and exactly one pops, with no
// locks on either side.
package fifo

import (
	"fmt"
	"sync/atomic"
)

// FIFO is a fixed-capacity power-of-two ring buffer. One goroutine may
// call Push and one other goroutine may call Pop concurrently.
type FIFO struct {
	buf  []float64
	mask uint64

	head atomic.Uint64 // next write position
	tail atomic.Uint64 // next read position
}

// New creates a FIFO holding at least capacity samples, rounded up to
// the next power of two.
func New(capacity int) (*FIFO, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("fifo: invalid capacity %d", capacity)
	}

	size := 1
	for size < capacity {
		size <<= 1
	}

	return &FIFO{
		buf:  make([]float64, size),
		mask: uint64(size - 1),
	}, nil
}

// Cap returns the total capacity in samples.
func (f *FIFO) Cap() int {
	return len(f.buf)
}

// Len returns the number of samples currently buffered.
func (f *FIFO) Len() int {
	return int(f.head.Load() - f.tail.Load())
}

// Free returns the remaining space in samples.
func (f *FIFO) Free() int {
	return f.Cap() - f.Len()
}

// Reset discards all buffered samples. It must not race with Push or
// Pop; call it only while both sides are idle.
func (f *FIFO) Reset() {
	f.head.Store(0)
	f.tail.Store(0)
}

// Push appends as many samples from src as space allows and returns the
// number written. Producer side only.
func (f *FIFO) Push(src []float64) int {
	head := f.head.Load()
	tail := f.tail.Load()

	free := f.Cap() - int(head-tail)

	n := len(src)
	if n > free {
		n = free
	}

	for i := 0; i < n; i++ {
		f.buf[(head+uint64(i))&f.mask] = src[i]
	}

	f.head.Store(head + uint64(n))

	return n
}

// Pop fills dst with up to len(dst) buffered samples and returns the
// number read. Consumer side only.
func (f *FIFO) Pop(dst []float64) int {
	head := f.head.Load()
	tail := f.tail.Load()

	avail := int(head - tail)

	n := len(dst)
	if n > avail {
		n = avail
	}

	for i := 0; i < n; i++ {
		dst[i] = f.buf[(tail+uint64(i))&f.mask]
	}

	f.tail.Store(tail + uint64(n))

	return n
}
