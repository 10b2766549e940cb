// Package serial provides the host-facing serial byte stream: an SPSC ring
// buffer fed by a UART interrupt (or, in the simulator, by a writer
// goroutine standing in for one) and drained by the framer, plus a real
// hardware backend over github.com/daedaluz/goserial.
package serial

import "sync/atomic"

// ringCapacity must be a power of two; 512 bytes comfortably holds several
// TDM rounds' worth of host traffic at the serial speeds this modem
// supports.
const ringCapacity = 512

// Ring is a lock-free single-producer/single-consumer byte ring buffer: one
// side (a UART RX interrupt, or its stand-in) pushes bytes in, the other
// (the framer, from the cooperative main loop) reads them out. Per the
// concurrency model, each index is only ever written by one side.
type Ring struct {
	buf  [ringCapacity]byte
	head atomic.Uint32 // next write position, producer-owned
	tail atomic.Uint32 // next read position, consumer-owned

	// Overflow counts bytes dropped because the ring was full, saturating
	// at 255 as the original firmware's error counters do.
	Overflow uint8
}

// NewRing returns an empty Ring.
func NewRing() *Ring { return &Ring{} }

// PushByte is called by the producer side. It returns false, incrementing
// Overflow, if the ring is full.
func (r *Ring) PushByte(b byte) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= ringCapacity {
		if r.Overflow < 255 {
			r.Overflow++
		}
		return false
	}
	r.buf[head%ringCapacity] = b
	r.head.Store(head + 1)
	return true
}

// Push pushes every byte of p, stopping (and reporting overflow) if the
// ring fills up partway through.
func (r *Ring) Push(p []byte) int {
	n := 0
	for _, b := range p {
		if !r.PushByte(b) {
			break
		}
		n++
	}
	return n
}

// Available implements framer.SerialSource.
func (r *Ring) Available() int {
	return int(r.head.Load() - r.tail.Load())
}

// Peek implements framer.SerialSource.
func (r *Ring) Peek(i int) (byte, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if uint32(i) >= head-tail {
		return 0, false
	}
	return r.buf[(tail+uint32(i))%ringCapacity], true
}

// ReadByte implements framer.SerialSource.
func (r *Ring) ReadByte() (byte, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		return 0, false
	}
	b := r.buf[tail%ringCapacity]
	r.tail.Store(tail + 1)
	return b, true
}

// ReadBuf implements framer.SerialSource. Callers must not ask for more
// than Available() bytes.
func (r *Ring) ReadBuf(n int) []byte {
	out := make([]byte, n)
	tail := r.tail.Load()
	for i := 0; i < n; i++ {
		out[i] = r.buf[(tail+uint32(i))%ringCapacity]
	}
	r.tail.Store(tail + uint32(n))
	return out
}
