// Package tick provides the 16 microsecond monotonic tick used to time every
// duration in the TDM MAC. The counter is a free-running uint16 driven by a
// hardware timer on real hardware or by a software source in tests, and it is
// expected to wrap; all math in this package and its callers is done with
// wrapping unsigned subtraction so a wrap never produces a spurious jump.
package tick

import "sync/atomic"

// Ticks counts 16us intervals. A MAC round lasts well under 2^16 ticks
// (~1 second) so wraparound only ever needs to be handled across single
// wraps, via ordinary unsigned subtraction.
type Ticks uint16

// Sub returns how many ticks elapsed going from earlier to t, correctly
// handling a single wrap of the counter.
func Sub(t, earlier Ticks) Ticks {
	return t - earlier
}

// Source reports the current value of a free-running tick counter.
type Source interface {
	Now() Ticks
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func() Ticks

// Now implements Source.
func (f SourceFunc) Now() Ticks { return f() }

// Counter is a lock-free, ISR-safe free-running tick counter: a single
// producer (the timer interrupt, or a goroutine standing in for one)
// advances it with Advance, any number of consumers may call Now.
type Counter struct {
	v atomic.Uint32
}

// Now returns the current tick count.
func (c *Counter) Now() Ticks { return Ticks(c.v.Load()) }

// Advance adds n ticks to the counter. Only the producer side may call this.
func (c *Counter) Advance(n Ticks) { c.v.Add(uint32(n)) }

// Set forces the counter to a specific value, used by tests.
func (c *Counter) Set(v Ticks) { c.v.Store(uint32(v)) }
