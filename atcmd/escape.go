// Package atcmd implements the local "+++" AT-mode escape sequence
// detector and the remote AT command request/reply queue that lets an
// operator run an AT command against the far end of the link inline with
// normal traffic, framed with a leading "RT" marker per §4.4's
// tdm_remote_at/handle_at_command design.
package atcmd

import "github.com/tve-radio/tdmmodem/tick"

// EscapeDetector recognizes the classic Hayes "+++" escape sequence: three
// '+' characters, each preceded and followed by at least GuardTicks of
// serial silence. While armed (the three pluses have been seen but the
// trailing guard silence hasn't elapsed yet) any other byte cancels the
// sequence and passes the bytes through as ordinary data.
type EscapeDetector struct {
	GuardTicks tick.Ticks

	plusCount    int
	lastEvent    tick.Ticks
	haveLastByte bool
	armedAt      tick.Ticks
	armed        bool
}

// NewEscapeDetector creates a detector requiring guard ticks of silence
// around the escape sequence.
func NewEscapeDetector(guard tick.Ticks) *EscapeDetector {
	return &EscapeDetector{GuardTicks: guard}
}

// Observe feeds one outbound serial byte at tick now. It always returns
// false: the third '+' of a guarded sequence only arms the detector, and
// recognition (once the trailing guard silence has elapsed) is reported by
// CheckArmed.
func (e *EscapeDetector) Observe(b byte, now tick.Ticks) bool {
	if e.armed {
		// any byte arriving before the trailing guard elapses cancels the
		// escape and this byte is just ordinary data.
		e.armed = false
	}

	if b != '+' {
		e.plusCount = 0
		e.lastEvent = now
		e.haveLastByte = true
		return false
	}

	if e.plusCount == 0 {
		if e.haveLastByte && tick.Sub(now, e.lastEvent) < e.GuardTicks {
			// not enough silence before the first '+': just a literal plus
			e.lastEvent = now
			e.haveLastByte = true
			return false
		}
	} else if tick.Sub(now, e.lastEvent) > e.GuardTicks {
		// gap between pluses too long: restart the count at this byte
		e.plusCount = 0
	}

	e.plusCount++
	e.lastEvent = now
	e.haveLastByte = true

	if e.plusCount == 3 {
		e.plusCount = 0
		e.armed = true
		e.armedAt = now
	}
	return false
}

// CheckArmed should be polled once per main loop pass with the current
// tick. It returns true exactly once, the first poll after the trailing
// guard silence has elapsed following a recognized "+++" (and no byte has
// arrived to cancel it since).
func (e *EscapeDetector) CheckArmed(now tick.Ticks) bool {
	if !e.armed {
		return false
	}
	if tick.Sub(now, e.armedAt) < e.GuardTicks {
		return false
	}
	e.armed = false
	return true
}
