// Package trailer implements the 2-byte TDM trailer appended to every on-air
// packet: the sender's residual phase time plus three flag bits, bit-packed
// little-endian as described in the MAC design.
package trailer

import "github.com/tve-radio/tdmmodem/tick"

// Size is the wire length of a packed trailer, in bytes.
const Size = 2

// MaxWindow is the largest value the 13-bit window field can hold.
const MaxWindow = 0x1FFF

// Trailer carries the sender's phase-sync state for one packet.
type Trailer struct {
	Window  tick.Ticks // bits 0-12: ticks left in sender's phase after this packet
	Command bool       // bit 13: payload is a remote AT command/response
	Bonus   bool       // bit 14: sender is transmitting inside the peer's window
	Resend  bool       // bit 15: payload is byte-identical to sender's previous packet
}

// Pack bit-packs t into its 2-byte wire form.
func (t Trailer) Pack() [Size]byte {
	v := uint16(t.Window) & MaxWindow
	if t.Command {
		v |= 1 << 13
	}
	if t.Bonus {
		v |= 1 << 14
	}
	if t.Resend {
		v |= 1 << 15
	}
	return [Size]byte{byte(v), byte(v >> 8)}
}

// Unpack decodes the 2-byte wire form of a trailer. buf must be at least
// Size bytes; only the first Size bytes are consulted.
func Unpack(buf []byte) Trailer {
	v := uint16(buf[0]) | uint16(buf[1])<<8
	return Trailer{
		Window:  tick.Ticks(v & MaxWindow),
		Command: v&(1<<13) != 0,
		Bonus:   v&(1<<14) != 0,
		Resend:  v&(1<<15) != 0,
	}
}
