// Package framer decouples the host-facing serial byte stream from TDM air
// packets. It implements opportunistic resend (to paper over silent link
// losses) and optional MAVLink packet-boundary alignment, so that
// MAVLink-speaking payloads aren't split across air packets any more than
// necessary.
package framer

import "github.com/tve-radio/tdmmodem/tick"

// resendThreshold mirrors PACKET_RESEND_THRESHOLD: below this many
// available serial bytes, a non-resend last transmission is opportunistically
// repeated rather than left to silently vanish.
const resendThreshold = 256

// MAVLink stanza start-of-text bytes recognised for frame alignment.
const (
	mavlink09STX = 85
	mavlink10STX = 254
)

// mavLenPending is the sentinel mavPktLen value meaning "we've seen a
// MAVLink STX byte and are waiting for the length byte that follows it".
// No real frame length (always >= 8 once the +8 header/CRC overhead is
// added) can collide with it.
const mavLenPending = 1

// SerialSource is the buffered serial RX stream a Framer draws from. It is
// implemented by serial.Ring for both the simulator and real hardware.
type SerialSource interface {
	// Available returns the number of bytes currently buffered.
	Available() int
	// Peek returns the byte at offset i without consuming it. ok is false
	// if fewer than i+1 bytes are buffered.
	Peek(i int) (b byte, ok bool)
	// ReadByte consumes and returns one byte. ok is false if the buffer is
	// empty.
	ReadByte() (b byte, ok bool)
	// ReadBuf consumes and returns exactly n buffered bytes. The caller
	// must not call this with n > Available().
	ReadBuf(n int) []byte
}

// Framer implements the packet framing policy described above. It is not
// safe for concurrent use; the MAC's single cooperative loop is its only
// caller.
type Framer struct {
	src   SerialSource
	clock tick.Source

	maxXmit    int
	serialRate tick.Ticks // 16us units per serial byte, used for MAVLink timeouts

	lastSentIsResend bool
	forceResendFlag  bool
	lastSent         []byte

	lastRecv         []byte
	lastRecvIsResend bool

	mavPktLen       int
	mavPktStartTime tick.Ticks
	mavPktMaxTime   tick.Ticks

	// MAVLinkFraming enables the boundary-aligned framing policy. When
	// false, GetNext always reads up to maxXmit raw bytes.
	MAVLinkFraming bool
}

// New creates a Framer reading from src, whose clock is used to time out
// MAVLink frame reassembly.
func New(src SerialSource, clock tick.Source) *Framer {
	return &Framer{src: src, clock: clock, MAVLinkFraming: true}
}

// SetMaxXmit sets the largest packet body GetNext will return.
func (f *Framer) SetMaxXmit(n int) { f.maxXmit = n }

// SetSerialSpeed records the host serial link's byte rate, in bytes per
// second, used to time out a partially-received MAVLink frame.
func (f *Framer) SetSerialSpeed(bytesPerSec uint32) {
	if bytesPerSec == 0 {
		f.serialRate = 0
		return
	}
	f.serialRate = tick.Ticks(65536/bytesPerSec) + 1
}

// IsResend reports whether the packet most recently returned by GetNext was
// a byte-for-byte copy of the previous one.
func (f *Framer) IsResend() bool { return f.lastSentIsResend }

// ForceResend marks the next GetNext call to return the prior payload,
// regardless of how much serial data is now available. Used after a PHY
// transmit failure.
func (f *Framer) ForceResend() { f.forceResendFlag = true }

// GetNext returns the next packet body to transmit, at most maxXmit bytes,
// or an empty slice if there is nothing to send yet.
func (f *Framer) GetNext(maxXmit int) []byte {
	slen := f.src.Available()

	if f.forceResendFlag || (!f.lastSentIsResend && len(f.lastSent) != 0 && slen < resendThreshold) {
		if maxXmit < len(f.lastSent) {
			return nil
		}
		f.lastSentIsResend = true
		f.forceResendFlag = false
		return f.lastSent
	}

	f.lastSentIsResend = false

	if slen > maxXmit {
		slen = maxXmit
	}

	if slen == 0 {
		f.lastSent = nil
		return nil
	}

	if !f.MAVLinkFraming {
		buf := f.src.ReadBuf(slen)
		f.lastSent = buf
		return buf
	}

	return f.getNextMAVLink(slen)
}

func (f *Framer) getNextMAVLink(slen int) []byte {
	now := tick.Ticks(0)
	if f.clock != nil {
		now = f.clock.Now()
	}

	if f.mavPktLen == mavLenPending {
		if slen == 1 {
			if tick.Sub(now, f.mavPktStartTime) > f.mavPktMaxTime {
				b, _ := f.src.ReadByte()
				f.lastSent = []byte{b}
				f.mavPktLen = 0
				return f.lastSent
			}
			return nil
		}
		f.mavPktLen = 0
	}

	if f.mavPktLen != 0 {
		if slen < f.mavPktLen {
			if tick.Sub(now, f.mavPktStartTime) > f.mavPktMaxTime {
				buf := f.src.ReadBuf(slen)
				f.lastSent = buf
				f.mavPktLen = 0
				return buf
			}
			return nil
		}
		buf := f.src.ReadBuf(f.mavPktLen)
		f.lastSent = buf
		f.mavPktLen = 0
		return buf
	}

	var pending []byte
	for slen > 0 {
		c, ok := f.src.Peek(0)
		if !ok {
			break
		}
		if c == mavlink09STX || c == mavlink10STX {
			if slen == 1 {
				if len(pending) == 0 {
					f.mavPktLen = mavLenPending
					f.mavPktStartTime = now
					f.mavPktMaxTime = f.serialRate
					return nil
				}
				break
			}
			lenByte, _ := f.src.Peek(1)
			pktLen := int(lenByte)
			if pktLen >= 255-8 || pktLen+8 > f.maxXmit {
				// too big to fit in one air packet, pass the STX byte through raw
				b, _ := f.src.ReadByte()
				pending = append(pending, b)
				slen--
				continue
			}
			pktLen += 8

			if len(pending) != 0 {
				f.lastSent = pending
				f.mavPktStartTime = now
				f.mavPktMaxTime = tick.Ticks(pktLen) * f.serialRate
				f.mavPktLen = pktLen
				return pending
			}
			if pktLen > slen {
				f.mavPktStartTime = now
				f.mavPktMaxTime = tick.Ticks(pktLen) * f.serialRate
				f.mavPktLen = pktLen
				return nil
			}
			buf := f.src.ReadBuf(pktLen)
			f.lastSent = buf
			f.mavPktLen = 0
			return buf
		}
		b, _ := f.src.ReadByte()
		pending = append(pending, b)
		slen--
	}

	f.lastSent = pending
	return pending
}

// IsDuplicate performs inbound dedup: if resendBit is set and payload
// matches the immediately prior accepted payload, it returns true (the
// caller should drop the packet without forwarding it to serial). Otherwise
// it records payload as the new "last accepted" reference.
func (f *Framer) IsDuplicate(payload []byte, resendBit bool) bool {
	if !resendBit {
		f.lastRecv = append([]byte(nil), payload...)
		f.lastRecvIsResend = false
		return false
	}
	if !f.lastRecvIsResend && bytesEqual(f.lastRecv, payload) {
		f.lastRecvIsResend = false
		return true
	}
	f.lastRecv = append([]byte(nil), payload...)
	f.lastRecvIsResend = true
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
