package phy

import "github.com/tve-radio/tdmmodem/tick"

// MaxPacketLength is the largest frame the hardware packet handler's FIFO
// can hold in one go, payload plus trailer.
const MaxPacketLength = 256

// TrailerSize is sizeof(trailer) on the wire, 2 bytes.
const TrailerSize = 2

// regulatoryMaxWindow is the largest tx window allowed under US
// regulations when more than one frequency-hop channel is in use: 0.4
// seconds, expressed in 16us ticks.
const regulatoryMaxWindow = tick.Ticks((1000000 / 16) * 4 / 10)

// lbtMinTimeUsec is the minimum continuous quiet time listen-before-talk
// requires before a channel is judged clear.
const lbtMinTimeUsec = 5000

// RoundParams are the derived TDM round timing constants for a given air
// rate and feature set. They are computed once at startup (or whenever the
// air rate changes) and then held fixed for the life of a round.
type RoundParams struct {
	TicksPerByte        tick.Ticks
	PacketLatency       tick.Ticks
	SilencePeriod       tick.Ticks
	TxWindowWidth       tick.Ticks
	MaxDataPacketLength int
	LBTMinTime          tick.Ticks
	MaxXmit             int
}

// RoundInput bundles every configuration knob DeriveRoundParams consults.
type RoundInput struct {
	AirRate        Rate
	UseGolay       bool
	LBTRSSI        uint8 // 0 disables listen-before-talk
	UserMaxWindow  tick.Ticks // PARAM_MAX_WINDOW, already converted from ms to ticks by the caller
	NumFHChannels  int
	PreambleBits   int // actual configured preamble length; 40 if unknown yet
}

// DeriveRoundParams computes TDM round timing the same way tdm_init does:
// ticks per byte from the air rate, packet latency assuming a nominal
// 40-bit preamble, silence period as 2x latency, a window sized for 3 full
// packets, then a sequence of clamps (LBT floor, user's millisecond
// MAX_WINDOW, the 0.4s regulatory cap, and the 13-bit trailer field width)
// applied in that exact order — the ordering matters because the LBT floor
// can only raise the window and every later clamp can only lower it. Only
// after TxWindowWidth is
// fixed does PacketLatency get corrected for the real preamble length, so
// that two peers with different preamble lengths (e.g. one with antenna
// diversity) still agree on round timing.
func DeriveRoundParams(in RoundInput) RoundParams {
	var p RoundParams

	// ticks to send one byte at the air rate, plus one tick rounding margin
	p.TicksPerByte = tick.Ticks((8+(8000000/uint32(in.AirRate)))/16) + 1

	// assume a 40-bit (10-nibble, 5-byte) preamble for now; corrected below
	p.PacketLatency = tick.Ticks(8+(10/2))*p.TicksPerByte + 13

	if in.UseGolay {
		p.MaxDataPacketLength = (MaxPacketLength / 2) - (6 + TrailerSize)
		p.TicksPerByte *= 2
		p.PacketLatency += 4 * p.TicksPerByte
	} else {
		p.MaxDataPacketLength = MaxPacketLength - TrailerSize
	}

	p.SilencePeriod = 2 * p.PacketLatency

	// window_width is computed in a wider-than-tick type in the original
	// firmware too: before the clamps below it can briefly exceed what a
	// tick.Ticks (uint16) can hold, at low air rates with a large max
	// packet length.
	window := uint32(3) * (uint32(p.PacketLatency) + uint32(p.MaxDataPacketLength)*uint32(p.TicksPerByte))

	if in.LBTRSSI != 0 {
		p.LBTMinTime = tick.Ticks(lbtMinTimeUsec / 16)
		window = constrainU32(window, 3*uint32(p.LBTMinTime), window)
	}

	if window > uint32(in.UserMaxWindow) {
		window = uint32(in.UserMaxWindow)
	}

	if window >= uint32(regulatoryMaxWindow) && in.NumFHChannels > 1 {
		window = uint32(regulatoryMaxWindow)
	}

	if window > 0x1fff {
		window = 0x1fff
	}

	p.TxWindowWidth = tick.Ticks(window)

	preambleBits := in.PreambleBits
	if preambleBits == 0 {
		preambleBits = PreambleBits
	}
	// the correction works in nibbles relative to the nominal 10 nibbles
	p.PacketLatency += tick.Ticks((preambleBits/4-10)/2) * p.TicksPerByte

	maxXmit := int((p.TxWindowWidth - p.PacketLatency) / p.TicksPerByte)
	if maxXmit > p.MaxDataPacketLength {
		maxXmit = p.MaxDataPacketLength
	}
	p.MaxXmit = maxXmit

	return p
}

func constrainU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FlightTimeEstimate returns the estimated number of ticks to put len bytes
// on the air, including PacketLatency. With Golay enabled, TicksPerByte has
// already been doubled and PacketLatency increased by DeriveRoundParams.
func (p RoundParams) FlightTimeEstimate(lenBytes int) tick.Ticks {
	return p.PacketLatency + tick.Ticks(lenBytes)*p.TicksPerByte
}
