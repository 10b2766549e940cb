package phy

import (
	"testing"

	"github.com/tve-radio/tdmmodem/tick"
)

func Test_DeriveRoundParams_HighRateNoFeatures(t *testing.T) {
	p := DeriveRoundParams(RoundInput{
		AirRate:       128000,
		UserMaxWindow: 20000,
		NumFHChannels: 1,
	})

	want := RoundParams{
		TicksPerByte:        5,
		PacketLatency:        78,
		SilencePeriod:        156,
		TxWindowWidth:        4044,
		MaxDataPacketLength: 254,
		MaxXmit:             254,
	}
	if p.TicksPerByte != want.TicksPerByte {
		t.Errorf("TicksPerByte = %d, want %d", p.TicksPerByte, want.TicksPerByte)
	}
	if p.SilencePeriod != want.SilencePeriod {
		t.Errorf("SilencePeriod = %d, want %d", p.SilencePeriod, want.SilencePeriod)
	}
	if p.TxWindowWidth != want.TxWindowWidth {
		t.Errorf("TxWindowWidth = %d, want %d", p.TxWindowWidth, want.TxWindowWidth)
	}
	if p.PacketLatency != want.PacketLatency {
		t.Errorf("PacketLatency (post preamble correction) = %d, want %d", p.PacketLatency, want.PacketLatency)
	}
	if p.MaxDataPacketLength != want.MaxDataPacketLength {
		t.Errorf("MaxDataPacketLength = %d, want %d", p.MaxDataPacketLength, want.MaxDataPacketLength)
	}
	if p.MaxXmit != want.MaxXmit {
		t.Errorf("MaxXmit = %d, want %d", p.MaxXmit, want.MaxXmit)
	}
}

func Test_DeriveRoundParams_ClampOrdering(t *testing.T) {
	// A low air rate with LBT and multiple FH channels exercises every
	// clamp in sequence: the LBT floor (a no-op here, the unclamped window
	// is already well above it), the user window (the largest value a
	// tick.Ticks can hold), the regulatory 0.4s cap, and finally the 13-bit
	// trailer field width, each applied in order.
	p := DeriveRoundParams(RoundInput{
		AirRate:       2000,
		LBTRSSI:       100,
		UserMaxWindow: 0xffff,
		NumFHChannels: 2,
	})

	if p.LBTMinTime != 312 {
		t.Errorf("LBTMinTime = %d, want 312", p.LBTMinTime)
	}
	if p.TxWindowWidth != trailerWindowMask {
		t.Errorf("TxWindowWidth = %d, want %d (13-bit clamp should win over regulatory cap)", p.TxWindowWidth, trailerWindowMask)
	}
	if p.MaxXmit != 19 {
		t.Errorf("MaxXmit = %d, want 19", p.MaxXmit)
	}
}

func Test_DeriveRoundParams_UserWindowClampAppliesBeforeRegulatory(t *testing.T) {
	// A tiny user MAX_WINDOW must win even though the regulatory cap and
	// the natural 3-packet window would both allow something larger: the
	// original applies the user clamp first in program order, but since
	// every clamp can only shrink, the end result is simply the minimum of
	// all of them — verify the user's value actually takes effect when it
	// is the smallest.
	p := DeriveRoundParams(RoundInput{
		AirRate:       128000,
		UserMaxWindow: 100,
		NumFHChannels: 1,
	})
	if p.TxWindowWidth != 100 {
		t.Errorf("TxWindowWidth = %d, want 100", p.TxWindowWidth)
	}
}

const trailerWindowMask = 0x1fff

func Test_FlightTimeEstimate(t *testing.T) {
	p := DeriveRoundParams(RoundInput{AirRate: 128000, UserMaxWindow: 20000, NumFHChannels: 1})
	got := p.FlightTimeEstimate(10)
	want := p.PacketLatency + tick.Ticks(10)*p.TicksPerByte
	if got != want {
		t.Errorf("FlightTimeEstimate(10) = %d, want %d", got, want)
	}
}
