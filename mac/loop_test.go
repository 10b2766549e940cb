package mac

import (
	"bytes"
	"testing"

	"github.com/tve-radio/tdmmodem/atcmd"
	"github.com/tve-radio/tdmmodem/fhop"
	"github.com/tve-radio/tdmmodem/framer"
	"github.com/tve-radio/tdmmodem/phy"
	"github.com/tve-radio/tdmmodem/phy/sim"
	"github.com/tve-radio/tdmmodem/serial"
	"github.com/tve-radio/tdmmodem/tdm"
	"github.com/tve-radio/tdmmodem/tick"
)

// newTestPeer builds one end of a simulated link. Both ends of a test pair
// must share netID and round so their MACs agree on timing.
func newTestPeer(t *testing.T, medium *sim.Medium, netID uint16, round phy.RoundParams) (*Loop, *serial.Ring, *bytes.Buffer) {
	t.Helper()

	dev := sim.New(medium, nil)
	dev.Initialise()
	dev.Configure(phy.Rate(64000))
	dev.SetNetworkID(netID)
	dev.SetChannel(0)

	rxRing := serial.NewRing()
	fr := framer.New(rxRing, nil)
	fr.SetMaxXmit(round.MaxDataPacketLength)
	fr.MAVLinkFraming = false

	plan := fhop.NewPlan(netID, 1)

	cfg := tdm.Config{
		Round:            round,
		DutyCycle:        100,
		NumFHChannels:    1,
		TargetRSSI:       255,
		PowerHysteresis:  20,
		MinPowerDBm:      1,
		MaxPowerDBm:      20,
		MaxPATemperature: 60,
	}
	m := tdm.New(cfg, plan, fr, &atcmd.RemoteQueue{})

	out := &bytes.Buffer{}
	loop := &Loop{
		Device: dev,
		MAC:    m,
		Framer: fr,
		Plan:   plan,
		Serial: out,
	}
	return loop, rxRing, out
}

func testRound() phy.RoundParams {
	return phy.DeriveRoundParams(phy.RoundInput{
		AirRate:       64000,
		UseGolay:      false,
		UserMaxWindow: 0x1fff,
		NumFHChannels: 1,
	})
}

func TestLoopEndToEndDataDelivery(t *testing.T) {
	round := testRound()
	medium := sim.NewMedium(7)
	loopA, ringA, outA := newTestPeer(t, medium, 42, round)
	loopB, ringB, outB := newTestPeer(t, medium, 42, round)

	msgAtoB := []byte("hello over the air")
	msgBtoA := []byte("reply payload")
	ringA.Push(msgAtoB)
	ringB.Push(msgBtoA)

	var now tick.Ticks
	for i := 0; i < 60000 && (outB.Len() == 0 || outA.Len() == 0); i++ {
		loopA.Step(now)
		loopB.Step(now)
		now++
	}

	if !bytes.Contains(outB.Bytes(), msgAtoB) {
		t.Fatalf("peer B did not receive %q within 60000 ticks, got %q", msgAtoB, outB.Bytes())
	}
	if !bytes.Contains(outA.Bytes(), msgBtoA) {
		t.Fatalf("peer A did not receive %q within 60000 ticks, got %q", msgBtoA, outA.Bytes())
	}
}

func TestLoopGolayRoundTripOverAir(t *testing.T) {
	round := phy.DeriveRoundParams(phy.RoundInput{
		AirRate:       64000,
		UseGolay:      true,
		UserMaxWindow: 0x1fff,
		NumFHChannels: 1,
	})
	medium := sim.NewMedium(11)
	medium.SetBitErrors(5) // exercise Golay correction on some packets
	loopA, ringA, _ := newTestPeer(t, medium, 7, round)
	loopB, _, outB := newTestPeer(t, medium, 7, round)
	loopA.UseGolay = true
	loopB.UseGolay = true

	message := []byte("noisy channel test")
	ringA.Push(message)

	var now tick.Ticks
	for i := 0; i < 80000 && outB.Len() == 0; i++ {
		loopA.Step(now)
		loopB.Step(now)
		now++
	}

	if !bytes.Contains(outB.Bytes(), message) {
		t.Fatalf("message not delivered under Golay + bit errors within 80000 ticks, got %q", outB.Bytes())
	}
}
