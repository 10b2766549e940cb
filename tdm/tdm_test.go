package tdm

import (
	"math/rand"
	"testing"

	"github.com/tve-radio/tdmmodem/atcmd"
	"github.com/tve-radio/tdmmodem/fhop"
	"github.com/tve-radio/tdmmodem/framer"
	"github.com/tve-radio/tdmmodem/phy"
	"github.com/tve-radio/tdmmodem/tick"
	"github.com/tve-radio/tdmmodem/trailer"
)

// fakeSerial is a slice-backed framer.SerialSource, mirroring framer_test.go.
type fakeSerial struct{ buf []byte }

func (s *fakeSerial) Available() int { return len(s.buf) }
func (s *fakeSerial) Peek(i int) (byte, bool) {
	if i >= len(s.buf) {
		return 0, false
	}
	return s.buf[i], true
}
func (s *fakeSerial) ReadByte() (byte, bool) {
	if len(s.buf) == 0 {
		return 0, false
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, true
}
func (s *fakeSerial) ReadBuf(n int) []byte {
	b := s.buf[:n]
	s.buf = s.buf[n:]
	return b
}
func (s *fakeSerial) Append(p []byte) { s.buf = append(s.buf, p...) }

func testRound() phy.RoundParams {
	return phy.DeriveRoundParams(phy.RoundInput{
		AirRate:       128000,
		UseGolay:      false,
		UserMaxWindow: 0x1fff,
		NumFHChannels: 1,
	})
}

func newTestMAC(t *testing.T, netID uint16) *MAC {
	t.Helper()
	round := testRound()
	plan := fhop.NewPlan(netID, 5)
	fr := framer.New(&fakeSerial{}, tick.SourceFunc(func() tick.Ticks { return 0 }))
	fr.SetMaxXmit(round.MaxDataPacketLength)
	cfg := Config{
		Round:            round,
		DutyCycle:        100,
		NumFHChannels:    1,
		TargetRSSI:       255,
		PowerHysteresis:  20,
		MinPowerDBm:      1,
		MaxPowerDBm:      20,
		MaxPATemperature: 60,
	}
	m := New(cfg, plan, fr, &atcmd.RemoteQueue{})
	m.SetRNG(rand.New(rand.NewSource(42)))
	return m
}

func Test_PhaseAdvancesThroughAllFourStates(t *testing.T) {
	m := newTestMAC(t, 1)
	seen := map[Phase]bool{m.Phase(): true}
	// drive it forward one full round's worth of ticks in small steps
	for i := 0; i < 10000; i++ {
		m.Advance(1)
		seen[m.Phase()] = true
		if len(seen) == 4 {
			break
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected to visit all 4 phases, saw %v", seen)
	}
}

func Test_AdvanceAcrossMultiplePhasesInOneCall(t *testing.T) {
	m := newTestMAC(t, 1)
	start := m.Phase()
	// one huge tdelta should still land in a valid phase, not panic or loop
	// forever, covering several full rounds. 10*(W+S) is exactly five
	// rounds, which would land back on TX with a full window; the extra
	// tick leaves the state one tick into the next TX window.
	span := 10*(m.cfg.Round.TxWindowWidth+m.cfg.Round.SilencePeriod) + 1
	m.Advance(span)
	if m.Phase() == start && m.StateRemaining() == m.cfg.Round.TxWindowWidth {
		t.Fatalf("expected state to have changed after a multi-round advance")
	}
}

// Test_PeerResyncConverges runs two independent MACs advanced by the same
// tick delta, the second starting half a TX window later, and has each send
// a trailer to the other on every entry to TX. It asserts that, sampled once
// per round, the two are in different phases in at least 90% of rounds.
func Test_PeerResyncConverges(t *testing.T) {
	round := testRound()
	a := newMACForSync(t, round, 1)
	b := newMACForSync(t, round, 1)

	// Start b already offset deep into its TX window, simulating the peers
	// having powered on at different times.
	b.Advance(round.TxWindowWidth / 2)

	var tdelta tick.Ticks = 4
	roundTicks := 2 * (round.TxWindowWidth + round.SilencePeriod)
	totalRounds := 0
	convergedRounds := 0
	elapsedSinceRoundStart := tick.Ticks(0)

	for step := 0; step < 20000; step++ {
		aWasTX := a.Phase() == PhaseTransmit
		bWasTX := b.Phase() == PhaseTransmit

		a.Advance(tdelta)
		b.Advance(tdelta)
		elapsedSinceRoundStart += tdelta

		// Whichever side is in TX "sends" a trailer the other receives,
		// carrying its residual window — the direct analogue of
		// sync_tx_windows being invoked upon packet reception.
		if a.Phase() == PhaseTransmit && !aWasTX {
			tr := trailer.Trailer{Window: a.StateRemaining(), Bonus: b.Phase() == PhaseReceive}
			b.SyncTXWindows(tr, 1)
		}
		if b.Phase() == PhaseTransmit && !bWasTX {
			tr := trailer.Trailer{Window: b.StateRemaining(), Bonus: b.Phase() == PhaseReceive}
			a.SyncTXWindows(tr, 1)
		}

		if elapsedSinceRoundStart >= roundTicks {
			elapsedSinceRoundStart = 0
			totalRounds++
			if a.Phase() != b.Phase() {
				convergedRounds++
			}
		}
	}

	if totalRounds < 10 {
		t.Fatalf("test did not run enough rounds to be meaningful: %d", totalRounds)
	}
	// the two should disagree in phase (one transmitting while the other
	// isn't) for the overwhelming majority of rounds once converged.
	if float64(convergedRounds)/float64(totalRounds) < 0.9 {
		t.Fatalf("peers did not converge to complementary phases: %d/%d rounds disjoint", convergedRounds, totalRounds)
	}
}

func newMACForSync(t *testing.T, round phy.RoundParams, netID uint16) *MAC {
	t.Helper()
	plan := fhop.NewPlan(netID, 5)
	fr := framer.New(&fakeSerial{}, tick.SourceFunc(func() tick.Ticks { return 0 }))
	fr.SetMaxXmit(round.MaxDataPacketLength)
	cfg := Config{
		Round:           round,
		DutyCycle:       100,
		NumFHChannels:   1,
		TargetRSSI:      255,
		PowerHysteresis: 20,
		MinPowerDBm:     1,
		MaxPowerDBm:     20,
	}
	m := New(cfg, plan, fr, &atcmd.RemoteQueue{})
	m.SetRNG(rand.New(rand.NewSource(int64(netID))))
	return m
}

func Test_TransmitYieldSetOnZeroLengthSend(t *testing.T) {
	m := newTestMAC(t, 1)
	// force into TX with plenty of room but an empty framer
	for m.Phase() != PhaseTransmit {
		m.Advance(1)
	}
	pkt, ok := m.PrepareTransmit()
	if !ok {
		t.Fatalf("expected PrepareTransmit to succeed")
	}
	if len(pkt.Payload) != 0 {
		t.Fatalf("expected an empty payload with nothing queued, got %d bytes", len(pkt.Payload))
	}
	if !m.transmitYield {
		t.Fatalf("expected transmit_yield to be set after sending a zero-length packet")
	}
	if m.CanTransmit(false, 0, 1) {
		t.Fatalf("expected CanTransmit to be false immediately after yielding this window")
	}
}

func Test_RemoteCommandTakesPriorityOverData(t *testing.T) {
	m := newTestMAC(t, 1)
	src := &fakeSerial{}
	src.Append([]byte("hello"))
	m.framer = framer.New(src, tick.SourceFunc(func() tick.Ticks { return 0 }))
	m.framer.MAVLinkFraming = false
	m.framer.SetMaxXmit(m.cfg.Round.MaxDataPacketLength)
	m.remote.Send("ATI")

	for m.Phase() != PhaseTransmit {
		m.Advance(1)
	}
	pkt, ok := m.PrepareTransmit()
	if !ok {
		t.Fatalf("expected PrepareTransmit to succeed")
	}
	if !pkt.Trailer.Command {
		t.Fatalf("expected the remote command to take priority and set trailer.Command")
	}
	if string(pkt.Payload[:2]) != "RT" {
		t.Fatalf("expected the framed remote command, got %q", pkt.Payload)
	}
}

func Test_DutyCycleCapThrottlesTransmit(t *testing.T) {
	round := testRound()
	plan := fhop.NewPlan(1, 5)
	fr := framer.New(&fakeSerial{}, tick.SourceFunc(func() tick.Ticks { return 0 }))
	fr.SetMaxXmit(round.MaxDataPacketLength)
	cfg := Config{
		Round:           round,
		DutyCycle:       20,
		NumFHChannels:   1,
		TargetRSSI:      255,
		PowerHysteresis: 20,
		MinPowerDBm:     1,
		MaxPowerDBm:     20,
	}
	m := New(cfg, plan, fr, &atcmd.RemoteQueue{})
	m.SetRNG(rand.New(rand.NewSource(1)))

	roundTicks := round.TxWindowWidth + round.SilencePeriod
	txTicks := tick.Ticks(0)
	totalTicks := tick.Ticks(0)
	limit := 100 * 2 * roundTicks

	for totalTicks < limit {
		wasTX := m.Phase() == PhaseTransmit
		if wasTX && m.CanTransmit(false, 0, 1) {
			m.PrepareTransmit()
			txTicks += m.cfg.Round.PacketLatency
		}
		m.Advance(1)
		totalTicks++
		_ = wasTX
	}

	observed := float64(txTicks) / float64(totalTicks)
	if observed > 0.30 {
		t.Fatalf("expected duty cycle to be throttled near 20%%, observed %.3f", observed)
	}
}

func Test_LinkUpdateUnlocksAfterRescanThreshold(t *testing.T) {
	m := newTestMAC(t, 1)
	for i := 0; i < fhop.UnlockedCountRescan+1; i++ {
		m.LinkUpdate(20, 10)
	}
	if m.fhop.Locked() {
		t.Fatalf("expected the hop plan to unlock after exceeding the rescan threshold")
	}
}

func Test_LinkUpdateResetsOnActivity(t *testing.T) {
	m := newTestMAC(t, 1)
	m.NotePacketReceived(100)
	ledOn, ledBlinking := m.LinkUpdate(20, 10)
	if !ledOn || ledBlinking {
		t.Fatalf("expected steady LED immediately after activity, got on=%v blinking=%v", ledOn, ledBlinking)
	}
}

func Test_TemperatureUpdateGrowsOffsetWhenHot(t *testing.T) {
	m := newTestMAC(t, 1)
	m.cfg.MaxPATemperature = 500
	m.temperatureUpdate(650, 25) // 15.0 degrees over, transmit power above 20dBm
	if m.DutyCycleOffset() == 0 {
		t.Fatalf("expected a nonzero duty cycle offset once over temperature")
	}
}

func Test_TemperatureUpdateFloorsAt20PercentDutyCycle(t *testing.T) {
	m := newTestMAC(t, 1)
	m.cfg.DutyCycle = 25
	m.cfg.MaxPATemperature = 0
	for i := 0; i < 20; i++ {
		m.temperatureUpdate(100, 25)
	}
	if int(m.cfg.DutyCycle)-int(m.DutyCycleOffset()) < 20 {
		t.Fatalf("duty cycle offset grew past the firmware's floor: cfg=%d offset=%d", m.cfg.DutyCycle, m.DutyCycleOffset())
	}
}

func Test_RSSIHuntStepsTowardTarget(t *testing.T) {
	m := newTestMAC(t, 1)
	m.cfg.TargetRSSI = 200
	m.cfg.PowerHysteresis = 5
	m.presentPowerDBm = 10
	m.Remote.AverageRSSI = 100 // far below target: should hunt power up
	m.UpdateRSSITarget()
	if m.LastTransmitPower <= 10 {
		t.Fatalf("expected transmit power to step up toward target RSSI, got %d", m.LastTransmitPower)
	}
}

func Test_RSSIHuntDisabledStaysPut(t *testing.T) {
	m := newTestMAC(t, 1)
	m.DisableRSSIHunt()
	before := m.LastTransmitPower
	m.Remote.AverageRSSI = 0
	m.UpdateRSSITarget()
	if m.LastTransmitPower != before {
		t.Fatalf("expected power hunt to be a no-op once disabled")
	}
}

func Test_NoDoubleKeyInsideSilencePhases(t *testing.T) {
	m := newTestMAC(t, 1)
	for i := 0; i < 5000; i++ {
		if m.Phase() == PhaseSilence1 || m.Phase() == PhaseSilence2 {
			if m.CanTransmit(false, 0, 1) {
				t.Fatalf("must never be eligible to transmit during a silence phase")
			}
		}
		m.Advance(1)
	}
}
