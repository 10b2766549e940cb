// Package tdm implements the four-phase TDM MAC: the state machine that
// divides time into alternating transmit/silence/receive/silence windows,
// resynchronizes those windows from every received packet's trailer, and
// decides when and what to transmit. It is the direct translation of
// RFD900/tdm.c's tdm_state_update/sync_tx_windows/link_update machinery into
// a single-goroutine, dependency-injected Go type: nothing here touches a
// radio register or a serial port directly, it only calls through the
// collaborators (*framer.Framer, *fhop.Plan, *atcmd.RemoteQueue) handed to
// New.
package tdm

import (
	"math/rand"
	"time"

	"github.com/tve-radio/tdmmodem/atcmd"
	"github.com/tve-radio/tdmmodem/fhop"
	"github.com/tve-radio/tdmmodem/framer"
	"github.com/tve-radio/tdmmodem/phy"
	"github.com/tve-radio/tdmmodem/tick"
	"github.com/tve-radio/tdmmodem/trailer"
)

// Phase is one of the four TDM states, cycling TX -> SILENCE1 -> RX ->
// SILENCE2 -> TX forever.
type Phase int

const (
	PhaseTransmit Phase = iota
	PhaseSilence1
	PhaseReceive
	PhaseSilence2
)

func (p Phase) String() string {
	switch p {
	case PhaseTransmit:
		return "TX"
	case PhaseSilence1:
		return "SILENCE1"
	case PhaseReceive:
		return "RX"
	case PhaseSilence2:
		return "SILENCE2"
	default:
		return "?"
	}
}

// huntState is the RSSI-driven transmit power hunt's current mode.
type huntState int

const (
	huntIdle huntState = iota
	huntUp
	huntDown
	huntDisabled
)

// UnlockedCountBlink mirrors UNLOCKED_COUNT_BLINK: once the unlock counter
// reaches this many link-update periods without a received packet, the
// activity LED starts blinking instead of staying lit.
const UnlockedCountBlink = 2

// LogPrintf is the teacher's logging hook: a printf-shaped function, nil by
// default, called for state transitions and failures worth a human noticing.
type LogPrintf func(string, ...interface{})

// Config bundles the fixed, rarely-changing parameters a MAC needs at
// construction: round timing, duty cycle target, LBT threshold, RSSI hunt
// target, and transmit power bounds.
type Config struct {
	Round phy.RoundParams

	DutyCycle     uint8 // target long-term duty cycle, percent
	LBTRSSI       uint8 // 0 disables listen-before-talk
	NumFHChannels int

	TargetRSSI      uint8
	PowerHysteresis uint8
	MinPowerDBm     int8
	MaxPowerDBm     int8

	// MaxPATemperature is the PA temperature, in tenths of a degree C,
	// above which duty_cycle_offset starts climbing.
	MaxPATemperature int16
}

// MAC is the TDM scheduler. One instance drives one radio link. It is not
// safe for concurrent use; a single cooperative loop (mac.Loop) is its only
// caller.
type MAC struct {
	cfg Config

	fhop   *fhop.Plan
	framer *framer.Framer
	remote *atcmd.RemoteQueue

	LogPrintf LogPrintf

	// rng drives LBT randomisation and unlock-rescan jitter. Tests inject a
	// seeded source for determinism; production seeds it from the clock.
	rng *rand.Rand

	phase          Phase
	stateRemaining tick.Ticks

	bonusTransmit bool
	transmitYield bool
	transmitWait  tick.Ticks

	dutyCycleOffset  uint8
	averageDutyCycle float64
	dutyCycleWait    bool
	transmittedTicks tick.Ticks

	lbtListenTime tick.Ticks
	lbtRand       tick.Ticks

	linkActive       bool
	blinkState       bool
	unlockCount      int
	temperatureCount int
	sendStatistics   bool

	presentPowerDBm int8
	hunt            huntState

	Local  StatisticsPacket
	Remote StatisticsPacket

	// LastTransmitPower is presentPowerDBm, exported for the main loop to
	// push down into the PHY after a power-hunt step.
	LastTransmitPower int8
}

// New builds a MAC in the TX phase with state_remaining equal to the round's
// transmit window, ready to run. fhopPlan and fr are owned by the caller and
// must outlive the MAC; remote may be nil if remote AT commands aren't used.
func New(cfg Config, fhopPlan *fhop.Plan, fr *framer.Framer, remote *atcmd.RemoteQueue) *MAC {
	m := &MAC{
		cfg:               cfg,
		fhop:              fhopPlan,
		framer:            fr,
		remote:            remote,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:             PhaseTransmit,
		stateRemaining:    cfg.Round.TxWindowWidth,
		presentPowerDBm:   cfg.MaxPowerDBm,
		LastTransmitPower: cfg.MaxPowerDBm,
	}
	return m
}

// SetRNG overrides the MAC's random source, used by tests that need
// deterministic jitter.
func (m *MAC) SetRNG(rng *rand.Rand) { m.rng = rng }

// Phase returns the current TDM phase.
func (m *MAC) Phase() Phase { return m.phase }

// StateRemaining returns the ticks left in the current phase.
func (m *MAC) StateRemaining() tick.Ticks { return m.stateRemaining }

func (m *MAC) logf(format string, args ...interface{}) {
	if m.LogPrintf != nil {
		m.LogPrintf(format, args...)
	}
}

// Advance runs the TDM state machine forward by tdelta ticks, advancing
// through as many phase transitions as tdelta spans (tdm_state_update). It
// must be called once per main-loop pass with the ticks elapsed since the
// last call.
func (m *MAC) Advance(tdelta tick.Ticks) {
	if tdelta > m.transmitWait {
		m.transmitWait = 0
	} else {
		m.transmitWait -= tdelta
	}

	for tdelta >= m.stateRemaining {
		tdelta -= m.stateRemaining
		m.phase = (m.phase + 1) % 4

		if m.phase == PhaseTransmit || m.phase == PhaseReceive {
			m.stateRemaining = m.cfg.Round.TxWindowWidth
		} else {
			m.stateRemaining = m.cfg.Round.SilencePeriod
		}

		if m.phase == PhaseTransmit || m.phase == PhaseSilence1 {
			m.fhop.WindowChange()
			if m.cfg.NumFHChannels > 1 {
				m.lbtListenTime = 0
				m.lbtRand = 0
			}
		}

		if m.phase == PhaseTransmit && (m.cfg.DutyCycle-m.dutyCycleOffset) != 100 {
			m.averageDutyCycle = 0.95*m.averageDutyCycle +
				0.05*(100.0*float64(m.transmittedTicks))/(2*float64(m.cfg.Round.SilencePeriod+m.cfg.Round.TxWindowWidth))
			m.transmittedTicks = 0
			m.dutyCycleWait = m.averageDutyCycle >= float64(m.cfg.DutyCycle-m.dutyCycleOffset)
		}

		m.bonusTransmit = false
		m.transmitYield = false
		m.transmitWait = 0
	}

	m.stateRemaining -= tdelta
}

// ChangePhase jumps two phases forward (TX<->RX, SILENCE1<->SILENCE2),
// matching tdm_change_phase — used to break a perfectly symmetric lockout
// between two peers that both started in TX at the same instant.
func (m *MAC) ChangePhase() {
	m.phase = (m.phase + 2) % 4
}

// SyncTXWindows resynchronizes this end's phase from a received packet's
// trailer (sync_tx_windows). packetLen is the payload length, excluding the
// trailer, of the packet that carried tr.
func (m *MAC) SyncTXWindows(tr trailer.Trailer, packetLen int) {
	if tr.Bonus {
		switch m.phase {
		case PhaseSilence1:
			m.stateRemaining = m.cfg.Round.SilencePeriod
		case PhaseReceive, PhaseSilence2:
			m.phase = PhaseSilence2
			m.stateRemaining = 1
		default:
			m.phase = PhaseTransmit
			m.stateRemaining = tr.Window
		}
	} else {
		m.phase = PhaseReceive
		m.stateRemaining = tr.Window
	}

	m.bonusTransmit = m.phase == PhaseReceive && packetLen == 0

	if m.phase != PhaseTransmit {
		m.transmitYield = false
	}
}

// lbtClear reports whether listen-before-talk has been satisfied: either LBT
// is disabled, or the channel has read continuously below the threshold for
// long enough.
func (m *MAC) lbtClear(currentRSSI uint8, tdelta tick.Ticks) bool {
	if m.cfg.LBTRSSI == 0 {
		return true
	}
	if currentRSSI < m.cfg.LBTRSSI {
		m.lbtListenTime += tdelta
	} else {
		m.lbtListenTime = 0
		if m.lbtRand == 0 {
			m.lbtRand = tick.Ticks(m.rng.Intn(int(m.cfg.Round.LBTMinTime) + 1))
		}
	}
	return m.lbtListenTime >= m.cfg.Round.LBTMinTime+m.lbtRand
}

// CanTransmit reports whether every transmit-eligibility condition in §4.4
// currently holds. preambleBusy is PreambleDetected() || receive-in-progress
// on the PHY.
func (m *MAC) CanTransmit(preambleBusy bool, currentRSSI uint8, tdelta tick.Ticks) bool {
	if !(m.phase == PhaseTransmit || (m.bonusTransmit && m.phase == PhaseReceive)) {
		return false
	}
	if m.transmitYield {
		return false
	}
	if m.transmitWait != 0 {
		return false
	}
	if preambleBusy {
		m.transmitWait = m.cfg.Round.PacketLatency
		return false
	}
	if m.dutyCycleWait {
		return false
	}
	if m.stateRemaining < m.cfg.Round.PacketLatency+m.cfg.Round.TicksPerByte {
		return false
	}
	if !m.lbtClear(currentRSSI, tdelta) {
		return false
	}
	return true
}

// OutgoingPacket is a constructed but not-yet-transmitted air packet: the
// body (user data, a remote AT command, or the encoded statistics packet)
// plus its trailer, ready to be appended and handed to phy.Device.Transmit.
type OutgoingPacket struct {
	Payload []byte
	Trailer trailer.Trailer
	// Timeout is the number of ticks the PHY should wait for the
	// packet-sent interrupt, state_remaining + silence_period/2.
	Timeout tick.Ticks
}

// PrepareTransmit builds the next packet to send, following the priority
// order from §4.4: a pending remote AT command first, then a statistics
// packet if one is due and there is no data waiting, then serial data from
// the framer. It returns ok=false only when the remaining window has no room
// for a packet (max_xmit below zero); with nothing to send it still returns
// ok=true with an empty payload, which yields the rest of the window.
func (m *MAC) PrepareTransmit() (OutgoingPacket, bool) {
	if m.stateRemaining < m.cfg.Round.PacketLatency {
		return OutgoingPacket{}, false
	}
	maxXmit := int((m.stateRemaining-m.cfg.Round.PacketLatency)/m.cfg.Round.TicksPerByte) - phy.PacketOverhead
	if maxXmit < 0 {
		return OutgoingPacket{}, false
	}
	if maxXmit > m.cfg.Round.MaxDataPacketLength {
		maxXmit = m.cfg.Round.MaxDataPacketLength
	}

	var tr trailer.Trailer
	var payload []byte

	if m.remote != nil && len(m.remote.Pending()) != 0 && maxXmit >= len(m.remote.Pending()) {
		payload = m.remote.Pending()
		m.remote.Clear()
		tr.Command = true
	} else {
		payload = m.framer.GetNext(maxXmit)
		tr.Resend = m.framer.IsResend()
	}

	tr.Bonus = m.phase == PhaseReceive

	if m.phase == PhaseTransmit && len(payload) == 0 && m.sendStatistics &&
		maxXmit >= statisticsSize {
		m.sendStatistics = false
		payload = m.Local.Encode()
		tr.Window = 0
		tr.Resend = false
	} else {
		tr.Window = m.stateRemaining - m.cfg.Round.FlightTimeEstimate(len(payload)+trailer.Size)
	}

	if len(payload) == 0 {
		m.transmitYield = true
	}
	m.transmitWait = m.cfg.Round.PacketLatency

	if (m.cfg.DutyCycle - m.dutyCycleOffset) != 100 {
		m.transmittedTicks += m.cfg.Round.FlightTimeEstimate(len(payload) + trailer.Size)
	}

	timeout := m.stateRemaining + m.cfg.Round.SilencePeriod/2

	return OutgoingPacket{Payload: payload, Trailer: tr, Timeout: timeout}, true
}

// NotifyTransmitFailed should be called when phy.Device.Transmit returns
// false for a non-empty, non-control packet: the framer is told to resend
// the same payload next opportunity instead of silently dropping it.
func (m *MAC) NotifyTransmitFailed(pkt OutgoingPacket) {
	if len(pkt.Payload) != 0 && pkt.Trailer.Window != 0 && !pkt.Trailer.Command {
		m.framer.ForceResend()
	}
}

// NotePacketReceived records that a valid packet arrived this pass, feeding
// the activity/lock tracking LinkUpdate consults every period.
func (m *MAC) NotePacketReceived(rssi uint8) {
	m.linkActive = true
	m.fhop.SetLocked(true)
	m.Local.AverageRSSI = uint8((uint16(rssi) + 7*uint16(m.Local.AverageRSSI)) / 8)
	m.Local.ReceiveCount++
}

// NoteControlPacket is called after NotePacketReceived when the received
// packet was a zero-window control/statistics packet; it undoes that call's
// receive counter bump, since those aren't counted as user traffic.
func (m *MAC) NoteControlPacket(stats StatisticsPacket) {
	m.Remote = stats
	m.Local.ReceiveCount--
	m.UpdateRSSITarget()
}

// NoteBackgroundRSSI folds a background-noise RSSI sample into the noise
// average. mac.Loop calls it on every pass in which this end is in its
// transmit phase but not eligible to transmit.
func (m *MAC) NoteBackgroundRSSI(rssi uint8) {
	m.Local.AverageNoise = uint8((uint16(rssi) + 3*uint16(m.Local.AverageNoise)) / 4)
}

// LinkUpdate runs the roughly-twice-a-second housekeeping pass: activity/
// unlock tracking, rescan-jitter injection, statistics scheduling, and (every
// fourth call, i.e. about every 2s) PA temperature-driven duty cycle
// throttling. ledOn/ledBlinking are left for the caller to drive hardware
// from; LinkUpdate only returns the state to show.
func (m *MAC) LinkUpdate(paTemperature int16, transmitPowerDBm int8) (ledOn, ledBlinking bool) {
	if m.linkActive {
		m.unlockCount = 0
		m.linkActive = false
	} else {
		m.unlockCount++
	}

	if m.unlockCount < UnlockedCountBlink {
		ledOn = true
	} else {
		m.blinkState = !m.blinkState
		ledBlinking = m.blinkState
	}

	if m.unlockCount > fhop.UnlockedCountRescan {
		m.unlockCount = UnlockedCountBlink - 1

		if m.rng.Intn(2) == 1 {
			if m.stateRemaining > m.cfg.Round.SilencePeriod {
				m.stateRemaining -= m.cfg.Round.PacketLatency
			} else {
				m.stateRemaining = 1
			}
		}
		m.logf("tdm: scanning")
		m.fhop.SetLocked(false)
	}

	if m.unlockCount != 0 {
		m.Local.AverageRSSI = uint8((uint16(m.Local.AverageRSSI) + 3*uint16(m.Local.AverageRSSI)) / 4)
		m.Local.ReceiveCount = 0
		if m.hunt != huntDisabled {
			m.presentPowerDBm = m.cfg.MaxPowerDBm
			m.LastTransmitPower = m.presentPowerDBm
		}
	}

	if m.unlockCount > 5 {
		m.Remote = StatisticsPacket{}
	}

	m.sendStatistics = true

	m.temperatureCount++
	if m.temperatureCount == 4 {
		m.temperatureUpdate(paTemperature, transmitPowerDBm)
		m.temperatureCount = 0
	}

	return ledOn, ledBlinking
}

// temperatureUpdate grows or decays duty_cycle_offset based on how far the
// PA temperature sits above cfg.MaxPATemperature (both in tenths of a degree
// C; the steps are at 0, 5 and 10 degrees over), with a floor that keeps at
// least 20% duty cycle available so the link never goes fully silent.
func (m *MAC) temperatureUpdate(paTemperature int16, transmitPowerDBm int8) {
	if transmitPowerDBm <= 20 {
		m.dutyCycleOffset = 0
		return
	}

	diff := paTemperature - m.cfg.MaxPATemperature
	switch {
	case diff <= 0 && m.dutyCycleOffset > 0:
		m.dutyCycleOffset--
	case diff > 100:
		m.dutyCycleOffset += 10
	case diff > 50:
		m.dutyCycleOffset += 5
	case diff > 0:
		m.dutyCycleOffset++
	}

	if int(m.cfg.DutyCycle)-int(m.dutyCycleOffset) < 20 {
		m.dutyCycleOffset = m.cfg.DutyCycle - 20
	}
}

// DutyCycleOffset returns the current temperature-driven reduction applied
// to the configured duty cycle target.
func (m *MAC) DutyCycleOffset() uint8 { return m.dutyCycleOffset }

// DisableRSSIHunt turns off the automatic power-hunt state machine,
// matching disable_rssi_hunt, leaving transmit power fixed at MaxPowerDBm.
func (m *MAC) DisableRSSIHunt() {
	m.presentPowerDBm = m.cfg.MaxPowerDBm
	m.LastTransmitPower = m.presentPowerDBm
	m.hunt = huntDisabled
}

// UpdateRSSITarget runs one step of the 4-state RSSI power-hunt machine
// against the freshest Remote.AverageRSSI, adjusting LastTransmitPower by at
// most one step per call (update_rssi_target).
func (m *MAC) UpdateRSSITarget() {
	target := m.cfg.TargetRSSI
	hyst := m.cfg.PowerHysteresis

	switch m.hunt {
	case huntIdle:
		if target > hyst && m.Remote.AverageRSSI < target-hyst && m.presentPowerDBm != m.cfg.MaxPowerDBm {
			m.stepPower(true)
			m.hunt = huntUp
		} else if uint16(target)+uint16(hyst) < 255 &&m.Remote.AverageRSSI > target+hyst && m.presentPowerDBm != m.cfg.MinPowerDBm {
			m.stepPower(false)
			m.hunt = huntDown
		}
	case huntUp:
		if m.Remote.AverageRSSI < target && m.presentPowerDBm != m.cfg.MaxPowerDBm {
			m.stepPower(true)
		} else {
			m.hunt = huntIdle
		}
	case huntDown:
		if m.Remote.AverageRSSI > target && m.presentPowerDBm != m.cfg.MinPowerDBm {
			m.stepPower(false)
		} else {
			m.hunt = huntIdle
		}
	case huntDisabled:
	default:
		m.hunt = huntIdle
	}
}

func (m *MAC) stepPower(up bool) {
	if up {
		m.presentPowerDBm++
		if m.presentPowerDBm > m.cfg.MaxPowerDBm {
			m.presentPowerDBm = m.cfg.MaxPowerDBm
		}
	} else {
		m.presentPowerDBm--
		if m.presentPowerDBm < m.cfg.MinPowerDBm {
			m.presentPowerDBm = m.cfg.MinPowerDBm
		}
	}
	m.LastTransmitPower = m.presentPowerDBm
}
