// Package mac wires phy.Device, tdm.MAC, framer.Framer, fhop.Plan, a serial
// byte source/sink, and atcmd's remote-command queue into the single
// cooperative main loop described in §4.5: one call to Step is one pass of
// tdm_serial_loop, driving the four-phase MAC forward by the elapsed tick
// delta, dispatching any received packet, and transmitting when eligible.
// It owns no goroutines of its own — the caller supplies the tick source and
// decides how often to call Step, the same run-to-completion discipline the
// original firmware's single-threaded main loop uses.
package mac

import (
	"time"

	"github.com/tve-radio/tdmmodem/atcmd"
	"github.com/tve-radio/tdmmodem/fhop"
	"github.com/tve-radio/tdmmodem/framer"
	"github.com/tve-radio/tdmmodem/phy"
	"github.com/tve-radio/tdmmodem/tdm"
	"github.com/tve-radio/tdmmodem/tick"
)

// tickDuration is the wall-clock length of one tick, matching §3's "Tick"
// definition.
const tickDuration = 16 * time.Microsecond

func ticksToDuration(t tick.Ticks) time.Duration { return time.Duration(t) * tickDuration }

// LogPrintf is the loop's logging hook, nil by default.
type LogPrintf func(format string, v ...interface{})

// linkUpdatePeriod is how often LinkUpdate runs, matching §4.5's "roughly
// every 0.5s" — expressed in ticks (16us each).
const linkUpdatePeriod = tick.Ticks(500000 / 16)

// SerialSink receives bytes recovered from the air link, destined for the
// local host's serial port.
type SerialSink interface {
	Write(p []byte) (int, error)
}

// TemperatureSource reports the PA temperature, in tenths of a degree C,
// feeding the MAC's duty-cycle throttle. A nil source reads as a constant
// room temperature, effectively disabling the throttle.
type TemperatureSource interface {
	Read() (int16, error)
}

// Loop bundles every collaborator the main loop drives each pass.
type Loop struct {
	Device     phy.Device
	MAC        *tdm.MAC
	Framer     *framer.Framer
	Plan       *fhop.Plan
	Serial     SerialSink
	Remote     *atcmd.RemoteQueue
	Escape     *atcmd.EscapeDetector
	Temp       TemperatureSource
	UseGolay   bool
	LogPrintf  LogPrintf

	atMode bool

	lastTick        tick.Ticks
	sinceLinkUpdate tick.Ticks
	started         bool
}

// ExitATMode resumes normal serial passthrough. The AT command parser
// (outside this module's scope per §1) calls this once it has processed an
// "ATO" (go online) command.
func (l *Loop) ExitATMode() { l.atMode = false }

// InATMode reports whether local serial output is currently suppressed.
func (l *Loop) InATMode() bool { return l.atMode }

func (l *Loop) logf(format string, args ...interface{}) {
	if l.LogPrintf != nil {
		l.LogPrintf(format, args...)
	}
}

// Step runs one pass of the main loop. now is the current tick count, read
// by the caller from the 16us hardware timer (or its simulated stand-in).
func (l *Loop) Step(now tick.Ticks) {
	if !l.started {
		l.lastTick = now
		l.started = true
	}

	l.Device.SetChannel(l.Plan.ReceiveChannel())

	if pkt, ok := l.Device.ReceivePacket(); ok {
		l.handleReceived(now, pkt)
	} else {
		tdelta := tick.Sub(now, l.lastTick)
		l.MAC.Advance(tdelta)
		l.lastTick = now

		l.sinceLinkUpdate += tdelta
		if l.sinceLinkUpdate >= linkUpdatePeriod {
			l.sinceLinkUpdate = 0
			l.runLinkUpdate()
		}
	}

	if l.Escape != nil && l.Escape.CheckArmed(now) {
		l.atMode = true
		l.logf("mac: entering AT command mode")
	}

	preambleBusy := l.Device.PreambleDetected()
	currentRSSI := l.Device.CurrentRSSI()
	tdelta := tick.Sub(now, l.lastTick)

	if l.MAC.CanTransmit(preambleBusy, currentRSSI, tdelta) {
		l.transmit()
	} else if l.MAC.Phase() == tdm.PhaseTransmit {
		l.MAC.NoteBackgroundRSSI(currentRSSI)
	}
}

func (l *Loop) handleReceived(now tick.Ticks, pkt phy.RxPacket) {
	payload, tr, corrected, ok := unpackBody(pkt.Payload, l.UseGolay)
	if !ok {
		l.logf("mac: dropping malformed packet, %d bytes", len(pkt.Payload))
		return
	}
	if corrected > 0 {
		l.logf("mac: golay corrected %d bit(s)", corrected)
	}

	l.MAC.NotePacketReceived(pkt.RSSI)

	// A window==0 control/statistics packet carries no phase-sync
	// information (tr.Window itself is the sentinel, not a real residual
	// tick count) — only a non-zero window resyncs the phase clock, and
	// only then is last_t advanced past this packet's arrival.
	if tr.Window != 0 {
		l.MAC.SyncTXWindows(tr, len(payload))
		l.lastTick = now
	}

	switch {
	case tr.Window == 0 && len(payload) != 0:
		if stats, ok := tdm.DecodeStatistics(payload); ok {
			l.MAC.NoteControlPacket(stats)
		}
	case tr.Command:
		if local, isRequest, reply := atcmd.HandleInbound(payload); isRequest {
			l.logf("mac: remote AT request: %s", local)
		} else if reply != nil && l.Serial != nil && !l.atMode {
			l.Serial.Write(reply)
		}
	default:
		if !l.atMode && l.Serial != nil && !l.Framer.IsDuplicate(payload, tr.Resend) {
			l.Serial.Write(payload)
		}
	}
}

func (l *Loop) transmit() {
	out, ok := l.MAC.PrepareTransmit()
	if !ok {
		return
	}

	l.Device.SetChannel(l.Plan.TransmitChannel())
	raw := packBody(out.Payload, out.Trailer, l.UseGolay)

	if !l.Device.Transmit(raw, ticksToDuration(out.Timeout)) {
		l.MAC.NotifyTransmitFailed(out)
	}
}

func (l *Loop) runLinkUpdate() {
	paTemp := int16(250) // 25.0C, used when no TemperatureSource is wired
	if l.Temp != nil {
		if v, err := l.Temp.Read(); err == nil {
			paTemp = v
		} else {
			l.logf("mac: PA temperature read: %v", err)
		}
	}
	l.MAC.LinkUpdate(paTemp, l.MAC.LastTransmitPower)
	l.Device.SetTransmitPower(l.MAC.LastTransmitPower)

	if l.Plan.NoteLinkUpdate() {
		l.logf("mac: link unlocked, rescanning")
	}
}
