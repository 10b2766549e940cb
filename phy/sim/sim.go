// Package sim provides a software phy.Device: a radio simulator that lets
// two or more MAC instances exchange packets over an in-memory Medium
// instead of real hardware, with configurable packet loss and bit errors
// for exercising the MAC's error-handling paths in tests.
package sim

import (
	"math/rand"
	"sync"
	"time"

	"github.com/tve-radio/tdmmodem/phy"
)

// LogPrintf is the logging hook style used throughout this module's
// hardware-facing packages: nil or a no-op means "don't log".
type LogPrintf func(format string, v ...interface{})

// Medium is a shared broadcast channel connecting any number of Device
// instances. A packet transmitted by one device is delivered to every
// other device currently tuned to the same network ID and channel,
// immediately and synchronously (the simulator has no notion of
// propagation delay; the tick source driving the MAC provides the only
// timing that matters for tests).
type Medium struct {
	mu        sync.Mutex
	devices   []*Device
	rng       *rand.Rand
	lossPct   int // 0-100, percent chance a transmission is dropped entirely
	bitErrPct int // 0-100, percent chance a delivered packet has one bit flipped
}

// NewMedium creates an empty medium. seed makes packet loss and bit-error
// injection reproducible across test runs.
func NewMedium(seed int64) *Medium {
	return &Medium{rng: rand.New(rand.NewSource(seed))}
}

// SetLoss configures the percentage (0-100) of transmissions the medium
// silently drops, modeling a noisy link.
func (m *Medium) SetLoss(pct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossPct = pct
}

// SetBitErrors configures the percentage (0-100) of delivered packets that
// get one random bit flipped, for exercising Golay correction end to end.
func (m *Medium) SetBitErrors(pct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bitErrPct = pct
}

func (m *Medium) attach(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
}

func (m *Medium) transmit(from *Device, payload []byte) {
	m.mu.Lock()
	drop := m.lossPct > 0 && m.rng.Intn(100) < m.lossPct
	flip := m.bitErrPct > 0 && m.rng.Intn(100) < m.bitErrPct
	peers := append([]*Device(nil), m.devices...)
	rng := m.rng
	m.mu.Unlock()

	if drop {
		return
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	if flip && len(cp) > 0 {
		byteIdx := rng.Intn(len(cp))
		bitIdx := rng.Intn(8)
		cp[byteIdx] ^= 1 << uint(bitIdx)
	}

	for _, d := range peers {
		if d == from {
			continue
		}
		d.deliver(from, cp)
	}
}

// Device is a simulated phy.Device: it has no real RF characteristics, it
// just tracks the configuration the MAC has programmed and exchanges
// packets with peers on the same Medium.
type Device struct {
	mu sync.Mutex

	medium *Medium
	log    LogPrintf

	initialised bool
	rate        phy.Rate
	netID       uint16
	channel     uint8
	freqHz      uint32
	spacingHz   uint32
	power       int8

	preamble bool
	rxQueue  []phy.RxPacket

	rssiCurrent uint8
	rssiLast    uint8

	// FailNextTransmit, when set, makes the next Transmit call report a
	// timeout instead of delivering the packet, for exercising the MAC's
	// force-resend path.
	FailNextTransmit bool
}

// New creates a Device and attaches it to medium.
func New(medium *Medium, log LogPrintf) *Device {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	d := &Device{medium: medium, log: log, rssiCurrent: 40, rssiLast: 40}
	medium.attach(d)
	return d
}

func (d *Device) Initialise() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialised = true
	return true
}

func (d *Device) Configure(rate phy.Rate) (phy.Rate, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = phy.NearestRate(rate)
	return d.rate, true
}

func (d *Device) SetFrequency(hz uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freqHz = hz
}

func (d *Device) SetChannelSpacing(hz uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spacingHz = hz
}

func (d *Device) SetChannel(n uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channel = n
}

func (d *Device) SetNetworkID(id uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.netID = id
}

func (d *Device) SetTransmitPower(dBm int8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = dBm
}

func (d *Device) Transmit(payload []byte, timeout time.Duration) bool {
	d.mu.Lock()
	fail := d.FailNextTransmit
	d.FailNextTransmit = false
	d.mu.Unlock()

	if fail {
		d.log("sim: transmit forced failure, %d bytes dropped", len(payload))
		return false
	}
	if len(payload) == 0 {
		d.medium.transmit(d, payload)
		return true
	}
	trailerEcho := payload[len(payload)-1]
	d.medium.transmit(d, payload)
	_ = trailerEcho
	return true
}

// deliver is called by the Medium on the receiving side, synchronously with
// the sender's Transmit call. It applies the same netID+channel filtering
// real radio hardware enforces in its packet handler.
func (d *Device) deliver(from *Device, payload []byte) {
	from.mu.Lock()
	fromNetID, fromChannel := from.netID, from.channel
	from.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.netID != fromNetID || d.channel != fromChannel {
		return
	}
	d.preamble = true
	var echo byte
	if len(payload) > 0 {
		echo = payload[len(payload)-1]
	}
	d.rxQueue = append(d.rxQueue, phy.RxPacket{
		Payload:     payload,
		TrailerEcho: echo,
		RSSI:        d.rssiCurrent,
	})
	d.rssiLast = d.rssiCurrent
}

func (d *Device) ReceivePacket() (phy.RxPacket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rxQueue) == 0 {
		return phy.RxPacket{}, false
	}
	pkt := d.rxQueue[0]
	d.rxQueue = d.rxQueue[1:]
	return pkt, true
}

func (d *Device) PreambleDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.preamble
	d.preamble = false
	return v
}

func (d *Device) ReceiverOn() {}

func (d *Device) CurrentRSSI() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssiCurrent
}

func (d *Device) LastRSSI() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssiLast
}

// SetCurrentRSSI lets tests drive the simulated noise floor, e.g. to
// exercise listen-before-talk or the RSSI power-hunt state machine.
func (d *Device) SetCurrentRSSI(v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rssiCurrent = v
}

func (d *Device) AirRate() phy.Rate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

var _ phy.Device = (*Device)(nil)
