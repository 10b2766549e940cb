// Package si1000 drives a Silicon Labs Si1000/Si4431-class FSK transceiver
// over SPI, implementing phy.Device: the only package in this module
// permitted to touch radio registers for real hardware. It follows the same
// shape as tve-devices' sx1276/sx1231 drivers — a worker goroutine
// converting a GPIO interrupt pin into latched state the rest of the driver
// polls — but, unlike those drivers' channel-based TX/RX API, exposes the
// request/response methods phy.Device requires so the MAC can drive it from
// a synchronous cooperative loop instead of a pair of goroutine channels.
package si1000

import (
	"sync"
	"time"

	"github.com/tve-radio/tdmmodem/phy"
)

// LogPrintf is the driver's logging hook, nil by default.
type LogPrintf func(format string, v ...interface{})

// Device is a real Si100x radio reachable over spi, with intr wired to the
// chip's combined preamble/sync/packet-valid/CRC-error interrupt pin.
type Device struct {
	spi  SPI
	intr GPIO
	log  LogPrintf

	mu          sync.Mutex
	initialised bool
	rate        phy.Rate
	netID       uint16
	channel     uint8
	power       int8

	preamble    bool
	txDone      chan struct{}
	rxQueue     []phy.RxPacket
	rssiCurrent uint8
	rssiLast    uint8

	stop chan struct{}
}

// New creates a Device. Call Initialise before using it.
func New(spiDev SPI, intrPin GPIO, log LogPrintf) *Device {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Device{spi: spiDev, intr: intrPin, log: log, stop: make(chan struct{})}
}

func (d *Device) writeReg(addr byte, data ...byte) {
	w := make([]byte, len(data)+1)
	w[0] = addr | 0x80
	copy(w[1:], data)
	d.spi.Tx(w, make([]byte, len(w)))
}

func (d *Device) readReg(addr byte) byte {
	var buf [2]byte
	d.spi.Tx([]byte{addr & 0x7f, 0}, buf[:])
	return buf[1]
}

// Initialise implements phy.Device.
func (d *Device) Initialise() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.spi.Speed(4 * 1000 * 1000); err != nil {
		d.log("si1000: spi speed: %v", err)
		return false
	}
	if err := d.spi.Configure(SPIMode0, 8); err != nil {
		d.log("si1000: spi configure: %v", err)
		return false
	}

	d.writeReg(regOperatingMode1, modeReset)
	time.Sleep(20 * time.Millisecond)

	if v := d.readReg(regDeviceType); v == 0 || v == 0xff {
		d.log("si1000: no chip responding (device type %#x)", v)
		return false
	}
	d.log("si1000: version %#x", d.readReg(regVersion))

	d.writeReg(regOperatingMode1, modeReady)

	if err := d.intr.In(GpioRisingEdge); err != nil {
		d.log("si1000: interrupt pin init: %v", err)
		return false
	}
	d.writeReg(regInterruptEn1, irqCRCError|irqPacketValid|irqPreambleVal)

	go d.worker()

	d.initialised = true
	return true
}

// Configure implements phy.Device: it programs modulation, data-rate, and
// deviation registers for the nearest SupportedRates entry, and installs the
// fixed framing (40-bit preamble, §6.1's sync word, 3-byte header with
// hardware network-ID filtering, hardware CRC, packet handler enabled).
func (d *Device) Configure(rate phy.Rate) (phy.Rate, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	nearest := phy.NearestRate(rate)
	entry, ok := rateTable[uint32(nearest)]
	if !ok {
		return d.rate, false
	}

	d.writeReg(regTXDataRate1, byte(entry.txDataRate>>8), byte(entry.txDataRate))
	d.writeReg(regModemMode1, entry.modemMode1)
	d.writeReg(regFreqDeviation, entry.freqDevReg)

	d.writeReg(regPreambleLen, byte(phy.PreambleBits/8))
	d.writeReg(regSyncWord3, phy.SyncWordHi)
	d.writeReg(regSyncWord2, phy.SyncWordLo)

	// Header: 2 bytes of network ID checked by hardware, 1 byte (the
	// TDM trailer echo) passed through uninspected, per §6.1/§4.2.
	d.writeReg(regHeaderControl1, 0x0c) // check header bytes 2-3, hdrlen=3
	d.writeReg(regHeaderControl2, 0x22) // variable packet length, CRC enabled
	d.writeReg(regHeaderEnable3, 0xff)
	d.writeReg(regHeaderEnable2, 0xff)

	d.rate = nearest
	return nearest, true
}

func (d *Device) SetFrequency(hz uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// frf in 10kHz steps above the configured band's base, per the
	// datasheet's carrier-frequency register pair.
	frf := hz / 10000
	d.writeReg(regFreqCarrierH, byte(frf>>8))
	d.writeReg(regFreqCarrierL, byte(frf))
}

func (d *Device) SetChannelSpacing(hz uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// channel step register is in 10kHz units.
	d.writeReg(regChannelStep, byte(hz/10000))
}

func (d *Device) SetChannel(n uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channel = n
	d.writeReg(regChannel, n)
}

func (d *Device) SetNetworkID(id uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.netID = id
	regs := netIDFilterRegs(id)
	d.writeReg(regHeader3, regs[0])
	d.writeReg(regHeader2, regs[1])
	d.writeReg(regCheckHeader3, regs[2])
	d.writeReg(regCheckHeader2, regs[3])
}

func (d *Device) SetTransmitPower(dBm int8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = dBm
	// the Si100x power register is an 8-level index, not a linear dBm
	// value; this maps the configured range onto it linearly, same
	// simplification the original firmware's radio.c applies for boards
	// without a calibrated power table.
	level := (int(dBm) * 7) / 20
	if level < 0 {
		level = 0
	}
	if level > 7 {
		level = 7
	}
	d.writeReg(regTXPower, byte(level))
}

// Transmit implements phy.Device: it loads the FIFO, keys the transmitter,
// and waits up to timeout for the packet-sent interrupt, aborting and
// clearing the FIFO on timeout.
func (d *Device) Transmit(payload []byte, timeout time.Duration) bool {
	d.mu.Lock()
	if len(payload) > phy.MaxPacketLength {
		d.mu.Unlock()
		panic("si1000: outbound packet exceeds MaxPacketLength")
	}
	done := make(chan struct{}, 1)
	d.txDone = done

	d.writeReg(regPktLength, byte(len(payload)))
	w := append([]byte{regFIFO | 0x80}, payload...)
	d.spi.Tx(w, make([]byte, len(w)))
	d.writeReg(regOperatingMode1, modeReady|modeTune|modeTX)
	d.mu.Unlock()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.mu.Lock()
		d.writeReg(regOperatingMode1, modeReady)
		d.writeReg(regFIFO, 0xff) // FIFO clear command, datasheet-specific encoding elided
		d.txDone = nil
		d.mu.Unlock()
		return false
	}
}

// ReceivePacket implements phy.Device.
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

// PreambleDetected implements phy.Device.
func (d *Device) PreambleDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.preamble
	d.preamble = false
	return v
}

// ReceiverOn implements phy.Device.
func (d *Device) ReceiverOn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeReg(regOperatingMode1, modeReady|modeTune|modeRX)
}

func (d *Device) CurrentRSSI() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rssiCurrent = d.readReg(regRSSI)
	return d.rssiCurrent
}

func (d *Device) LastRSSI() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssiLast
}

func (d *Device) AirRate() phy.Rate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

// Close stops the interrupt worker and releases the SPI bus.
func (d *Device) Close() error {
	close(d.stop)
	return d.spi.Close()
}

// worker mirrors sx1276/sx1231's interrupt goroutine: it turns GPIO edges
// into register reads that classify the interrupt and update the latched
// state the rest of the driver polls, without ever blocking the caller of
// Transmit/ReceivePacket/PreambleDetected for longer than one SPI
// transaction.
func (d *Device) worker() {
	for {
		if !d.intr.WaitForEdge(time.Second) {
			select {
			case <-d.stop:
				return
			default:
				continue
			}
		}

		d.mu.Lock()
		status := d.readReg(regInterruptStat1)

		if status&irqPreambleVal != 0 {
			d.preamble = true
		}
		if status&irqCRCError != 0 {
			d.log("si1000: CRC error")
		}
		if status&irqPacketValid != 0 {
			length := d.readReg(regPktLength)
			payload := make([]byte, length)
			r := make([]byte, int(length)+1)
			d.spi.Tx(append([]byte{regFIFO & 0x7f}, make([]byte, length)...), r)
			copy(payload, r[1:])

			header3 := d.readReg(regHeader3 | 0x00)
			d.rxQueue = append(d.rxQueue, phy.RxPacket{
				Payload:     payload,
				TrailerEcho: header3,
				RSSI:        d.readReg(regRSSI),
			})
			d.writeReg(regOperatingMode1, modeReady|modeTune|modeRX)
		}
		if d.txDone != nil && status&irqPacketValid == 0 {
			// on this family, TX-done shares the packet-valid interrupt bit
			// but with the chip still in TX mode; detect it via mode
			// readback instead of a second bit to keep the register map
			// small.
			mode := d.readReg(regOperatingMode1)
			if mode&modeTX == 0 {
				select {
				case d.txDone <- struct{}{}:
				default:
				}
				d.txDone = nil
			}
		}
		d.mu.Unlock()
	}
}

var _ phy.Device = (*Device)(nil)
