// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package si1000

// stuff in here is a hack to be able to switch between embd and periph for the SPI bus and
// GPIO pin this driver talks to, same trick the rest of this module's hardware drivers use.

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kidoman/embd"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/spi"
)

// SPI is the bus interface this driver needs: register reads/writes are plain
// full-duplex transactions.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

const (
	SPIMode0 = 0x0
	SPIMode1 = 0x1
	SPIMode2 = 0x2
	SPIMode3 = 0x3
)

// GPIO is the interrupt-pin interface this driver needs: the radio's single
// nIRQ/GDO0-style pin, shared by preamble-valid, packet-valid and CRC-error
// events (distinguished by reading the radio's own status registers once the
// edge fires, same as sx1276/sx1231 do with DIO0).
type GPIO interface {
	In(edge int) error
	Read() int
	WaitForEdge(timeout time.Duration) bool
	Out(level int)
	Number() int
}

const (
	GpioLow        = 0
	GpioHigh       = 1
	GpioNoEdge     = 0
	GpioRisingEdge = 1
)

//===== embd-backed SPI/GPIO

func NewEmbdSPI(busNum, chipSelect byte) SPI {
	return &embdSPI{embd.NewSPIBus(embd.SPIMode0, busNum, 4000000, 8, chipSelect)}
}

type embdSPI struct {
	embd.SPIBus
}

func (s *embdSPI) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

func (s *embdSPI) Speed(hz int64) error {
	if hz != 4000000 {
		return errors.New("si1000: sorry, only 4Mhz supported via embd")
	}
	return nil
}

func (s *embdSPI) Configure(mode int, bits int) error {
	if mode != SPIMode0 {
		return errors.New("si1000: sorry, only SPI mode 0 supported via embd")
	}
	if bits != 8 {
		return errors.New("si1000: sorry, only 8-bit mode supported via embd")
	}
	return nil
}

func NewEmbdGPIO(name string) GPIO {
	g, err := embd.NewDigitalPin(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "si1000: NewDigitalPin: %s\n", err)
		return nil
	}
	return &embdGPIO{p: g, dir: embd.In, edge: make(chan struct{}, 1)}
}

type embdGPIO struct {
	p    embd.DigitalPin
	dir  embd.Direction
	edge chan struct{}
}

func (g *embdGPIO) In(edge int) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	if edge != GpioNoEdge {
		e := []embd.Edge{embd.EdgeNone, embd.EdgeRising, embd.EdgeFalling, embd.EdgeBoth}[edge]
		return g.p.Watch(e, g.edgeCB)
	}
	return nil
}

func (g *embdGPIO) Read() int {
	v, _ := g.p.Read()
	return v
}

func (g *embdGPIO) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *embdGPIO) Out(level int) {
	if g.dir != embd.Out {
		g.p.SetDirection(embd.Out)
		g.dir = embd.In
	}
	g.p.Write(level)
}

func (g *embdGPIO) Number() int { return g.p.N() }

func (g *embdGPIO) edgeCB(embd.DigitalPin) {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}

//===== periph-backed SPI/GPIO

func NewPeriphSPI(conn spi.Conn) SPI {
	return &periphSPI{conn}
}

type periphSPI struct {
	conn spi.Conn
}

func (s *periphSPI) Tx(w, r []byte) error { return s.conn.Tx(w, r) }
func (s *periphSPI) Speed(int64) error    { return nil } // fixed at bus-open time
func (s *periphSPI) Configure(int, int) error { return nil }
func (s *periphSPI) Close() error             { return nil }

func NewPeriphGPIO(pin gpio.PinIO) GPIO {
	return &periphGPIO{pin}
}

type periphGPIO struct {
	pin gpio.PinIO
}

func (g *periphGPIO) In(edge int) error {
	edges := []gpio.Edge{gpio.NoEdge, gpio.RisingEdge}
	return g.pin.In(gpio.PullUp, edges[edge])
}
func (g *periphGPIO) Read() int {
	if g.pin.Read() {
		return GpioHigh
	}
	return GpioLow
}
func (g *periphGPIO) WaitForEdge(timeout time.Duration) bool { return g.pin.WaitForEdge(timeout) }
func (g *periphGPIO) Out(level int) {
	g.pin.Out(gpio.Level(level == GpioHigh))
}
func (g *periphGPIO) Number() int { return 0 } // periph pins are addressed by name, not number
