package serial

import (
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"
)

// SupportedBauds lists the six host serial speeds the modem's SERIAL_SPEED
// parameter may select.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400}

func baudFlag(baud int) (goserial.CFlag, error) {
	switch baud {
	case 9600:
		return goserial.B9600, nil
	case 19200:
		return goserial.B19200, nil
	case 38400:
		return goserial.B38400, nil
	case 57600:
		return goserial.B57600, nil
	case 115200:
		return goserial.B115200, nil
	case 230400:
		return goserial.B230400, nil
	default:
		return 0, fmt.Errorf("serial: unsupported baud rate %d", baud)
	}
}

// Port wraps a real host UART: a goserial.Port plus an Rx ring that a
// background reader goroutine keeps filled, mirroring how the rest of this
// module treats serial RX as an interrupt-fed ring buffer.
type Port struct {
	port *goserial.Port
	Rx   *Ring

	closed chan struct{}
}

// Open opens path (e.g. "/dev/ttyUSB0" or "/dev/ttyAMA0") at baud, 8-N-1, and
// starts the background reader that feeds Rx.
func Open(path string, baud int) (*Port, error) {
	speed, err := baudFlag(baud)
	if err != nil {
		return nil, err
	}

	port, err := goserial.Open(path, nil)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: make raw %s: %w", path, err)
	}
	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: get attrs %s: %w", path, err)
	}
	attrs.SetSpeed(speed)
	if err := port.SetAttr(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set attrs %s: %w", path, err)
	}
	port.SetReadTimeout(100 * time.Millisecond)

	p := &Port{port: port, Rx: NewRing(), closed: make(chan struct{})}
	go p.readLoop()
	return p, nil
}

func (p *Port) readLoop() {
	buf := make([]byte, 256)
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		n, err := p.port.Read(buf)
		if n > 0 {
			p.Rx.Push(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Write sends p to the host. It is safe to call concurrently with the
// background reader.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Close stops the background reader and closes the underlying port.
func (p *Port) Close() error {
	close(p.closed)
	return p.port.Close()
}
