package si1000

import "fmt"

// PATemperature reads the power amplifier's thermocouple-to-digital sensor,
// adapted from the MAX31855 thermocouple driver: the TDM MAC's duty-cycle
// throttle (tdm.MAC.LinkUpdate) consumes this reading the same way the
// original firmware's ADC-based PA temperature sense feeds
// temperature_update, just over a dedicated SPI device instead of an
// on-chip ADC channel.
type PATemperature struct {
	spi SPI
}

// NewPATemperature wraps a SPI device for the PA temperature sensor. The
// bus must be idle between reads; the sensor performs a full 32-bit
// read-only transaction each time Read is called.
func NewPATemperature(spiDev SPI) (*PATemperature, error) {
	if err := spiDev.Configure(SPIMode0, 8); err != nil {
		return nil, fmt.Errorf("si1000: PA temperature configure: %v", err)
	}
	if err := spiDev.Speed(1 * 1000 * 1000); err != nil {
		return nil, fmt.Errorf("si1000: PA temperature speed: %v", err)
	}
	return &PATemperature{spi: spiDev}, nil
}

// Read returns the PA junction temperature in tenths of a degree Celsius,
// the unit tdm.Config.MaxPATemperature and tdm.MAC.LinkUpdate expect.
func (t *PATemperature) Read() (int16, error) {
	var wBuf, rBuf [4]byte
	if err := t.spi.Tx(wBuf[:], rBuf[:]); err != nil {
		return 0, fmt.Errorf("si1000: PA temperature read: %v", err)
	}

	if rBuf[3]&0x01 != 0 {
		return 0, fmt.Errorf("si1000: PA temperature sensor open circuit")
	}
	if rBuf[3]&0x02 != 0 {
		return 0, fmt.Errorf("si1000: PA temperature sensor shorted to ground")
	}
	if rBuf[3]&0x04 != 0 {
		return 0, fmt.Errorf("si1000: PA temperature sensor shorted to supply")
	}

	raw := int32((int16(rBuf[0])<<8 | int16(rBuf[1]&0xfc)))
	tenths := (raw * 10) >> 4
	return int16(tenths), nil
}
