// Package config holds the modem's persisted parameters (§6.4) as a
// TOML-backed Params struct, with the same validation and clamping
// tdm_init applies to its flash-backed parameter store.
package config

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/BurntSushi/toml"
)

// Params mirrors every parameter named in spec.md §6.4. A zero value for a
// frequency/power/channel-count field means "use the region default",
// matching the original's param_s_get(...) != 0 override checks.
type Params struct {
	Board Band `toml:"board"`

	SerialSpeed int `toml:"serial_speed"` // baud, one of serial.SupportedBauds
	AirSpeed    int `toml:"air_speed"`    // bps, nearest of phy.SupportedRates

	NetID int `toml:"netid"` // 0..65535

	TXPower int8 `toml:"tx_power"` // dBm, 0 = use region default

	ECC        bool `toml:"ecc"`
	MAVLink    bool `toml:"mavlink"`
	OppResend  bool `toml:"opportunistic_resend"`

	LBTRSSI   uint8 `toml:"lbt_rssi"` // 0 disabled, else clamped to 25..220
	DutyCycle int   `toml:"duty_cycle"` // 0..100

	NumChannels int    `toml:"num_channels"` // 0 = use region default
	MinFreqKHz  uint32 `toml:"min_freq_khz"` // 0 = use region default
	MaxFreqKHz  uint32 `toml:"max_freq_khz"` // 0 = use region default

	MaxWindowMs int `toml:"max_window_ms"`

	TargetRSSI     uint8 `toml:"target_rssi"`
	HysteresisRSSI uint8 `toml:"hysteresis_rssi"`
}

// DefaultParams returns the stock configuration for band b: MAVLink framing
// and Golay both on, opportunistic resend on, no LBT, and a 100% duty cycle
// (no duty-cycle cap), matching the original firmware's param_default().
func DefaultParams(b Band) Params {
	d := DefaultsForBand(b)
	return Params{
		Board:          b,
		SerialSpeed:    57600,
		AirSpeed:       64000,
		NetID:          25,
		TXPower:        d.TXPowerDBm,
		ECC:            true,
		MAVLink:        true,
		OppResend:      true,
		LBTRSSI:        0,
		DutyCycle:      100,
		NumChannels:    0,
		MinFreqKHz:     0,
		MaxFreqKHz:     0,
		MaxWindowMs:    131, // (0x1fff ticks * 16us) rounded down to ms
		TargetRSSI:     255,
		HysteresisRSSI: 20,
	}
}

// Load reads and validates Params from a TOML file.
func Load(path string) (Params, error) {
	var p Params
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Params{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	p.Clamp()
	return p, nil
}

// Save writes p to path as TOML, creating or truncating the file.
func Save(path string, p Params) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// Clamp applies every constraint tdm_init applies to its parameter store,
// in place: region defaults fill in zero fields, then power/channel/
// frequency/duty-cycle/LBT values are clamped to valid ranges.
func (p *Params) Clamp() {
	d := DefaultsForBand(p.Board)

	freqMin, freqMax := d.FreqMinHz, d.FreqMaxHz
	numChannels := d.NumChannels
	txPower := d.TXPowerDBm

	if p.NumChannels != 0 {
		numChannels = p.NumChannels
	}
	if p.MinFreqKHz != 0 {
		freqMin = p.MinFreqKHz * 1000
	}
	if p.MaxFreqKHz != 0 {
		freqMax = p.MaxFreqKHz * 1000
	}
	if p.TXPower != 0 {
		txPower = p.TXPower
	}

	txPower = constrainI8(txPower, BoardMinTXPower, BoardMaxTXPower)
	numChannels = constrainInt(numChannels, 1, MaxFreqChannels)

	lo, hi := boardFrequencyLimits(p.Board)
	freqMin = constrainU32(freqMin, lo, hi)
	freqMax = constrainU32(freqMax, lo, hi)
	if freqMax == freqMin {
		freqMax = freqMin + 1000000
	}

	p.NumChannels = numChannels
	p.MinFreqKHz = freqMin / 1000
	p.MaxFreqKHz = freqMax / 1000
	p.TXPower = txPower

	p.DutyCycle = constrainInt(p.DutyCycle, 0, 100)

	if p.LBTRSSI != 0 {
		p.LBTRSSI = uint8(constrainInt(int(p.LBTRSSI), 25, 220))
	}
}

// FrequencyPlan is the derived, netid-perturbed channel layout computed
// from a Params after Clamp has run.
type FrequencyPlan struct {
	BaseFreqHz      uint32
	ChannelSpacing  uint32
	StartChannel    int
	NumChannels     int
}

// DeriveFrequencyPlan reproduces tdm_init's channel_spacing/freq_min-offset
// arithmetic: divide the configured band into NumChannels+2 equal slots and
// place channel 0 half a slot above the lower edge (leaving at least one and
// a half slots free above the last channel), then, for bands with more than
// 5 channels, shift the base frequency up by less than one slot, by an
// amount seeded from the network ID so that co-located links on different
// network IDs don't collide on the same hop sequence.
func DeriveFrequencyPlan(p Params) FrequencyPlan {
	freqMin := p.MinFreqKHz * 1000
	freqMax := p.MaxFreqKHz * 1000
	numChannels := p.NumChannels

	spacing := (freqMax - freqMin) / uint32(numChannels+2)
	freqMin += spacing / 2

	if numChannels > 5 && spacing > 0 {
		rng := rand.New(rand.NewSource(int64(p.NetID)))
		freqMin += uint32(rng.Int63()%int64(spacing))
	}

	return FrequencyPlan{
		BaseFreqHz:     freqMin,
		ChannelSpacing: spacing,
		StartChannel:   p.NetID % numChannels,
		NumChannels:    numChannels,
	}
}
