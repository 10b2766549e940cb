package si1000

// Register addresses for a Silicon Labs Si1000/Si4431-class FSK transceiver.
// The numbering follows the Si443x/Si1000 datasheet's command-register
// layout: register access is a single command byte (bit 7 set for a write)
// followed by the data byte(s); the FIFO is a dedicated command.
const (
	regDeviceType     = 0x00
	regVersion        = 0x01
	regDeviceStatus   = 0x02
	regInterruptStat1 = 0x03
	regInterruptStat2 = 0x04
	regInterruptEn1   = 0x05
	regInterruptEn2   = 0x06
	regOperatingMode1 = 0x07
	regOperatingMode2 = 0x08
	regFreqDevNCO     = 0x0A
	regModemMode1     = 0x70
	regModemMode2     = 0x71
	regFreqDeviation  = 0x72
	regModulation     = 0x71
	regTXDataRate1    = 0x6E
	regTXDataRate0    = 0x6F
	regTXPower        = 0x6D
	regFreqBand       = 0x75
	regFreqCarrierH   = 0x76
	regFreqCarrierL   = 0x77
	regChannel        = 0x79
	regChannelStep    = 0x7A
	regPreambleLen    = 0x34
	regSyncWord3      = 0x36
	regSyncWord2      = 0x37
	regHeaderControl1 = 0x32
	regHeaderControl2 = 0x33
	regHeaderEnable3  = 0x3C
	regHeaderEnable2  = 0x3D
	regHeader3        = 0x3F // netid hi, written/compared against our configured network id
	regHeader2        = 0x40 // netid lo
	regCheckHeader3   = 0x43
	regCheckHeader2   = 0x44
	regPktLength      = 0x3E
	regFIFO           = 0x7F
	regRSSI           = 0x26
)

// Operating-mode bits (register 0x07).
const (
	modeReady   = 1 << 0 // xton: enable crystal oscillator
	modeTune    = 1 << 1 // pllon
	modeRX      = 1 << 2 // rxon
	modeTX      = 1 << 3 // txon
	modeReset   = 1 << 7
)

// Interrupt-status bit 1 (register 0x03).
const (
	irqCRCError     = 1 << 0
	irqPacketValid  = 1 << 1
	irqPreambleVal  = 1 << 4
	irqSyncWord     = 1 << 7
)

// netIDFilterRegs enables the hardware header check against a 2-byte
// network ID in header bytes 2-3, matching §6.1's on-air header layout
// (netid_hi, netid_lo, trailer_echo): only netid_hi/netid_lo are checked by
// hardware, trailer_echo (byte 3 in the spec's 1-indexed description) rides
// along uninspected and is read back by the MAC from the header.
func netIDFilterRegs(netID uint16) [4]byte {
	return [4]byte{byte(netID >> 8), byte(netID), byte(netID >> 8), byte(netID)}
}

// rateEntry is one row of the air-rate programming table: the register
// values that produce the air rate closest to a phy.SupportedRates entry.
// Values are illustrative of the datasheet's rate-vs-deviation guidance
// (deviation roughly half the data rate, consistent with the module's 4-FSK
// modulation index target) rather than a full characterization sweep.
type rateEntry struct {
	txDataRate   uint16 // register units: rate_bps * 2^16 / (1000000 * (txdtrtscale+1)), simplified here to a direct table
	modemMode1   byte
	freqDevReg   byte
}

var rateTable = map[uint32]rateEntry{
	500:    {0x0020, 0x03, 0x06},
	1000:   {0x0040, 0x03, 0x06},
	2000:   {0x0080, 0x03, 0x08},
	4000:   {0x0100, 0x02, 0x0C},
	8000:   {0x0200, 0x02, 0x14},
	9600:   {0x0266, 0x02, 0x18},
	16000:  {0x0400, 0x02, 0x28},
	19200:  {0x04CC, 0x01, 0x30},
	24000:  {0x0600, 0x01, 0x3C},
	32000:  {0x0800, 0x01, 0x50},
	64000:  {0x1000, 0x00, 0xA0},
	128000: {0x2000, 0x00, 0xFF},
	192000: {0x3000, 0x00, 0xFF},
}
