package si1000

import "testing"

func TestNetIDFilterRegs(t *testing.T) {
	regs := netIDFilterRegs(0x1234)
	want := [4]byte{0x12, 0x34, 0x12, 0x34}
	if regs != want {
		t.Fatalf("netIDFilterRegs(0x1234) = %#v, want %#v", regs, want)
	}
}

func TestRateTableCoversSupportedRates(t *testing.T) {
	for _, r := range []uint32{500, 1000, 2000, 4000, 8000, 9600, 16000, 19200, 24000, 32000, 64000, 128000, 192000} {
		if _, ok := rateTable[r]; !ok {
			t.Errorf("rateTable missing entry for %d bps", r)
		}
	}
}
