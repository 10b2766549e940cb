package mac

import (
	"bytes"
	"testing"

	"github.com/tve-radio/tdmmodem/trailer"
)

func TestPackUnpackBodyNoGolay(t *testing.T) {
	payload := []byte("hello")
	tr := trailer.Trailer{Window: 123, Bonus: true}

	raw := packBody(payload, tr, false)
	gotPayload, gotTr, corrected, ok := unpackBody(raw, false)
	if !ok {
		t.Fatal("unpackBody reported not ok")
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("payload = %q, want %q", gotPayload, payload)
	}
	if gotTr != tr {
		t.Errorf("trailer = %+v, want %+v", gotTr, tr)
	}
	if corrected != 0 {
		t.Errorf("corrected = %d, want 0", corrected)
	}
}

func TestPackUnpackBodyGolayVariousLengths(t *testing.T) {
	tr := trailer.Trailer{Window: 500, Command: true, Resend: true}
	for n := 0; n < 20; n++ {
		payload := bytes.Repeat([]byte{0xAB}, n)
		raw := packBody(payload, tr, true)
		if len(raw)%6 != 0 {
			t.Fatalf("len(n=%d) = %d, not a multiple of 6", n, len(raw))
		}
		gotPayload, gotTr, _, ok := unpackBody(raw, true)
		if !ok {
			t.Fatalf("n=%d: unpackBody reported not ok", n)
		}
		if !bytes.Equal(gotPayload, payload) {
			t.Errorf("n=%d: payload = %v, want %v", n, gotPayload, payload)
		}
		if gotTr != tr {
			t.Errorf("n=%d: trailer = %+v, want %+v", n, gotTr, tr)
		}
	}
}

func TestUnpackBodyCorrectsBitErrors(t *testing.T) {
	tr := trailer.Trailer{Window: 42}
	raw := packBody([]byte("xyz"), tr, true)
	raw[0] ^= 0x01 // flip one bit in the first golay block

	payload, gotTr, corrected, ok := unpackBody(raw, true)
	if !ok {
		t.Fatal("unpackBody reported not ok")
	}
	if !bytes.Equal(payload, []byte("xyz")) {
		t.Errorf("payload = %q, want %q", payload, "xyz")
	}
	if gotTr != tr {
		t.Errorf("trailer = %+v, want %+v", gotTr, tr)
	}
	if corrected == 0 {
		t.Error("expected at least one corrected bit")
	}
}
