package mac

import (
	"github.com/tve-radio/tdmmodem/golay"
	"github.com/tve-radio/tdmmodem/trailer"
)

// packBody appends tr's wire form to payload and, when useGolay is set,
// Golay-encodes the result. Golay only operates on whole 3-byte groups, so
// the combined (payload + trailer) buffer is first zero-padded up to a
// multiple of 3 with a 1-byte pad-count prefix recording how much padding
// was added; unpackBody strips it back off after decoding. This convention
// isn't spelled out in the retrieved firmware source (radio.c, where the
// golay wrapping actually happens, wasn't part of the retrieved pack) — it's
// the simplest self-consistent scheme that lets the receiver recover the
// exact unpadded payload length, which it must for serial passthrough to be
// transparent.
func packBody(payload []byte, tr trailer.Trailer, useGolay bool) []byte {
	trBytes := tr.Pack()
	body := make([]byte, 0, len(payload)+trailer.Size)
	body = append(body, payload...)
	body = append(body, trBytes[:]...)

	if !useGolay {
		return body
	}

	pad := (3 - (1+len(body))%3) % 3
	framed := make([]byte, 1+len(body)+pad)
	framed[0] = byte(pad)
	copy(framed[1:], body)
	return golay.Encode(framed)
}

// unpackBody is packBody's inverse: it strips any Golay encoding and padding
// and splits the remaining bytes into payload and trailer. ok is false if
// raw is too short or malformed to contain a trailer at all (a corrupt
// packet that still passed the PHY's CRC, or a locally-misconfigured Golay
// mismatch between peers).
func unpackBody(raw []byte, useGolay bool) (payload []byte, tr trailer.Trailer, corrected int, ok bool) {
	if useGolay {
		if len(raw)%6 != 0 || len(raw) == 0 {
			return nil, trailer.Trailer{}, 0, false
		}
		dec, bits, _ := golay.Decode(raw)
		if len(dec) < 1 {
			return nil, trailer.Trailer{}, 0, false
		}
		pad := int(dec[0])
		body := dec[1:]
		if pad > len(body) {
			return nil, trailer.Trailer{}, 0, false
		}
		raw = body[:len(body)-pad]
		corrected = bits
	}

	if len(raw) < trailer.Size {
		return nil, trailer.Trailer{}, corrected, false
	}
	tr = trailer.Unpack(raw[len(raw)-trailer.Size:])
	payload = raw[:len(raw)-trailer.Size]
	return payload, tr, corrected, true
}
