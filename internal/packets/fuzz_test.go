package packets

import (
	"errors"
	"testing"
)

// FuzzDecode checks that arbitrary input never panics, that every error is
// either incomplete or malformed, and that whatever decodes re-encodes to
// something that decodes again.
func FuzzDecode(f *testing.F) {
	f.Add([]byte{0x30, 0x05, 0x00, 0x01, 'a', 'h', 'i'}, uint8(4))
	f.Add([]byte{0x62, 0x02, 0x00, 0x01}, uint8(4))
	f.Add([]byte{0x40, 0x05, 0x00, 0x01, 0x00, 0x01, 0x7F}, uint8(5))
	f.Add([]byte{0x20, 0x03, 0x00, 0x00, 0x00}, uint8(5))
	f.Add([]byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x01}, uint8(4))

	f.Fuzz(func(t *testing.T, data []byte, version uint8) {
		if version != V311 {
			version = V50
		}
		pkt, n, err := Decode(data, version, 0)
		if err != nil {
			if !errors.Is(err, ErrIncomplete) && !errors.Is(err, ErrMalformed) {
				t.Fatalf("unclassified error: %v", err)
			}
			return
		}
		if n <= 0 || n > len(data) {
			t.Fatalf("consumed %d of %d", n, len(data))
		}
		out, err := Encode(pkt)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if _, _, err := Decode(out, version, 0); err != nil {
			t.Fatalf("re-decode: %v", err)
		}
	})
}
