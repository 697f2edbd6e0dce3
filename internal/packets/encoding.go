package packets

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFieldLength is the longest string or binary field the two-byte length
// prefix can describe.
const MaxFieldLength = 65535

// field names a length-prefixed value for checkFields.
type field struct {
	name string
	n    int
}

// checkFields fails with ErrFieldTooLong for the first field that does not
// fit its length prefix.
func checkFields(typ uint8, fields []field) error {
	for _, f := range fields {
		if f.n > MaxFieldLength {
			return fmt.Errorf("%s: %s is %d bytes: %w", PacketNames[typ], f.name, f.n, ErrFieldTooLong)
		}
	}
	return nil
}

// appendString appends a length-prefixed string to dst.
func appendString(dst []byte, s string) []byte {
	length := uint16(len(s))
	dst = append(dst, byte(length>>8), byte(length))
	return append(dst, s...)
}

// appendBinary appends length-prefixed binary data to dst.
func appendBinary(dst []byte, data []byte) []byte {
	length := uint16(len(data))
	dst = append(dst, byte(length>>8), byte(length))
	return append(dst, data...)
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// validString reports whether s is a well-formed MQTT UTF-8 string.
func validString(s string) bool {
	return utf8.ValidString(s) && !strings.Contains(s, "\x00")
}

// reader walks the variable header and payload of a packet whose bytes are
// all present. Running out of input is therefore malformed, not incomplete.
// The first error sticks; later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = malformed(format, args...)
	}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.fail("%s: need %d bytes, have %d", what, n, r.remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8(what string) uint8 {
	b := r.take(1, what)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16(what string) uint16 {
	b := r.take(2, what)
	if b == nil {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

func (r *reader) uint32(what string) uint32 {
	b := r.take(4, what)
	if b == nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (r *reader) varInt(what string) int {
	if r.err != nil {
		return 0
	}
	v, n, err := decodeVarInt(r.buf[r.off:])
	if err != nil {
		r.err = err
		return 0
	}
	if n == 0 {
		r.fail("%s: truncated variable byte integer", what)
		return 0
	}
	r.off += n
	return v
}

// rawString returns the length-prefixed bytes without validating them.
func (r *reader) rawString(what string) []byte {
	n := int(r.uint16(what))
	return r.take(n, what)
}

func (r *reader) string(what string) string {
	b := r.rawString(what)
	if r.err != nil {
		return ""
	}
	s := string(b)
	if !validString(s) {
		r.fail("%s: invalid UTF-8 string", what)
		return ""
	}
	return s
}

// binary returns a copy so decoded packets never alias the input buffer.
func (r *reader) binary(what string) []byte {
	b := r.rawString(what)
	if r.err != nil || len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// rest returns a copy of all unread bytes, or nil when none remain.
func (r *reader) rest() []byte {
	if r.err != nil || r.remaining() == 0 {
		return nil
	}
	out := make([]byte, r.remaining())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}
