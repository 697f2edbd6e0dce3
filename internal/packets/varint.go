package packets

import "fmt"

// appendVarInt appends the Variable Byte Integer encoding of value to dst
// (MQTT v3.1.1 section 2.2.3).
func appendVarInt(dst []byte, value int) []byte {
	if value < 0 || value > MaxRemainingLength {
		panic(fmt.Sprintf("value %d out of range for variable byte integer", value))
	}

	for {
		digit := byte(value % 128)
		value /= 128
		if value > 0 {
			digit |= 0x80
		}
		dst = append(dst, digit)
		if value == 0 {
			return dst
		}
	}
}

// varIntSize returns the number of bytes appendVarInt would emit for value.
func varIntSize(value int) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}

// decodeVarInt reads a Variable Byte Integer from the front of buf.
// It returns the value and the number of bytes consumed. n == 0 with a nil
// error means buf ends before the final byte.
func decodeVarInt(buf []byte) (value, n int, err error) {
	multiplier := 1
	for i := 0; i < 4; i++ {
		if i >= len(buf) {
			return 0, 0, nil
		}
		b := buf[i]
		value += int(b&0x7F) * multiplier
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, fmt.Errorf("%w: variable byte integer longer than 4 bytes", ErrMalformed)
}
