package packets

import (
	"fmt"
	"io"
)

// Packet is the interface that all MQTT control packets implement.
type Packet interface {
	// Type returns the MQTT control packet type.
	Type() uint8

	// Encode appends the serialized packet bytes to dst and returns the
	// resulting slice.
	Encode(dst []byte) ([]byte, error)
}

// Encode serializes p into a new slice.
func Encode(p Packet) ([]byte, error) {
	return p.Encode(nil)
}

// Write serializes p into a pooled buffer and writes it to w.
func Write(w io.Writer, p Packet) (int64, error) {
	bufPtr := getBuffer(0)
	defer putBuffer(bufPtr)

	out, err := p.Encode((*bufPtr)[:0])
	if err != nil {
		return 0, err
	}
	n, err := w.Write(out)
	return int64(n), err
}

// appendPacket appends a fixed header followed by body.
func appendPacket(dst []byte, typ, flags uint8, body []byte) ([]byte, error) {
	if len(body) > MaxRemainingLength {
		return dst, fmt.Errorf("%s: remaining length %d exceeds maximum", PacketNames[typ], len(body))
	}
	dst = append(dst, typ<<4|flags&0x0F)
	dst = appendVarInt(dst, len(body))
	return append(dst, body...), nil
}

// Decode decodes one packet from the front of buf for the given protocol
// level. It returns the packet and the number of bytes consumed.
//
// If buf holds only part of a packet the error is an *IncompleteError and
// nothing is consumed; the caller should retry once more bytes have been
// appended. Any other error matches ErrMalformed. maxSize limits the total
// packet size; zero means no limit.
func Decode(buf []byte, version uint8, maxSize int) (Packet, int, error) {
	if len(buf) < 2 {
		return nil, 0, &IncompleteError{Need: 2 - len(buf)}
	}

	remaining, n, err := decodeVarInt(buf[1:])
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, &IncompleteError{Need: 1}
	}

	total := 1 + n + remaining
	if maxSize > 0 && total > maxSize {
		return nil, 0, malformed("packet size %d exceeds maximum %d", total, maxSize)
	}

	typ, flags := buf[0]>>4, buf[0]&0x0F
	if err := checkFlags(typ, flags); err != nil {
		return nil, 0, err
	}

	if len(buf) < total {
		return nil, 0, &IncompleteError{Need: total - len(buf)}
	}

	r := &reader{buf: buf[1+n : total]}
	pkt := decodeBody(typ, flags, version, r)
	if r.err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", PacketNames[typ], r.err)
	}
	if r.remaining() != 0 {
		return nil, 0, malformed("%s: %d trailing bytes", PacketNames[typ], r.remaining())
	}
	return pkt, total, nil
}

func checkFlags(typ, flags uint8) error {
	switch typ {
	case RESERVED, AUTH:
		return malformed("unsupported packet type %d", typ)
	case PUBLISH:
		qos := (flags >> 1) & 0x03
		if qos == 3 {
			return malformed("PUBLISH with QoS 3")
		}
		if qos == 0 && flags&0x08 != 0 {
			return malformed("PUBLISH with DUP set at QoS 0")
		}
		return nil
	}
	if flags != reservedFlags[typ] {
		return malformed("%s: reserved flags 0x%x", PacketNames[typ], flags)
	}
	return nil
}

func decodeBody(typ, flags, version uint8, r *reader) Packet {
	switch typ {
	case CONNECT:
		return decodeConnect(r)
	case CONNACK:
		return decodeConnack(r, version)
	case PUBLISH:
		return decodePublish(r, flags, version)
	case PUBACK:
		return (*PubackPacket)(decodeAck(r, version))
	case PUBREC:
		return (*PubrecPacket)(decodeAck(r, version))
	case PUBREL:
		return (*PubrelPacket)(decodeAck(r, version))
	case PUBCOMP:
		return (*PubcompPacket)(decodeAck(r, version))
	case SUBSCRIBE:
		return decodeSubscribe(r, version)
	case SUBACK:
		return decodeSuback(r, version)
	case UNSUBSCRIBE:
		return decodeUnsubscribe(r, version)
	case UNSUBACK:
		return decodeUnsuback(r, version)
	case PINGREQ:
		return &PingreqPacket{}
	case PINGRESP:
		return &PingrespPacket{}
	case DISCONNECT:
		return decodeDisconnect(r, version)
	}
	r.fail("unknown packet type %d", typ)
	return nil
}
