package packets

// ackPacket is the shared layout of PUBACK, PUBREC, PUBREL and PUBCOMP:
// a packet identifier, then in v5.0 an optional reason code and properties.
type ackPacket struct {
	PacketID   uint16
	ReasonCode uint8 // MQTT v5.0

	// MQTT v5.0 fields
	Properties *Properties
	Version    uint8
}

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket ackPacket

// PubrecPacket is the first acknowledgement of a QoS 2 PUBLISH.
type PubrecPacket ackPacket

// PubrelPacket releases a QoS 2 PUBLISH after PUBREC.
type PubrelPacket ackPacket

// PubcompPacket completes a QoS 2 exchange.
type PubcompPacket ackPacket

// Type returns the packet type.
func (p *PubackPacket) Type() uint8 { return PUBACK }

// Type returns the packet type.
func (p *PubrecPacket) Type() uint8 { return PUBREC }

// Type returns the packet type.
func (p *PubrelPacket) Type() uint8 { return PUBREL }

// Type returns the packet type.
func (p *PubcompPacket) Type() uint8 { return PUBCOMP }

// Encode serializes the PUBACK packet into dst.
func (p *PubackPacket) Encode(dst []byte) ([]byte, error) {
	return (*ackPacket)(p).encode(dst, PUBACK)
}

// Encode serializes the PUBREC packet into dst.
func (p *PubrecPacket) Encode(dst []byte) ([]byte, error) {
	return (*ackPacket)(p).encode(dst, PUBREC)
}

// Encode serializes the PUBREL packet into dst.
func (p *PubrelPacket) Encode(dst []byte) ([]byte, error) {
	return (*ackPacket)(p).encode(dst, PUBREL)
}

// Encode serializes the PUBCOMP packet into dst.
func (p *PubcompPacket) Encode(dst []byte) ([]byte, error) {
	return (*ackPacket)(p).encode(dst, PUBCOMP)
}

func (p *ackPacket) encode(dst []byte, typ uint8) ([]byte, error) {
	if p.Version >= V50 {
		if err := checkFields(typ, p.Properties.lengthFields(nil)); err != nil {
			return dst, err
		}
	}
	body := appendUint16(make([]byte, 0, 4), p.PacketID)
	if p.Version >= V50 && (p.ReasonCode != ReasonSuccess || p.Properties != nil) {
		body = append(body, p.ReasonCode)
		if p.Properties != nil {
			body = appendProperties(body, p.Properties)
		}
	}
	return appendPacket(dst, typ, reservedFlags[typ], body)
}

func decodeAck(r *reader, version uint8) *ackPacket {
	p := &ackPacket{Version: version}
	p.PacketID = r.uint16("packet identifier")
	if r.err == nil && p.PacketID == 0 {
		r.fail("packet identifier 0")
	}
	if version >= V50 {
		if r.remaining() > 0 {
			p.ReasonCode = r.uint8("reason code")
		}
		if r.remaining() > 0 {
			p.Properties = r.properties()
		}
	}
	return p
}
