package packets

// SubackPacket represents an MQTT SUBACK control packet.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []uint8 // one per requested filter; reason codes in v5.0

	// MQTT v5.0 fields
	Properties *Properties
	Version    uint8
}

// Type returns the packet type.
func (p *SubackPacket) Type() uint8 {
	return SUBACK
}

// Encode serializes the SUBACK packet into dst.
func (p *SubackPacket) Encode(dst []byte) ([]byte, error) {
	body := appendUint16(make([]byte, 0, 4+len(p.ReturnCodes)), p.PacketID)
	if p.Version >= V50 {
		if err := checkFields(SUBACK, p.Properties.lengthFields(nil)); err != nil {
			return dst, err
		}
		body = appendProperties(body, p.Properties)
	}
	body = append(body, p.ReturnCodes...)
	return appendPacket(dst, SUBACK, 0, body)
}

func decodeSuback(r *reader, version uint8) *SubackPacket {
	p := &SubackPacket{Version: version}
	p.PacketID = r.uint16("packet identifier")
	if version >= V50 {
		p.Properties = r.properties()
	}
	p.ReturnCodes = r.rest()
	if r.err == nil && len(p.ReturnCodes) == 0 {
		r.fail("SUBACK without return codes")
	}
	return p
}
