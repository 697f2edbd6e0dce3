package packets

// UnsubackPacket represents an MQTT UNSUBACK control packet.
type UnsubackPacket struct {
	PacketID uint16

	// MQTT v5.0 fields
	ReasonCodes []uint8
	Properties  *Properties
	Version     uint8
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() uint8 {
	return UNSUBACK
}

// Encode serializes the UNSUBACK packet into dst.
func (p *UnsubackPacket) Encode(dst []byte) ([]byte, error) {
	body := appendUint16(make([]byte, 0, 4+len(p.ReasonCodes)), p.PacketID)
	if p.Version >= V50 {
		if err := checkFields(UNSUBACK, p.Properties.lengthFields(nil)); err != nil {
			return dst, err
		}
		body = appendProperties(body, p.Properties)
		body = append(body, p.ReasonCodes...)
	}
	return appendPacket(dst, UNSUBACK, 0, body)
}

func decodeUnsuback(r *reader, version uint8) *UnsubackPacket {
	p := &UnsubackPacket{Version: version}
	p.PacketID = r.uint16("packet identifier")
	if version >= V50 {
		p.Properties = r.properties()
		p.ReasonCodes = r.rest()
	}
	return p
}
