package packets

// ConnackPacket represents an MQTT CONNACK control packet.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     uint8 // reason code in v5.0

	// MQTT v5.0 fields
	Properties *Properties
	Version    uint8
}

// Type returns the packet type.
func (p *ConnackPacket) Type() uint8 {
	return CONNACK
}

// Encode serializes the CONNACK packet into dst.
func (p *ConnackPacket) Encode(dst []byte) ([]byte, error) {
	var ack uint8
	if p.SessionPresent {
		ack = 0x01
	}
	body := []byte{ack, p.ReturnCode}
	if p.Version >= V50 {
		if err := checkFields(CONNACK, p.Properties.lengthFields(nil)); err != nil {
			return dst, err
		}
		body = appendProperties(body, p.Properties)
	}
	return appendPacket(dst, CONNACK, 0, body)
}

// Accepted reports whether the server accepted the connection.
func (p *ConnackPacket) Accepted() bool {
	return p.ReturnCode == ConnAccepted
}

func decodeConnack(r *reader, version uint8) *ConnackPacket {
	p := &ConnackPacket{Version: version}
	ack := r.uint8("acknowledge flags")
	if ack&0xFE != 0 {
		r.fail("reserved acknowledge flags 0x%02x", ack)
		return nil
	}
	p.SessionPresent = ack == 0x01
	p.ReturnCode = r.uint8("return code")
	if version >= V50 && r.remaining() > 0 {
		p.Properties = r.properties()
	}
	return p
}
