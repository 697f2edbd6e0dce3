package packets

// DisconnectPacket represents an MQTT DISCONNECT control packet.
type DisconnectPacket struct {
	// MQTT v5.0 fields
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() uint8 {
	return DISCONNECT
}

// Encode serializes the DISCONNECT packet into dst.
func (p *DisconnectPacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	if p.Version >= V50 && (p.ReasonCode != ReasonSuccess || p.Properties != nil) {
		if err := checkFields(DISCONNECT, p.Properties.lengthFields(nil)); err != nil {
			return dst, err
		}
		body = append(body, p.ReasonCode)
		if p.Properties != nil {
			body = appendProperties(body, p.Properties)
		}
	}
	return appendPacket(dst, DISCONNECT, 0, body)
}

func decodeDisconnect(r *reader, version uint8) *DisconnectPacket {
	p := &DisconnectPacket{Version: version}
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
