package packets

// UnsubscribePacket represents an MQTT UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID uint16
	Filters  []string

	// MQTT v5.0 fields
	Properties *Properties
	Version    uint8
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() uint8 {
	return UNSUBSCRIBE
}

// Encode serializes the UNSUBSCRIBE packet into dst.
func (p *UnsubscribePacket) Encode(dst []byte) ([]byte, error) {
	var fields []field
	if p.Version >= V50 {
		fields = p.Properties.lengthFields(fields)
	}
	for _, f := range p.Filters {
		fields = append(fields, field{"topic filter", len(f)})
	}
	if err := checkFields(UNSUBSCRIBE, fields); err != nil {
		return dst, err
	}
	body := appendUint16(make([]byte, 0, 64), p.PacketID)
	if p.Version >= V50 {
		body = appendProperties(body, p.Properties)
	}
	for _, f := range p.Filters {
		body = appendString(body, f)
	}
	return appendPacket(dst, UNSUBSCRIBE, reservedFlags[UNSUBSCRIBE], body)
}

func decodeUnsubscribe(r *reader, version uint8) *UnsubscribePacket {
	p := &UnsubscribePacket{Version: version}
	p.PacketID = r.uint16("packet identifier")
	if r.err == nil && p.PacketID == 0 {
		r.fail("packet identifier 0")
	}
	if version >= V50 {
		p.Properties = r.properties()
	}
	for r.err == nil && r.remaining() > 0 {
		p.Filters = append(p.Filters, r.string("topic filter"))
	}
	if r.err == nil && len(p.Filters) == 0 {
		r.fail("UNSUBSCRIBE without topic filters")
	}
	return p
}
