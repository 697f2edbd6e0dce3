package packets

// Subscription is one topic filter entry of a SUBSCRIBE packet.
type Subscription struct {
	Filter string
	QoS    uint8

	// MQTT v5.0 subscription options
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
}

func (s Subscription) options(v5 bool) uint8 {
	o := s.QoS & 0x03
	if !v5 {
		return o
	}
	if s.NoLocal {
		o |= 0x04
	}
	if s.RetainAsPublished {
		o |= 0x08
	}
	return o | (s.RetainHandling&0x03)<<4
}

// SubscribePacket represents an MQTT SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription

	// MQTT v5.0 fields
	Properties *Properties
	Version    uint8
}

// Type returns the packet type.
func (p *SubscribePacket) Type() uint8 {
	return SUBSCRIBE
}

// Encode serializes the SUBSCRIBE packet into dst.
func (p *SubscribePacket) Encode(dst []byte) ([]byte, error) {
	v5 := p.Version >= V50
	var fields []field
	if v5 {
		fields = p.Properties.lengthFields(fields)
	}
	for _, s := range p.Subscriptions {
		fields = append(fields, field{"topic filter", len(s.Filter)})
	}
	if err := checkFields(SUBSCRIBE, fields); err != nil {
		return dst, err
	}
	body := appendUint16(make([]byte, 0, 64), p.PacketID)
	if v5 {
		body = appendProperties(body, p.Properties)
	}
	for _, s := range p.Subscriptions {
		body = appendString(body, s.Filter)
		body = append(body, s.options(v5))
	}
	return appendPacket(dst, SUBSCRIBE, reservedFlags[SUBSCRIBE], body)
}

func decodeSubscribe(r *reader, version uint8) *SubscribePacket {
	v5 := version >= V50
	p := &SubscribePacket{Version: version}
	p.PacketID = r.uint16("packet identifier")
	if r.err == nil && p.PacketID == 0 {
		r.fail("packet identifier 0")
	}
	if v5 {
		p.Properties = r.properties()
	}
	for r.err == nil && r.remaining() > 0 {
		s := Subscription{Filter: r.string("topic filter")}
		o := r.uint8("subscription options")
		reserved := uint8(0xFC)
		if v5 {
			reserved = 0xC0
		}
		if o&reserved != 0 || o&0x03 == 3 || (o>>4)&0x03 == 3 {
			r.fail("invalid subscription options 0x%02x", o)
			break
		}
		s.QoS = o & 0x03
		if v5 {
			s.NoLocal = o&0x04 != 0
			s.RetainAsPublished = o&0x08 != 0
			s.RetainHandling = (o >> 4) & 0x03
		}
		p.Subscriptions = append(p.Subscriptions, s)
	}
	if r.err == nil && len(p.Subscriptions) == 0 {
		r.fail("SUBSCRIBE without topic filters")
	}
	return p
}
