package packets

import "strings"

// PublishPacket represents an MQTT PUBLISH control packet.
type PublishPacket struct {
	// Fixed header flags
	Dup    bool
	QoS    uint8
	Retain bool

	// Variable header
	Topic    string
	PacketID uint16 // Only present if QoS > 0

	// Payload
	Payload []byte

	// MQTT v5.0 fields
	Properties *Properties
	Version    uint8 // 4 for v3.1.1, 5 for v5.0
}

// Type returns the packet type.
func (p *PublishPacket) Type() uint8 {
	return PUBLISH
}

func (p *PublishPacket) flags() uint8 {
	var flags uint8
	if p.Dup {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return flags
}

// Encode serializes the PUBLISH packet into dst.
func (p *PublishPacket) Encode(dst []byte) ([]byte, error) {
	if err := p.CheckFields(); err != nil {
		return dst, err
	}
	body := make([]byte, 0, 2+len(p.Topic)+2+1+len(p.Payload))
	body = appendString(body, p.Topic)
	if p.QoS > 0 {
		body = appendUint16(body, p.PacketID)
	}
	if p.Version >= V50 {
		body = appendProperties(body, p.Properties)
	}
	body = append(body, p.Payload...)
	return appendPacket(dst, PUBLISH, p.flags(), body)
}

// CheckFields reports ErrFieldTooLong if the topic or a v5 property does
// not fit its length prefix.
func (p *PublishPacket) CheckFields() error {
	fields := []field{{"topic", len(p.Topic)}}
	if p.Version >= V50 {
		fields = p.Properties.lengthFields(fields)
	}
	return checkFields(PUBLISH, fields)
}

// Copy returns a shallow copy of p suitable for retransmission with a
// different DUP flag.
func (p *PublishPacket) Copy() *PublishPacket {
	c := *p
	return &c
}

func decodePublish(r *reader, flags, version uint8) *PublishPacket {
	p := &PublishPacket{
		Dup:     flags&0x08 != 0,
		QoS:     (flags >> 1) & 0x03,
		Retain:  flags&0x01 != 0,
		Version: version,
	}
	p.Topic = r.string("topic")
	if r.err == nil && strings.ContainsAny(p.Topic, "+#") {
		r.fail("wildcard in PUBLISH topic %q", p.Topic)
	}
	if p.QoS > 0 {
		p.PacketID = r.uint16("packet identifier")
		if r.err == nil && p.PacketID == 0 {
			r.fail("packet identifier 0")
		}
	}
	if version >= V50 {
		p.Properties = r.properties()
	}
	if r.err == nil && p.Topic == "" && !p.Properties.Has(PropTopicAlias) {
		r.fail("empty topic without topic alias")
	}
	p.Payload = r.rest()
	return p
}
