package packets

// ConnectPacket represents an MQTT CONNECT control packet.
type ConnectPacket struct {
	// Protocol name (always "MQTT" for levels 4 and 5)
	ProtocolName string

	// Protocol level (4 for v3.1.1, 5 for v5.0)
	ProtocolLevel uint8

	// Connect flags
	CleanSession bool
	WillFlag     bool
	WillQoS      uint8
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool

	// Keep alive timer in seconds
	KeepAlive uint16

	// Payload
	ClientID string

	// Will fields (only used if WillFlag is true)
	WillTopic      string
	WillMessage    []byte
	WillProperties *Properties // MQTT v5.0

	// Credentials (only used if respective flags are true)
	Username string
	Password []byte

	// MQTT v5.0 fields
	Properties *Properties
}

// Type returns the packet type.
func (p *ConnectPacket) Type() uint8 {
	return CONNECT
}

func (p *ConnectPacket) flags() uint8 {
	var f uint8
	if p.CleanSession {
		f |= 0x02
	}
	if p.WillFlag {
		f |= 0x04
		f |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			f |= 0x20
		}
	}
	if p.PasswordFlag {
		f |= 0x40
	}
	if p.UsernameFlag {
		f |= 0x80
	}
	return f
}

// Encode serializes the CONNECT packet into dst.
func (p *ConnectPacket) Encode(dst []byte) ([]byte, error) {
	name := p.ProtocolName
	if name == "" {
		name = "MQTT"
	}
	v5 := p.ProtocolLevel >= V50
	if err := p.CheckFields(); err != nil {
		return dst, err
	}

	body := make([]byte, 0, 16+len(p.ClientID)+len(p.WillTopic)+len(p.WillMessage)+len(p.Username)+len(p.Password))
	body = appendString(body, name)
	body = append(body, p.ProtocolLevel, p.flags())
	body = appendUint16(body, p.KeepAlive)
	if v5 {
		body = appendProperties(body, p.Properties)
	}

	body = appendString(body, p.ClientID)
	if p.WillFlag {
		if v5 {
			body = appendProperties(body, p.WillProperties)
		}
		body = appendString(body, p.WillTopic)
		body = appendBinary(body, p.WillMessage)
	}
	if p.UsernameFlag {
		body = appendString(body, p.Username)
	}
	if p.PasswordFlag {
		body = appendBinary(body, p.Password)
	}
	return appendPacket(dst, CONNECT, 0, body)
}

// CheckFields reports ErrFieldTooLong if a string, binary field or
// property does not fit its length prefix.
func (p *ConnectPacket) CheckFields() error {
	return checkFields(CONNECT, p.lengthFields(p.ProtocolLevel >= V50))
}

func (p *ConnectPacket) lengthFields(v5 bool) []field {
	fields := []field{{"client identifier", len(p.ClientID)}}
	if v5 {
		fields = p.Properties.lengthFields(fields)
	}
	if p.WillFlag {
		if v5 {
			fields = p.WillProperties.lengthFields(fields)
		}
		fields = append(fields, field{"will topic", len(p.WillTopic)}, field{"will payload", len(p.WillMessage)})
	}
	if p.UsernameFlag {
		fields = append(fields, field{"user name", len(p.Username)})
	}
	if p.PasswordFlag {
		fields = append(fields, field{"password", len(p.Password)})
	}
	return fields
}

func decodeConnect(r *reader) *ConnectPacket {
	p := &ConnectPacket{}
	p.ProtocolName = r.string("protocol name")
	p.ProtocolLevel = r.uint8("protocol level")
	if r.err != nil {
		return nil
	}
	if p.ProtocolName != "MQTT" || (p.ProtocolLevel != V311 && p.ProtocolLevel != V50) {
		r.fail("unsupported protocol %q level %d", p.ProtocolName, p.ProtocolLevel)
		return nil
	}
	v5 := p.ProtocolLevel == V50

	flags := r.uint8("connect flags")
	if flags&0x01 != 0 {
		r.fail("reserved connect flag set")
		return nil
	}
	p.CleanSession = flags&0x02 != 0
	p.WillFlag = flags&0x04 != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillRetain = flags&0x20 != 0
	p.PasswordFlag = flags&0x40 != 0
	p.UsernameFlag = flags&0x80 != 0
	switch {
	case p.WillQoS == 3:
		r.fail("will QoS 3")
	case !p.WillFlag && (p.WillQoS != 0 || p.WillRetain):
		r.fail("will QoS or retain without will flag")
	case !v5 && p.PasswordFlag && !p.UsernameFlag:
		r.fail("password without username")
	}

	p.KeepAlive = r.uint16("keep alive")
	if v5 {
		p.Properties = r.properties()
	}
	p.ClientID = r.string("client identifier")
	if p.WillFlag {
		if v5 {
			p.WillProperties = r.properties()
		}
		p.WillTopic = r.string("will topic")
		p.WillMessage = r.binary("will message")
	}
	if p.UsernameFlag {
		p.Username = r.string("username")
	}
	if p.PasswordFlag {
		p.Password = r.binary("password")
	}
	return p
}
