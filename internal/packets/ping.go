package packets

// PingreqPacket represents an MQTT PINGREQ control packet.
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() uint8 {
	return PINGREQ
}

// Encode serializes the PINGREQ packet into dst.
func (p *PingreqPacket) Encode(dst []byte) ([]byte, error) {
	return append(dst, PINGREQ<<4, 0), nil
}

// PingrespPacket represents an MQTT PINGRESP control packet.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() uint8 {
	return PINGRESP
}

// Encode serializes the PINGRESP packet into dst.
func (p *PingrespPacket) Encode(dst []byte) ([]byte, error) {
	return append(dst, PINGRESP<<4, 0), nil
}
