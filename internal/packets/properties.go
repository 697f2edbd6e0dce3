package packets

import "fmt"

// Property identifiers, MQTT v5.0 section 2.2.2.2.
const (
	PropPayloadFormatIndicator          uint8 = 0x01
	PropMessageExpiryInterval           uint8 = 0x02
	PropContentType                     uint8 = 0x03
	PropResponseTopic                   uint8 = 0x08
	PropCorrelationData                 uint8 = 0x09
	PropSubscriptionIdentifier          uint8 = 0x0B
	PropSessionExpiryInterval           uint8 = 0x11
	PropAssignedClientIdentifier        uint8 = 0x12
	PropServerKeepAlive                 uint8 = 0x13
	PropAuthenticationMethod            uint8 = 0x15
	PropAuthenticationData              uint8 = 0x16
	PropRequestProblemInformation       uint8 = 0x17
	PropWillDelayInterval               uint8 = 0x18
	PropRequestResponseInformation      uint8 = 0x19
	PropResponseInformation             uint8 = 0x1A
	PropServerReference                 uint8 = 0x1C
	PropReasonString                    uint8 = 0x1F
	PropReceiveMaximum                  uint8 = 0x21
	PropTopicAliasMaximum               uint8 = 0x22
	PropTopicAlias                      uint8 = 0x23
	PropMaximumQoS                      uint8 = 0x24
	PropRetainAvailable                 uint8 = 0x25
	PropUserProperty                    uint8 = 0x26
	PropMaximumPacketSize               uint8 = 0x27
	PropWildcardSubscriptionAvailable   uint8 = 0x28
	PropSubscriptionIdentifierAvailable uint8 = 0x29
	PropSharedSubscriptionAvailable     uint8 = 0x2A
)

// scalarProps lists the single-valued properties in encoding order.
var scalarProps = []uint8{
	PropPayloadFormatIndicator,
	PropMessageExpiryInterval,
	PropContentType,
	PropResponseTopic,
	PropCorrelationData,
	PropSessionExpiryInterval,
	PropAssignedClientIdentifier,
	PropServerKeepAlive,
	PropAuthenticationMethod,
	PropAuthenticationData,
	PropRequestProblemInformation,
	PropWillDelayInterval,
	PropRequestResponseInformation,
	PropResponseInformation,
	PropServerReference,
	PropReasonString,
	PropReceiveMaximum,
	PropTopicAliasMaximum,
	PropTopicAlias,
	PropMaximumQoS,
	PropRetainAvailable,
	PropMaximumPacketSize,
	PropWildcardSubscriptionAvailable,
	PropSubscriptionIdentifierAvailable,
	PropSharedSubscriptionAvailable,
}

// UserProperty represents a key-value pair.
type UserProperty struct {
	Key   string
	Value string
}

// Properties holds the MQTT 5.0 properties of a packet.
//
// Single-valued properties are only encoded when their bit is set in
// Presence (bit n for property id n); use Set to assign and mark them.
// Subscription identifiers and user properties are repeatable and are
// encoded whenever their slices are non-empty.
type Properties struct {
	Presence uint64

	PayloadFormatIndicator          uint8
	MessageExpiryInterval           uint32
	ContentType                     string
	ResponseTopic                   string
	CorrelationData                 []byte
	SubscriptionIdentifiers         []int
	SessionExpiryInterval           uint32
	AssignedClientIdentifier        string
	ServerKeepAlive                 uint16
	AuthenticationMethod            string
	AuthenticationData              []byte
	RequestProblemInformation       uint8
	WillDelayInterval               uint32
	RequestResponseInformation      uint8
	ResponseInformation             string
	ServerReference                 string
	ReasonString                    string
	ReceiveMaximum                  uint16
	TopicAliasMaximum               uint16
	TopicAlias                      uint16
	MaximumQoS                      uint8
	RetainAvailable                 uint8
	UserProperties                  []UserProperty
	MaximumPacketSize               uint32
	WildcardSubscriptionAvailable   uint8
	SubscriptionIdentifierAvailable uint8
	SharedSubscriptionAvailable     uint8

	// Dropped counts diagnostic properties (reason string, user
	// properties) discarded during decoding because their strings were
	// not valid UTF-8.
	Dropped int
}

// Has reports whether the single-valued property id is present.
func (p *Properties) Has(id uint8) bool {
	return p != nil && p.Presence&(1<<id) != 0
}

// Set assigns a single-valued property and marks it present. The type of v
// must match the property: uint8, uint16, uint32, string, or []byte.
// It returns false if id is unknown or v has the wrong type.
func (p *Properties) Set(id uint8, v any) bool {
	field := p.field(id)
	ok := false
	switch f := field.(type) {
	case *uint8:
		var x uint8
		if x, ok = v.(uint8); ok {
			*f = x
		}
	case *uint16:
		var x uint16
		if x, ok = v.(uint16); ok {
			*f = x
		}
	case *uint32:
		var x uint32
		if x, ok = v.(uint32); ok {
			*f = x
		}
	case *string:
		var x string
		if x, ok = v.(string); ok {
			*f = x
		}
	case *[]byte:
		var x []byte
		if x, ok = v.([]byte); ok {
			*f = x
		}
	}
	if ok {
		p.Presence |= 1 << id
	}
	return ok
}

// field returns a pointer to the storage of a single-valued property.
func (p *Properties) field(id uint8) any {
	switch id {
	case PropPayloadFormatIndicator:
		return &p.PayloadFormatIndicator
	case PropMessageExpiryInterval:
		return &p.MessageExpiryInterval
	case PropContentType:
		return &p.ContentType
	case PropResponseTopic:
		return &p.ResponseTopic
	case PropCorrelationData:
		return &p.CorrelationData
	case PropSessionExpiryInterval:
		return &p.SessionExpiryInterval
	case PropAssignedClientIdentifier:
		return &p.AssignedClientIdentifier
	case PropServerKeepAlive:
		return &p.ServerKeepAlive
	case PropAuthenticationMethod:
		return &p.AuthenticationMethod
	case PropAuthenticationData:
		return &p.AuthenticationData
	case PropRequestProblemInformation:
		return &p.RequestProblemInformation
	case PropWillDelayInterval:
		return &p.WillDelayInterval
	case PropRequestResponseInformation:
		return &p.RequestResponseInformation
	case PropResponseInformation:
		return &p.ResponseInformation
	case PropServerReference:
		return &p.ServerReference
	case PropReasonString:
		return &p.ReasonString
	case PropReceiveMaximum:
		return &p.ReceiveMaximum
	case PropTopicAliasMaximum:
		return &p.TopicAliasMaximum
	case PropTopicAlias:
		return &p.TopicAlias
	case PropMaximumQoS:
		return &p.MaximumQoS
	case PropRetainAvailable:
		return &p.RetainAvailable
	case PropMaximumPacketSize:
		return &p.MaximumPacketSize
	case PropWildcardSubscriptionAvailable:
		return &p.WildcardSubscriptionAvailable
	case PropSubscriptionIdentifierAvailable:
		return &p.SubscriptionIdentifierAvailable
	case PropSharedSubscriptionAvailable:
		return &p.SharedSubscriptionAvailable
	}
	return nil
}

// lengthFields appends the length-prefixed properties of p to fields.
func (p *Properties) lengthFields(fields []field) []field {
	if p == nil {
		return fields
	}
	for _, id := range scalarProps {
		if !p.Has(id) {
			continue
		}
		switch f := p.field(id).(type) {
		case *string:
			fields = append(fields, field{fmt.Sprintf("property 0x%02x", id), len(*f)})
		case *[]byte:
			fields = append(fields, field{fmt.Sprintf("property 0x%02x", id), len(*f)})
		}
	}
	for _, up := range p.UserProperties {
		fields = append(fields, field{"user property key", len(up.Key)}, field{"user property value", len(up.Value)})
	}
	return fields
}

// appendProperties appends the property length and properties to dst.
// A nil p encodes as a zero length.
func appendProperties(dst []byte, p *Properties) []byte {
	if p == nil {
		return append(dst, 0)
	}
	var body []byte
	for _, id := range scalarProps {
		if !p.Has(id) {
			continue
		}
		body = append(body, id)
		switch f := p.field(id).(type) {
		case *uint8:
			body = append(body, *f)
		case *uint16:
			body = appendUint16(body, *f)
		case *uint32:
			body = appendUint32(body, *f)
		case *string:
			body = appendString(body, *f)
		case *[]byte:
			body = appendBinary(body, *f)
		}
	}
	for _, id := range p.SubscriptionIdentifiers {
		body = append(body, PropSubscriptionIdentifier)
		body = appendVarInt(body, id)
	}
	for _, up := range p.UserProperties {
		body = append(body, PropUserProperty)
		body = appendString(body, up.Key)
		body = appendString(body, up.Value)
	}
	dst = appendVarInt(dst, len(body))
	return append(dst, body...)
}

// properties decodes a property block. It returns nil when the block
// is empty.
func (r *reader) properties() *Properties {
	n := r.varInt("property length")
	block := r.take(n, "properties")
	if r.err != nil || n == 0 {
		return nil
	}

	p := &Properties{}
	pr := &reader{buf: block}
	for pr.err == nil && pr.remaining() > 0 {
		id := pr.uint8("property id")
		switch id {
		case PropSubscriptionIdentifier:
			v := pr.varInt("subscription identifier")
			if pr.err == nil && v == 0 {
				pr.fail("subscription identifier 0")
			}
			p.SubscriptionIdentifiers = append(p.SubscriptionIdentifiers, v)
			continue
		case PropUserProperty:
			k, v := pr.rawString("user property key"), pr.rawString("user property value")
			if pr.err != nil {
				break
			}
			if !validString(string(k)) || !validString(string(v)) {
				p.Dropped++
				continue
			}
			p.UserProperties = append(p.UserProperties, UserProperty{Key: string(k), Value: string(v)})
			continue
		case PropReasonString:
			s := pr.rawString("reason string")
			if pr.err != nil {
				break
			}
			if p.Has(id) {
				pr.fail("duplicate property 0x%02x", id)
				break
			}
			if !validString(string(s)) {
				p.Dropped++
				continue
			}
			p.Set(id, string(s))
			continue
		}
		if pr.err != nil {
			break
		}

		field := p.field(id)
		if field == nil {
			pr.fail("unknown property 0x%02x", id)
			break
		}
		if p.Has(id) {
			pr.fail("duplicate property 0x%02x", id)
			break
		}
		switch f := field.(type) {
		case *uint8:
			*f = pr.uint8("property")
			if *f > 1 {
				pr.fail("property 0x%02x value %d out of range", id, *f)
			}
		case *uint16:
			*f = pr.uint16("property")
			if id == PropReceiveMaximum && *f == 0 {
				pr.fail("receive maximum 0")
			}
		case *uint32:
			*f = pr.uint32("property")
			if id == PropMaximumPacketSize && *f == 0 {
				pr.fail("maximum packet size 0")
			}
		case *string:
			*f = pr.string("property")
		case *[]byte:
			*f = pr.binary("property")
		}
		p.Presence |= 1 << id
	}
	if pr.err != nil {
		r.err = pr.err
		return nil
	}
	return p
}
