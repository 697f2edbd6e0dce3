package packets

// MQTT Control Packet types
const (
	RESERVED    = 0
	CONNECT     = 1
	CONNACK     = 2
	PUBLISH     = 3
	PUBACK      = 4
	PUBREC      = 5
	PUBREL      = 6
	PUBCOMP     = 7
	SUBSCRIBE   = 8
	SUBACK      = 9
	UNSUBSCRIBE = 10
	UNSUBACK    = 11
	PINGREQ     = 12
	PINGRESP    = 13
	DISCONNECT  = 14
	AUTH        = 15 // not supported by this codec
)

// PacketNames maps packet types to human-readable names
var PacketNames = map[uint8]string{
	RESERVED:    "RESERVED",
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
	AUTH:        "AUTH",
}

// Protocol levels
const (
	V311 uint8 = 4
	V50  uint8 = 5
)

// QoS levels
const (
	QoS0 = 0 // At most once
	QoS1 = 1 // At least once
	QoS2 = 2 // Exactly once
)

// CONNACK return codes (v3.1.1)
const (
	ConnAccepted                     = 0
	ConnRefusedUnacceptableProtocol  = 1
	ConnRefusedIdentifierRejected    = 2
	ConnRefusedServerUnavailable     = 3
	ConnRefusedBadUsernameOrPassword = 4
	ConnRefusedNotAuthorized         = 5
)

// SUBACK return codes
const (
	SubackQoS0    = 0x00
	SubackQoS1    = 0x01
	SubackQoS2    = 0x02
	SubackFailure = 0x80
)

// Selected MQTT v5.0 reason codes.
const (
	ReasonSuccess                   = 0x00
	ReasonNoMatchingSubscribers     = 0x10
	ReasonUnspecifiedError          = 0x80
	ReasonMalformedPacket           = 0x81
	ReasonProtocolError             = 0x82
	ReasonNotAuthorized             = 0x87
	ReasonServerBusy                = 0x89
	ReasonKeepAliveTimeout          = 0x8D
	ReasonPacketIdentifierInUse     = 0x91
	ReasonPacketIdentifierNotFound  = 0x92
	ReasonReceiveMaximumExceeded    = 0x93
	ReasonPacketTooLarge            = 0x95
	ReasonQuotaExceeded             = 0x97
	ReasonDisconnectWithWillMessage = 0x04
)

// reservedFlags holds the fixed-header flag nibble every non-PUBLISH packet
// type must carry.
var reservedFlags = [16]uint8{
	PUBREL:      0x02,
	SUBSCRIBE:   0x02,
	UNSUBSCRIBE: 0x02,
}

// MaxRemainingLength is the largest value the remaining-length field can encode.
const MaxRemainingLength = 268435455
