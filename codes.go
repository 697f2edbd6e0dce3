package mq

import "errors"

// Reason codes carried by ConnectError and ReasonError. Values 0x01-0x05
// are MQTT 3.1.1 CONNACK return codes; the rest are MQTT v5.0 reason codes.
// Codes >= 0x80 are failures.
//
//	if err := client.Publish("t", data, mq.WithQoS(mq.AtLeastOnce)).Wait(ctx); err != nil {
//	    if mq.IsReasonCode(err, mq.ReasonCodeQuotaExceeded) {
//	        // back off
//	    }
//	}
const (
	ReasonCodeBadProtocolVersion    uint8 = 0x01
	ReasonCodeIdentifierRejected    uint8 = 0x02
	ReasonCodeServerUnavailable     uint8 = 0x03
	ReasonCodeBadCredentials        uint8 = 0x04
	ReasonCodeNotAuthorizedV311     uint8 = 0x05
	ReasonCodeNoMatchingSubscribers uint8 = 0x10
	ReasonCodeUnspecifiedError      uint8 = 0x80
	ReasonCodeMalformedPacket       uint8 = 0x81
	ReasonCodeProtocolError         uint8 = 0x82
	ReasonCodeImplementationError   uint8 = 0x83
	ReasonCodeNotAuthorized         uint8 = 0x87
	ReasonCodeServerBusy            uint8 = 0x89
	ReasonCodeServerShuttingDown    uint8 = 0x8B
	ReasonCodeKeepAliveTimeout      uint8 = 0x8D
	ReasonCodeSessionTakenOver      uint8 = 0x8E
	ReasonCodeTopicFilterInvalid    uint8 = 0x8F
	ReasonCodeTopicNameInvalid      uint8 = 0x90
	ReasonCodePacketIDInUse         uint8 = 0x91
	ReasonCodePacketIDNotFound      uint8 = 0x92
	ReasonCodePacketTooLarge        uint8 = 0x95
	ReasonCodeQuotaExceeded         uint8 = 0x97
	ReasonCodeAdministrativeAction  uint8 = 0x98
	ReasonCodePayloadFormatInvalid  uint8 = 0x99
	ReasonCodeRetainNotSupported    uint8 = 0x9A
	ReasonCodeQoSNotSupported       uint8 = 0x9B
	ReasonCodeUseAnotherServer      uint8 = 0x9C
	ReasonCodeServerMoved           uint8 = 0x9D
	ReasonCodeSharedSubNotSupported uint8 = 0x9E
	ReasonCodeConnectionRateExceed  uint8 = 0x9F
	ReasonCodeSubscriptionIDNotSupp uint8 = 0xA1
	ReasonCodeWildcardSubNotSupp    uint8 = 0xA2
)

// ReasonCodeOf extracts the server's reason code from err.
func ReasonCodeOf(err error) (uint8, bool) {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.ReasonCode, true
	}
	var re *ReasonError
	if errors.As(err, &re) {
		return re.ReasonCode, true
	}
	return 0, false
}

// IsReasonCode reports whether err carries the given server reason code.
func IsReasonCode(err error, code uint8) bool {
	got, ok := ReasonCodeOf(err)
	return ok && got == code
}
