package mq

// QoS represents the MQTT Quality of Service level.
type QoS uint8

const (
	// AtMostOnce (QoS 0) sends once with no acknowledgment and no pending
	// state.
	AtMostOnce QoS = 0

	// AtLeastOnce (QoS 1) is retried with DUP until PUBACK. The receiver
	// may see duplicates.
	AtLeastOnce QoS = 1

	// ExactlyOnce (QoS 2) uses the PUBLISH, PUBREC, PUBREL, PUBCOMP
	// handshake so the receiver sees the message once.
	ExactlyOnce QoS = 2
)
