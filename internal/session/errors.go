package session

import (
	"errors"
	"fmt"

	"github.com/solarmqtt/mq/internal/packets"
)

var (
	// ErrConnectRefused is returned when the server rejects CONNECT or does
	// not answer it in time. A *ConnectError carries the reason code.
	ErrConnectRefused = errors.New("connection refused")

	// ErrTransportClosed reports that the connection was lost.
	ErrTransportClosed = errors.New("transport closed")

	// ErrKeepaliveTimeout is returned when no PINGRESP arrives within one
	// keepalive interval. It matches ErrTransportClosed.
	ErrKeepaliveTimeout = fmt.Errorf("keepalive timeout: %w", ErrTransportClosed)

	// ErrDeliveryFailed is returned when an outbound QoS 1/2 publish
	// exceeds the retry ceiling. The session stays up.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrInvalidTopic is returned for topics and filters that break the
	// wildcard grammar or the hierarchy limit.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrSubscriptionFailed is returned when the server rejects a filter.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrPacketIDExhausted is returned when all 65535 packet identifiers
	// are in use.
	ErrPacketIDExhausted = errors.New("no free packet identifier")

	// ErrProtocol is returned when the server sends a packet that is not
	// valid in the current state. It matches packets.ErrMalformed.
	ErrProtocol = fmt.Errorf("protocol violation: %w", packets.ErrMalformed)
)

var connackNames = map[uint8]string{
	packets.ConnRefusedUnacceptableProtocol:  "unacceptable protocol version",
	packets.ConnRefusedIdentifierRejected:    "identifier rejected",
	packets.ConnRefusedServerUnavailable:     "server unavailable",
	packets.ConnRefusedBadUsernameOrPassword: "bad username or password",
	packets.ConnRefusedNotAuthorized:         "not authorized",
	0x80: "unspecified error",
	0x81: "malformed packet",
	0x82: "protocol error",
	0x84: "unsupported protocol version",
	0x85: "client identifier not valid",
	0x86: "bad user name or password",
	0x87: "not authorized",
	0x88: "server unavailable",
	0x89: "server busy",
	0x8A: "banned",
	0x8C: "bad authentication method",
	0x95: "packet too large",
	0x97: "quota exceeded",
	0x9C: "use another server",
	0x9D: "server moved",
}

// ConnectError is a refused CONNACK. It matches ErrConnectRefused.
type ConnectError struct {
	ReasonCode uint8
	// Reason is the v5 reason string, if the server sent one.
	Reason string
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connection refused (0x%02X)", e.ReasonCode)
	if name, ok := connackNames[e.ReasonCode]; ok {
		msg += ": " + name
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return ErrConnectRefused }

// ReasonError is a negative acknowledgment from the server.
type ReasonError struct {
	Packet     uint8 // packet type that carried the code
	ReasonCode uint8
	Reason     string
	Err        error // optional parent sentinel
}

func (e *ReasonError) Error() string {
	msg := fmt.Sprintf("%s reason 0x%02X", packets.PacketNames[e.Packet], e.ReasonCode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = e.Err.Error() + ": " + msg
	}
	return msg
}

func (e *ReasonError) Unwrap() error { return e.Err }

func reasonError(typ, code uint8, props *packets.Properties, parent error) *ReasonError {
	e := &ReasonError{Packet: typ, ReasonCode: code, Err: parent}
	if props.Has(packets.PropReasonString) {
		e.Reason = props.ReasonString
	}
	return e
}
