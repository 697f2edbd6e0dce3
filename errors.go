package mq

import (
	"errors"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/internal/session"
	"github.com/solarmqtt/mq/internal/transport"
)

// Error kinds. Use errors.Is to test for them; errors carrying more detail
// (ConnectError, ReasonError) match the corresponding sentinel.
var (
	// ErrMalformedPacket is reported when the server sends bytes that do not
	// decode or a packet that is invalid in the current state. The
	// connection is closed.
	ErrMalformedPacket = packets.ErrMalformed

	// ErrConnectRefused is reported when CONNACK rejects the connection or
	// never arrives. Unwrap to *ConnectError for the reason code.
	ErrConnectRefused = session.ErrConnectRefused

	// ErrTLSHandshake is reported when the TCP connection was established
	// but the TLS handshake failed.
	ErrTLSHandshake = transport.ErrTLSHandshake

	// ErrConnect is reported when the TCP connection could not be
	// established.
	ErrConnect = transport.ErrConnect

	// ErrTransportClosed is reported when an established connection is lost.
	ErrTransportClosed = session.ErrTransportClosed

	// ErrKeepaliveTimeout is reported when the server stops answering
	// pings. It matches ErrTransportClosed.
	ErrKeepaliveTimeout = session.ErrKeepaliveTimeout

	// ErrDeliveryFailed completes QoS 1/2 publishes that exhausted the
	// retry policy. The connection stays up.
	ErrDeliveryFailed = session.ErrDeliveryFailed

	// ErrInvalidTopic is returned for topics or filters that break the
	// wildcard grammar or exceed 200 levels. Nothing is sent.
	ErrInvalidTopic = session.ErrInvalidTopic

	// ErrFieldTooLong is returned when a string or binary field, such as a
	// password or correlation data, exceeds 65535 bytes. Nothing is sent.
	ErrFieldTooLong = packets.ErrFieldTooLong

	// ErrSubscriptionFailed is returned when the server rejects a filter.
	ErrSubscriptionFailed = session.ErrSubscriptionFailed

	// ErrNotConnected is returned for operations that need a connection.
	ErrNotConnected = session.ErrNotConnected

	// ErrUnsupported is returned for server URLs needing a capability this
	// build lacks, such as websockets.
	ErrUnsupported = transport.ErrUnsupported

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")

	// ErrThreadingDisabled is returned by Start in builds without
	// threading support.
	ErrThreadingDisabled = errors.New("threading support is not compiled in")

	// ErrAlreadyStarted is returned by Start when the loop is running.
	ErrAlreadyStarted = errors.New("client loop already started")
)

// ConnectError carries the CONNACK reason code of a refused connection.
type ConnectError = session.ConnectError

// ReasonError is a negative acknowledgment (reason code >= 0x80) from an
// MQTT v5.0 server.
type ReasonError = session.ReasonError
