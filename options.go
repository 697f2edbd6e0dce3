package mq

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/internal/session"
	"github.com/solarmqtt/mq/store"
)

const (
	// ProtocolV311 is MQTT version 3.1.1
	ProtocolV311 uint8 = packets.V311
	// ProtocolV50 is MQTT version 5.0
	ProtocolV50 uint8 = packets.V50
)

// ContextDialer is an interface for custom network dialing logic.
// It matches the signature of net.Dialer.DialContext.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialFunc is a helper to convert a function to the ContextDialer interface.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext calls f.
func (f DialFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// BufferPool supplies the transport's read buffers. Implementations must be
// safe for concurrent use when the client runs its own loop goroutine.
type BufferPool interface {
	Get(n int) []byte
	Put(b []byte)
}

// RetryPolicy controls retransmission of unacknowledged QoS 1/2 packets.
// See WithRetryPolicy.
type RetryPolicy = session.RetryPolicy

// DefaultRetryPolicy retransmits after 10s, doubling up to 2 minutes, and
// gives up after 5 attempts.
var DefaultRetryPolicy = session.DefaultRetryPolicy

// clientOptions holds configuration for the MQTT client.
type clientOptions struct {
	ClientID     string
	Username     string
	Password     []byte
	KeepAlive    time.Duration
	CleanSession bool

	// Protocol Version (4 = v3.1.1, 5 = v5.0)
	ProtocolVersion uint8

	AutoReconnect       bool
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration

	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration

	// PollInterval bounds each wait of the background loop.
	PollInterval time.Duration

	TLSConfig  *tls.Config
	Dialer     ContextDialer
	BufferPool BufferPool

	// MaxIncomingPacket rejects larger inbound packets (0 = protocol maximum).
	MaxIncomingPacket int

	Retry        RetryPolicy
	SessionStore store.Store

	will              *session.Will
	connectProperties *packets.Properties

	Logger *slog.Logger

	OnMessage     MessageHandler
	OnStateChange func(*Client, State, error)
	OnEvent       func(*Client, Event)
}

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

// defaultOptions mirrors the plugin defaults: clean session, 60s keepalive,
// no automatic reconnect.
func defaultOptions() *clientOptions {
	return &clientOptions{
		KeepAlive:           60 * time.Second,
		CleanSession:        true,
		ProtocolVersion:     ProtocolV311,
		ReconnectMinBackoff: time.Second,
		ReconnectMaxBackoff: 2 * time.Minute,
		ConnectTimeout:      30 * time.Second,
		DisconnectTimeout:   5 * time.Second,
		PollInterval:        time.Second,
		BufferPool:          packets.DefaultPool,
		Retry:               session.DefaultRetryPolicy,
		Logger:              slog.New(slog.DiscardHandler),
	}
}

// WithClientID sets the client identifier. Identifiers longer than 23
// bytes are rejected. When none is set, a random identifier is generated.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.ClientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.Username = username
		o.Password = []byte(password)
	}
}

// WithKeepAlive sets the keepalive interval. Zero disables keepalive.
// Default is 60 seconds.
func WithKeepAlive(d time.Duration) Option {
	return func(o *clientOptions) {
		o.KeepAlive = d
	}
}

// WithCleanSession sets the clean session flag. With false, in-flight
// QoS 1/2 exchanges and subscriptions survive disconnects and, with
// WithSessionStore, process restarts.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.CleanSession = clean
	}
}

// WithProtocolVersion selects MQTT 3.1.1 (default) or 5.0.
func WithProtocolVersion(version uint8) Option {
	return func(o *clientOptions) {
		o.ProtocolVersion = version
	}
}

// WithAutoReconnect enables reconnecting after an unexpected connection
// loss, waiting 1s and doubling up to 2 minutes between attempts.
func WithAutoReconnect(enable bool) Option {
	return func(o *clientOptions) {
		o.AutoReconnect = enable
	}
}

// WithReconnectBackoff overrides the reconnect wait bounds.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(o *clientOptions) {
		o.ReconnectMinBackoff = min
		o.ReconnectMaxBackoff = max
	}
}

// WithConnectTimeout bounds the dial, the TLS handshake and the wait for
// CONNACK. Default is 30 seconds.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.ConnectTimeout = d
	}
}

// WithDisconnectTimeout sets the grace period Disconnect allows for the
// DISCONNECT packet to be written when its context has no deadline.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.DisconnectTimeout = d
	}
}

// WithPollInterval bounds each wait of the background loop. Values above
// one second are clamped so Stop is observed promptly.
func WithPollInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.PollInterval = d
	}
}

// WithTLS enables TLS with the given configuration. Certificate pinning is
// done through config.VerifyPeerCertificate or VerifyConnection.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.TLSConfig = config
	}
}

// WithDialer sets a custom dialer for the raw TCP connection, for example
// a Unix socket or a test pipe.
func WithDialer(dialer ContextDialer) Option {
	return func(o *clientOptions) {
		o.Dialer = dialer
	}
}

// WithBufferPool replaces the allocator used for transport read buffers.
func WithBufferPool(pool BufferPool) Option {
	return func(o *clientOptions) {
		o.BufferPool = pool
	}
}

// WithMaxIncomingPacket rejects inbound packets larger than size bytes.
func WithMaxIncomingPacket(size int) Option {
	return func(o *clientOptions) {
		o.MaxIncomingPacket = size
	}
}

// WithRetryPolicy sets how unacknowledged QoS 1/2 packets are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *clientOptions) {
		o.Retry = p
	}
}

// WithSessionStore persists session state of non-clean sessions. See the
// store package for implementations.
func WithSessionStore(s store.Store) Option {
	return func(o *clientOptions) {
		o.SessionStore = s
	}
}

// WithWill sets the Last Will and Testament message.
func WithWill(topic string, payload []byte, qos QoS, retained bool, properties ...*Properties) Option {
	return func(o *clientOptions) {
		o.will = &session.Will{
			Topic:   topic,
			Payload: payload,
			QoS:     uint8(qos),
			Retain:  retained,
		}
		if len(properties) > 0 {
			o.will.Properties = toInternalProperties(properties[0])
		}
	}
}

// WithSessionExpiryInterval sets the MQTT v5.0 session expiry in seconds.
func WithSessionExpiryInterval(seconds uint32) Option {
	return func(o *clientOptions) {
		if o.connectProperties == nil {
			o.connectProperties = &packets.Properties{}
		}
		o.connectProperties.Set(packets.PropSessionExpiryInterval, seconds)
	}
}

// WithConnectUserProperty adds an MQTT v5.0 user property to CONNECT.
func WithConnectUserProperty(key, value string) Option {
	return func(o *clientOptions) {
		if o.connectProperties == nil {
			o.connectProperties = &packets.Properties{}
		}
		o.connectProperties.UserProperties = append(o.connectProperties.UserProperties, packets.UserProperty{Key: key, Value: value})
	}
}

// WithLogger sets the logger for client events.
// If not provided, the client discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.Logger = logger
	}
}

// WithOnMessage sets the handler for messages that no subscription handler
// claimed.
func WithOnMessage(handler MessageHandler) Option {
	return func(o *clientOptions) {
		o.OnMessage = handler
	}
}

// WithOnStateChange sets the connection state callback. err is non-nil
// when the client dropped to StateDisconnected because of a failure: a
// refused connection, a TLS handshake failure, a lost transport or a
// keepalive timeout.
func WithOnStateChange(fn func(c *Client, state State, err error)) Option {
	return func(o *clientOptions) {
		o.OnStateChange = fn
	}
}

// WithOnEvent sets the callback for subscription acknowledgments, delivery
// failures and absorbed errors.
func WithOnEvent(fn func(c *Client, e Event)) Option {
	return func(o *clientOptions) {
		o.OnEvent = fn
	}
}
