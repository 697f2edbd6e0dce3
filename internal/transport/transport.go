// Package transport owns the byte stream between the client and the
// server: a plain TCP socket or one wrapped in TLS. It buffers outbound
// bytes, bounds every read with a deadline, and can be woken from another
// goroutine while a read is blocked.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solarmqtt/mq/internal/features"
	"github.com/solarmqtt/mq/internal/platform"
)

var (
	// ErrWouldBlock is returned when no progress is possible right now.
	ErrWouldBlock = errors.New("transport: would block")

	// ErrClosed is returned once the stream has been closed by either side.
	ErrClosed = errors.New("transport: closed")

	// ErrConnect is returned when the socket could not be established.
	ErrConnect = errors.New("transport: connect failed")

	// ErrTLSHandshake is returned when the socket was established but the
	// TLS handshake failed (certificate validation, cipher negotiation).
	ErrTLSHandshake = errors.New("transport: TLS handshake failed")

	// ErrUnsupported is returned for endpoints that need a capability this
	// build does not have.
	ErrUnsupported = errors.New("transport: unsupported endpoint")
)

const (
	defaultWriteTimeout  = 10 * time.Second
	defaultHighWaterMark = 1 << 20
	minPoll              = time.Millisecond
)

// Allocator hands out and takes back byte buffers.
type Allocator interface {
	Get(n int) []byte
	Put(b []byte)
}

// ContextDialer is implemented by net.Dialer and proxies.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures Open.
type Options struct {
	// TLSConfig is used for TLS endpoints. A non-nil config also forces TLS
	// on tcp:// endpoints.
	TLSConfig *tls.Config

	// Dialer replaces the default net.Dialer for the raw socket.
	Dialer ContextDialer

	// Allocator provides the read buffer. Required.
	Allocator Allocator

	// ReadBufferSize is the size requested from Allocator.
	ReadBufferSize int

	// WriteTimeout bounds each Flush.
	WriteTimeout time.Duration

	// HighWaterMark is the number of buffered outbound bytes above which
	// Write reports ErrWouldBlock.
	HighWaterMark int
}

// Endpoint is a parsed server address.
type Endpoint struct {
	Address string // host:port
	Host    string
	TLS     bool
}

// ParseEndpoint parses tcp://, mqtt://, tls://, ssl://, mqtts:// URLs and
// bare host:port strings. Missing ports default to 1883, or 8883 for TLS.
func ParseEndpoint(server string, forceTLS bool) (Endpoint, error) {
	if !strings.Contains(server, "://") {
		server = "tcp://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: invalid server URL: %w", ErrUnsupported, err)
	}

	var ep Endpoint
	switch u.Scheme {
	case "tcp", "mqtt":
		ep.TLS = forceTLS
	case "tls", "ssl", "mqtts":
		ep.TLS = true
	case "ws", "wss":
		if !features.WebsocketTransport {
			return Endpoint{}, fmt.Errorf("%w: websocket transport is not compiled in", ErrUnsupported)
		}
	default:
		return Endpoint{}, fmt.Errorf("%w: scheme %q (supported: tcp, mqtt, tls, ssl, mqtts)", ErrUnsupported, u.Scheme)
	}
	if ep.TLS && !features.TLS {
		return Endpoint{}, fmt.Errorf("%w: TLS is not compiled in", ErrUnsupported)
	}

	ep.Host = u.Hostname()
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrUnsupported, server)
	}
	port := u.Port()
	if port == "" {
		port = "1883"
		if ep.TLS {
			port = "8883"
		}
	}
	ep.Address = net.JoinHostPort(ep.Host, port)
	return ep, nil
}

// Conn is an open transport. ReadAvailable, Write and Flush must be
// called from one goroutine at a time; Wake and Close may be called from
// any.
type Conn struct {
	conn  net.Conn
	alloc Allocator

	// readMu guards readBuf. The buffer goes back to the allocator once
	// the stream is closed and no read holds it.
	readMu  sync.Mutex
	readBuf []byte
	out     []byte

	writeTimeout time.Duration
	hwm          int

	woken  atomic.Bool
	closed atomic.Bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// Open dials server and, for TLS endpoints, completes the TLS handshake
// before returning. ctx bounds both.
func Open(ctx context.Context, server string, opts Options) (*Conn, error) {
	ep, err := ParseEndpoint(server, opts.TLSConfig != nil)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	raw, err := dialer.DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrConnect, ep.Address, platform.Classify(err), err)
	}

	conn := raw
	if ep.TLS {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		} else {
			cfg = cfg.Clone()
		}
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			cfg.ServerName = ep.Host
		}
		tc := tls.Client(raw, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrTLSHandshake, ep.Address, err)
		}
		conn = tc
	}

	return NewConn(conn, opts), nil
}

// NewConn wraps an already established stream.
func NewConn(conn net.Conn, opts Options) *Conn {
	size := opts.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	c := &Conn{
		conn:         conn,
		alloc:        opts.Allocator,
		writeTimeout: opts.WriteTimeout,
		hwm:          opts.HighWaterMark,
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	if c.hwm <= 0 {
		c.hwm = defaultHighWaterMark
	}
	if c.alloc != nil {
		c.readBuf = c.alloc.Get(size)
	} else {
		c.readBuf = make([]byte, size)
	}
	return c
}

// ReadAvailable waits up to timeout for inbound bytes and appends them to
// dst. It returns ErrWouldBlock when the wait expires or Wake is called,
// and an error matching ErrClosed when the stream is gone. dst is returned
// in every case.
func (c *Conn) ReadAvailable(dst []byte, timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	dst, err := c.read(dst, timeout)
	c.readMu.Unlock()
	if c.closed.Load() {
		c.release()
	}
	return dst, err
}

func (c *Conn) read(dst []byte, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return dst, ErrClosed
	}
	if timeout < minPoll {
		timeout = minPoll
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return dst, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if c.woken.Swap(false) {
		return dst, ErrWouldBlock
	}

	n, err := c.conn.Read(c.readBuf)
	if n > 0 {
		c.bytesIn.Add(uint64(n))
		return append(dst, c.readBuf[:n]...), nil
	}
	if err == nil {
		return dst, ErrWouldBlock
	}
	if platform.Classify(err) == platform.Timeout {
		return dst, ErrWouldBlock
	}
	return dst, fmt.Errorf("%w: %w", ErrClosed, err)
}

// Write buffers p for the next Flush.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if len(c.out) >= c.hwm {
		return 0, ErrWouldBlock
	}
	c.out = append(c.out, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for Flush.
func (c *Conn) Buffered() int {
	return len(c.out)
}

// Flush writes all buffered bytes in order. Any failure, including the
// write deadline expiring, leaves the stream unusable.
func (c *Conn) Flush() error {
	if c.closed.Load() {
		return ErrClosed
	}
	for len(c.out) > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		n, err := c.conn.Write(c.out)
		c.bytesOut.Add(uint64(n))
		c.out = c.out[n:]
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrClosed, platform.Classify(err), err)
		}
	}
	c.out = c.out[:0]
	return nil
}

// Wake makes a blocked or upcoming ReadAvailable return ErrWouldBlock.
func (c *Conn) Wake() {
	c.woken.Store(true)
	_ = c.conn.SetReadDeadline(time.Now())
}

// Close closes the stream. The read buffer is released here, or by the
// read in progress when it returns.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.conn.Close()
	c.release()
	return err
}

// release returns the read buffer to the allocator unless a read holds
// it; that read releases it on its way out.
func (c *Conn) release() {
	if !c.readMu.TryLock() {
		return
	}
	defer c.readMu.Unlock()
	if c.readBuf == nil {
		return
	}
	if c.alloc != nil {
		c.alloc.Put(c.readBuf)
	}
	c.readBuf = nil
}

// BytesIn returns the number of bytes read so far.
func (c *Conn) BytesIn() uint64 { return c.bytesIn.Load() }

// BytesOut returns the number of bytes written so far.
func (c *Conn) BytesOut() uint64 { return c.bytesOut.Load() }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
