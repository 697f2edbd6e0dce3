package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/solarmqtt/mq/internal/features"
	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/internal/session"
	"github.com/solarmqtt/mq/internal/transport"
)

// Client is an MQTT client.
//
// A Client does nothing on its own until it is driven: either call Start
// to run the loop on a background goroutine, or call Step repeatedly from
// the host's own loop. All methods are safe for concurrent use. Callbacks
// run on whichever goroutine drives the loop.
type Client struct {
	server string
	opts   *clientOptions
	now    func() time.Time

	// mu guards the session and the connection bookkeeping below. It is
	// never held across transport I/O or callbacks.
	mu             sync.Mutex
	sess           *session.Session
	conn           *transport.Conn
	dialGen        uint64
	dialCancel     context.CancelFunc
	inlineDial     *pendingDial
	dialed         *dialResult
	userDisconnect bool
	reconnecting   bool
	reconnectAt    time.Time
	backoff        time.Duration
	resubscribe    map[string]packets.Subscription
	stateSig       chan struct{}
	lastErr        error
	closed         bool

	// ioMu serializes loop iterations. inbuf is only touched under it.
	ioMu  sync.Mutex
	inbuf []byte

	handlersMu sync.RWMutex
	handlers   map[string]MessageHandler

	wake  chan struct{}
	state atomic.Int32

	loopMu   sync.Mutex
	stop     chan struct{}
	loopDone chan struct{}

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	reconnectCount  atomic.Uint64
}

type pendingDial struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
}

type dialResult struct {
	gen  uint64
	conn *transport.Conn
	err  error
}

// New creates a client for server without connecting.
//
// Supported server URLs:
//   - tcp://host:port or mqtt://host:port (default port 1883)
//   - tls://, ssl:// or mqtts:// (default port 8883)
//   - host:port
//
// WithTLS forces TLS on tcp:// URLs. Websocket URLs are rejected with
// ErrUnsupported.
//
//	client, err := mq.New("tcp://localhost:1883", mq.WithClientID("sensor-1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	client.Connect(ctx)
func New(server string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	o.Logger = o.Logger.With("lib", "mq")
	if o.BufferPool == nil {
		o.BufferPool = packets.DefaultPool
	}
	if o.PollInterval <= 0 || o.PollInterval > time.Second {
		o.PollInterval = time.Second
	}
	if o.ReconnectMinBackoff <= 0 {
		o.ReconnectMinBackoff = time.Second
	}
	if o.ReconnectMaxBackoff < o.ReconnectMinBackoff {
		o.ReconnectMaxBackoff = o.ReconnectMinBackoff
	}
	if o.ClientID == "" {
		o.ClientID = generateClientID()
	}

	if _, err := transport.ParseEndpoint(server, o.TLSConfig != nil); err != nil {
		return nil, err
	}

	sess, err := session.New(session.Config{
		ClientID:          o.ClientID,
		CleanSession:      o.CleanSession,
		KeepAlive:         o.KeepAlive,
		ConnectTimeout:    o.ConnectTimeout,
		ProtocolVersion:   o.ProtocolVersion,
		Username:          o.Username,
		Password:          o.Password,
		Will:              o.will,
		ConnectProperties: o.connectProperties,
		Retry:             o.Retry,
		Store:             o.SessionStore,
		Logger:            o.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		server:      server,
		opts:        o,
		now:         time.Now,
		sess:        sess,
		backoff:     o.ReconnectMinBackoff,
		resubscribe: make(map[string]packets.Subscription),
		stateSig:    make(chan struct{}),
		handlers:    make(map[string]MessageHandler),
		wake:        make(chan struct{}, 1),
	}, nil
}

// Dial creates a client, starts its background loop and waits until the
// connection is established or ctx is done.
//
//	client, err := mq.Dial(ctx, "tcp://localhost:1883", mq.WithClientID("sensor-1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func Dial(ctx context.Context, server string, opts ...Option) (*Client, error) {
	c, err := New(server, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.WaitConnected(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// generateClientID returns "mq" followed by 20 hex digits, inside the
// 23-byte limit every server must accept.
func generateClientID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "mq" + id[:20]
}

// Connect starts connecting and returns without waiting. The result is
// reported through the WithOnStateChange callback: StateConnected, or
// StateDisconnected with an error matching ErrConnect, ErrTLSHandshake or
// ErrConnectRefused. ctx only supplies values; the attempt is bounded by
// WithConnectTimeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if err := c.sess.Begin(c.now()); err != nil {
		c.mu.Unlock()
		return err
	}
	c.userDisconnect = false
	c.reconnecting = false
	c.reconnectAt = time.Time{}
	c.backoff = c.opts.ReconnectMinBackoff
	c.startDialLocked(context.WithoutCancel(ctx))
	c.state.Store(int32(StateConnecting))
	c.mu.Unlock()

	c.opts.Logger.Debug("connecting", "server", c.server, "client_id", c.opts.ClientID)
	c.wakeLoop()
	return nil
}

// startDialLocked opens the transport in a helper goroutine, or leaves it
// for the next Step when threading is compiled out.
func (c *Client) startDialLocked(parent context.Context) {
	c.dialGen++
	gen := c.dialGen
	ctx, cancel := context.WithTimeout(parent, c.opts.ConnectTimeout)
	c.dialCancel = cancel
	c.dialed = nil

	if !features.Threading {
		c.inlineDial = &pendingDial{ctx: ctx, cancel: cancel, gen: gen}
		return
	}
	go func() {
		conn, err := c.open(ctx)
		cancel()
		c.mu.Lock()
		if gen != c.dialGen || c.closed {
			c.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}
		c.dialed = &dialResult{gen: gen, conn: conn, err: err}
		c.mu.Unlock()
		c.wakeLoop()
	}()
}

// cancelDialLocked abandons a dial in progress. It returns a connection
// that was dialed but not yet attached; the caller closes it after
// releasing mu.
func (c *Client) cancelDialLocked() *transport.Conn {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialGen++
	c.inlineDial = nil
	var stale *transport.Conn
	if c.dialed != nil {
		stale = c.dialed.conn
	}
	c.dialed = nil
	return stale
}

func (c *Client) open(ctx context.Context) (*transport.Conn, error) {
	return transport.Open(ctx, c.server, transport.Options{
		TLSConfig: c.opts.TLSConfig,
		Dialer:    c.opts.Dialer,
		Allocator: c.opts.BufferPool,
	})
}

// Disconnect sends DISCONNECT and waits until the connection is closed or
// ctx is done. Without a deadline on ctx, WithDisconnectTimeout bounds the
// wait. When the wait expires the connection is closed anyway and the
// context error is returned.
//
// In cooperative mode Disconnect drives Step itself while waiting.
// Callbacks should not call Disconnect: the loop cannot finish the
// shutdown while it is blocked in the callback.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.userDisconnect = true
	pendingReconnect := !c.reconnectAt.IsZero()
	c.reconnectAt = time.Time{}
	err := c.sess.Disconnect(c.now())
	var stale *transport.Conn
	if c.sess.State() != session.Connecting {
		stale = c.cancelDialLocked()
	}
	c.mu.Unlock()
	if stale != nil {
		c.closeConn(stale)
	}

	if err != nil {
		if pendingReconnect && errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	}
	c.opts.Logger.Debug("disconnecting")
	c.wakeLoop()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DisconnectTimeout)
		defer cancel()
	}
	if err := c.waitState(ctx, StateDisconnected); err != nil {
		c.opts.Logger.Warn("disconnect grace period expired, closing", "error", err)
		c.mu.Lock()
		c.sess.Closed(nil, c.now())
		c.mu.Unlock()
		c.wakeLoop()
		if c.ioMu.TryLock() {
			c.flush()
			c.ioMu.Unlock()
		}
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// WaitConnected blocks until the client is connected, the connection
// attempt fails, or ctx is done. A failed attempt returns the error that
// was passed to the state callback. In cooperative mode it drives Step
// itself while waiting.
func (c *Client) WaitConnected(ctx context.Context) error {
	return c.waitState(ctx, StateConnected)
}

// waitState blocks until the dispatched state is want. While waiting for
// StateConnected, dropping to StateDisconnected ends the wait with the
// reported error.
func (c *Client) waitState(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		sig := c.stateSig
		lastErr := c.lastErr
		c.mu.Unlock()

		st := c.State()
		if st == want {
			return nil
		}
		if want == StateConnected && st == StateDisconnected {
			if lastErr == nil {
				lastErr = ErrNotConnected
			}
			return lastErr
		}

		if !c.loopRunning() && c.ioMu.TryLock() {
			c.step(20 * time.Millisecond)
			c.ioMu.Unlock()
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-sig:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// State returns the connection state last reported to callbacks.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the client is in StateConnected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ClientID returns the client identifier in use: the configured or
// generated one, or the one assigned by an MQTT v5.0 server.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.ClientID()
}

// SessionPresent reports the session present flag of the last CONNACK.
func (c *Client) SessionPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SessionPresent()
}

// InFlight returns the number of unfinished QoS 1/2 exchanges.
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.InFlight()
}

// ClientStats holds connection and throughput statistics.
type ClientStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ReconnectCount  uint64
	Connected       bool
}

// Stats returns the current client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	in, out := c.bytesReceived.Load(), c.bytesSent.Load()
	if c.conn != nil {
		in += c.conn.BytesIn()
		out += c.conn.BytesOut()
	}
	c.mu.Unlock()
	return ClientStats{
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesSent:       out,
		BytesReceived:   in,
		ReconnectCount:  c.reconnectCount.Load(),
		Connected:       c.IsConnected(),
	}
}

// Close disconnects, stops the background loop if it is running and
// releases the client. Later calls return ErrClientClosed. The session
// store is not closed.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DisconnectTimeout)
	defer cancel()

	var err error
	if c.loopRunning() {
		err = c.Stop(ctx)
	} else if derr := c.Disconnect(ctx); derr != nil && !errors.Is(derr, ErrNotConnected) {
		err = derr
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.closed = true
	stale := c.cancelDialLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	for _, cc := range []*transport.Conn{stale, conn} {
		if cc != nil {
			c.closeConn(cc)
		}
	}
	if errors.Is(err, ErrClientClosed) {
		err = nil
	}
	return err
}

// withSession runs fn under the session lock and wakes the loop so any
// queued packets are written promptly.
func (c *Client) withSession(fn func(*session.Session) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	err := fn(c.sess)
	c.mu.Unlock()
	if err == nil {
		c.wakeLoop()
	}
	return err
}

// wakeLoop interrupts a blocked poll.
func (c *Client) wakeLoop() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Wake()
	}
}

func (c *Client) closeConn(conn *transport.Conn) {
	if err := conn.Close(); err != nil {
		c.opts.Logger.Debug("closing transport", "error", err)
	}
}
