package mq

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/solarmqtt/mq/internal/features"
	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/internal/session"
	"github.com/solarmqtt/mq/internal/transport"
)

// Step runs one iteration of the client loop: it collects a finished dial,
// fires expired timers, writes queued packets, waits up to timeout for
// inbound bytes, handles every complete packet and delivers callbacks.
//
// Step is the cooperative alternative to Start. Call it repeatedly from
// the host's own loop; it returns early when there is work to do. Fatal
// connection errors are reported through the state callback, not
// returned. Step returns ErrClientClosed after Close.
func (c *Client) Step(timeout time.Duration) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}
	c.step(timeout)
	return nil
}

// step is one iteration. The caller holds ioMu.
func (c *Client) step(timeout time.Duration) {
	c.collectDial()
	c.flush()
	c.poll(timeout)
	c.flush()
}

// Start runs the loop on a background goroutine until Stop or Close. Each
// iteration waits at most the poll interval (one second by default).
func (c *Client) Start() error {
	if !features.Threading {
		return ErrThreadingDisabled
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loopDone != nil {
		return ErrAlreadyStarted
	}
	c.stop = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.run(c.stop, c.loopDone)
	return nil
}

func (c *Client) run(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			c.opts.Logger.Debug("client loop stopped")
			return
		default:
		}
		if err := c.Step(c.opts.PollInterval); err != nil {
			return
		}
	}
}

// Stop disconnects gracefully and then stops the background loop. It
// returns when the loop goroutine has exited or ctx is done.
func (c *Client) Stop(ctx context.Context) error {
	c.loopMu.Lock()
	stop, done := c.stop, c.loopDone
	c.loopMu.Unlock()
	if done == nil {
		return nil
	}

	err := c.Disconnect(ctx)
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClientClosed) {
		err = nil
	}

	c.loopMu.Lock()
	if c.stop == stop {
		close(stop)
		c.stop, c.loopDone = nil, nil
	}
	c.loopMu.Unlock()
	c.wakeLoop()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (c *Client) loopRunning() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.loopDone != nil
}

// collectDial attaches a finished dial, or runs the dial inline when
// threading is compiled out.
func (c *Client) collectDial() {
	c.mu.Lock()
	if d := c.inlineDial; d != nil {
		c.inlineDial = nil
		c.mu.Unlock()
		conn, err := c.open(d.ctx)
		d.cancel()
		c.mu.Lock()
		if d.gen == c.dialGen && !c.closed {
			c.dialed = &dialResult{gen: d.gen, conn: conn, err: err}
		} else if conn != nil {
			defer c.closeConn(conn)
		}
	}

	r := c.dialed
	c.dialed = nil
	if r == nil {
		c.mu.Unlock()
		return
	}
	if r.gen != c.dialGen || c.sess.State() != session.Connecting {
		c.mu.Unlock()
		if r.conn != nil {
			c.closeConn(r.conn)
		}
		return
	}
	c.dialCancel = nil
	now := c.now()
	if r.err != nil {
		c.sess.ConnectFailed(r.err, now)
		c.mu.Unlock()
		c.opts.Logger.Warn("connection failed", "server", c.server, "error", r.err)
		return
	}
	c.conn = r.conn
	c.inbuf = c.inbuf[:0]
	c.sess.Attach(now)
	c.mu.Unlock()
	c.opts.Logger.Debug("transport open", "remote", r.conn.RemoteAddr())
}

// flush fires timers, writes everything the session queued and delivers
// the session's events. Transport writes and callbacks run without mu.
func (c *Client) flush() {
	now := c.now()

	c.mu.Lock()
	c.sess.Tick(now)
	var stale *transport.Conn
	if c.sess.State() != session.Connecting && (c.dialCancel != nil || c.inlineDial != nil || c.dialed != nil) {
		stale = c.cancelDialLocked()
	}
	c.maybeReconnectLocked(now)
	out, events := c.sess.Drain()
	conn := c.conn
	if c.sess.State() == session.Disconnected {
		out = nil
	}
	c.mu.Unlock()
	if stale != nil {
		c.closeConn(stale)
	}

	var (
		werr     error
		absorbed []error
		sentDisc bool
	)
	if conn != nil && len(out) > 0 {
		absorbed, werr = c.write(conn, out)
		for _, p := range out {
			if p.Type() == packets.DISCONNECT {
				sentDisc = true
			}
		}
	} else if len(out) > 0 {
		c.opts.Logger.Debug("dropping packets without transport", "count", len(out))
	}

	c.mu.Lock()
	now = c.now()
	switch {
	case werr != nil && c.conn == conn:
		c.sess.Closed(fmt.Errorf("%w: %w", ErrTransportClosed, werr), now)
	case sentDisc && c.sess.State() == session.Disconnecting:
		c.sess.Closed(nil, now)
	}
	var detached *transport.Conn
	if c.sess.State() == session.Disconnected && c.conn != nil {
		detached = c.conn
		c.conn = nil
		c.bytesReceived.Add(detached.BytesIn())
		c.bytesSent.Add(detached.BytesOut())
		_, more := c.sess.Drain()
		events = append(events, more...)
	}
	c.trackLocked(events, now)
	c.mu.Unlock()

	if detached != nil {
		c.closeConn(detached)
	}
	for _, err := range absorbed {
		c.emitError(err)
	}
	c.dispatch(events)
}

// write encodes out into the transport buffer and flushes it. Packets that
// fail to encode are skipped and returned as absorbed errors; a transport
// failure stops the write.
func (c *Client) write(conn *transport.Conn, out []packets.Packet) (absorbed []error, err error) {
	for _, p := range out {
		_, err := packets.Write(conn, p)
		if errors.Is(err, transport.ErrWouldBlock) {
			if err := conn.Flush(); err != nil {
				return absorbed, err
			}
			_, err = packets.Write(conn, p)
		}
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrWouldBlock) {
				return absorbed, err
			}
			c.opts.Logger.Warn("dropping packet that failed to encode", "type", packets.PacketNames[p.Type()], "error", err)
			absorbed = append(absorbed, err)
			continue
		}
		c.packetsSent.Add(1)
	}
	return absorbed, conn.Flush()
}

// poll waits for inbound bytes until timeout, the next session timer or a
// wake, then decodes and handles every complete packet.
func (c *Client) poll(timeout time.Duration) {
	now := c.now()

	c.mu.Lock()
	wait := timeout
	if d := c.sess.NextDeadline(now); !d.IsZero() {
		wait = min(wait, d.Sub(now))
	}
	if !c.reconnectAt.IsZero() {
		wait = min(wait, c.reconnectAt.Sub(now))
	}
	if c.sess.Pending() || c.dialed != nil || c.inlineDial != nil {
		wait = 0
	}
	conn := c.conn
	version := c.sess.Version()
	c.mu.Unlock()
	wait = max(wait, 0)

	if conn == nil {
		if wait == 0 {
			return
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-c.wake:
		case <-t.C:
		}
		return
	}

	var err error
	c.inbuf, err = conn.ReadAvailable(c.inbuf, wait)
	if errors.Is(err, transport.ErrWouldBlock) {
		return
	}
	if err != nil {
		c.mu.Lock()
		if c.conn == conn {
			c.sess.Closed(fmt.Errorf("%w: %w", ErrTransportClosed, err), c.now())
		}
		c.mu.Unlock()
		return
	}

	var (
		pkts   []packets.Packet
		off    int
		decErr error
	)
	for off < len(c.inbuf) {
		pkt, n, err := packets.Decode(c.inbuf[off:], version, c.opts.MaxIncomingPacket)
		if errors.Is(err, packets.ErrIncomplete) {
			break
		}
		if err != nil {
			decErr = err
			break
		}
		off += n
		pkts = append(pkts, pkt)
	}
	if decErr != nil {
		c.inbuf = c.inbuf[:0]
	} else {
		c.inbuf = c.inbuf[:copy(c.inbuf, c.inbuf[off:])]
	}
	c.packetsReceived.Add(uint64(len(pkts)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	now = c.now()
	for _, pkt := range pkts {
		if err := c.sess.HandlePacket(pkt, now); err != nil {
			c.opts.Logger.Warn("protocol violation", "error", err)
			return
		}
	}
	if decErr != nil {
		c.opts.Logger.Warn("malformed packet from server", "error", decErr)
		c.sess.Closed(decErr, now)
	}
}

// maybeReconnectLocked starts a scheduled reconnect once its backoff has
// elapsed.
func (c *Client) maybeReconnectLocked(now time.Time) {
	if c.reconnectAt.IsZero() || now.Before(c.reconnectAt) || c.closed || c.userDisconnect {
		return
	}
	c.reconnectAt = time.Time{}
	if c.sess.Begin(now) != nil {
		return
	}
	c.reconnecting = true
	c.reconnectCount.Add(1)
	c.opts.Logger.Info("reconnecting", "server", c.server, "attempt", c.reconnectCount.Load())
	c.startDialLocked(context.Background())
}

// trackLocked updates reconnect scheduling from state events. It runs
// under mu before the events are dispatched.
func (c *Client) trackLocked(events []session.Event, now time.Time) {
	for _, e := range events {
		if e.Kind != session.EventState {
			continue
		}
		switch e.State {
		case session.Connected:
			c.backoff = c.opts.ReconnectMinBackoff
			c.reconnectAt = time.Time{}
			if c.reconnecting && c.opts.CleanSession {
				c.resubscribeLocked(now)
			}
			c.reconnecting = false
		case session.Disconnected:
			if e.Err == nil || !c.opts.AutoReconnect || c.userDisconnect || c.closed {
				continue
			}
			if c.sess.State() != session.Disconnected || !c.reconnectAt.IsZero() {
				continue
			}
			c.reconnectAt = now.Add(c.backoff)
			c.opts.Logger.Debug("reconnect scheduled", "in", c.backoff)
			c.backoff = min(c.backoff*2, c.opts.ReconnectMaxBackoff)
		}
	}
}

// resubscribeLocked restores handler subscriptions after a clean session
// reconnected.
func (c *Client) resubscribeLocked(now time.Time) {
	if len(c.resubscribe) == 0 {
		return
	}
	subs := make([]packets.Subscription, 0, len(c.resubscribe))
	for _, s := range c.resubscribe {
		subs = append(subs, s)
	}
	slices.SortFunc(subs, func(a, b packets.Subscription) int { return strings.Compare(a.Filter, b.Filter) })
	if err := c.sess.Subscribe(subs, nil, nil, now); err != nil {
		c.opts.Logger.Warn("resubscribe failed", "error", err)
	}
}

// dispatch delivers events to callbacks. It runs without mu.
func (c *Client) dispatch(events []session.Event) {
	for _, e := range events {
		switch e.Kind {
		case session.EventState:
			c.state.Store(int32(e.State))
			c.logState(e)
			if c.opts.OnStateChange != nil {
				c.opts.OnStateChange(c, e.State, e.Err)
			}
			c.mu.Lock()
			c.lastErr = e.Err
			close(c.stateSig)
			c.stateSig = make(chan struct{})
			c.mu.Unlock()
		case session.EventMessage:
			c.handleMessage(e.Message, e.Filters)
		default:
			c.forgetFilters(e)
			if ev, ok := toEvent(e); ok && c.opts.OnEvent != nil {
				c.opts.OnEvent(c, ev)
			}
		}
	}
}

// forgetFilters drops handlers of rejected and removed subscriptions.
func (c *Client) forgetFilters(e session.Event) {
	var gone []string
	switch e.Kind {
	case session.EventSubscribed:
		for i, f := range e.Topics {
			if i >= len(e.Granted) || e.Granted[i] >= packets.SubackFailure {
				gone = append(gone, f)
			}
		}
	case session.EventUnsubscribed:
		if e.Err == nil {
			gone = e.Topics
		}
	}
	if len(gone) == 0 {
		return
	}
	c.removeHandlers(gone...)
	c.mu.Lock()
	for _, f := range gone {
		delete(c.resubscribe, f)
	}
	c.mu.Unlock()
}

func (c *Client) emitError(err error) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(c, Event{Kind: EventError, Err: err})
	}
}

func (c *Client) logState(e session.Event) {
	switch {
	case e.State == session.Connected:
		c.opts.Logger.Info("connected", "server", c.server, "session_present", e.SessionPresent)
	case e.State == session.Disconnected && e.Err != nil:
		c.opts.Logger.Warn("disconnected", "server", c.server, "error", e.Err)
	default:
		c.opts.Logger.Debug("state changed", "state", e.State)
	}
}
