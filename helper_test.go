package mq

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
)

const testTimeout = 5 * time.Second

// broker is the server end of a net.Pipe, scripted by the test.
type broker struct {
	t       *testing.T
	conn    net.Conn
	version uint8
	buf     []byte
}

// pipeDialer hands every dial a fresh net.Pipe and publishes the server
// end on the returned channel.
func pipeDialer(t *testing.T, version uint8) (ContextDialer, <-chan *broker) {
	ch := make(chan *broker, 4)
	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	d := DialFunc(func(ctx context.Context, _, _ string) (net.Conn, error) {
		client, server := net.Pipe()
		mu.Lock()
		conns = append(conns, client, server)
		mu.Unlock()
		ch <- &broker{t: t, conn: server, version: version}
		return client, nil
	})
	return d, ch
}

func refusingDialer(err error) ContextDialer {
	return DialFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, err
	})
}

func nextBroker(t *testing.T, ch <-chan *broker) *broker {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(testTimeout):
		t.Fatal("client never dialed")
		return nil
	}
}

// read returns the next packet the client sent.
func (b *broker) read() packets.Packet {
	b.t.Helper()
	deadline := time.Now().Add(testTimeout)
	tmp := make([]byte, 4096)
	for {
		pkt, n, err := packets.Decode(b.buf, b.version, 0)
		if err == nil {
			b.buf = b.buf[n:]
			return pkt
		}
		if !errors.Is(err, packets.ErrIncomplete) {
			b.t.Fatalf("broker decode: %v", err)
		}
		b.conn.SetReadDeadline(deadline)
		n, err = b.conn.Read(tmp)
		if err != nil {
			b.t.Fatalf("broker read: %v", err)
		}
		b.buf = append(b.buf, tmp[:n]...)
	}
}

// expect reads the next packet and requires it to be a T.
func expect[T packets.Packet](b *broker) T {
	b.t.Helper()
	pkt := b.read()
	v, ok := pkt.(T)
	if !ok {
		var zero T
		b.t.Fatalf("broker got %s, want %T", packets.PacketNames[pkt.Type()], zero)
	}
	return v
}

// expectSilence requires that the client sends nothing for d.
func (b *broker) expectSilence(d time.Duration) {
	b.t.Helper()
	if len(b.buf) > 0 {
		b.t.Fatalf("broker has %d unread bytes", len(b.buf))
	}
	b.conn.SetReadDeadline(time.Now().Add(d))
	tmp := make([]byte, 256)
	n, err := b.conn.Read(tmp)
	if n > 0 {
		pkt, _, _ := packets.Decode(tmp[:n], b.version, 0)
		if pkt != nil {
			b.t.Fatalf("unexpected %s from client", packets.PacketNames[pkt.Type()])
		}
		b.t.Fatalf("unexpected %d bytes from client", n)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		b.t.Fatalf("broker read: %v", err)
	}
}

func (b *broker) send(p packets.Packet) {
	b.t.Helper()
	data, err := packets.Encode(p)
	if err != nil {
		b.t.Fatalf("broker encode: %v", err)
	}
	b.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	if _, err := b.conn.Write(data); err != nil {
		b.t.Fatalf("broker write: %v", err)
	}
}

// accept answers CONNECT with an accepted CONNACK.
func (b *broker) accept(sessionPresent bool) *packets.ConnectPacket {
	b.t.Helper()
	conn := expect[*packets.ConnectPacket](b)
	b.send(&packets.ConnackPacket{SessionPresent: sessionPresent, Version: b.version})
	return conn
}

// stateLog records state callbacks.
type stateLog struct {
	mu     sync.Mutex
	states []State
	errs   []error
	ch     chan State
}

func newStateLog() *stateLog {
	return &stateLog{ch: make(chan State, 64)}
}

func (l *stateLog) option() Option {
	return WithOnStateChange(func(_ *Client, s State, err error) {
		l.mu.Lock()
		l.states = append(l.states, s)
		l.errs = append(l.errs, err)
		l.mu.Unlock()
		l.ch <- s
	})
}

// wait blocks until want is reported and returns the error that came
// with it.
func (l *stateLog) wait(t *testing.T, want State) error {
	t.Helper()
	timer := time.NewTimer(testTimeout)
	defer timer.Stop()
	for {
		select {
		case s := <-l.ch:
			if s == want {
				l.mu.Lock()
				defer l.mu.Unlock()
				return l.errs[len(l.errs)-1]
			}
		case <-timer.C:
			t.Fatalf("state %s never reported", want)
			return nil
		}
	}
}

func (l *stateLog) count(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.states {
		if got == s {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestClient builds a client that dials d, with keepalive disabled so
// the broker script is not interleaved with pings.
func newTestClient(t *testing.T, d ContextDialer, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithDialer(d),
		WithKeepAlive(0),
		WithLogger(testLogger()),
		WithPollInterval(20 * time.Millisecond),
		WithDisconnectTimeout(200 * time.Millisecond),
	}
	c, err := New("tcp://broker.test:1883", append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitToken(t *testing.T, tok Token) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := tok.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("token never completed")
	}
	return err
}
