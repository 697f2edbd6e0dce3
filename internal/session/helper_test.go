package session

import (
	"testing"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// result records a Completer call.
type result struct {
	calls int
	err   error
}

func (r *result) Complete(err error) {
	r.calls++
	r.err = err
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.ClientID == "" {
		cfg.ClientID = "t1"
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// connect runs the session through Begin, Attach and an accepted CONNACK
// and discards the produced packets and events.
func connect(t *testing.T, s *Session, now time.Time, sessionPresent bool) {
	t.Helper()
	if err := s.Begin(now); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Attach(now)
	out, _ := s.Drain()
	if len(out) != 1 || out[0].Type() != packets.CONNECT {
		t.Fatalf("Attach produced %v", out)
	}
	if err := s.HandlePacket(&packets.ConnackPacket{SessionPresent: sessionPresent}, now); err != nil {
		t.Fatalf("CONNACK: %v", err)
	}
	if s.State() != Connected {
		t.Fatalf("state = %s after CONNACK", s.State())
	}
}

func packetsOf[T packets.Packet](out []packets.Packet) []T {
	var res []T
	for _, p := range out {
		if v, ok := p.(T); ok {
			res = append(res, v)
		}
	}
	return res
}

func eventsOf(events []Event, kind EventKind) []Event {
	var res []Event
	for _, e := range events {
		if e.Kind == kind {
			res = append(res, e)
		}
	}
	return res
}
