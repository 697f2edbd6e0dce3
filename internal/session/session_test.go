package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/store"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{ClientID: "c", CleanSession: true}, false},
		{"empty id clean", Config{CleanSession: true}, false},
		{"empty id persistent", Config{}, true},
		{"id too long", Config{ClientID: strings.Repeat("x", 24), CleanSession: true}, true},
		{"id at limit", Config{ClientID: strings.Repeat("x", 23), CleanSession: true}, false},
		{"bad version", Config{ClientID: "c", ProtocolVersion: 3}, true},
		{"negative keepalive", Config{ClientID: "c", KeepAlive: -time.Second}, true},
		{"will wildcard", Config{ClientID: "c", Will: &Will{Topic: "a/#"}}, true},
		{"will qos", Config{ClientID: "c", Will: &Will{Topic: "a", QoS: 3}}, true},
		{"password too long", Config{ClientID: "c", Password: make([]byte, packets.MaxFieldLength+1)}, true},
		{"will payload too long", Config{ClientID: "c", Will: &Will{Topic: "a", Payload: make([]byte, packets.MaxFieldLength+1)}}, true},
		{"password at limit", Config{ClientID: "c", Password: make([]byte, packets.MaxFieldLength)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectLifecycle(t *testing.T) {
	s := newTestSession(t, Config{
		CleanSession: true,
		KeepAlive:    30 * time.Second,
		Username:     "user",
		Password:     []byte("secret"),
		Will:         &Will{Topic: "status", Payload: []byte("offline"), QoS: 1, Retain: true},
	})

	if err := s.Begin(t0); err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(t0); err == nil {
		t.Fatal("second Begin succeeded")
	}
	s.Attach(t0)
	out, events := s.Drain()

	if len(events) != 1 || events[0].State != Connecting {
		t.Fatalf("events = %+v", events)
	}
	conns := packetsOf[*packets.ConnectPacket](out)
	if len(conns) != 1 {
		t.Fatalf("out = %v", out)
	}
	c := conns[0]
	if c.ClientID != "t1" || !c.CleanSession || c.KeepAlive != 30 || c.ProtocolLevel != packets.V311 {
		t.Errorf("CONNECT = %+v", c)
	}
	if !c.WillFlag || c.WillTopic != "status" || c.WillQoS != 1 || !c.WillRetain {
		t.Errorf("will fields = %+v", c)
	}
	if !c.UsernameFlag || !c.PasswordFlag || string(c.Password) != "secret" {
		t.Errorf("credentials = %+v", c)
	}

	if err := s.HandlePacket(&packets.ConnackPacket{}, t0); err != nil {
		t.Fatal(err)
	}
	_, events = s.Drain()
	if len(events) != 1 || events[0].Kind != EventState || events[0].State != Connected || events[0].Err != nil {
		t.Fatalf("events = %+v", events)
	}
}

func TestConnackRefused(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true})
	s.Begin(t0)
	s.Attach(t0)
	s.Drain()

	s.HandlePacket(&packets.ConnackPacket{ReturnCode: packets.ConnRefusedNotAuthorized}, t0)
	_, events := s.Drain()
	if s.State() != Disconnected {
		t.Fatalf("state = %s", s.State())
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}
	err := events[0].Err
	if !errors.Is(err, ErrConnectRefused) {
		t.Fatalf("err = %v, want ErrConnectRefused", err)
	}
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.ReasonCode != packets.ConnRefusedNotAuthorized {
		t.Fatalf("err = %#v", err)
	}
}

func TestConnackTimeout(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true, ConnectTimeout: 5 * time.Second})
	s.Begin(t0)
	s.Attach(t0.Add(time.Second))
	s.Drain()

	if d := s.NextDeadline(t0); !d.Equal(t0.Add(6 * time.Second)) {
		t.Fatalf("NextDeadline = %v", d)
	}
	s.Tick(t0.Add(5 * time.Second))
	if s.State() != Connecting {
		t.Fatalf("timed out early")
	}
	s.Tick(t0.Add(6 * time.Second))
	_, events := s.Drain()
	if s.State() != Disconnected || len(events) != 1 || !errors.Is(events[0].Err, ErrConnectRefused) {
		t.Fatalf("state %s events %+v", s.State(), events)
	}
}

func TestConnectFailed(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true})
	s.Begin(t0)
	s.Drain()
	boom := errors.New("tls: bad certificate")
	s.ConnectFailed(boom, t0)
	_, events := s.Drain()
	if s.State() != Disconnected || len(events) != 1 || !errors.Is(events[0].Err, boom) {
		t.Fatalf("state %s events %+v", s.State(), events)
	}
}

func TestKeepaliveTimeoutExactlyOnce(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true, KeepAlive: 10 * time.Second})
	connect(t, s, t0, false)
	s.Drain()

	var pings, timeouts int
	for sec := 1; sec <= 40; sec++ {
		s.Tick(t0.Add(time.Duration(sec) * time.Second))
		out, events := s.Drain()
		pings += len(packetsOf[*packets.PingreqPacket](out))
		for _, e := range eventsOf(events, EventState) {
			if errors.Is(e.Err, ErrKeepaliveTimeout) {
				timeouts++
				if sec != 20 {
					t.Errorf("timeout at %ds, want 20s", sec)
				}
				if !errors.Is(e.Err, ErrTransportClosed) {
					t.Errorf("keepalive timeout does not match ErrTransportClosed")
				}
				if e.State != Disconnected {
					t.Errorf("state = %s", e.State)
				}
			}
		}
	}
	if pings != 1 {
		t.Errorf("PINGREQs = %d, want 1", pings)
	}
	if timeouts != 1 {
		t.Errorf("timeout events = %d, want 1", timeouts)
	}
}

func TestKeepalivePingresp(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true, KeepAlive: 10 * time.Second})
	connect(t, s, t0, false)
	s.Drain()

	for round := 1; round <= 3; round++ {
		at := t0.Add(time.Duration(round*10) * time.Second)
		s.Tick(at)
		out, _ := s.Drain()
		if len(packetsOf[*packets.PingreqPacket](out)) != 1 {
			t.Fatalf("round %d: no PINGREQ", round)
		}
		if d := s.NextDeadline(at); !d.Equal(at.Add(10 * time.Second)) {
			t.Fatalf("round %d: deadline %v", round, d)
		}
		s.HandlePacket(&packets.PingrespPacket{}, at.Add(time.Second))
	}
	if s.State() != Connected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestServerKeepAliveOverride(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true, KeepAlive: 60 * time.Second, ProtocolVersion: packets.V50})
	s.Begin(t0)
	s.Attach(t0)
	props := &packets.Properties{}
	props.Set(packets.PropServerKeepAlive, uint16(5))
	props.Set(packets.PropAssignedClientIdentifier, "assigned-1")
	s.HandlePacket(&packets.ConnackPacket{Properties: props, Version: packets.V50}, t0)
	if s.KeepAlive() != 5*time.Second {
		t.Errorf("KeepAlive = %v", s.KeepAlive())
	}
	if s.ClientID() != "assigned-1" {
		t.Errorf("ClientID = %q", s.ClientID())
	}
}

func TestGracefulDisconnect(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true, ProtocolVersion: packets.V50})
	connect(t, s, t0, false)
	s.Drain()

	if err := s.Disconnect(t0); err != nil {
		t.Fatal(err)
	}
	out, events := s.Drain()
	if len(packetsOf[*packets.DisconnectPacket](out)) != 1 || s.State() != Disconnecting {
		t.Fatalf("out %v state %s", out, s.State())
	}
	if len(events) != 1 || events[0].State != Disconnecting {
		t.Fatalf("events = %+v", events)
	}

	// No retries or pings while disconnecting.
	s.Tick(t0.Add(time.Hour))
	if out, _ := s.Drain(); len(out) != 0 {
		t.Fatalf("produced %v while disconnecting", out)
	}

	s.Closed(nil, t0)
	_, events = s.Drain()
	if s.State() != Disconnected || len(events) != 1 || events[0].Err != nil {
		t.Fatalf("state %s events %+v", s.State(), events)
	}
	if err := s.Disconnect(t0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Disconnect while disconnected = %v", err)
	}
}

func TestServerDisconnect(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true, ProtocolVersion: packets.V50})
	connect(t, s, t0, false)
	s.Drain()

	s.HandlePacket(&packets.DisconnectPacket{ReasonCode: 0x8B, Version: packets.V50}, t0)
	_, events := s.Drain()
	if s.State() != Disconnected || len(events) != 1 {
		t.Fatalf("state %s events %+v", s.State(), events)
	}
	var re *ReasonError
	if !errors.As(events[0].Err, &re) || re.ReasonCode != 0x8B || !errors.Is(events[0].Err, ErrTransportClosed) {
		t.Fatalf("err = %v", events[0].Err)
	}
}

func TestProtocolViolation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testing.T, *Session)
		pkt   packets.Packet
	}{
		{"publish before connack", func(t *testing.T, s *Session) { s.Begin(t0); s.Attach(t0) }, &packets.PublishPacket{Topic: "a"}},
		{"second connack", func(t *testing.T, s *Session) { connect(t, s, t0, false) }, &packets.ConnackPacket{}},
		{"subscribe from server", func(t *testing.T, s *Session) { connect(t, s, t0, false) }, &packets.SubscribePacket{PacketID: 1, Subscriptions: []packets.Subscription{{Filter: "a"}}}},
		{"pingreq from server", func(t *testing.T, s *Session) { connect(t, s, t0, false) }, &packets.PingreqPacket{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, Config{CleanSession: true})
			tt.setup(t, s)
			s.Drain()
			err := s.HandlePacket(tt.pkt, t0)
			if !errors.Is(err, packets.ErrMalformed) {
				t.Fatalf("err = %v, want malformed", err)
			}
			if s.State() != Disconnected {
				t.Fatalf("state = %s", s.State())
			}
		})
	}
}

func TestCleanSessionWipesState(t *testing.T) {
	st := store.NewMemoryStore()
	st.SaveSubscription(&store.Subscription{Filter: "stale", QoS: 1})
	s := newTestSession(t, Config{CleanSession: true, Store: st})
	if subs, _ := st.LoadSubscriptions(); len(subs) != 0 {
		t.Fatalf("clean session kept stored state: %+v", subs)
	}

	connect(t, s, t0, false)
	var pub, sub result
	s.Publish(Message{Topic: "a", QoS: 1}, &pub, t0)
	s.Subscribe([]packets.Subscription{{Filter: "b/#", QoS: 1}}, nil, &sub, t0)
	s.Drain()

	s.Closed(errors.New("reset by peer"), t0)
	if s.InFlight() != 0 || len(s.Subscriptions()) != 0 {
		t.Fatalf("in flight %d, subscriptions %v", s.InFlight(), s.Subscriptions())
	}
	if pub.calls != 1 || pub.err == nil || sub.calls != 1 || sub.err == nil {
		t.Fatalf("waiters not failed: pub %+v sub %+v", pub, sub)
	}
}

func TestPacketIDWrap(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true})
	connect(t, s, t0, false)

	s.Publish(Message{Topic: "a", QoS: 1}, nil, t0) // id 1 stays in flight
	s.nextID = 65534

	want := []uint16{65535, 2, 3}
	for _, id := range want {
		if err := s.Publish(Message{Topic: "a", QoS: 1}, nil, t0); err != nil {
			t.Fatal(err)
		}
		if _, ok := s.exchanges[exchangeKey{store.Outbound, id}]; !ok {
			t.Fatalf("id %d not allocated (next=%d)", id, s.nextID)
		}
	}
}

func TestPacketIDExhausted(t *testing.T) {
	s := newTestSession(t, Config{CleanSession: true})
	connect(t, s, t0, false)
	for id := 1; id <= 65535; id++ {
		s.exchanges[exchangeKey{store.Outbound, uint16(id)}] = &exchange{id: uint16(id)}
	}
	if err := s.Publish(Message{Topic: "a", QoS: 1}, nil, t0); !errors.Is(err, ErrPacketIDExhausted) {
		t.Fatalf("err = %v", err)
	}
}
