package mq

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/store"
)

// connectedClient returns a started client whose broker accepted the
// connection.
func connectedClient(t *testing.T, version uint8, opts ...Option) (*Client, *broker, *stateLog) {
	t.Helper()
	d, brokers := pipeDialer(t, version)
	states := newStateLog()
	c := newTestClient(t, d, append([]Option{states.option(), WithProtocolVersion(version)}, opts...)...)
	startClient(t, c)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b := nextBroker(t, brokers)
	b.accept(false)
	states.wait(t, StateConnected)
	return c, b, states
}

func TestPublishQoS0(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V311)

	tok := c.Publish("a/b", []byte("x"), WithRetain(true))
	p := expect[*packets.PublishPacket](b)
	if p.QoS != 0 || !p.Retain || p.Topic != "a/b" || p.PacketID != 0 {
		t.Fatalf("PUBLISH = %+v", p)
	}
	if err := waitToken(t, tok); err != nil {
		t.Fatal(err)
	}
	if c.InFlight() != 0 {
		t.Fatalf("InFlight = %d", c.InFlight())
	}
}

func TestPublishQoS2(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V311)

	tok := c.Publish("q2", []byte("once"), WithQoS(ExactlyOnce))
	p := expect[*packets.PublishPacket](b)
	if p.QoS != 2 || p.PacketID == 0 {
		t.Fatalf("PUBLISH = %+v", p)
	}
	b.send(&packets.PubrecPacket{PacketID: p.PacketID})
	rel := expect[*packets.PubrelPacket](b)
	if rel.PacketID != p.PacketID {
		t.Fatalf("PUBREL id = %d", rel.PacketID)
	}
	select {
	case <-tok.Done():
		t.Fatal("token completed before PUBCOMP")
	default:
	}
	b.send(&packets.PubcompPacket{PacketID: p.PacketID})
	if err := waitToken(t, tok); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "exchange removed", func() bool { return c.InFlight() == 0 })
}

// TestPublishDroppedPubrec loses the first PUBREC: exactly one DUP
// retransmit of the PUBLISH follows before the exchange completes.
func TestPublishDroppedPubrec(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V311,
		WithRetryPolicy(RetryPolicy{Interval: 50 * time.Millisecond, Backoff: 1, MaxRetries: 3}))

	tok := c.Publish("q2", []byte("x"), WithQoS(ExactlyOnce))
	first := expect[*packets.PublishPacket](b)
	if first.Dup {
		t.Fatal("first transmission has DUP set")
	}
	// The PUBREC for first is "lost": nothing is sent back.
	dup := expect[*packets.PublishPacket](b)
	if !dup.Dup || dup.PacketID != first.PacketID {
		t.Fatalf("retransmit = %+v", dup)
	}
	b.send(&packets.PubrecPacket{PacketID: first.PacketID})
	expect[*packets.PubrelPacket](b)
	b.send(&packets.PubcompPacket{PacketID: first.PacketID})
	if err := waitToken(t, tok); err != nil {
		t.Fatal(err)
	}
	b.expectSilence(120 * time.Millisecond)
}

func TestPublishDeliveryFailed(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var events []Event
	c, b, states := connectedClient(t, packets.V311,
		WithRetryPolicy(RetryPolicy{Interval: 30 * time.Millisecond, Backoff: 1, MaxRetries: 1}),
		WithOnEvent(func(_ *Client, e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}))

	tok := c.Publish("lost", []byte("x"), WithQoS(AtLeastOnce))
	p := expect[*packets.PublishPacket](b)
	expect[*packets.PublishPacket](b)
	if err := waitToken(t, tok); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}

	waitFor(t, "delivery failed event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})
	mu.Lock()
	e := events[0]
	mu.Unlock()
	if e.Kind != EventDeliveryFailed || e.PacketID != p.PacketID || e.Topic != "lost" {
		t.Fatalf("event = %+v", e)
	}
	// The session carries on.
	if !c.IsConnected() || states.count(StateDisconnected) != 0 {
		t.Fatal("delivery failure dropped the connection")
	}
	next := c.Publish("next", nil, WithQoS(AtLeastOnce))
	p2 := expect[*packets.PublishPacket](b)
	b.send(&packets.PubackPacket{PacketID: p2.PacketID})
	if err := waitToken(t, next); err != nil {
		t.Fatal(err)
	}
}

func TestPublishInvalidTopic(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V311)

	for _, topic := range []string{"", "a/+", "a/#", strings.Repeat("l/", 200) + "l"} {
		if err := waitToken(t, c.Publish(topic, nil)); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Publish(%.20q) = %v, want ErrInvalidTopic", topic, err)
		}
	}
	if err := waitToken(t, c.Publish(strings.Repeat("l/", 199)+"l", nil)); err != nil {
		t.Errorf("200 levels rejected: %v", err)
	}
	expect[*packets.PublishPacket](b)
	b.expectSilence(50 * time.Millisecond)
}

func TestPublishPayloadFormat(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V50)

	if err := waitToken(t, c.Publish("t", []byte{0xff}, WithPayloadFormat(PayloadFormatUTF8))); err == nil {
		t.Fatal("invalid UTF-8 accepted")
	}
	c.Publish("t", []byte("ok"),
		WithPayloadFormat(PayloadFormatUTF8),
		WithContentType("text/plain"),
		WithUserProperty("k", "v"),
		WithMessageExpiry(30))
	p := expect[*packets.PublishPacket](b)
	props := toPublicProperties(p.Properties)
	if props == nil || props.ContentType != "text/plain" || props.UserProperties["k"] != "v" ||
		props.MessageExpiry == nil || *props.MessageExpiry != 30 {
		t.Fatalf("properties = %+v", props)
	}
}

func TestPublishUserPropertiesSorted(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V50)

	want := []packets.UserProperty{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"}, {Key: "d", Value: "4"}}
	for range 5 {
		c.Publish("t", nil,
			WithUserProperty("d", "4"),
			WithUserProperty("b", "2"),
			WithUserProperty("c", "3"),
			WithUserProperty("a", "1"))
		p := expect[*packets.PublishPacket](b)
		if !reflect.DeepEqual(p.Properties.UserProperties, want) {
			t.Fatalf("user properties = %v", p.Properties.UserProperties)
		}
	}
}

func TestPublishFieldTooLong(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V50)

	tok := c.Publish("t", nil, WithQoS(AtLeastOnce), WithCorrelationData(make([]byte, 70000)))
	if err := waitToken(t, tok); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("Publish err = %v, want ErrFieldTooLong", err)
	}
	if !c.IsConnected() || c.InFlight() != 0 {
		t.Fatalf("connected = %v, in flight = %d", c.IsConnected(), c.InFlight())
	}

	c.Publish("t", []byte("next"))
	if p := expect[*packets.PublishPacket](b); string(p.Payload) != "next" {
		t.Fatalf("PUBLISH = %+v", p)
	}
}

// TestResumeNonCleanSession drops the connection with a QoS 1 publish
// unacknowledged. After reconnecting with session present the PUBLISH is
// retransmitted with DUP and the original token completes.
func TestResumeNonCleanSession(t *testing.T) {
	t.Parallel()
	d, brokers := pipeDialer(t, packets.V311)
	states := newStateLog()
	mem := store.NewMemoryStore()
	c := newTestClient(t, d, states.option(),
		WithClientID("durable"), WithCleanSession(false), WithSessionStore(mem))
	startClient(t, c)

	c.Connect(context.Background())
	b1 := nextBroker(t, brokers)
	b1.accept(false)
	states.wait(t, StateConnected)

	tok := c.Publish("keep", []byte("1"), WithQoS(AtLeastOnce))
	first := expect[*packets.PublishPacket](b1)
	b1.conn.Close()
	states.wait(t, StateDisconnected)

	select {
	case <-tok.Done():
		t.Fatalf("token completed on disconnect: %v", tok.Error())
	default:
	}
	if ex, err := mem.LoadExchanges(); err != nil || len(ex) != 1 {
		t.Fatalf("stored exchanges = %v, %v", ex, err)
	}

	c.Connect(context.Background())
	b2 := nextBroker(t, brokers)
	conn := b2.accept(true)
	if conn.CleanSession {
		t.Fatal("reconnect asked for a clean session")
	}
	again := expect[*packets.PublishPacket](b2)
	if !again.Dup || again.PacketID != first.PacketID || string(again.Payload) != "1" {
		t.Fatalf("resumed PUBLISH = %+v", again)
	}
	b2.send(&packets.PubackPacket{PacketID: again.PacketID})
	if err := waitToken(t, tok); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "store emptied", func() bool {
		ex, _ := mem.LoadExchanges()
		return len(ex) == 0
	})
}
