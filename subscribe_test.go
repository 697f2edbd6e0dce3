package mq

import (
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
)

func (c *Client) hasHandler(filter string) bool {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	_, ok := c.handlers[filter]
	return ok
}

func TestSubscribeRejected(t *testing.T) {
	t.Parallel()
	var events atomic.Int32
	c, b, _ := connectedClient(t, packets.V311, WithOnEvent(func(_ *Client, e Event) {
		if e.Kind == EventSubscribed && errors.Is(e.Err, ErrSubscriptionFailed) {
			events.Add(1)
		}
	}))

	tok := c.Subscribe("denied/#", AtLeastOnce, func(*Client, Message) {})
	sub := expect[*packets.SubscribePacket](b)
	b.send(&packets.SubackPacket{PacketID: sub.PacketID, ReturnCodes: []uint8{packets.SubackFailure}})

	err := waitToken(t, tok)
	if !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("err = %v, want ErrSubscriptionFailed", err)
	}
	if code, ok := ReasonCodeOf(err); !ok || code != packets.SubackFailure {
		t.Errorf("ReasonCodeOf = %#x, %v", code, ok)
	}
	waitFor(t, "handler removed", func() bool { return !c.hasHandler("denied/#") })
	waitFor(t, "rejection event", func() bool { return events.Load() == 1 })
	if subs := c.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions = %v", subs)
	}
}

func TestSubscribeLostBeforeSuback(t *testing.T) {
	t.Parallel()
	c, b, states := connectedClient(t, packets.V311, WithClientID("durable"), WithCleanSession(false))

	tok := c.Subscribe("a/+", AtLeastOnce, func(*Client, Message) {})
	expect[*packets.SubscribePacket](b)
	b.conn.Close()
	states.wait(t, StateDisconnected)

	if err := waitToken(t, tok); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("err = %v, want ErrTransportClosed", err)
	}
	waitFor(t, "filter forgotten", func() bool {
		c.mu.Lock()
		_, queued := c.resubscribe["a/+"]
		c.mu.Unlock()
		return !queued && !c.hasHandler("a/+")
	})
	if subs := c.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions = %v", subs)
	}
}

func TestSubscribeInvalidFilter(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V311)

	deep := strings.Repeat("x/", 200) + "x"
	for _, filter := range []string{"", "a/#/b", "a+", "a/b#", deep} {
		err := waitToken(t, c.Subscribe(filter, AtMostOnce, func(*Client, Message) {}))
		if !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Subscribe(%.20q) = %v, want ErrInvalidTopic", filter, err)
		}
		if c.hasHandler(filter) {
			t.Errorf("handler kept for %.20q", filter)
		}
	}
	b.expectSilence(50 * time.Millisecond)

	if err := waitToken(t, c.Subscribe("s", AtMostOnce, nil, WithSubscriptionIdentifier(-1))); err == nil {
		t.Error("negative subscription identifier accepted")
	}
}

func TestSubscribeNotConnected(t *testing.T) {
	t.Parallel()
	d, _ := pipeDialer(t, packets.V311)
	c := newTestClient(t, d)

	err := waitToken(t, c.Subscribe("a", AtMostOnce, func(*Client, Message) {}))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if c.hasHandler("a") {
		t.Fatal("handler kept after failed subscribe")
	}
}

func TestOverlappingHandlers(t *testing.T) {
	t.Parallel()
	var wild, exact, fallback atomic.Int32
	c, b, _ := connectedClient(t, packets.V311, WithOnMessage(func(*Client, Message) { fallback.Add(1) }))

	for _, s := range []struct {
		filter string
		n      *atomic.Int32
	}{{"room/#", &wild}, {"room/1", &exact}} {
		n := s.n
		tok := c.Subscribe(s.filter, AtMostOnce, func(*Client, Message) { n.Add(1) })
		p := expect[*packets.SubscribePacket](b)
		b.send(&packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: []uint8{0}})
		if err := waitToken(t, tok); err != nil {
			t.Fatal(err)
		}
	}

	b.send(&packets.PublishPacket{Topic: "room/1", Payload: []byte("hi")})
	b.send(&packets.PublishPacket{Topic: "room/2", Payload: []byte("hi")})
	b.send(&packets.PublishPacket{Topic: "hall", Payload: []byte("hi")})

	waitFor(t, "deliveries", func() bool {
		return wild.Load() == 2 && exact.Load() == 1 && fallback.Load() == 1
	})
	if got := c.Subscriptions(); !slices.Equal(got, []string{"room/#", "room/1"}) {
		t.Errorf("Subscriptions = %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	var fallback atomic.Int32
	c, b, _ := connectedClient(t, packets.V311, WithOnMessage(func(*Client, Message) { fallback.Add(1) }))

	var got atomic.Int32
	tok := c.Subscribe("news", AtMostOnce, func(*Client, Message) { got.Add(1) })
	p := expect[*packets.SubscribePacket](b)
	b.send(&packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: []uint8{0}})
	if err := waitToken(t, tok); err != nil {
		t.Fatal(err)
	}

	tok = c.Unsubscribe("news")
	u := expect[*packets.UnsubscribePacket](b)
	if !slices.Equal(u.Filters, []string{"news"}) {
		t.Fatalf("UNSUBSCRIBE filters = %v", u.Filters)
	}
	b.send(&packets.UnsubackPacket{PacketID: u.PacketID})
	if err := waitToken(t, tok); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "handler removed", func() bool { return !c.hasHandler("news") })
	if subs := c.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions = %v", subs)
	}

	// A server that still forwards goes to the default handler.
	b.send(&packets.PublishPacket{Topic: "news", Payload: []byte("late")})
	waitFor(t, "default handler", func() bool { return fallback.Load() == 1 })
	if got.Load() != 0 {
		t.Errorf("removed handler called %d times", got.Load())
	}
}

func TestSubscribeV5Options(t *testing.T) {
	t.Parallel()
	c, b, _ := connectedClient(t, packets.V50)

	c.Subscribe("v5/#", ExactlyOnce, nil,
		WithNoLocal(true),
		WithRetainAsPublished(true),
		WithRetainHandling(2),
		WithSubscriptionIdentifier(7),
		WithSubscribeUserProperty("b", "2"),
		WithSubscribeUserProperty("a", "1"))
	p := expect[*packets.SubscribePacket](b)
	s := p.Subscriptions[0]
	if s.Filter != "v5/#" || s.QoS != 2 || !s.NoLocal || !s.RetainAsPublished || s.RetainHandling != 2 {
		t.Errorf("subscription = %+v", s)
	}
	if p.Properties == nil || !slices.Equal(p.Properties.SubscriptionIdentifier, []int{7}) {
		t.Fatalf("properties = %+v", p.Properties)
	}
	want := []packets.UserProperty{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	if !slices.Equal(p.Properties.UserProperties, want) {
		t.Errorf("user properties = %v", p.Properties.UserProperties)
	}
}
