package mq_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solarmqtt/mq"
)

func TestPublishSubscribeQoS(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "", "")
	defer cleanup()

	for _, qos := range []mq.QoS{mq.AtMostOnce, mq.AtLeastOnce, mq.ExactlyOnce} {
		t.Run(fmt.Sprintf("qos%d", qos), func(t *testing.T) {
			client := dial(t, server, fmt.Sprintf("it-qos%d", qos))
			topic := fmt.Sprintf("it/qos/%d", qos)

			received := make(chan mq.Message, 1)
			if err := waitToken(t, client.Subscribe(topic, qos, func(_ *mq.Client, msg mq.Message) {
				received <- msg
			})); err != nil {
				t.Fatalf("Failed to subscribe: %v", err)
			}
			if err := waitToken(t, client.Publish(topic, []byte("hello"), mq.WithQoS(qos))); err != nil {
				t.Fatalf("Failed to publish: %v", err)
			}

			msg := receive(t, received)
			if string(msg.Payload) != "hello" || msg.QoS != qos {
				t.Errorf("got %q at qos %d", msg.Payload, msg.QoS)
			}
			if client.InFlight() != 0 {
				t.Errorf("InFlight = %d after completion", client.InFlight())
			}
		})
	}
}

// TestSingleLevelWildcardOnce subscribes a/+/c at QoS 1 and has a second
// client publish a/b/c: the handler runs once.
func TestSingleLevelWildcardOnce(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "", "")
	defer cleanup()

	sub := dial(t, server, "t1")
	var calls atomic.Int32
	received := make(chan mq.Message, 4)
	if err := waitToken(t, sub.Subscribe("a/+/c", mq.AtLeastOnce, func(_ *mq.Client, msg mq.Message) {
		calls.Add(1)
		received <- msg
	})); err != nil {
		t.Fatal(err)
	}

	pub := dial(t, server, "t1-pub")
	if err := waitToken(t, pub.Publish("a/b/c", []byte("x"), mq.WithQoS(mq.AtLeastOnce))); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, received); msg.Topic != "a/b/c" {
		t.Errorf("Topic = %q", msg.Topic)
	}
	time.Sleep(500 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestRetainedMessage(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "", "")
	defer cleanup()

	pub := dial(t, server, "it-retain-pub")
	if err := waitToken(t, pub.Publish("it/retained", []byte("last"), mq.WithQoS(mq.AtLeastOnce), mq.WithRetain(true))); err != nil {
		t.Fatal(err)
	}

	sub := dial(t, server, "it-retain-sub")
	received := make(chan mq.Message, 1)
	sub.Subscribe("it/retained", mq.AtLeastOnce, func(_ *mq.Client, msg mq.Message) { received <- msg })
	msg := receive(t, received)
	if !msg.Retained || string(msg.Payload) != "last" {
		t.Errorf("got %+v", msg)
	}

	// Clear it for other runs.
	waitToken(t, pub.Publish("it/retained", nil, mq.WithQoS(mq.AtLeastOnce), mq.WithRetain(true)))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "", "")
	defer cleanup()

	client := dial(t, server, "it-unsub")
	received := make(chan mq.Message, 4)
	waitToken(t, client.Subscribe("it/unsub", mq.AtLeastOnce, func(_ *mq.Client, msg mq.Message) { received <- msg }))
	if err := waitToken(t, client.Unsubscribe("it/unsub")); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	waitToken(t, client.Publish("it/unsub", []byte("x"), mq.WithQoS(mq.AtLeastOnce)))

	select {
	case msg := <-received:
		t.Fatalf("received %q after unsubscribe", msg.Payload)
	case <-time.After(time.Second):
	}
}

func TestV5Properties(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "", "")
	defer cleanup()

	client := dial(t, server, "it-v5", mq.WithProtocolVersion(mq.ProtocolV50))
	received := make(chan mq.Message, 1)
	if err := waitToken(t, client.Subscribe("it/v5", mq.AtLeastOnce, func(_ *mq.Client, msg mq.Message) {
		received <- msg
	}, mq.WithSubscriptionIdentifier(42))); err != nil {
		t.Fatal(err)
	}

	waitToken(t, client.Publish("it/v5", []byte(`{"v":1}`),
		mq.WithQoS(mq.AtLeastOnce),
		mq.WithContentType("application/json"),
		mq.WithResponseTopic("it/v5/reply"),
		mq.WithCorrelationData([]byte("c1")),
		mq.WithUserProperty("k", "v")))

	msg := receive(t, received)
	p := msg.Properties
	if p == nil {
		t.Fatal("no properties")
	}
	if p.ContentType != "application/json" || p.ResponseTopic != "it/v5/reply" || string(p.CorrelationData) != "c1" {
		t.Errorf("properties = %+v", p)
	}
	if p.UserProperties["k"] != "v" {
		t.Errorf("user properties = %v", p.UserProperties)
	}
	if len(p.SubscriptionIdentifier) != 1 || p.SubscriptionIdentifier[0] != 42 {
		t.Errorf("subscription identifiers = %v", p.SubscriptionIdentifier)
	}
}

func TestInvalidTopicsNeverSent(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "", "")
	defer cleanup()

	client := dial(t, server, "it-invalid")
	deep := strings.Repeat("x/", 200) + "x"
	if err := waitToken(t, client.Publish(deep, nil)); !errors.Is(err, mq.ErrInvalidTopic) {
		t.Errorf("Publish = %v", err)
	}
	if err := waitToken(t, client.Subscribe("a/#/b", mq.AtMostOnce, nil)); !errors.Is(err, mq.ErrInvalidTopic) {
		t.Errorf("Subscribe = %v", err)
	}
	// The connection is unaffected.
	if err := waitToken(t, client.Publish("it/ok", nil, mq.WithQoS(mq.AtLeastOnce))); err != nil {
		t.Errorf("Publish after rejection: %v", err)
	}
}

func TestConnectNoServer(t *testing.T) {
	t.Parallel()
	port, err := getFreePort()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = mq.Dial(ctx, "tcp://localhost:"+port, mq.WithClientID("it-noserver"))
	if !errors.Is(err, mq.ErrConnect) {
		t.Fatalf("Dial = %v, want ErrConnect", err)
	}
}
