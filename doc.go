// Package mq is an embeddable MQTT v3.1.1 and v5.0 client core.
//
// The client speaks MQTT over plain TCP or TLS, tracks QoS 1 and QoS 2
// exchanges with retransmission, keeps the connection alive with pings
// and resumes non-clean sessions across reconnects and, with a session
// store, across process restarts. It is meant to sit under a host binding
// layer, so it never starts goroutines the host did not ask for.
//
// # Driving the client
//
// A Client is passive until it is driven. There are two ways:
//
//   - Threaded: Start runs the loop on one background goroutine and Stop
//     ends it. Each iteration waits at most one second.
//   - Cooperative: the host calls Step(timeout) from its own loop, for
//     example once per frame. Step never blocks longer than timeout.
//
// Both modes serialize through one session mutex that is never held
// during socket I/O or callbacks. Callbacks run on the goroutine that
// drives the loop.
//
//	client, err := mq.New("tcp://localhost:1883",
//	    mq.WithClientID("t1"),
//	    mq.WithOnStateChange(func(c *mq.Client, s mq.State, err error) {
//	        log.Printf("state %s: %v", s, err)
//	    }))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	client.Connect(ctx)
//	client.Subscribe("a/+/c", mq.AtLeastOnce, func(c *mq.Client, m mq.Message) {
//	    fmt.Printf("%s: %s\n", m.Topic, m.Payload)
//	})
//
// # Connecting
//
// Connect returns at once. The outcome arrives through the state callback:
// StateConnected, or StateDisconnected with an error that matches
// ErrConnect, ErrTLSHandshake or ErrConnectRefused. Dial and WaitConnected
// wrap this for callers that prefer to block.
//
// Supported URL schemes: tcp://, mqtt://, tls://, ssl://, mqtts://.
//
// # Errors
//
// Use errors.Is with the sentinels in this package. Lost connections
// reach the application only through the state callback (ErrTransportClosed,
// ErrKeepaliveTimeout, ErrMalformedPacket); operations report through
// their Token (ErrDeliveryFailed, ErrSubscriptionFailed, ErrInvalidTopic).
//
// # Capabilities
//
// TLSEnabled and ThreadingEnabled are true unless the build tags mq_notls
// or mq_nothreads are set. Broker mode, websockets, SOCKS proxies and
// asynchronous DNS are not provided.
package mq
