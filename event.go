package mq

import "github.com/solarmqtt/mq/internal/session"

// State is the connection lifecycle state.
type State = session.State

const (
	StateDisconnected  = session.Disconnected
	StateConnecting    = session.Connecting
	StateConnected     = session.Connected
	StateDisconnecting = session.Disconnecting
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventSubscribed reports a SUBACK. Granted holds one return code per
	// filter; codes >= 0x80 are rejections.
	EventSubscribed EventKind = iota + 1

	// EventUnsubscribed reports an UNSUBACK.
	EventUnsubscribed

	// EventDeliveryFailed reports an outbound QoS 1/2 publish dropped
	// after exceeding the retry policy.
	EventDeliveryFailed

	// EventError reports an error the client absorbed without changing
	// state, such as a packet that failed to encode.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventDeliveryFailed:
		return "delivery_failed"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is passed to the WithOnEvent callback.
type Event struct {
	Kind EventKind

	// Topics are the filters of a SUBACK or UNSUBACK.
	Topics  []string
	Granted []uint8

	// PacketID and Topic identify a failed delivery.
	PacketID uint16
	Topic    string

	Err error
}

func toEvent(e session.Event) (Event, bool) {
	out := Event{
		Topics:   e.Topics,
		Granted:  e.Granted,
		PacketID: e.PacketID,
		Topic:    e.Topic,
		Err:      e.Err,
	}
	switch e.Kind {
	case session.EventSubscribed:
		out.Kind = EventSubscribed
	case session.EventUnsubscribed:
		out.Kind = EventUnsubscribed
	case session.EventDeliveryFailed:
		out.Kind = EventDeliveryFailed
	default:
		return Event{}, false
	}
	return out, true
}
