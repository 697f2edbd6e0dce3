package session

import (
	"github.com/solarmqtt/mq/internal/packets"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Stage is the acknowledgment a pending exchange is waiting for.
type Stage uint8

const (
	AwaitPuback Stage = iota + 1
	AwaitPubrec
	AwaitPubrel
	AwaitPubcomp
)

func (s Stage) String() string {
	switch s {
	case AwaitPuback:
		return "await_puback"
	case AwaitPubrec:
		return "await_pubrec"
	case AwaitPubrel:
		return "await_pubrel"
	case AwaitPubcomp:
		return "await_pubcomp"
	}
	return "none"
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventState reports a state transition. Err carries the cause when
	// the session dropped to Disconnected.
	EventState EventKind = iota

	// EventMessage delivers an inbound PUBLISH.
	EventMessage

	// EventSubscribed reports a SUBACK.
	EventSubscribed

	// EventUnsubscribed reports an UNSUBACK.
	EventUnsubscribed

	// EventDeliveryFailed reports an outbound publish dropped after
	// exceeding the retry ceiling.
	EventDeliveryFailed
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventMessage:
		return "message"
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventDeliveryFailed:
		return "delivery_failed"
	}
	return "unknown"
}

// Event is something the application should hear about. Events are
// produced under the session lock and delivered after it is released.
type Event struct {
	Kind EventKind

	// EventState
	State          State
	SessionPresent bool
	Err            error

	// EventMessage
	Message *packets.PublishPacket
	Filters []string // subscriptions that matched Message.Topic

	// EventSubscribed, EventUnsubscribed
	Topics  []string
	Granted []uint8 // SUBACK return codes, one per topic

	// EventDeliveryFailed
	PacketID uint16
	Topic    string
}

// Completer is notified once when an operation finishes.
type Completer interface {
	Complete(err error)
}

func complete(c Completer, err error) {
	if c != nil {
		c.Complete(err)
	}
}
