// Package store persists the resumable part of an MQTT session: in-flight
// QoS 1/2 exchanges and acknowledged subscriptions.
//
// State is loaded once when a client is created with clean session off.
// During ordinary reconnects the in-memory session is authoritative and the
// store is only written to.
//
// What gets persisted:
//
//   - Outbound QoS 1 and QoS 2 publishes not yet fully acknowledged, with
//     their current stage.
//   - Inbound QoS 2 packet identifiers awaiting PUBREL, so a redelivered
//     PUBLISH is not handed to the application twice.
//   - Subscriptions the server has acknowledged.
//
// Methods are called with the client's session lock held, from one
// goroutine at a time. Save and Delete errors are logged by the caller and
// do not fail the operation; Load errors fail client construction.
package store

import "fmt"

// Direction tells who originated an exchange.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Exchange is the persisted form of an in-flight QoS 1/2 delivery.
type Exchange struct {
	PacketID  uint16    `json:"packet_id"`
	Direction Direction `json:"direction"`
	QoS       uint8     `json:"qos"`
	Stage     uint8     `json:"stage"`
	Retries   int       `json:"retries"`
	Sent      bool      `json:"sent"`

	// Outbound publishes only.
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Retain  bool   `json:"retain,omitempty"`
}

// Key identifies an exchange within a store.
func (e *Exchange) Key() string {
	return key(e.Direction, e.PacketID)
}

func key(dir Direction, id uint16) string {
	return fmt.Sprintf("%s-%05d", dir, id)
}

// Subscription is the persisted form of an acknowledged subscription.
type Subscription struct {
	Filter            string `json:"filter"`
	QoS               uint8  `json:"qos"`
	NoLocal           bool   `json:"no_local,omitempty"`
	RetainAsPublished bool   `json:"retain_as_published,omitempty"`
	RetainHandling    uint8  `json:"retain_handling,omitempty"`
}

// Store persists session state for one client identifier.
type Store interface {
	// SaveExchange inserts or replaces the exchange keyed by direction and
	// packet identifier.
	SaveExchange(e *Exchange) error

	// DeleteExchange removes an exchange. Deleting a missing one is not an
	// error.
	DeleteExchange(dir Direction, packetID uint16) error

	// LoadExchanges returns every stored exchange.
	LoadExchanges() ([]*Exchange, error)

	// SaveSubscription inserts or replaces the subscription for s.Filter.
	SaveSubscription(s *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(filter string) error

	// LoadSubscriptions returns every stored subscription.
	LoadSubscriptions() ([]*Subscription, error)

	// Clear removes all state.
	Clear() error

	// Close releases the underlying resources.
	Close() error
}
