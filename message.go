package mq

import "github.com/solarmqtt/mq/internal/packets"

// Message is an MQTT message received from the server.
type Message struct {
	// Topic the message was published to
	Topic string

	// Message payload
	Payload []byte

	// Quality of Service level
	QoS QoS

	// Retained message flag
	Retained bool

	// Duplicate delivery flag
	Duplicate bool

	// MQTT v5.0 properties. Nil for v3.1.1 or when none were sent.
	Properties *Properties
}

// MessageHandler is called for each received message, on the goroutine
// driving the client loop.
type MessageHandler func(*Client, Message)

func toMessage(p *packets.PublishPacket) Message {
	return Message{
		Topic:      p.Topic,
		Payload:    p.Payload,
		QoS:        QoS(p.QoS),
		Retained:   p.Retain,
		Duplicate:  p.Dup,
		Properties: toPublicProperties(p.Properties),
	}
}
