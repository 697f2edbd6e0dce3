package mq

import (
	"fmt"
	"unicode/utf8"

	"github.com/solarmqtt/mq/internal/session"
)

// PublishOptions holds configuration for a publish operation.
type PublishOptions struct {
	QoS        QoS
	Retain     bool
	Properties *Properties
}

// PublishOption is a functional option for configuring a PUBLISH packet.
type PublishOption func(*PublishOptions)

// WithQoS sets the Quality of Service level for the publish. Default is
// QoS 0.
func WithQoS(qos QoS) PublishOption {
	return func(o *PublishOptions) {
		o.QoS = qos
	}
}

// WithRetain sets the retain flag for the publish.
func WithRetain(retain bool) PublishOption {
	return func(o *PublishOptions) {
		o.Retain = retain
	}
}

func (o *PublishOptions) props() *Properties {
	if o.Properties == nil {
		o.Properties = &Properties{}
	}
	return o.Properties
}

// WithContentType sets the MQTT v5.0 content type property.
// Ignored for v3.1.1.
func WithContentType(contentType string) PublishOption {
	return func(o *PublishOptions) {
		o.props().ContentType = contentType
	}
}

// WithResponseTopic sets the response topic for request/response.
// Ignored for v3.1.1.
func WithResponseTopic(topic string) PublishOption {
	return func(o *PublishOptions) {
		o.props().ResponseTopic = topic
	}
}

// WithCorrelationData sets correlation data for request/response.
// Ignored for v3.1.1.
func WithCorrelationData(data []byte) PublishOption {
	return func(o *PublishOptions) {
		o.props().CorrelationData = data
	}
}

// WithUserProperty adds a user-defined property. Ignored for v3.1.1.
func WithUserProperty(key, value string) PublishOption {
	return func(o *PublishOptions) {
		p := o.props()
		if p.UserProperties == nil {
			p.UserProperties = make(map[string]string)
		}
		p.UserProperties[key] = value
	}
}

// WithMessageExpiry sets the message expiry interval in seconds.
// Ignored for v3.1.1.
func WithMessageExpiry(seconds uint32) PublishOption {
	return func(o *PublishOptions) {
		o.props().MessageExpiry = &seconds
	}
}

// WithPayloadFormat sets the payload format indicator. With
// PayloadFormatUTF8 the payload is checked before sending.
// Ignored for v3.1.1.
func WithPayloadFormat(format uint8) PublishOption {
	return func(o *PublishOptions) {
		o.props().PayloadFormat = &format
	}
}

// WithProperties replaces all v5.0 properties at once.
func WithProperties(props *Properties) PublishOption {
	return func(o *PublishOptions) {
		o.Properties = props
	}
}

// Publish publishes a message to topic.
//
// QoS 0 tokens complete once the packet is queued for writing. QoS 1 and 2
// tokens complete at the end of the acknowledgment chain, or with
// ErrDeliveryFailed once the retry policy is exhausted. On a non-clean
// session QoS 1/2 messages may be published while disconnected; they are
// sent after the next CONNACK.
//
// Invalid topics complete the token with ErrInvalidTopic and nothing is
// sent.
//
//	tok := client.Publish("sensors/temp", []byte("22.5"), mq.WithQoS(mq.AtLeastOnce))
//	if err := tok.Wait(ctx); err != nil {
//	    log.Printf("publish failed: %v", err)
//	}
func (c *Client) Publish(topic string, payload []byte, opts ...PublishOption) Token {
	pubOpts := &PublishOptions{}
	for _, opt := range opts {
		opt(pubOpts)
	}
	if err := validatePayloadFormat(payload, pubOpts.Properties); err != nil {
		return failedToken(err)
	}

	c.opts.Logger.Debug("publishing message", "topic", topic, "qos", pubOpts.QoS, "payload_size", len(payload))

	tok := newToken()
	err := c.withSession(func(s *session.Session) error {
		return s.Publish(session.Message{
			Topic:      topic,
			Payload:    payload,
			QoS:        uint8(pubOpts.QoS),
			Retain:     pubOpts.Retain,
			Properties: toInternalProperties(pubOpts.Properties),
		}, tok, c.now())
	})
	if err != nil {
		tok.Complete(err)
	}
	return tok
}

func validatePayloadFormat(payload []byte, props *Properties) error {
	if props == nil || props.PayloadFormat == nil || *props.PayloadFormat != PayloadFormatUTF8 {
		return nil
	}
	if !utf8.Valid(payload) {
		return fmt.Errorf("payload is not valid UTF-8 but PayloadFormatUTF8 was set")
	}
	return nil
}
