package mq

import (
	"maps"
	"slices"

	"github.com/solarmqtt/mq/internal/packets"
)

// Payload format indicators
const (
	PayloadFormatBytes uint8 = 0
	PayloadFormatUTF8  uint8 = 1
)

// Properties represents MQTT v5.0 message properties.
//
// All fields are optional and only used when the protocol version is 5.0.
// For MQTT v3.1.1 connections, properties are ignored.
type Properties struct {
	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic and CorrelationData support request/response.
	ResponseTopic   string
	CorrelationData []byte

	// MessageExpiry is the message lifetime in seconds.
	MessageExpiry *uint32

	// PayloadFormat is PayloadFormatBytes or PayloadFormatUTF8.
	PayloadFormat *uint8

	// SubscriptionIdentifier lists the identifiers of the subscriptions
	// that matched. Receive only.
	SubscriptionIdentifier []int

	// ReasonString is a diagnostic from the server. Receive only.
	ReasonString string

	// UserProperties are application key-value pairs.
	UserProperties map[string]string
}

// toPublicProperties converts internal packet properties to the public API
// format. It returns nil when nothing is set.
func toPublicProperties(in *packets.Properties) *Properties {
	if in == nil || (in.Presence == 0 && len(in.UserProperties) == 0 && len(in.SubscriptionIdentifiers) == 0) {
		return nil
	}
	p := &Properties{}
	if in.Has(packets.PropContentType) {
		p.ContentType = in.ContentType
	}
	if in.Has(packets.PropResponseTopic) {
		p.ResponseTopic = in.ResponseTopic
	}
	if in.Has(packets.PropCorrelationData) {
		p.CorrelationData = in.CorrelationData
	}
	if in.Has(packets.PropMessageExpiryInterval) {
		v := in.MessageExpiryInterval
		p.MessageExpiry = &v
	}
	if in.Has(packets.PropPayloadFormatIndicator) {
		v := in.PayloadFormatIndicator
		p.PayloadFormat = &v
	}
	if in.Has(packets.PropReasonString) {
		p.ReasonString = in.ReasonString
	}
	p.SubscriptionIdentifier = in.SubscriptionIdentifiers
	if len(in.UserProperties) > 0 {
		p.UserProperties = make(map[string]string, len(in.UserProperties))
		for _, up := range in.UserProperties {
			p.UserProperties[up.Key] = up.Value
		}
	}
	return p
}

// toInternalProperties converts public properties to the packet format.
// Receive-only fields are not sent.
func toInternalProperties(in *Properties) *packets.Properties {
	if in == nil {
		return nil
	}
	p := &packets.Properties{}
	if in.ContentType != "" {
		p.Set(packets.PropContentType, in.ContentType)
	}
	if in.ResponseTopic != "" {
		p.Set(packets.PropResponseTopic, in.ResponseTopic)
	}
	if len(in.CorrelationData) > 0 {
		p.Set(packets.PropCorrelationData, in.CorrelationData)
	}
	if in.MessageExpiry != nil {
		p.Set(packets.PropMessageExpiryInterval, *in.MessageExpiry)
	}
	if in.PayloadFormat != nil {
		p.Set(packets.PropPayloadFormatIndicator, *in.PayloadFormat)
	}
	for _, k := range slices.Sorted(maps.Keys(in.UserProperties)) {
		p.UserProperties = append(p.UserProperties, packets.UserProperty{Key: k, Value: in.UserProperties[k]})
	}
	return p
}
