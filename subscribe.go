package mq

import (
	"fmt"
	"maps"
	"slices"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/internal/session"
)

// SubscribeOptions holds configuration for a subscription.
type SubscribeOptions struct {
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
	SubscriptionID    int               // MQTT v5.0: 1-268435455, 0 = none
	UserProperties    map[string]string // MQTT v5.0
}

// SubscribeOption is a functional option for configuring a subscription.
type SubscribeOption func(*SubscribeOptions)

// WithNoLocal (MQTT v5.0) asks the server not to echo this client's own
// publishes back. Ignored for v3.1.1.
func WithNoLocal(noLocal bool) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.NoLocal = noLocal
	}
}

// WithRetainAsPublished (MQTT v5.0) keeps the publisher's retain flag on
// forwarded messages. Ignored for v3.1.1.
func WithRetainAsPublished(retain bool) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.RetainAsPublished = retain
	}
}

// WithRetainHandling (MQTT v5.0) controls retained delivery at subscribe
// time: 0 always, 1 only for new subscriptions, 2 never.
func WithRetainHandling(handling uint8) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.RetainHandling = handling
	}
}

// WithSubscriptionIdentifier (MQTT v5.0) tags messages delivered through
// this subscription. See Properties.SubscriptionIdentifier.
func WithSubscriptionIdentifier(id int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.SubscriptionID = id
	}
}

// WithSubscribeUserProperty (MQTT v5.0) adds a user property to SUBSCRIBE.
func WithSubscribeUserProperty(key, value string) SubscribeOption {
	return func(o *SubscribeOptions) {
		if o.UserProperties == nil {
			o.UserProperties = make(map[string]string)
		}
		o.UserProperties[key] = value
	}
}

// Subscribe subscribes to filter with the requested QoS.
//
// handler receives messages matching filter; when several subscriptions
// match, each handler is called once. Messages no handler claims go to the
// WithOnMessage handler. handler may be nil. Handlers run on the loop
// goroutine (or the caller of Step) and should not block.
//
// The token completes when the SUBACK arrives, with an error wrapping
// ErrSubscriptionFailed if the server rejected the filter. A filter with an
// invalid wildcard or more than 200 levels completes the token with
// ErrInvalidTopic and nothing is sent.
func (c *Client) Subscribe(filter string, qos QoS, handler MessageHandler, opts ...SubscribeOption) Token {
	subOpts := &SubscribeOptions{}
	for _, opt := range opts {
		opt(subOpts)
	}
	if subOpts.SubscriptionID < 0 || subOpts.SubscriptionID > packets.MaxRemainingLength {
		return failedToken(fmt.Errorf("subscription identifier must be in range 0-268435455, got %d", subOpts.SubscriptionID))
	}

	c.opts.Logger.Debug("subscribing", "filter", filter, "qos", qos)

	sub := packets.Subscription{
		Filter:            filter,
		QoS:               uint8(qos),
		NoLocal:           subOpts.NoLocal,
		RetainAsPublished: subOpts.RetainAsPublished,
		RetainHandling:    subOpts.RetainHandling,
	}
	var props *packets.Properties
	if subOpts.SubscriptionID > 0 || len(subOpts.UserProperties) > 0 {
		props = &packets.Properties{}
		if subOpts.SubscriptionID > 0 {
			props.SubscriptionIdentifier = []int{subOpts.SubscriptionID}
		}
		for _, k := range slices.Sorted(maps.Keys(subOpts.UserProperties)) {
			props.UserProperties = append(props.UserProperties, packets.UserProperty{Key: k, Value: subOpts.UserProperties[k]})
		}
	}

	if handler != nil {
		c.setHandler(filter, handler)
	}
	tok := newToken()
	err := c.withSession(func(s *session.Session) error {
		if err := s.Subscribe([]packets.Subscription{sub}, props, tok, c.now()); err != nil {
			return err
		}
		c.resubscribe[filter] = sub
		return nil
	})
	if err != nil {
		if handler != nil {
			c.removeHandlers(filter)
		}
		tok.Complete(err)
	}
	return tok
}

// Unsubscribe removes subscriptions. Their handlers are dropped when the
// UNSUBACK arrives.
func (c *Client) Unsubscribe(filters ...string) Token {
	c.opts.Logger.Debug("unsubscribing", "filters", filters)

	tok := newToken()
	err := c.withSession(func(s *session.Session) error {
		return s.Unsubscribe(filters, nil, tok, c.now())
	})
	if err != nil {
		tok.Complete(err)
	}
	return tok
}

// Subscriptions returns the active topic filters, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Subscriptions()
}

func (c *Client) setHandler(filter string, h MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[filter] = h
}

func (c *Client) removeHandlers(filters ...string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	for _, f := range filters {
		delete(c.handlers, f)
	}
}

// handleMessage calls the handler of every matching filter once, or the
// default handler when none is registered.
func (c *Client) handleMessage(p *packets.PublishPacket, filters []string) {
	msg := toMessage(p)

	c.handlersMu.RLock()
	var hs []MessageHandler
	for _, f := range filters {
		if h, ok := c.handlers[f]; ok {
			hs = append(hs, h)
		}
	}
	c.handlersMu.RUnlock()

	if len(hs) == 0 {
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(c, msg)
		} else {
			c.opts.Logger.Debug("message without handler", "topic", p.Topic)
		}
		return
	}
	for _, h := range hs {
		h(c, msg)
	}
}
