package session

import (
	"fmt"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
)

// Subscribe queues a SUBSCRIBE for subs. Filters are matched against
// inbound messages from now on; a filter the server rejects is removed
// when the SUBACK arrives, and one still unconfirmed when the connection
// drops is removed with the failed request.
func (s *Session) Subscribe(subs []packets.Subscription, props *packets.Properties, done Completer, now time.Time) error {
	if len(subs) == 0 {
		return fmt.Errorf("%w: no topic filters", ErrInvalidTopic)
	}
	for _, sub := range subs {
		if err := ValidateFilter(sub.Filter); err != nil {
			return err
		}
		if sub.QoS > 2 {
			return fmt.Errorf("invalid QoS %d for %q", sub.QoS, sub.Filter)
		}
	}
	if s.state != Connected && s.state != Connecting {
		return ErrNotConnected
	}
	return s.subscribe(subs, props, done, now)
}

func (s *Session) subscribe(subs []packets.Subscription, props *packets.Properties, done Completer, now time.Time) error {
	id, err := s.allocID()
	if err != nil {
		return err
	}
	p := &packets.SubscribePacket{
		PacketID:      id,
		Subscriptions: subs,
		Version:       s.cfg.ProtocolVersion,
	}
	if s.cfg.ProtocolVersion >= packets.V50 {
		p.Properties = props
	} else {
		// v3.1.1 has no subscription options.
		p.Subscriptions = make([]packets.Subscription, len(subs))
		for i, sub := range subs {
			p.Subscriptions[i] = packets.Subscription{Filter: sub.Filter, QoS: sub.QoS}
		}
	}
	for _, sub := range p.Subscriptions {
		if cur, ok := s.subs[sub.Filter]; ok {
			cur.Subscription = sub
			continue
		}
		s.subs[sub.Filter] = &subscription{Subscription: sub, granted: -1}
	}
	s.addRequest(id, p, done, now)
	return nil
}

// Unsubscribe queues an UNSUBSCRIBE. The filters stop matching once the
// UNSUBACK arrives.
func (s *Session) Unsubscribe(filters []string, props *packets.Properties, done Completer, now time.Time) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: no topic filters", ErrInvalidTopic)
	}
	for _, f := range filters {
		if err := ValidateFilter(f); err != nil {
			return err
		}
	}
	if s.state != Connected && s.state != Connecting {
		return ErrNotConnected
	}
	id, err := s.allocID()
	if err != nil {
		return err
	}
	p := &packets.UnsubscribePacket{
		PacketID: id,
		Filters:  filters,
		Version:  s.cfg.ProtocolVersion,
	}
	if s.cfg.ProtocolVersion >= packets.V50 {
		p.Properties = props
	}
	s.addRequest(id, p, done, now)
	return nil
}

func (s *Session) addRequest(id uint16, p packets.Packet, done Completer, now time.Time) {
	r := &request{pkt: p, done: done}
	s.requests[id] = r
	if s.state == Connected {
		r.sent = true
		s.send(p, now)
	}
}

func (s *Session) handleSuback(p *packets.SubackPacket) {
	r, ok := s.requests[p.PacketID]
	if !ok {
		s.logger.Debug("unexpected SUBACK", "packet_id", p.PacketID)
		return
	}
	req, ok := r.pkt.(*packets.SubscribePacket)
	if !ok {
		s.logger.Debug("SUBACK for UNSUBSCRIBE", "packet_id", p.PacketID)
		return
	}
	delete(s.requests, p.PacketID)

	var err error
	topics := make([]string, len(req.Subscriptions))
	for i, sub := range req.Subscriptions {
		topics[i] = sub.Filter
		code := uint8(packets.SubackFailure)
		if i < len(p.ReturnCodes) {
			code = p.ReturnCodes[i]
		}
		if code >= packets.SubackFailure {
			delete(s.subs, sub.Filter)
			s.deleteSubscription(sub.Filter)
			if err == nil {
				err = reasonError(packets.SUBACK, code, p.Properties, ErrSubscriptionFailed)
			}
			s.logger.Warn("subscription rejected", "filter", sub.Filter, "code", code)
			continue
		}
		if cur, ok := s.subs[sub.Filter]; ok {
			cur.granted = int(code)
			s.saveSubscription(cur)
		}
	}
	if len(p.ReturnCodes) != len(req.Subscriptions) {
		s.logger.Warn("SUBACK return code count mismatch", "packet_id", p.PacketID, "want", len(req.Subscriptions), "got", len(p.ReturnCodes))
	}
	s.emit(Event{Kind: EventSubscribed, Topics: topics, Granted: p.ReturnCodes, Err: err})
	complete(r.done, err)
}

func (s *Session) handleUnsuback(p *packets.UnsubackPacket) {
	r, ok := s.requests[p.PacketID]
	if !ok {
		s.logger.Debug("unexpected UNSUBACK", "packet_id", p.PacketID)
		return
	}
	req, ok := r.pkt.(*packets.UnsubscribePacket)
	if !ok {
		s.logger.Debug("UNSUBACK for SUBSCRIBE", "packet_id", p.PacketID)
		return
	}
	delete(s.requests, p.PacketID)

	var err error
	for i, f := range req.Filters {
		if i < len(p.ReasonCodes) && s.cfg.ProtocolVersion >= packets.V50 && p.ReasonCodes[i] >= packets.ReasonUnspecifiedError {
			if err == nil {
				err = reasonError(packets.UNSUBACK, p.ReasonCodes[i], p.Properties, nil)
			}
			continue
		}
		delete(s.subs, f)
		s.deleteSubscription(f)
	}
	s.emit(Event{Kind: EventUnsubscribed, Topics: req.Filters, Err: err})
	complete(r.done, err)
}
