package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/store"
)

// Message is an outbound application message.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Properties *packets.Properties
}

// Publish queues an outbound message. QoS 0 requires a live connection and
// completes done as soon as the PUBLISH is queued. QoS 1/2 messages are
// tracked until their acknowledgment chain finishes; they are accepted
// while connecting, and while disconnected if the session is not clean.
func (s *Session) Publish(m Message, done Completer, now time.Time) error {
	if err := ValidatePublishTopic(m.Topic); err != nil {
		return err
	}
	if m.QoS > 2 {
		return fmt.Errorf("invalid QoS %d", m.QoS)
	}

	pub := &packets.PublishPacket{
		QoS:     m.QoS,
		Retain:  m.Retain,
		Topic:   m.Topic,
		Payload: slices.Clone(m.Payload),
		Version: s.cfg.ProtocolVersion,
	}
	if s.cfg.ProtocolVersion >= packets.V50 {
		pub.Properties = m.Properties
	}
	if err := pub.CheckFields(); err != nil {
		return err
	}

	if m.QoS == 0 {
		if s.state != Connected {
			return ErrNotConnected
		}
		s.send(pub, now)
		complete(done, nil)
		return nil
	}

	switch {
	case s.state == Connected, s.state == Connecting:
	case s.state == Disconnected && !s.cfg.CleanSession:
	default:
		return ErrNotConnected
	}

	id, err := s.allocID()
	if err != nil {
		return err
	}
	pub.PacketID = id
	e := &exchange{
		id:    id,
		dir:   store.Outbound,
		qos:   m.QoS,
		stage: AwaitPuback,
		pub:   pub,
		done:  done,
	}
	if m.QoS == 2 {
		e.stage = AwaitPubrec
	}
	s.track(e)
	if s.state == Connected {
		s.transmit(e, now)
	}
	s.saveExchange(e)
	return nil
}

func (s *Session) track(e *exchange) {
	s.seq++
	e.seq = s.seq
	s.exchanges[exchangeKey{e.dir, e.id}] = e
}

func (s *Session) drop(e *exchange) {
	delete(s.exchanges, exchangeKey{e.dir, e.id})
	s.deleteExchange(e)
}

// transmit sends the packet for the exchange's current stage. PUBLISH is
// flagged DUP if it went out before.
func (s *Session) transmit(e *exchange, now time.Time) {
	switch e.stage {
	case AwaitPuback, AwaitPubrec:
		pub := *e.pub
		pub.Dup = e.sent
		s.send(&pub, now)
	case AwaitPubcomp:
		s.send(&packets.PubrelPacket{PacketID: e.id, Version: s.cfg.ProtocolVersion}, now)
	default:
		return
	}
	e.sent = true
	e.lastSend = now
}

// retry retransmits outbound exchanges whose wait has expired and drops
// those that ran out of attempts.
func (s *Session) retry(now time.Time) {
	for _, e := range s.outbound() {
		if !e.sent || now.Before(e.lastSend.Add(s.cfg.Retry.wait(e.retries))) {
			continue
		}
		if s.cfg.Retry.exhausted(e.retries) {
			s.logger.Warn("delivery failed", "packet_id", e.id, "topic", e.pub.Topic, "stage", e.stage, "retries", e.retries)
			err := fmt.Errorf("%w: packet %d to %q after %d retries", ErrDeliveryFailed, e.id, e.pub.Topic, e.retries)
			s.drop(e)
			complete(e.done, err)
			s.emit(Event{Kind: EventDeliveryFailed, PacketID: e.id, Topic: e.pub.Topic, Err: err})
			continue
		}
		e.retries++
		s.logger.Debug("retransmitting", "packet_id", e.id, "stage", e.stage, "retry", e.retries)
		s.transmit(e, now)
		s.saveExchange(e)
	}
}

// outbound returns outbound exchanges in creation order.
func (s *Session) outbound() []*exchange {
	var out []*exchange
	for _, e := range s.exchanges {
		if e.dir == store.Outbound {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *exchange) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// resume runs after an accepted CONNACK: it drops inbound exchanges the
// server no longer knows about, retransmits outbound exchanges, restores
// subscriptions the server lost, and sends requests queued while
// connecting.
func (s *Session) resume(now time.Time) {
	if !s.sessionPresent {
		for k, e := range s.exchanges {
			if e.dir == store.Inbound {
				delete(s.exchanges, k)
				s.deleteExchange(e)
			}
		}
	}

	for _, e := range s.outbound() {
		e.retries = 0
		s.transmit(e, now)
	}

	queued := make(map[string]bool)
	for _, r := range s.requests {
		if sp, ok := r.pkt.(*packets.SubscribePacket); ok {
			for _, sub := range sp.Subscriptions {
				queued[sub.Filter] = true
			}
		}
	}
	if !s.sessionPresent && !s.cfg.CleanSession {
		var lost []packets.Subscription
		for _, f := range s.Subscriptions() {
			if sub := s.subs[f]; sub.granted >= 0 && !queued[f] {
				lost = append(lost, sub.Subscription)
			}
		}
		if len(lost) > 0 {
			s.logger.Info("restoring subscriptions", "count", len(lost))
			if err := s.subscribe(lost, nil, nil, now); err != nil {
				s.logger.Warn("restoring subscriptions failed", "error", err)
			}
		}
	}

	ids := make([]uint16, 0, len(s.requests))
	for id, r := range s.requests {
		if !r.sent {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		r := s.requests[id]
		r.sent = true
		s.send(r.pkt, now)
	}
}

// handlePublish processes an inbound PUBLISH. QoS 2 messages are delivered
// on the first PUBLISH only; a redelivery while PUBREL is outstanding is
// only re-acknowledged.
func (s *Session) handlePublish(p *packets.PublishPacket, now time.Time) {
	if p.Topic == "" {
		s.violation(p, now)
		return
	}
	switch p.QoS {
	case 0:
		s.deliver(p)
	case 1:
		s.deliver(p)
		s.send(&packets.PubackPacket{PacketID: p.PacketID, Version: s.cfg.ProtocolVersion}, now)
	case 2:
		k := exchangeKey{store.Inbound, p.PacketID}
		if _, dup := s.exchanges[k]; !dup {
			e := &exchange{id: p.PacketID, dir: store.Inbound, qos: 2, stage: AwaitPubrel, sent: true, lastSend: now}
			s.track(e)
			s.saveExchange(e)
			s.deliver(p)
		} else {
			s.logger.Debug("duplicate QoS 2 publish", "packet_id", p.PacketID)
		}
		s.send(&packets.PubrecPacket{PacketID: p.PacketID, Version: s.cfg.ProtocolVersion}, now)
	}
}

func (s *Session) deliver(p *packets.PublishPacket) {
	var filters []string
	for _, f := range s.Subscriptions() {
		if matchTopic(shareFilter(f), p.Topic) {
			filters = append(filters, f)
		}
	}
	s.emit(Event{Kind: EventMessage, Message: p, Filters: filters})
}

func (s *Session) ackError(typ, code uint8, props *packets.Properties) error {
	if s.cfg.ProtocolVersion < packets.V50 || code < packets.ReasonUnspecifiedError {
		return nil
	}
	return reasonError(typ, code, props, nil)
}

func (s *Session) handlePuback(p *packets.PubackPacket) {
	e, ok := s.exchanges[exchangeKey{store.Outbound, p.PacketID}]
	if !ok || e.stage != AwaitPuback {
		s.logger.Debug("unexpected PUBACK", "packet_id", p.PacketID)
		return
	}
	s.drop(e)
	complete(e.done, s.ackError(packets.PUBACK, p.ReasonCode, p.Properties))
}

func (s *Session) handlePubrec(p *packets.PubrecPacket, now time.Time) {
	e, ok := s.exchanges[exchangeKey{store.Outbound, p.PacketID}]
	if !ok {
		rel := &packets.PubrelPacket{PacketID: p.PacketID, Version: s.cfg.ProtocolVersion}
		if s.cfg.ProtocolVersion >= packets.V50 {
			rel.ReasonCode = packets.ReasonPacketIdentifierNotFound
		}
		s.send(rel, now)
		return
	}
	if err := s.ackError(packets.PUBREC, p.ReasonCode, p.Properties); err != nil {
		s.drop(e)
		complete(e.done, err)
		return
	}
	switch e.stage {
	case AwaitPubrec:
		e.stage = AwaitPubcomp
		e.retries = 0
		s.transmit(e, now)
		s.saveExchange(e)
	case AwaitPubcomp:
		// Our PUBREL was lost or crossed the duplicate PUBREC.
		s.transmit(e, now)
	default:
		s.logger.Debug("unexpected PUBREC", "packet_id", p.PacketID, "stage", e.stage)
	}
}

func (s *Session) handlePubrel(p *packets.PubrelPacket, now time.Time) {
	comp := &packets.PubcompPacket{PacketID: p.PacketID, Version: s.cfg.ProtocolVersion}
	e, ok := s.exchanges[exchangeKey{store.Inbound, p.PacketID}]
	if ok {
		s.drop(e)
	} else if s.cfg.ProtocolVersion >= packets.V50 {
		comp.ReasonCode = packets.ReasonPacketIdentifierNotFound
	}
	s.send(comp, now)
}

func (s *Session) handlePubcomp(p *packets.PubcompPacket) {
	e, ok := s.exchanges[exchangeKey{store.Outbound, p.PacketID}]
	if !ok || e.stage != AwaitPubcomp {
		s.logger.Debug("unexpected PUBCOMP", "packet_id", p.PacketID)
		return
	}
	s.drop(e)
	complete(e.done, s.ackError(packets.PUBCOMP, p.ReasonCode, p.Properties))
}
