package session

import (
	"fmt"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/store"
)

// load restores exchanges and subscriptions from the store.
func (s *Session) load() error {
	exchanges, err := s.cfg.Store.LoadExchanges()
	if err != nil {
		return fmt.Errorf("loading exchanges: %w", err)
	}
	for _, se := range exchanges {
		e := &exchange{
			id:      se.PacketID,
			dir:     se.Direction,
			qos:     se.QoS,
			stage:   Stage(se.Stage),
			retries: se.Retries,
			sent:    se.Sent,
		}
		if se.PacketID == 0 || e.stage < AwaitPuback || e.stage > AwaitPubcomp {
			s.logger.Warn("skipping invalid stored exchange", "packet_id", se.PacketID, "stage", se.Stage)
			continue
		}
		if se.Direction == store.Outbound {
			e.pub = &packets.PublishPacket{
				QoS:      se.QoS,
				Retain:   se.Retain,
				Topic:    se.Topic,
				PacketID: se.PacketID,
				Payload:  se.Payload,
				Version:  s.cfg.ProtocolVersion,
			}
			if se.PacketID > s.nextID {
				s.nextID = se.PacketID
			}
		}
		s.track(e)
	}

	subs, err := s.cfg.Store.LoadSubscriptions()
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}
	for _, ss := range subs {
		s.subs[ss.Filter] = &subscription{
			Subscription: packets.Subscription{
				Filter:            ss.Filter,
				QoS:               ss.QoS,
				NoLocal:           ss.NoLocal,
				RetainAsPublished: ss.RetainAsPublished,
				RetainHandling:    ss.RetainHandling,
			},
			granted: int(ss.QoS),
		}
	}
	s.logger.Debug("session restored", "exchanges", len(s.exchanges), "subscriptions", len(s.subs))
	return nil
}

// persistent reports whether changes should reach the store.
func (s *Session) persistent() bool {
	return s.cfg.Store != nil && !s.cfg.CleanSession
}

func (s *Session) saveExchange(e *exchange) {
	if !s.persistent() {
		return
	}
	se := &store.Exchange{
		PacketID:  e.id,
		Direction: e.dir,
		QoS:       e.qos,
		Stage:     uint8(e.stage),
		Retries:   e.retries,
		Sent:      e.sent,
	}
	if e.pub != nil {
		se.Topic = e.pub.Topic
		se.Payload = e.pub.Payload
		se.Retain = e.pub.Retain
	}
	if err := s.cfg.Store.SaveExchange(se); err != nil {
		s.logger.Warn("failed to persist exchange", "packet_id", e.id, "direction", e.dir, "error", err)
	}
}

func (s *Session) deleteExchange(e *exchange) {
	if !s.persistent() {
		return
	}
	if err := s.cfg.Store.DeleteExchange(e.dir, e.id); err != nil {
		s.logger.Warn("failed to delete exchange", "packet_id", e.id, "direction", e.dir, "error", err)
	}
}

func (s *Session) saveSubscription(sub *subscription) {
	if !s.persistent() {
		return
	}
	ss := &store.Subscription{
		Filter:            sub.Filter,
		QoS:               uint8(sub.granted),
		NoLocal:           sub.NoLocal,
		RetainAsPublished: sub.RetainAsPublished,
		RetainHandling:    sub.RetainHandling,
	}
	if err := s.cfg.Store.SaveSubscription(ss); err != nil {
		s.logger.Warn("failed to persist subscription", "filter", sub.Filter, "error", err)
	}
}

func (s *Session) deleteSubscription(filter string) {
	if !s.persistent() {
		return
	}
	if err := s.cfg.Store.DeleteSubscription(filter); err != nil {
		s.logger.Warn("failed to delete subscription", "filter", filter, "error", err)
	}
}
