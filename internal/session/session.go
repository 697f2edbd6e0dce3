// Package session implements the MQTT client session state machine.
//
// A Session never performs I/O and never reads the clock: every method
// takes the current time, and outbound packets and application events
// accumulate until the caller drains them. The caller serializes access.
package session

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/solarmqtt/mq/internal/packets"
	"github.com/solarmqtt/mq/store"
)

// MaxClientIDLength is the longest client identifier every server must
// accept.
const MaxClientIDLength = 23

// Will is the last will message sent with CONNECT.
type Will struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Properties *packets.Properties
}

// Config holds the session parameters fixed at creation.
type Config struct {
	ClientID     string
	CleanSession bool

	// KeepAlive is the ping interval. Zero disables keepalive.
	KeepAlive time.Duration

	// ConnectTimeout bounds the wait for CONNACK.
	ConnectTimeout time.Duration

	// ProtocolVersion is packets.V311 or packets.V50.
	ProtocolVersion uint8

	Username string
	Password []byte
	Will     *Will

	// ConnectProperties are sent with CONNECT (v5 only).
	ConnectProperties *packets.Properties

	Retry RetryPolicy

	// Store persists exchanges and subscriptions of non-clean sessions.
	Store store.Store

	Logger *slog.Logger
}

// exchange is an in-flight QoS 1/2 delivery.
type exchange struct {
	id       uint16
	dir      store.Direction
	qos      uint8
	stage    Stage
	retries  int
	lastSend time.Time
	sent     bool // sent at least once, on any connection
	seq      uint64

	pub  *packets.PublishPacket // outbound only
	done Completer
}

type exchangeKey struct {
	dir store.Direction
	id  uint16
}

// request is an outstanding SUBSCRIBE or UNSUBSCRIBE.
type request struct {
	pkt  packets.Packet
	sent bool
	done Completer
}

type subscription struct {
	packets.Subscription
	granted int // -1 until the SUBACK arrives
}

// Session is the client side of an MQTT session.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state          State
	sessionPresent bool
	assignedID     string
	keepAlive      time.Duration

	connackDeadline time.Time
	lastSend        time.Time
	pingSent        time.Time

	exchanges map[exchangeKey]*exchange
	requests  map[uint16]*request
	subs      map[string]*subscription
	nextID    uint16
	seq       uint64

	out    []packets.Packet
	events []Event
}

// New creates a session in the Disconnected state. For non-clean sessions
// with a store, persisted exchanges and subscriptions are loaded; for clean
// sessions the store is cleared.
func New(cfg Config) (*Session, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:       cfg,
		logger:    cfg.Logger,
		keepAlive: cfg.KeepAlive,
		exchanges: make(map[exchangeKey]*exchange),
		requests:  make(map[uint16]*request),
		subs:      make(map[string]*subscription),
	}
	if cfg.Store != nil {
		if cfg.CleanSession {
			if err := cfg.Store.Clear(); err != nil {
				return nil, fmt.Errorf("clearing session store: %w", err)
			}
		} else if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func validateConfig(cfg *Config) error {
	if len(cfg.ClientID) > MaxClientIDLength {
		return fmt.Errorf("client ID %q is longer than %d bytes", cfg.ClientID, MaxClientIDLength)
	}
	if cfg.ClientID == "" && !cfg.CleanSession {
		return fmt.Errorf("an empty client ID requires a clean session")
	}
	switch cfg.ProtocolVersion {
	case 0:
		cfg.ProtocolVersion = packets.V311
	case packets.V311, packets.V50:
	default:
		return fmt.Errorf("unsupported protocol version %d", cfg.ProtocolVersion)
	}
	if cfg.KeepAlive < 0 || cfg.KeepAlive > 65535*time.Second {
		return fmt.Errorf("keepalive %s out of range", cfg.KeepAlive)
	}
	if cfg.KeepAlive > 0 && cfg.KeepAlive < time.Second {
		cfg.KeepAlive = time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.Retry.Interval <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.Will != nil {
		if err := ValidatePublishTopic(cfg.Will.Topic); err != nil {
			return fmt.Errorf("will: %w", err)
		}
		if cfg.Will.QoS > 2 {
			return fmt.Errorf("will: invalid QoS %d", cfg.Will.QoS)
		}
	}
	if err := cfg.connectPacket().CheckFields(); err != nil {
		return err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Version returns the negotiated protocol version.
func (s *Session) Version() uint8 { return s.cfg.ProtocolVersion }

// ClientID returns the client identifier, or the one assigned by a v5
// server when the configured one was empty.
func (s *Session) ClientID() string {
	if s.assignedID != "" {
		return s.assignedID
	}
	return s.cfg.ClientID
}

// SessionPresent reports the flag from the last accepted CONNACK.
func (s *Session) SessionPresent() bool { return s.sessionPresent }

// KeepAlive returns the effective keepalive, which a v5 server may
// override.
func (s *Session) KeepAlive() time.Duration { return s.keepAlive }

// InFlight returns the number of pending exchanges.
func (s *Session) InFlight() int { return len(s.exchanges) }

// Subscriptions returns the active filters in sorted order.
func (s *Session) Subscriptions() []string {
	out := make([]string, 0, len(s.subs))
	for f := range s.subs {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Drain returns and clears the packets to send and the events to deliver.
func (s *Session) Drain() ([]packets.Packet, []Event) {
	out, events := s.out, s.events
	s.out, s.events = nil, nil
	return out, events
}

// Pending reports whether Drain would return anything.
func (s *Session) Pending() bool {
	return len(s.out) > 0 || len(s.events) > 0
}

func (s *Session) send(p packets.Packet, now time.Time) {
	s.out = append(s.out, p)
	s.lastSend = now
}

func (s *Session) emit(e Event) {
	s.events = append(s.events, e)
}

func (s *Session) setState(st State, err error) {
	if s.state == st {
		return
	}
	s.logger.Debug("session state", "from", s.state, "to", st, "error", err)
	s.state = st
	s.emit(Event{Kind: EventState, State: st, SessionPresent: s.sessionPresent, Err: err})
}

// Begin moves a disconnected session to Connecting and arms the CONNACK
// timer. The caller dials the server and then calls Attach or
// ConnectFailed.
func (s *Session) Begin(now time.Time) error {
	if s.state != Disconnected {
		return fmt.Errorf("cannot connect while %s", s.state)
	}
	s.sessionPresent = false
	s.connackDeadline = now.Add(s.cfg.ConnectTimeout)
	s.setState(Connecting, nil)
	return nil
}

// Attach queues CONNECT once the transport is up and restarts the CONNACK
// timer.
func (s *Session) Attach(now time.Time) {
	if s.state != Connecting {
		return
	}
	s.connackDeadline = now.Add(s.cfg.ConnectTimeout)
	s.send(s.cfg.connectPacket(), now)
}

func (cfg *Config) connectPacket() *packets.ConnectPacket {
	p := &packets.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: cfg.ProtocolVersion,
		CleanSession:  cfg.CleanSession,
		KeepAlive:     uint16(cfg.KeepAlive / time.Second),
		ClientID:      cfg.ClientID,
	}
	if cfg.ProtocolVersion >= packets.V50 {
		p.Properties = cfg.ConnectProperties
	}
	if w := cfg.Will; w != nil {
		p.WillFlag = true
		p.WillTopic = w.Topic
		p.WillMessage = w.Payload
		p.WillQoS = w.QoS
		p.WillRetain = w.Retain
		if cfg.ProtocolVersion >= packets.V50 {
			p.WillProperties = w.Properties
		}
	}
	if cfg.Username != "" {
		p.UsernameFlag = true
		p.Username = cfg.Username
	}
	if cfg.Password != nil {
		p.PasswordFlag = true
		p.Password = cfg.Password
	}
	return p
}

// ConnectFailed reports that the dial or TLS handshake failed.
func (s *Session) ConnectFailed(err error, now time.Time) {
	if s.state != Connecting {
		return
	}
	s.lose(err, now)
}

// Disconnect starts a graceful shutdown. From Connected it queues
// DISCONNECT and moves to Disconnecting; the caller flushes and then calls
// Closed. From Connecting it drops straight to Disconnected.
func (s *Session) Disconnect(now time.Time) error {
	switch s.state {
	case Connected:
		p := &packets.DisconnectPacket{Version: s.cfg.ProtocolVersion}
		s.send(p, now)
		s.setState(Disconnecting, nil)
		return nil
	case Connecting:
		s.lose(nil, now)
		return nil
	case Disconnecting:
		return nil
	}
	return ErrNotConnected
}

// Closed reports that the transport is gone. err is nil after a graceful
// Disconnect.
func (s *Session) Closed(err error, now time.Time) {
	if s.state == Disconnected {
		return
	}
	if err == nil && s.state != Disconnecting {
		err = ErrTransportClosed
	}
	s.lose(err, now)
}

// lose drops to Disconnected. Clean sessions forget everything; others
// keep exchanges and subscriptions for the next connection.
func (s *Session) lose(err error, now time.Time) {
	s.pingSent = time.Time{}
	s.connackDeadline = time.Time{}

	failWith := err
	if failWith == nil {
		failWith = ErrNotConnected
	}
	ids := slices.Sorted(maps.Keys(s.requests))
	for _, id := range ids {
		r := s.requests[id]
		complete(r.done, failWith)
		delete(s.requests, id)
		if sp, ok := r.pkt.(*packets.SubscribePacket); ok && r.done != nil {
			s.forgetUnconfirmed(sp, failWith)
		}
	}
	if s.cfg.CleanSession {
		for k, e := range s.exchanges {
			complete(e.done, failWith)
			delete(s.exchanges, k)
		}
		clear(s.subs)
	}
	s.setState(Disconnected, err)
}

// forgetUnconfirmed drops the filters of a failed SUBSCRIBE that never got
// a SUBACK. The event carries no return codes, so every listed filter
// counts as not granted.
func (s *Session) forgetUnconfirmed(p *packets.SubscribePacket, err error) {
	var gone []string
	for _, sub := range p.Subscriptions {
		if cur, ok := s.subs[sub.Filter]; ok && cur.granted < 0 {
			delete(s.subs, sub.Filter)
			gone = append(gone, sub.Filter)
		}
	}
	if len(gone) > 0 {
		s.emit(Event{Kind: EventSubscribed, Topics: gone, Err: err})
	}
}

// Tick fires expired timers: the CONNACK timeout, keepalive pings and
// their timeout, and retransmissions.
func (s *Session) Tick(now time.Time) {
	switch s.state {
	case Connecting:
		if !s.connackDeadline.IsZero() && !now.Before(s.connackDeadline) {
			s.lose(fmt.Errorf("%w: no CONNACK within %s", ErrConnectRefused, s.cfg.ConnectTimeout), now)
		}
	case Connected:
		if s.keepAlive > 0 {
			if !s.pingSent.IsZero() {
				if !now.Before(s.pingSent.Add(s.keepAlive)) {
					s.lose(ErrKeepaliveTimeout, now)
					return
				}
			} else if !now.Before(s.lastSend.Add(s.keepAlive)) {
				s.send(&packets.PingreqPacket{}, now)
				s.pingSent = now
			}
		}
		s.retry(now)
	}
}

// NextDeadline returns the earliest time Tick has work to do, or the zero
// time if no timer is armed.
func (s *Session) NextDeadline(now time.Time) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	switch s.state {
	case Connecting:
		consider(s.connackDeadline)
	case Connected:
		if s.keepAlive > 0 {
			if !s.pingSent.IsZero() {
				consider(s.pingSent.Add(s.keepAlive))
			} else {
				consider(s.lastSend.Add(s.keepAlive))
			}
		}
		for _, e := range s.exchanges {
			if e.dir == store.Outbound && e.sent {
				consider(e.lastSend.Add(s.cfg.Retry.wait(e.retries)))
			}
		}
	}
	return next
}

// HandlePacket applies an inbound packet. A non-nil error is a protocol
// violation; the session has already dropped to Disconnected.
func (s *Session) HandlePacket(pkt packets.Packet, now time.Time) error {
	switch s.state {
	case Connecting:
		if p, ok := pkt.(*packets.ConnackPacket); ok {
			s.handleConnack(p, now)
			return nil
		}
		return s.violation(pkt, now)
	case Connected:
	case Disconnecting:
		// Only waiting for the transport to close.
		return nil
	default:
		return nil
	}

	switch p := pkt.(type) {
	case *packets.PublishPacket:
		s.handlePublish(p, now)
	case *packets.PubackPacket:
		s.handlePuback(p)
	case *packets.PubrecPacket:
		s.handlePubrec(p, now)
	case *packets.PubrelPacket:
		s.handlePubrel(p, now)
	case *packets.PubcompPacket:
		s.handlePubcomp(p)
	case *packets.SubackPacket:
		s.handleSuback(p)
	case *packets.UnsubackPacket:
		s.handleUnsuback(p)
	case *packets.PingrespPacket:
		s.pingSent = time.Time{}
	case *packets.DisconnectPacket:
		s.handleDisconnect(p, now)
	default:
		return s.violation(pkt, now)
	}
	return nil
}

func (s *Session) violation(pkt packets.Packet, now time.Time) error {
	err := fmt.Errorf("%w: unexpected %s while %s", ErrProtocol, packets.PacketNames[pkt.Type()], s.state)
	s.lose(err, now)
	return err
}

func (s *Session) handleConnack(p *packets.ConnackPacket, now time.Time) {
	if !p.Accepted() {
		ce := &ConnectError{ReasonCode: p.ReturnCode}
		if p.Properties.Has(packets.PropReasonString) {
			ce.Reason = p.Properties.ReasonString
		}
		s.lose(ce, now)
		return
	}

	s.connackDeadline = time.Time{}
	s.sessionPresent = p.SessionPresent
	s.keepAlive = s.cfg.KeepAlive
	if props := p.Properties; props != nil {
		if props.Has(packets.PropServerKeepAlive) {
			s.keepAlive = time.Duration(props.ServerKeepAlive) * time.Second
		}
		if props.Has(packets.PropAssignedClientIdentifier) {
			s.assignedID = props.AssignedClientIdentifier
		}
	}
	s.lastSend = now
	s.setState(Connected, nil)
	s.resume(now)
}

func (s *Session) handleDisconnect(p *packets.DisconnectPacket, now time.Time) {
	err := reasonError(packets.DISCONNECT, p.ReasonCode, p.Properties, ErrTransportClosed)
	if p.Properties.Has(packets.PropServerReference) {
		s.logger.Info("server suggested another server", "reference", p.Properties.ServerReference)
	}
	s.lose(err, now)
}

// allocID returns the next free packet identifier, wrapping at 65535 and
// skipping 0.
func (s *Session) allocID() (uint16, error) {
	for range 65535 {
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if !s.idInUse(s.nextID) {
			return s.nextID, nil
		}
	}
	return 0, ErrPacketIDExhausted
}

func (s *Session) idInUse(id uint16) bool {
	if _, ok := s.exchanges[exchangeKey{store.Outbound, id}]; ok {
		return true
	}
	_, ok := s.requests[id]
	return ok
}
