package store

import (
	"sort"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps session state in process memory. It survives client
// restarts within one process, which is what tests and host bindings that
// recreate clients need.
type MemoryStore struct {
	mu        sync.Mutex
	exchanges map[string]Exchange
	subs      map[string]Subscription
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exchanges: make(map[string]Exchange),
		subs:      make(map[string]Subscription),
	}
}

func (m *MemoryStore) SaveExchange(e *Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	m.exchanges[e.Key()] = c
	return nil
}

func (m *MemoryStore) DeleteExchange(dir Direction, packetID uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.exchanges, key(dir, packetID))
	return nil
}

func (m *MemoryStore) LoadExchanges() ([]*Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Exchange, 0, len(m.exchanges))
	for _, e := range m.exchanges {
		c := e
		out = append(out, &c)
	}
	sortExchanges(out)
	return out, nil
}

func (m *MemoryStore) SaveSubscription(s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.Filter] = *s
	return nil
}

func (m *MemoryStore) DeleteSubscription(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, filter)
	return nil
}

func (m *MemoryStore) LoadSubscriptions() ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		c := s
		out = append(out, &c)
	}
	sortSubscriptions(out)
	return out, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.exchanges)
	clear(m.subs)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortExchanges(es []*Exchange) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Direction != es[j].Direction {
			return es[i].Direction < es[j].Direction
		}
		return es[i].PacketID < es[j].PacketID
	})
}

func sortSubscriptions(ss []*Subscription) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].Filter < ss[j].Filter })
}
