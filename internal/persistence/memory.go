package persistence

import "sync"

// Memory is the obligatory in-memory Store, holding everything in Go
// maps behind one mutex. It is the default backend and what tests use.
type Memory struct {
	mu sync.Mutex

	subs      map[string][]StoredSubscription
	incoming  map[string]map[uint16]bool
	outgoing  map[string][]StoredPublish
	inflight  map[string]map[uint16]StoredPublish
	retained  map[string]RetainedRecord
}

func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string][]StoredSubscription),
		incoming: make(map[string]map[uint16]bool),
		outgoing: make(map[string][]StoredPublish),
		inflight: make(map[string]map[uint16]StoredPublish),
		retained: make(map[string]RetainedRecord),
	}
}

func (m *Memory) ClientUIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for uid := range m.subs {
		seen[uid] = true
	}
	for uid := range m.outgoing {
		seen[uid] = true
	}
	for uid := range m.inflight {
		seen[uid] = true
	}
	uids := make([]string, 0, len(seen))
	for uid := range seen {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (m *Memory) ForgetClient(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, uid)
	delete(m.incoming, uid)
	delete(m.outgoing, uid)
	delete(m.inflight, uid)
	return nil
}

func (m *Memory) SaveSubscriptions(uid string, subs []StoredSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]StoredSubscription(nil), subs...)
	m.subs[uid] = cp
	return nil
}

func (m *Memory) LoadSubscriptions(uid string) ([]StoredSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredSubscription(nil), m.subs[uid]...), nil
}

func (m *Memory) MarkIncomingPacketID(uid string, id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incoming[uid] == nil {
		m.incoming[uid] = make(map[uint16]bool)
	}
	m.incoming[uid][id] = true
	return nil
}

func (m *Memory) IsIncomingPacketIDKnown(uid string, id uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incoming[uid][id], nil
}

func (m *Memory) ClearIncomingPacketID(uid string, id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.incoming[uid], id)
	return nil
}

func (m *Memory) EnqueueOutgoing(uid string, p StoredPublish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outgoing[uid] = append(m.outgoing[uid], p)
	return nil
}

func (m *Memory) NextOutgoing(uid string) (StoredPublish, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.outgoing[uid]
	if len(q) == 0 {
		return StoredPublish{}, false, nil
	}
	p := q[0]
	m.outgoing[uid] = q[1:]
	return p, true, nil
}

// AllOutgoing is a non-destructive peek at the pending queue, used to
// restore a session's in-memory queue without consuming the durable copy.
func (m *Memory) AllOutgoing(uid string) ([]StoredPublish, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredPublish(nil), m.outgoing[uid]...), nil
}

func (m *Memory) SetInflight(uid string, p StoredPublish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[uid] == nil {
		m.inflight[uid] = make(map[uint16]StoredPublish)
	}
	m.inflight[uid][p.PacketID] = p
	return nil
}

func (m *Memory) AllInflight(uid string) ([]StoredPublish, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredPublish, 0, len(m.inflight[uid]))
	for _, p := range m.inflight[uid] {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) SetSent(uid string, id uint16, sent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.inflight[uid][id]
	if !ok {
		return nil
	}
	p.Sent = sent
	m.inflight[uid][id] = p
	return nil
}

func (m *Memory) IsSent(uid string, id uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[uid][id].Sent, nil
}

func (m *Memory) SetPubConf(uid string, id uint16, conf bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.inflight[uid][id]
	if !ok {
		return nil
	}
	p.PubConf = conf
	m.inflight[uid][id] = p
	return nil
}

func (m *Memory) IsPubConf(uid string, id uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[uid][id].PubConf, nil
}

func (m *Memory) RemoveOutgoing(uid string, id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight[uid], id)
	return nil
}

func (m *Memory) SetRetained(topic string, rec RetainedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retained[topic] = rec
	return nil
}

func (m *Memory) DeleteRetained(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.retained, topic)
	return nil
}

func (m *Memory) AllRetained() (map[string]RetainedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]RetainedRecord, len(m.retained))
	for k, v := range m.retained {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
