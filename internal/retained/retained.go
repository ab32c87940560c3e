// Package retained holds the broker's retained-message store: one slot
// per topic name, last writer wins (MQTT-3.3.1-10/11).
package retained

import (
	"sync"

	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/topic"
)

// Message is a retained PUBLISH payload together with the origin that
// last set it.
type Message struct {
	Payload []byte
	QoS     packet.QoS
	Origin  string
}

// Store is a flat topic -> Message map guarded by a single mutex. The
// broker only ever touches it from its dispatcher goroutine; the lock
// keeps it safe for callers on other goroutines as well.
type Store struct {
	mu   sync.RWMutex
	msgs map[string]Message
}

func New() *Store {
	return &Store{msgs: make(map[string]Message)}
}

// Set stores or erases the retained message for topic. A zero-length
// payload erases any retained message at that topic (MQTT-3.3.1-10/11)
// rather than storing an empty payload.
func (s *Store) Set(topicName string, payload []byte, qos packet.QoS, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		delete(s.msgs, topicName)
		return
	}
	s.msgs[topicName] = Message{Payload: payload, QoS: qos, Origin: origin}
}

// Get returns the retained message stored for an exact topic name, if any.
func (s *Store) Get(topicName string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[topicName]
	return m, ok
}

// Match returns every retained message whose topic name satisfies filter,
// for replay to a client that just subscribed to it. $-prefixed topics
// are excluded from wildcard-leading filters per MQTT-4.7.2-1.
func (s *Store) Match(filter string) map[string]Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Message)
	for topicName, msg := range s.msgs {
		if topic.Matches(filter, topicName) {
			out[topicName] = msg
		}
	}
	return out
}

// All returns a copy of every retained message currently held (the
// broker uses it to count them for metrics).
func (s *Store) All() map[string]Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Message, len(s.msgs))
	for k, v := range s.msgs {
		out[k] = v
	}
	return out
}
