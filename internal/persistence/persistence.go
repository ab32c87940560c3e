// Package persistence defines the broker's durable-state interface (§6)
// and two implementations: an in-memory store used by default and in
// tests, and a bbolt-backed store for restart survival.
package persistence

import "github.com/pyr33x/goqttd/internal/packet"

// StoredPublish is the durable shape of a queued or inflight PUBLISH.
type StoredPublish struct {
	Topic    string
	Payload  []byte
	QoS      packet.QoS
	Retain   bool
	PacketID uint16
	Sent     bool // true once written to the wire, awaiting ack
	PubConf  bool // true once PUBREC has been received (QoS2 only)
}

// StoredSubscription is a durable (filter, qos) pair owned by a client.
type StoredSubscription struct {
	Filter string
	QoS    packet.QoS
}

// RetainedRecord is a durable retained message, keyed by topic name.
type RetainedRecord struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
	Origin  string
}

// Store is the durable-state interface a broker persistence backend must
// satisfy. Every method is scoped to a single client uid except the
// retained-message and client-uid operations, which are broker-wide.
type Store interface {
	// Client identity.
	ClientUIDs() ([]string, error)
	ForgetClient(uid string) error

	// Subscriptions.
	SaveSubscriptions(uid string, subs []StoredSubscription) error
	LoadSubscriptions(uid string) ([]StoredSubscription, error)

	// Incoming QoS2 packet ids already seen (dedup across reconnects).
	MarkIncomingPacketID(uid string, id uint16) error
	IsIncomingPacketIDKnown(uid string, id uint16) (bool, error)
	ClearIncomingPacketID(uid string, id uint16) error

	// Outgoing publish queue: pending, inflight, and their ack state.
	EnqueueOutgoing(uid string, p StoredPublish) error
	NextOutgoing(uid string) (StoredPublish, bool, error)
	AllOutgoing(uid string) ([]StoredPublish, error)
	SetInflight(uid string, p StoredPublish) error
	AllInflight(uid string) ([]StoredPublish, error)
	SetSent(uid string, id uint16, sent bool) error
	IsSent(uid string, id uint16) (bool, error)
	SetPubConf(uid string, id uint16, conf bool) error
	IsPubConf(uid string, id uint16) (bool, error)
	RemoveOutgoing(uid string, id uint16) error

	// Retained messages, broker-wide.
	SetRetained(topic string, rec RetainedRecord) error
	DeleteRetained(topic string) error
	AllRetained() (map[string]RetainedRecord, error)

	Close() error
}
