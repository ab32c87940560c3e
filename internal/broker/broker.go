// Package broker implements the single dispatcher goroutine that owns
// the subscription tree, retained store, and session registry (§5): all
// mutation is serialized through Broker.Run, reached only via the
// exported methods (Connect, Disconnect, Subscribe, Publish, the Ack*
// methods, NextOutgoing, ...), which submit a closure and block until it
// has run.
package broker

import (
	"context"
	"log/slog"
	"slices"

	"github.com/pyr33x/goqttd/internal/bridge"
	"github.com/pyr33x/goqttd/internal/metrics"
	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/persistence"
	"github.com/pyr33x/goqttd/internal/retained"
	"github.com/pyr33x/goqttd/internal/session"
	"github.com/pyr33x/goqttd/internal/subscription"
)

// entry is the registry's view of one client: its session state plus a
// notify channel the transport's writer goroutine blocks on.
type entry struct {
	sess   *session.Session
	notify chan struct{}
}

func (e *entry) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Broker owns all shared broker state and serializes access to it
// through a single goroutine reading from cmds.
type Broker struct {
	tree     *subscription.Tree
	retained *retained.Store
	store    persistence.Store
	sink     bridge.Sink
	log      Logger

	maxInflight int

	entries map[string]*entry
	cmds    chan func()
}

// Logger is the narrow slice of *logger.Logger this package depends on,
// so tests can pass a stub.
type Logger interface {
	Info(msg string, attrs ...slog.Attr)
	Warn(msg string, attrs ...slog.Attr)
	Error(msg string, attrs ...slog.Attr)
	Debug(msg string, attrs ...slog.Attr)
}

func New(store persistence.Store, sink bridge.Sink, log Logger, maxInflight int) *Broker {
	if sink == nil {
		sink = bridge.NopSink{}
	}
	if maxInflight <= 0 {
		maxInflight = 20
	}
	return &Broker{
		tree:        subscription.New(),
		retained:    retained.New(),
		store:       store,
		sink:        sink,
		log:         log,
		maxInflight: maxInflight,
		entries:     make(map[string]*entry),
		cmds:        make(chan func(), 256),
	}
}

// Run processes submitted commands until ctx is cancelled. It must run
// in its own goroutine; every mutation of tree/retained/entries happens
// here and nowhere else.
func (b *Broker) Run(ctx context.Context) {
	b.restoreRetained()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-b.cmds:
			fn()
		}
	}
}

func (b *Broker) restoreRetained() {
	all, err := b.store.AllRetained()
	if err != nil {
		b.log.Error("failed to restore retained messages", slog.Any("error", err))
		return
	}
	for topicName, rec := range all {
		b.retained.Set(topicName, rec.Payload, rec.QoS, rec.Origin)
	}
	metrics.RetainedMessages.Set(float64(len(all)))
}

// submit runs fn on the dispatcher goroutine and blocks until it
// completes.
func (b *Broker) submit(fn func()) {
	done := make(chan struct{})
	b.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// Connect registers a new or resumed session for clientID. cleanSession
// decides whether any previously persisted state for this client is
// discarded (true) or resumed (false, returning sessionPresent=true when
// state existed). The caller (transport) owns deciding reconnection
// replaces an existing live connection.
func (b *Broker) Connect(clientID string, cleanSession bool, will *session.Will, authz session.Authorization, keepAlive uint16) (sess *session.Session, notify <-chan struct{}, sessionPresent bool) {
	b.submit(func() {
		if existing, ok := b.entries[clientID]; ok {
			existing.sess.Connected = false
			if cleanSession {
				b.teardownLocked(clientID)
			}
		}

		if cleanSession {
			_ = b.store.ForgetClient(clientID)
		}

		e, ok := b.entries[clientID]
		if !ok {
			s := session.New(clientID, cleanSession, b.maxInflight)
			if !cleanSession {
				subs, _ := b.store.LoadSubscriptions(clientID)
				for _, sub := range subs {
					b.tree.Insert(sub.Filter, clientID, sub.QoS)
				}
				sessionPresent = len(subs) > 0
				b.restoreOutgoingLocked(clientID, s)
			}
			e = &entry{sess: s, notify: make(chan struct{}, 1)}
			b.entries[clientID] = e
		} else {
			sessionPresent = true
			e.sess.Reattach()
		}

		e.sess.Connected = true
		e.sess.Will = will
		e.sess.Authz = authz
		e.sess.KeepAlive = keepAlive
		sess = e.sess
		notify = e.notify
		metrics.ClientsConnected.Inc()
	})
	return sess, notify, sessionPresent
}

// Disconnect marks clientID's session as disconnected, publishing its
// last will unless graceful is true, and tearing down all state if the
// session is clean.
func (b *Broker) Disconnect(clientID string, graceful bool) {
	b.submit(func() {
		e, ok := b.entries[clientID]
		if !ok {
			return
		}
		e.sess.Connected = false
		metrics.ClientsConnected.Dec()

		if !graceful && e.sess.Will != nil {
			b.publishLocked(e.sess.Will.Topic, e.sess.Will.Payload, e.sess.Will.QoS, e.sess.Will.Retain, clientID)
		}

		if e.sess.CleanSession {
			b.teardownLocked(clientID)
		} else {
			b.persistSessionLocked(clientID, e.sess)
		}
	})
}

// DisconnectAll disconnects every currently connected session, publishing
// last wills unless graceful is true. Used on broker shutdown so
// non-clean sessions see their will fire and clean sessions get torn
// down rather than left dangling in the registry.
func (b *Broker) DisconnectAll(graceful bool) {
	b.submit(func() {
		for clientID, e := range b.entries {
			if !e.sess.Connected {
				continue
			}
			e.sess.Connected = false
			metrics.ClientsConnected.Dec()

			if !graceful && e.sess.Will != nil {
				b.publishLocked(e.sess.Will.Topic, e.sess.Will.Payload, e.sess.Will.QoS, e.sess.Will.Retain, clientID)
			}

			if e.sess.CleanSession {
				b.teardownLocked(clientID)
			} else {
				b.persistSessionLocked(clientID, e.sess)
			}
		}
	})
}

func (b *Broker) teardownLocked(clientID string) {
	b.tree.RemoveAll(clientID)
	delete(b.entries, clientID)
	_ = b.store.ForgetClient(clientID)
}

func (b *Broker) persistSessionLocked(clientID string, sess *session.Session) {
	// Subscriptions, the outgoing queue, inflight records, and incoming
	// QoS2 dedup state are all maintained incrementally as they change
	// (Subscribe/Unsubscribe, enqueuePublish, MarkSent, AckPubRec,
	// AckPubAck/AckPubComp, Publish/CompleteIncomingQoS2); nothing else
	// to flush here.
	_ = sess
}

// restoreOutgoingLocked rebuilds a freshly created non-clean session's
// outgoing queue from the store, used when a client with persisted state
// reconnects after a broker restart (within one process lifetime the
// entry simply stays in b.entries and this never runs). Records not yet
// sent are requeued as ordinary pending publishes; inflight records
// resume at their original packet id, as a PUBREL resend if PUBREC was
// already persisted, otherwise as a DUP PUBLISH resend if it had been
// sent at least once, or a plain first send if it had not.
func (b *Broker) restoreOutgoingLocked(clientID string, s *session.Session) {
	pending, _ := b.store.AllOutgoing(clientID)
	for _, sp := range pending {
		s.EnqueuePublish(&packet.PublishPacket{Topic: sp.Topic, Payload: sp.Payload, QoS: sp.QoS, Retain: sp.Retain})
	}

	inflightRecs, _ := b.store.AllInflight(clientID)
	for _, sp := range inflightRecs {
		sent, _ := b.store.IsSent(clientID, sp.PacketID)
		pubconf, _ := b.store.IsPubConf(clientID, sp.PacketID)
		pub := &packet.PublishPacket{Topic: sp.Topic, Payload: sp.Payload, QoS: sp.QoS, Retain: sp.Retain}
		s.RestoreInflight(sp.PacketID, pub, sent, pubconf)
	}
}

// Subscribe applies a SUBSCRIBE on behalf of clientID and returns one
// SUBACK return code per requested filter, in order, per §4.6: an
// unauthorized filter is granted SubAckFailure rather than aborting the
// whole request.
func (b *Broker) Subscribe(clientID string, filters []packet.Filter) []byte {
	var codes []byte
	b.submit(func() {
		e, ok := b.entries[clientID]
		if !ok {
			codes = make([]byte, len(filters))
			for i := range codes {
				codes[i] = packet.SubAckFailure
			}
			return
		}

		codes = make([]byte, len(filters))
		var toPersist []persistence.StoredSubscription
		for i, f := range filters {
			if !e.sess.Authz.CanSubscribe(f.Topic) {
				codes[i] = packet.SubAckFailure
				continue
			}

			first := b.tree.Insert(f.Topic, clientID, f.QoS)
			if first {
				b.sink.NewSubscription(f.Topic, f.QoS)
			}
			codes[i] = subAckCode(f.QoS)
			toPersist = append(toPersist, persistence.StoredSubscription{Filter: f.Topic, QoS: f.QoS})

			for topicName, msg := range b.retained.Match(f.Topic) {
				deliverQoS := minQoS(msg.QoS, f.QoS)
				b.enqueuePublish(clientID, e, topicName, msg.Payload, deliverQoS, true, false)
			}
		}

		if !e.sess.CleanSession && len(toPersist) > 0 {
			stored, _ := b.store.LoadSubscriptions(clientID)
			for _, s := range toPersist {
				replaced := false
				for i := range stored {
					if stored[i].Filter == s.Filter {
						stored[i] = s
						replaced = true
					}
				}
				if !replaced {
					stored = append(stored, s)
				}
			}
			_ = b.store.SaveSubscriptions(clientID, stored)
		}
	})
	return codes
}

func subAckCode(qos packet.QoS) byte {
	switch qos {
	case packet.QoS1:
		return packet.SubAckMaxQoS1
	case packet.QoS2:
		return packet.SubAckMaxQoS2
	default:
		return packet.SubAckMaxQoS0
	}
}

// Unsubscribe removes clientID's subscriptions to each filter.
func (b *Broker) Unsubscribe(clientID string, filters []string) {
	b.submit(func() {
		for _, f := range filters {
			b.tree.Remove(f, clientID)
		}
		if e, ok := b.entries[clientID]; ok && !e.sess.CleanSession {
			stored, _ := b.store.LoadSubscriptions(clientID)
			kept := stored[:0]
			for _, s := range stored {
				if !slices.Contains(filters, s.Filter) {
					kept = append(kept, s)
				}
			}
			_ = b.store.SaveSubscriptions(clientID, kept)
		}
	})
}

// Publish fans a PUBLISH out to every matching subscriber, updates the
// retained store, and notifies the bridge sink, per §4.1/§4.4.
func (b *Broker) Publish(fromClientID string, p *packet.PublishPacket) error {
	e, hasEntry := b.entryOf(fromClientID)
	if hasEntry && !e.sess.Authz.CanPublish(p.Topic) {
		metrics.PublishesDroppedUnauthorized.Inc()
		b.log.Warn("dropped unauthorized publish", slog.String("client_id", fromClientID), slog.String("topic", p.Topic))
		return nil
	}

	b.submit(func() {
		if p.QoS == packet.QoS2 && hasEntry && p.PacketID != nil {
			id := *p.PacketID
			dup := !e.sess.MarkIncomingQoS2(id)
			if !dup && !e.sess.CleanSession {
				// Consult the persisted dedup set too: a broker restart
				// rebuilds the session with an empty in-memory set, so a
				// retransmit of an id marked before the restart would
				// otherwise look fresh again.
				if known, _ := b.store.IsIncomingPacketIDKnown(fromClientID, id); known {
					dup = true
				} else {
					_ = b.store.MarkIncomingPacketID(fromClientID, id)
				}
			}
			if dup {
				// DUP retransmit of a QoS2 publish already fanned out;
				// the caller still acks it, but we must not deliver twice.
				return
			}
		}

		if p.Retain {
			b.retained.Set(p.Topic, p.Payload, p.QoS, fromClientID)
			if len(p.Payload) == 0 {
				_ = b.store.DeleteRetained(p.Topic)
			} else {
				_ = b.store.SetRetained(p.Topic, persistence.RetainedRecord{
					Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Origin: fromClientID,
				})
			}
			metrics.RetainedMessages.Set(float64(len(b.retained.All())))
		}
		b.publishLocked(p.Topic, p.Payload, p.QoS, p.Retain, fromClientID)
	})
	return nil
}

// CompleteIncomingQoS2 releases the packet id reserved by an inbound QoS2
// PUBLISH once its PUBREL has arrived.
func (b *Broker) CompleteIncomingQoS2(clientID string, id uint16) {
	b.submit(func() {
		if e, ok := b.entries[clientID]; ok {
			e.sess.ClearIncomingQoS2(id)
			if !e.sess.CleanSession {
				_ = b.store.ClearIncomingPacketID(clientID, id)
			}
		}
	})
}

func (b *Broker) publishLocked(topicName string, payload []byte, qos packet.QoS, retain bool, origin string) {
	subs := b.tree.Match(topicName)
	for clientID, subQoS := range subs {
		e, ok := b.entries[clientID]
		if !ok {
			continue
		}
		if !e.sess.Connected && minQoS(qos, subQoS) == packet.QoS0 {
			continue
		}
		b.enqueuePublish(clientID, e, topicName, payload, minQoS(qos, subQoS), retain, false)
	}
	b.sink.Publish(bridge.Publication{Topic: topicName, QoS: qos, Payload: payload, Retain: retain, Origin: origin})
}

func (b *Broker) enqueuePublish(clientID string, e *entry, topicName string, payload []byte, qos packet.QoS, retain, dup bool) {
	e.sess.EnqueuePublish(&packet.PublishPacket{
		DUP:     dup,
		QoS:     qos,
		Retain:  retain,
		Topic:   topicName,
		Payload: payload,
	})
	if qos > packet.QoS0 {
		metrics.QoSMessagesInflight.WithLabelValues(qosLabel(qos)).Inc()
		if !e.sess.CleanSession {
			_ = b.store.EnqueueOutgoing(clientID, persistence.StoredPublish{
				Topic: topicName, Payload: payload, QoS: qos, Retain: retain,
			})
		}
	}
	e.wake()
}

func qosLabel(qos packet.QoS) string {
	switch qos {
	case packet.QoS1:
		return "1"
	case packet.QoS2:
		return "2"
	default:
		return "0"
	}
}

func (b *Broker) entryOf(clientID string) (*entry, bool) {
	var e *entry
	var ok bool
	b.submit(func() {
		e, ok = b.entries[clientID]
	})
	return e, ok
}

// AckPubAck/AckPubRec/AckPubComp complete the QoS1/QoS2 handshake state
// for a given client and packet id.
func (b *Broker) AckPubAck(clientID string, id uint16) {
	b.submit(func() {
		if e, ok := b.entries[clientID]; ok {
			e.sess.AckPubAck(id)
			if !e.sess.CleanSession {
				_ = b.store.RemoveOutgoing(clientID, id)
			}
		}
	})
}

func (b *Broker) AckPubRec(clientID string, id uint16) {
	b.submit(func() {
		if e, ok := b.entries[clientID]; ok {
			e.sess.AckPubRec(id)
			if !e.sess.CleanSession {
				_ = b.store.SetPubConf(clientID, id, true)
			}
			e.wake()
		}
	})
}

func (b *Broker) AckPubComp(clientID string, id uint16) {
	b.submit(func() {
		if e, ok := b.entries[clientID]; ok {
			e.sess.AckPubComp(id)
			if !e.sess.CleanSession {
				_ = b.store.RemoveOutgoing(clientID, id)
			}
		}
	})
}

// ClearWill discards clientID's registered last will, called on graceful
// DISCONNECT (MQTT-3.1.2-10).
func (b *Broker) ClearWill(clientID string) {
	b.submit(func() {
		if e, ok := b.entries[clientID]; ok {
			e.sess.Will = nil
		}
	})
}

// Retry is called by a session's per-packet-id retry timer; it
// retransmits only the record whose deadline fired, not the whole
// session's inflight window.
func (b *Broker) Retry(clientID string, id uint16) {
	b.submit(func() {
		e, ok := b.entries[clientID]
		if !ok {
			return
		}
		e.sess.Retry(id)
		e.wake()
	})
}

// EnqueueControl queues a non-PUBLISH packet (PUBACK, PUBREC, PUBCOMP,
// SUBACK, UNSUBACK, PINGRESP) for clientID. Transport must route every
// session mutation through the dispatcher goroutine rather than calling
// session.Session methods directly, since the dispatcher also touches
// the same session concurrently.
func (b *Broker) EnqueueControl(clientID string, p packet.Packet) {
	b.submit(func() {
		e, ok := b.entries[clientID]
		if !ok {
			return
		}
		e.sess.EnqueueControl(p)
		e.wake()
	})
}

// NextOutgoing pops the next packet to write for clientID, or nil if
// there is nothing ready right now.
func (b *Broker) NextOutgoing(clientID string) (packet.Packet, *uint16) {
	var pkt packet.Packet
	var id *uint16
	b.submit(func() {
		e, ok := b.entries[clientID]
		if !ok {
			return
		}
		before := e.sess.InflightCount()
		p, pid, err := e.sess.NextOutgoing()
		if err != nil {
			b.log.Error("packet id space exhausted", slog.String("client_id", clientID), slog.Any("error", err))
			return
		}
		pkt, id = p, pid

		// A packet id newly present in the inflight window (as opposed to
		// a resend of one already there) means a pending record was just
		// promoted: move its persisted copy from the pending queue to the
		// inflight record.
		if pid != nil && !e.sess.CleanSession && e.sess.InflightCount() > before {
			if pub, isPublish := p.(*packet.PublishPacket); isPublish {
				_, _, _ = b.store.NextOutgoing(clientID)
				_ = b.store.SetInflight(clientID, persistence.StoredPublish{
					Topic: pub.Topic, Payload: pub.Payload, QoS: pub.QoS, Retain: pub.Retain, PacketID: *pid,
				})
			}
		}
	})
	return pkt, id
}

// MarkSent records that the packet for id has been written to the wire
// and arms its retransmission timer.
func (b *Broker) MarkSent(clientID string, id *uint16) {
	b.submit(func() {
		e, ok := b.entries[clientID]
		if !ok {
			return
		}
		e.sess.MarkSent(id, func(timedOutID uint16) { b.Retry(clientID, timedOutID) })
		if id != nil && !e.sess.CleanSession {
			_ = b.store.SetSent(clientID, *id, true)
		}
	})
}

func minQoS(a, b packet.QoS) packet.QoS {
	if a < b {
		return a
	}
	return b
}
