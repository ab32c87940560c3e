// Package session models one client's connection state: identity, will,
// subscription ownership, and the outgoing delivery queue. It is
// deliberately connection-agnostic: only internal/broker drives Session,
// from its dispatcher goroutine, on behalf of internal/transport's
// reader/writer goroutines.
package session

import (
	"time"

	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/topic"
	"github.com/pyr33x/goqttd/pkg/er"
)

var errPacketIdsDepleted = er.New("Session", er.KindPacketIdsDepleted, er.ErrPacketIdsDepleted)

// Will describes a last-will publication registered at CONNECT time.
type Will struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
	Retain  bool
}

// Authorization is the set of publish/subscribe permissions granted to a
// session by its Authenticator, per §6. A nil slice of masks paired with
// All true means unrestricted; All false with an empty slice means no
// permissions at all.
type Authorization struct {
	PublishAll     bool
	PublishMasks   []string
	SubscribeAll   bool
	SubscribeMasks []string
}

func (a Authorization) CanPublish(topicName string) bool {
	if a.PublishAll {
		return true
	}
	for _, m := range a.PublishMasks {
		if topic.Matches(m, topicName) {
			return true
		}
	}
	return false
}

func (a Authorization) CanSubscribe(filter string) bool {
	if a.SubscribeAll {
		return true
	}
	for _, m := range a.SubscribeMasks {
		if m == filter || topic.Matches(m, filter) {
			return true
		}
	}
	return false
}

// outgoingPhase tracks where an inflight QoS1/QoS2 record sits in its
// handshake: phasePublish while waiting on PUBACK (QoS1) or PUBREC
// (QoS2), phasePubrel after PUBREC has arrived and only PUBCOMP is
// outstanding.
type outgoingPhase int

const (
	phasePublish outgoingPhase = iota
	phasePubrel
)

type outgoingItem struct {
	ready   packet.Packet // set for plain ready-queue items (QoS0, control replies)
	publish *packet.PublishPacket
	phase   outgoingPhase
	sent    bool
	timer   *time.Timer
}

// Session is the broker's view of one connected (or disconnected, for a
// persistent non-clean session) client.
type Session struct {
	ClientID     string
	CleanSession bool
	Will         *Will
	KeepAlive    uint16

	Authz Authorization

	// Connected is false while a persistent session has no live
	// connection attached; the outgoing queue still accumulates.
	Connected bool

	maxInflight int
	nextID      uint16
	usedIDs     map[uint16]bool

	pending   []*outgoingItem
	inflight  map[uint16]*outgoingItem
	ready     []*outgoingItem
	sendQueue []uint16 // ids with an inflight record due for (re)transmission

	// incomingQoS2 tracks packet ids of QoS2 PUBLISHes received but not
	// yet released by PUBREL, so a DUP retransmit is acknowledged again
	// without being re-delivered to subscribers (MQTT-4.3.3-2).
	incomingQoS2 map[uint16]bool

	// RetryAfter is how long an unacknowledged QoS>=1 packet waits
	// before retransmission; zero disables retry timers (tests).
	RetryAfter time.Duration
}

// New creates a session with the given client id and inflight window.
func New(clientID string, cleanSession bool, maxInflight int) *Session {
	if maxInflight <= 0 {
		maxInflight = 20
	}
	return &Session{
		ClientID:     clientID,
		CleanSession: cleanSession,
		maxInflight:  maxInflight,
		nextID:       1,
		usedIDs:      make(map[uint16]bool),
		inflight:     make(map[uint16]*outgoingItem),
		RetryAfter:   30 * time.Second,
	}
}

// EnqueuePublish appends a PUBLISH for delivery to this session at qos.
// QoS 0 publishes go straight to the ready queue since they never need a
// packet id or acknowledgement.
func (s *Session) EnqueuePublish(p *packet.PublishPacket) {
	if p.QoS == packet.QoS0 {
		s.ready = append(s.ready, &outgoingItem{ready: p})
		return
	}
	s.pending = append(s.pending, &outgoingItem{publish: p})
}

// EnqueueControl appends a non-PUBLISH packet (SUBACK, UNSUBACK, PUBACK,
// PUBREC, PUBREL, PUBCOMP, PINGRESP) that needs no packet-id bookkeeping
// of its own because it already carries the id of the packet it answers.
func (s *Session) EnqueueControl(p packet.Packet) {
	s.ready = append(s.ready, &outgoingItem{ready: p})
}

// nextPacketID allocates the next free id in 1..65535, skipping ids
// currently inflight, cycling back to 1 after 65535. It reports
// ErrPacketIdsDepleted via ok=false when every id is in use.
func (s *Session) nextPacketID() (uint16, bool) {
	if len(s.inflight) >= 65535 {
		return 0, false
	}
	start := s.nextID
	for {
		id := s.nextID
		if s.nextID == 65535 {
			s.nextID = 1
		} else {
			s.nextID++
		}
		if !s.usedIDs[id] && id != 0 {
			return id, true
		}
		if s.nextID == start {
			return 0, false
		}
	}
}

// NextOutgoing returns the next packet this session should write, moving
// it into the inflight/ready bookkeeping as needed, or nil if there is
// nothing to send right now (inflight window full and nothing ready).
// Callers must call MarkSent once the bytes have actually been written.
//
// Order: plain ready items (QoS0 publishes, control replies) first, then
// any inflight record due for (re)transmission (a PUBLISH retry or a
// PUBREL send/resend queued by AckPubRec/Retry/Reattach), then a fresh
// pending publish if the inflight window has room.
func (s *Session) NextOutgoing() (packet.Packet, *uint16, error) {
	if len(s.ready) > 0 {
		item := s.ready[0]
		s.ready = s.ready[1:]
		return item.ready, nil, nil
	}

	for len(s.sendQueue) > 0 {
		id := s.sendQueue[0]
		s.sendQueue = s.sendQueue[1:]
		item, ok := s.inflight[id]
		if !ok {
			continue // acknowledged before its queued send was reached
		}
		switch item.phase {
		case phasePublish:
			return item.publish, &id, nil
		case phasePubrel:
			return &packet.PubRelPacket{PacketID: id}, &id, nil
		}
	}

	if len(s.pending) > 0 && len(s.inflight) < s.maxInflight {
		id, ok := s.nextPacketID()
		if !ok {
			return nil, nil, errPacketIdsDepleted
		}
		item := s.pending[0]
		s.pending = s.pending[1:]
		item.publish.PacketID = &id
		s.usedIDs[id] = true
		s.inflight[id] = item
		return item.publish, &id, nil
	}

	return nil, nil, nil
}

// MarkSent records that the packet for packetID (nil for ready/QoS0
// items) has been written to the wire. For an inflight record (a QoS>=1
// PUBLISH or its PUBREL) it arms a retransmission timer that calls
// onTimeout(id) if no acknowledgement arrives in time.
func (s *Session) MarkSent(packetID *uint16, onTimeout func(id uint16)) {
	if packetID == nil {
		return
	}
	item, ok := s.inflight[*packetID]
	if !ok {
		return
	}
	item.sent = true
	if s.RetryAfter > 0 && onTimeout != nil {
		id := *packetID
		item.timer = time.AfterFunc(s.RetryAfter, func() { onTimeout(id) })
	}
}

// AckPubAck completes a QoS1 delivery on PUBACK receipt, freeing the
// packet id.
func (s *Session) AckPubAck(id uint16) {
	s.completeInflight(id)
}

// AckPubRec advances a QoS2 delivery from awaiting-PUBREC to
// awaiting-PUBCOMP: the packet id stays reserved, the original PUBLISH is
// discarded since it must never be resent again, and a PUBREL is queued
// for send under the same id.
func (s *Session) AckPubRec(id uint16) {
	item, ok := s.inflight[id]
	if !ok {
		return
	}
	if item.timer != nil {
		item.timer.Stop()
		item.timer = nil
	}
	item.sent = false
	item.publish = nil
	item.phase = phasePubrel
	s.sendQueue = append(s.sendQueue, id)
}

// AckPubComp completes a QoS2 delivery on PUBCOMP receipt, freeing the
// packet id.
func (s *Session) AckPubComp(id uint16) {
	s.completeInflight(id)
}

func (s *Session) completeInflight(id uint16) {
	item, ok := s.inflight[id]
	if !ok {
		return
	}
	if item.timer != nil {
		item.timer.Stop()
	}
	delete(s.inflight, id)
	delete(s.usedIDs, id)
}

// Retry is called when id's retransmission timer fires with no
// acknowledgement yet. It resends only that record, reusing its packet
// id: the original PUBLISH with DUP=true if still awaiting PUBREC, or
// the PUBREL again if PUBREC has already been received (PUBREL is never
// marked dup). It is a no-op if id was acknowledged before the timer
// fired.
func (s *Session) Retry(id uint16) {
	item, ok := s.inflight[id]
	if !ok {
		return
	}
	item.timer = nil
	item.sent = false
	if item.phase == phasePublish {
		dup := *item.publish
		dup.DUP = true
		pid := id
		dup.PacketID = &pid
		item.publish = &dup
	}
	s.sendQueue = append(s.sendQueue, id)
}

// Reattach re-queues every still-inflight record for retransmission under
// its existing packet id, used when a persistent session's connection is
// replaced. PUBLISHes not yet PUBREC'd are resent with DUP=true; PUBRELs
// past PUBREC are resent as-is.
func (s *Session) Reattach() {
	s.sendQueue = s.sendQueue[:0]
	for id, item := range s.inflight {
		if item.timer != nil {
			item.timer.Stop()
			item.timer = nil
		}
		item.sent = false
		if item.phase == phasePublish {
			dup := *item.publish
			dup.DUP = true
			pid := id
			dup.PacketID = &pid
			item.publish = &dup
		}
		s.sendQueue = append(s.sendQueue, id)
	}
}

// RestoreInflight reinserts a record that was already inflight when the
// broker last shut down, reserving its packet id and queueing it for
// resend. wasSent and pubrelPending mirror a persisted record's Sent and
// PubConf flags: a record past PUBREC resumes as a PUBREL resend, a
// record that had already been written once resumes as a DUP PUBLISH,
// and a record that was queued but never sent resumes as a plain first
// send.
func (s *Session) RestoreInflight(id uint16, p *packet.PublishPacket, wasSent, pubrelPending bool) {
	s.usedIDs[id] = true
	item := &outgoingItem{publish: p}
	switch {
	case pubrelPending:
		item.phase = phasePubrel
		item.publish = nil
	case wasSent:
		p.DUP = true
		fallthrough
	default:
		pid := id
		p.PacketID = &pid
	}
	s.inflight[id] = item
	s.sendQueue = append(s.sendQueue, id)
}

// MarkIncomingQoS2 records that a QoS2 PUBLISH with this packet id has
// arrived and not yet been released by PUBREL. It reports false when the
// id was already pending, meaning this is a DUP retransmit that must be
// acknowledged again but not redelivered.
func (s *Session) MarkIncomingQoS2(id uint16) bool {
	if s.incomingQoS2 == nil {
		s.incomingQoS2 = make(map[uint16]bool)
	}
	if s.incomingQoS2[id] {
		return false
	}
	s.incomingQoS2[id] = true
	return true
}

// ClearIncomingQoS2 releases a packet id on PUBREL receipt.
func (s *Session) ClearIncomingQoS2(id uint16) {
	delete(s.incomingQoS2, id)
}

// PendingCount reports the number of publishes not yet handed a packet
// id, for diagnostics/metrics.
func (s *Session) PendingCount() int { return len(s.pending) }

// InflightCount reports the number of publishes awaiting acknowledgement.
func (s *Session) InflightCount() int { return len(s.inflight) }
