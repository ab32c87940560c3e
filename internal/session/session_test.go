package session

import (
	"testing"

	"github.com/pyr33x/goqttd/internal/packet"
)

func newTestSession() *Session {
	s := New("client1", false, 2)
	s.RetryAfter = 0 // disable timers in tests
	return s
}

func TestQoS0BypassesPacketIDAllocation(t *testing.T) {
	s := newTestSession()
	s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS0, Payload: []byte("x")})

	pkt, id, err := s.NextOutgoing()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Fatalf("QoS0 publish must not carry a packet id, got %v", *id)
	}
	if pkt.(*packet.PublishPacket).Topic != "a" {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
}

func TestQoS1AssignsAndFreesPacketID(t *testing.T) {
	s := newTestSession()
	s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS1, Payload: []byte("x")})

	pkt, id, err := s.NextOutgoing()
	if err != nil || id == nil {
		t.Fatalf("expected a packet id, got id=%v err=%v", id, err)
	}
	if *id != 1 {
		t.Fatalf("expected first packet id to be 1, got %d", *id)
	}
	if s.InflightCount() != 1 {
		t.Fatalf("expected 1 inflight publish, got %d", s.InflightCount())
	}

	s.MarkSent(id, nil)
	s.AckPubAck(*id)

	if s.InflightCount() != 0 {
		t.Fatalf("expected inflight to be freed after PUBACK, got %d", s.InflightCount())
	}

	_ = pkt
}

func TestInflightWindowBoundsPendingPublishes(t *testing.T) {
	s := newTestSession() // maxInflight=2
	for i := 0; i < 3; i++ {
		s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS1, Payload: []byte("x")})
	}

	for i := 0; i < 2; i++ {
		if _, id, err := s.NextOutgoing(); err != nil || id == nil {
			t.Fatalf("expected publish %d to get an id, got id=%v err=%v", i, id, err)
		}
	}

	pkt, id, err := s.NextOutgoing()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt != nil || id != nil {
		t.Fatalf("expected nil (window full) for third publish, got pkt=%v id=%v", pkt, id)
	}
}

func TestQoS2HandshakeAdvancesThroughPubRelToPubComp(t *testing.T) {
	s := newTestSession()
	s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS2, Payload: []byte("x")})

	_, id, err := s.NextOutgoing()
	if err != nil || id == nil {
		t.Fatalf("expected a packet id, got id=%v err=%v", id, err)
	}
	s.MarkSent(id, nil)
	s.AckPubRec(*id)

	pkt, ctrlID, err := s.NextOutgoing()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel, ok := pkt.(*packet.PubRelPacket)
	if !ok {
		t.Fatalf("expected a PUBREL to be queued after PUBREC, got %T", pkt)
	}
	if rel.PacketID != *id {
		t.Fatalf("PUBREL packet id mismatch: got %d want %d", rel.PacketID, *id)
	}
	if ctrlID == nil || *ctrlID != *id {
		t.Fatalf("PUBREL must be returned with its packet id %d so MarkSent can arm its retry timer, got %v", *id, ctrlID)
	}

	s.AckPubComp(*id)
	if s.InflightCount() != 0 {
		t.Fatalf("expected inflight to be freed after PUBCOMP, got %d", s.InflightCount())
	}
}

func TestMarkIncomingQoS2DetectsDuplicate(t *testing.T) {
	s := newTestSession()
	if !s.MarkIncomingQoS2(5) {
		t.Fatal("first arrival of packet id 5 must not be reported as duplicate")
	}
	if s.MarkIncomingQoS2(5) {
		t.Fatal("second arrival before PUBREL must be reported as duplicate")
	}
	s.ClearIncomingQoS2(5)
	if !s.MarkIncomingQoS2(5) {
		t.Fatal("after ClearIncomingQoS2, the id must be reusable")
	}
}

func TestReattachRequeuesInflightWithDup(t *testing.T) {
	s := newTestSession()
	s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS1, Payload: []byte("x")})
	_, id, _ := s.NextOutgoing()
	s.MarkSent(id, nil)

	s.Reattach()

	if s.InflightCount() != 1 {
		t.Fatalf("expected Reattach to keep the record inflight under its own id, got inflight=%d", s.InflightCount())
	}
	pkt, gotID, err := s.NextOutgoing()
	if err != nil || gotID == nil {
		t.Fatalf("expected the requeued publish to carry an id, got id=%v err=%v", gotID, err)
	}
	if *gotID != *id {
		t.Fatalf("expected Reattach to reuse the original packet id %d, got %d", *id, *gotID)
	}
	pub, ok := pkt.(*packet.PublishPacket)
	if !ok || !pub.DUP {
		t.Fatalf("expected requeued publish to carry DUP=true, got %+v", pkt)
	}
}

func TestRetryResendsOnlyTheTimedOutRecordWithSameID(t *testing.T) {
	s := newTestSession() // maxInflight=2
	s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS1, Payload: []byte("x")})
	s.EnqueuePublish(&packet.PublishPacket{Topic: "b", QoS: packet.QoS1, Payload: []byte("y")})

	_, id1, _ := s.NextOutgoing()
	s.MarkSent(id1, nil)
	_, id2, _ := s.NextOutgoing()
	s.MarkSent(id2, nil)

	s.Retry(*id1)

	pkt, gotID, err := s.NextOutgoing()
	if err != nil || gotID == nil {
		t.Fatalf("expected a retransmit with an id, got id=%v err=%v", gotID, err)
	}
	if *gotID != *id1 {
		t.Fatalf("expected retry to resend packet id %d, got %d", *id1, *gotID)
	}
	pub, ok := pkt.(*packet.PublishPacket)
	if !ok || !pub.DUP {
		t.Fatalf("expected the retried publish to carry DUP=true, got %+v", pkt)
	}
	if s.InflightCount() != 2 {
		t.Fatalf("expected both records to remain inflight (id2 untouched), got %d", s.InflightCount())
	}

	if _, nextID, _ := s.NextOutgoing(); nextID != nil {
		t.Fatalf("expected id2's record to stay idle (not also resent), got id=%v", *nextID)
	}
}

func TestRetryAfterPubRecResendsPubRel(t *testing.T) {
	s := newTestSession()
	s.EnqueuePublish(&packet.PublishPacket{Topic: "a", QoS: packet.QoS2, Payload: []byte("x")})

	_, id, _ := s.NextOutgoing()
	s.MarkSent(id, nil)
	s.AckPubRec(*id)
	_, _, _ = s.NextOutgoing() // drain the PUBREL queued by AckPubRec

	s.Retry(*id)

	pkt, gotID, err := s.NextOutgoing()
	if err != nil || gotID == nil {
		t.Fatalf("expected a retransmit with an id, got id=%v err=%v", gotID, err)
	}
	if *gotID != *id {
		t.Fatalf("expected retry to resend packet id %d, got %d", *id, *gotID)
	}
	if _, ok := pkt.(*packet.PubRelPacket); !ok {
		t.Fatalf("expected retry after PUBREC to resend PUBREL, not the original PUBLISH, got %T", pkt)
	}
}

func TestAuthorizationAllAndMasks(t *testing.T) {
	all := Authorization{PublishAll: true, SubscribeAll: true}
	if !all.CanPublish("anything") || !all.CanSubscribe("anything") {
		t.Fatal("All grants must authorize any filter")
	}

	masked := Authorization{PublishMasks: []string{"a/b"}, SubscribeMasks: []string{"c/d"}}
	if !masked.CanPublish("a/b") || masked.CanPublish("a/c") {
		t.Error("masked publish authorization did not match expected filters")
	}
	if !masked.CanSubscribe("c/d") || masked.CanSubscribe("c/e") {
		t.Error("masked subscribe authorization did not match expected filters")
	}
}
