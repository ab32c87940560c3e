package retained

import (
	"testing"

	"github.com/pyr33x/goqttd/internal/packet"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("hello"), packet.QoS1, "c1")

	msg, ok := s.Get("a/b")
	if !ok {
		t.Fatal("expected retained message to be present")
	}
	if string(msg.Payload) != "hello" || msg.QoS != packet.QoS1 || msg.Origin != "c1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestEmptyPayloadErases(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("hello"), packet.QoS0, "c1")
	s.Set("a/b", nil, packet.QoS0, "c1")

	if _, ok := s.Get("a/b"); ok {
		t.Fatal("expected empty-payload Set to erase the retained message")
	}
}

func TestLastWriterWins(t *testing.T) {
	s := New()
	s.Set("a/b", []byte("first"), packet.QoS0, "c1")
	s.Set("a/b", []byte("second"), packet.QoS1, "c2")

	msg, ok := s.Get("a/b")
	if !ok || string(msg.Payload) != "second" || msg.Origin != "c2" {
		t.Errorf("expected latest write to win, got %+v", msg)
	}
}

func TestMatchReplaysWildcardSubscription(t *testing.T) {
	s := New()
	s.Set("sensors/kitchen/temp", []byte("21"), packet.QoS0, "c1")
	s.Set("sensors/garage/temp", []byte("15"), packet.QoS0, "c1")
	s.Set("lights/kitchen", []byte("on"), packet.QoS0, "c1")

	got := s.Match("sensors/+/temp")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(got), got)
	}
	if _, ok := got["lights/kitchen"]; ok {
		t.Error("lights/kitchen must not match sensors/+/temp")
	}
}

func TestMatchExcludesSystemTopicFromLeadingWildcard(t *testing.T) {
	s := New()
	s.Set("$SYS/broker/clients", []byte("1"), packet.QoS0, "")

	if got := s.Match("#"); len(got) != 0 {
		t.Errorf("leading # must not replay a $SYS retained message, got %v", got)
	}
	if got := s.Match("$SYS/#"); len(got) != 1 {
		t.Errorf("explicit $SYS/# filter must replay it, got %v", got)
	}
}

func TestAllReturnsEverything(t *testing.T) {
	s := New()
	s.Set("a", []byte("1"), packet.QoS0, "")
	s.Set("b", []byte("2"), packet.QoS0, "")

	if got := s.All(); len(got) != 2 {
		t.Errorf("expected 2 retained messages, got %d", len(got))
	}
}
