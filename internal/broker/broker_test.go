package broker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pyr33x/goqttd/internal/bridge"
	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/persistence"
	"github.com/pyr33x/goqttd/internal/session"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...slog.Attr)  {}
func (nopLogger) Warn(string, ...slog.Attr)  {}
func (nopLogger) Error(string, ...slog.Attr) {}
func (nopLogger) Debug(string, ...slog.Attr) {}

func newTestBroker(t *testing.T) (*Broker, context.CancelFunc) {
	t.Helper()
	b := New(persistence.NewMemory(), bridge.NopSink{}, nopLogger{}, 20)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	return b, cancel
}

func waitNotify(t *testing.T, notify <-chan struct{}) {
	t.Helper()
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notify")
	}
}

func TestPublishFansOutToSubscriber(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{PublishAll: true, SubscribeAll: true}
	_, subNotify, _ := b.Connect("sub1", true, nil, authz, 0)
	b.Subscribe("sub1", []packet.Filter{{Topic: "a/b", QoS: packet.QoS1}})

	b.Connect("pub1", true, nil, authz, 0)
	if err := b.Publish("pub1", &packet.PublishPacket{Topic: "a/b", QoS: packet.QoS0, Payload: []byte("hi")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitNotify(t, subNotify)
	pkt, _ := b.NextOutgoing("sub1")
	pub, ok := pkt.(*packet.PublishPacket)
	if !ok || string(pub.Payload) != "hi" {
		t.Fatalf("expected delivered publish with payload 'hi', got %+v", pkt)
	}
}

func TestUnauthorizedPublishIsDropped(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	subAuthz := session.Authorization{SubscribeAll: true}
	_, subNotify, _ := b.Connect("sub1", true, nil, subAuthz, 0)
	b.Subscribe("sub1", []packet.Filter{{Topic: "a/b", QoS: packet.QoS0}})

	pubAuthz := session.Authorization{PublishMasks: []string{"x/y"}}
	b.Connect("pub1", true, nil, pubAuthz, 0)
	_ = b.Publish("pub1", &packet.PublishPacket{Topic: "a/b", QoS: packet.QoS0, Payload: []byte("nope")})

	select {
	case <-subNotify:
		t.Fatal("subscriber must not be notified of an unauthorized publish")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeReplaysRetainedMessage(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{PublishAll: true, SubscribeAll: true}
	b.Connect("pub1", true, nil, authz, 0)
	if err := b.Publish("pub1", &packet.PublishPacket{Topic: "a/b", QoS: packet.QoS1, Retain: true, Payload: []byte("retained")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_, subNotify, _ := b.Connect("sub1", true, nil, authz, 0)
	codes := b.Subscribe("sub1", []packet.Filter{{Topic: "a/+", QoS: packet.QoS1}})
	if codes[0] != packet.SubAckMaxQoS1 {
		t.Fatalf("expected SUBACK QoS1, got %x", codes[0])
	}

	waitNotify(t, subNotify)
	pkt, _ := b.NextOutgoing("sub1")
	pub, ok := pkt.(*packet.PublishPacket)
	if !ok || !pub.Retain || string(pub.Payload) != "retained" {
		t.Fatalf("expected replayed retained publish, got %+v", pkt)
	}
}

func TestEmptyRetainedPayloadErasesMessage(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{PublishAll: true, SubscribeAll: true}
	b.Connect("pub1", true, nil, authz, 0)
	_ = b.Publish("pub1", &packet.PublishPacket{Topic: "a/b", QoS: packet.QoS0, Retain: true, Payload: []byte("x")})
	_ = b.Publish("pub1", &packet.PublishPacket{Topic: "a/b", QoS: packet.QoS0, Retain: true, Payload: nil})

	b.Connect("sub1", true, nil, authz, 0)
	b.Subscribe("sub1", []packet.Filter{{Topic: "a/b", QoS: packet.QoS0}})

	pkt, _ := b.NextOutgoing("sub1")
	if pkt != nil {
		t.Fatalf("expected no retained replay after erasure, got %+v", pkt)
	}
}

func TestSubAckFailureForUnauthorizedFilter(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{SubscribeMasks: []string{"allowed/topic"}}
	b.Connect("sub1", true, nil, authz, 0)

	codes := b.Subscribe("sub1", []packet.Filter{
		{Topic: "allowed/topic", QoS: packet.QoS0},
		{Topic: "denied/topic", QoS: packet.QoS0},
	})

	if codes[0] == packet.SubAckFailure {
		t.Error("allowed filter must not get SubAckFailure")
	}
	if codes[1] != packet.SubAckFailure {
		t.Errorf("denied filter must get SubAckFailure, got %x", codes[1])
	}
}

func TestDisconnectPublishesWillUnlessGraceful(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{PublishAll: true, SubscribeAll: true}
	_, subNotify, _ := b.Connect("sub1", true, nil, authz, 0)
	b.Subscribe("sub1", []packet.Filter{{Topic: "status", QoS: packet.QoS0}})

	will := &session.Will{Topic: "status", Payload: []byte("offline"), QoS: packet.QoS0}
	b.Connect("pub1", true, will, authz, 0)
	b.Disconnect("pub1", false)

	waitNotify(t, subNotify)
	pkt, _ := b.NextOutgoing("sub1")
	pub, ok := pkt.(*packet.PublishPacket)
	if !ok || string(pub.Payload) != "offline" {
		t.Fatalf("expected will publication on abrupt disconnect, got %+v", pkt)
	}
}

func TestGracefulDisconnectDoesNotPublishWill(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{PublishAll: true, SubscribeAll: true}
	_, subNotify, _ := b.Connect("sub1", true, nil, authz, 0)
	b.Subscribe("sub1", []packet.Filter{{Topic: "status", QoS: packet.QoS0}})

	will := &session.Will{Topic: "status", Payload: []byte("offline"), QoS: packet.QoS0}
	b.Connect("pub1", true, will, authz, 0)
	b.Disconnect("pub1", true)

	select {
	case <-subNotify:
		t.Fatal("graceful disconnect must not publish the will")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionResumePreservesSubscriptions(t *testing.T) {
	b, cancel := newTestBroker(t)
	defer cancel()

	authz := session.Authorization{PublishAll: true, SubscribeAll: true}
	b.Connect("persist1", false, nil, authz, 0)
	b.Subscribe("persist1", []packet.Filter{{Topic: "a/b", QoS: packet.QoS1}})
	b.Disconnect("persist1", true)

	_, _, sessionPresent := b.Connect("persist1", false, nil, authz, 0)
	if !sessionPresent {
		t.Fatal("expected sessionPresent=true on resume of a persisted non-clean session")
	}

	b.Connect("pub1", true, nil, authz, 0)
	if err := b.Publish("pub1", &packet.PublishPacket{Topic: "a/b", QoS: packet.QoS0, Payload: []byte("hi")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pkt, _ := b.NextOutgoing("persist1")
	if pkt == nil {
		t.Fatal("expected resumed session to still receive publishes on its restored subscription")
	}
}
