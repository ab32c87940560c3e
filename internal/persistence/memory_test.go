package persistence

import "testing"

func TestMemorySubscriptionsRoundTrip(t *testing.T) {
	m := NewMemory()
	subs := []StoredSubscription{{Filter: "a/b", QoS: 1}, {Filter: "c/#", QoS: 2}}
	if err := m.SaveSubscriptions("client1", subs); err != nil {
		t.Fatalf("SaveSubscriptions: %v", err)
	}

	got, err := m.LoadSubscriptions("client1")
	if err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(got))
	}
}

func TestMemoryOutgoingQueueIsFIFO(t *testing.T) {
	m := NewMemory()
	m.EnqueueOutgoing("client1", StoredPublish{Topic: "a", PacketID: 1})
	m.EnqueueOutgoing("client1", StoredPublish{Topic: "b", PacketID: 2})

	first, ok, err := m.NextOutgoing("client1")
	if err != nil || !ok || first.Topic != "a" {
		t.Fatalf("expected first queued publish 'a', got %+v ok=%v err=%v", first, ok, err)
	}
	second, ok, _ := m.NextOutgoing("client1")
	if !ok || second.Topic != "b" {
		t.Fatalf("expected second queued publish 'b', got %+v", second)
	}
	if _, ok, _ := m.NextOutgoing("client1"); ok {
		t.Fatal("expected outgoing queue to be drained")
	}
}

func TestMemoryInflightSentAndPubConfFlags(t *testing.T) {
	m := NewMemory()
	m.SetInflight("client1", StoredPublish{Topic: "a", PacketID: 7})

	if all, _ := m.AllInflight("client1"); len(all) != 1 || all[0].PacketID != 7 {
		t.Fatalf("expected packet id 7 to be inflight, got %+v", all)
	}
	m.SetSent("client1", 7, true)
	if sent, _ := m.IsSent("client1", 7); !sent {
		t.Fatal("expected Sent flag to be set")
	}
	m.SetPubConf("client1", 7, true)
	if conf, _ := m.IsPubConf("client1", 7); !conf {
		t.Fatal("expected PubConf flag to be set")
	}
	m.RemoveOutgoing("client1", 7)
	if all, _ := m.AllInflight("client1"); len(all) != 0 {
		t.Fatalf("expected packet id 7 to be removed from inflight, got %+v", all)
	}
}

func TestMemoryRetainedMessages(t *testing.T) {
	m := NewMemory()
	m.SetRetained("a/b", RetainedRecord{Topic: "a/b", Payload: []byte("x")})
	m.SetRetained("c/d", RetainedRecord{Topic: "c/d", Payload: []byte("y")})

	all, err := m.AllRetained()
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 retained records, got %d err=%v", len(all), err)
	}

	m.DeleteRetained("a/b")
	all, _ = m.AllRetained()
	if len(all) != 1 {
		t.Fatalf("expected 1 retained record after delete, got %d", len(all))
	}
}

func TestMemoryForgetClientClearsAllState(t *testing.T) {
	m := NewMemory()
	m.SaveSubscriptions("client1", []StoredSubscription{{Filter: "a", QoS: 0}})
	m.SetInflight("client1", StoredPublish{PacketID: 1})
	m.MarkIncomingPacketID("client1", 1)

	m.ForgetClient("client1")

	if subs, _ := m.LoadSubscriptions("client1"); len(subs) != 0 {
		t.Error("expected subscriptions cleared")
	}
	if inflight, _ := m.AllInflight("client1"); len(inflight) != 0 {
		t.Error("expected inflight cleared")
	}
	if known, _ := m.IsIncomingPacketIDKnown("client1", 1); known {
		t.Error("expected incoming packet ids cleared")
	}
}
