package subscription

import (
	"testing"

	"github.com/pyr33x/goqttd/internal/packet"
)

func TestInsertReportsFirstSubscriber(t *testing.T) {
	tr := New()
	if !tr.Insert("a/b", "c1", packet.QoS0) {
		t.Fatal("expected first insert to report first=true")
	}
	if tr.Insert("a/b", "c2", packet.QoS1) {
		t.Fatal("expected second subscriber on same mask to report first=false")
	}
}

func TestMatchLiteralAndWildcards(t *testing.T) {
	tr := New()
	tr.Insert("sport/tennis/player1", "exact", packet.QoS0)
	tr.Insert("sport/tennis/+", "plus", packet.QoS1)
	tr.Insert("sport/#", "hash", packet.QoS2)

	got := tr.Match("sport/tennis/player1")
	want := map[string]packet.QoS{"exact": packet.QoS0, "plus": packet.QoS1, "hash": packet.QoS2}
	for id, qos := range want {
		if g, ok := got[id]; !ok || g != qos {
			t.Errorf("missing or wrong qos for %q: got %v ok=%v want %v", id, g, ok, qos)
		}
	}
	if len(got) != len(want) {
		t.Errorf("got %d matches, want %d: %v", len(got), len(want), got)
	}
}

func TestMatchMergesMaxQoSAcrossRoutes(t *testing.T) {
	tr := New()
	tr.Insert("a/b", "c1", packet.QoS0)
	tr.Insert("a/+", "c1", packet.QoS2)

	got := tr.Match("a/b")
	if got["c1"] != packet.QoS2 {
		t.Fatalf("want max QoS2 merged across routes, got %v", got["c1"])
	}
}

func TestMatchExcludesSystemTopicsFromWildcardLeadingFilters(t *testing.T) {
	tr := New()
	tr.Insert("#", "wild", packet.QoS0)
	tr.Insert("+/broker", "plus", packet.QoS0)
	tr.Insert("$SYS/broker", "exact", packet.QoS0)

	got := tr.Match("$SYS/broker")
	if _, ok := got["wild"]; ok {
		t.Error("leading # must not match a $-prefixed topic")
	}
	if _, ok := got["plus"]; ok {
		t.Error("leading + must not match a $-prefixed topic")
	}
	if _, ok := got["exact"]; !ok {
		t.Error("exact literal subscription to a $ topic must still match")
	}
}

func TestRemovePrunesEmptyNodes(t *testing.T) {
	tr := New()
	tr.Insert("a/b/c", "s1", packet.QoS0)

	empty := tr.Remove("a/b/c", "s1")
	if !empty {
		t.Fatal("expected mask to report empty after removing its only subscriber")
	}
	if len(tr.root.children) != 0 {
		t.Fatalf("expected pruned tree with no children, got %v", tr.root.children)
	}
}

func TestRemoveAllClearsEverySubscription(t *testing.T) {
	tr := New()
	tr.Insert("a/b", "s1", packet.QoS0)
	tr.Insert("a/c", "s1", packet.QoS1)
	tr.Insert("a/c", "s2", packet.QoS1)

	tr.RemoveAll("s1")

	got := tr.Match("a/b")
	if len(got) != 0 {
		t.Errorf("expected a/b to have no subscribers left, got %v", got)
	}
	got = tr.Match("a/c")
	if _, ok := got["s1"]; ok {
		t.Error("s1 should be removed from a/c")
	}
	if _, ok := got["s2"]; !ok {
		t.Error("s2 must remain subscribed to a/c")
	}
}

func TestMatchTrailingHashMatchesParentLevel(t *testing.T) {
	tr := New()
	tr.Insert("sport/tennis/#", "s1", packet.QoS0)

	got := tr.Match("sport/tennis")
	if _, ok := got["s1"]; !ok {
		t.Error("trailing # must match the parent level with zero extra levels")
	}
}
