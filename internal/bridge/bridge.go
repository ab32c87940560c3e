// Package bridge implements the broker's uplink notification point
// (§9): an observe-only sink fed every publish and every newly-created
// subscription pattern, so an external aggregator can mirror traffic
// without the broker taking on bridge-client responsibilities itself.
package bridge

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/pyr33x/goqttd/internal/packet"
)

// Publication is one observed PUBLISH, handed to every registered Sink
// after the broker has finished local fan-out.
type Publication struct {
	Topic   string
	QoS     packet.QoS
	Payload []byte
	Retain  bool
	Origin  string // client id that published it, or "" for retained replay
}

// Sink receives broker events. Implementations must not block; the
// broker calls Sink methods from its single dispatcher goroutine.
type Sink interface {
	Publish(p Publication)
	// NewSubscription is called the first time any client subscribes to
	// mask, so an uplink bridge can propagate interest upstream.
	NewSubscription(mask string, qos packet.QoS)
}

// DedupSink forwards to an underlying Sink but only calls
// NewSubscription the first time a given (mask, qos) pair is seen,
// since a bridge uplink only needs to announce a pattern once.
type DedupSink struct {
	next Sink
	seen map[string]bool
}

func NewDedupSink(next Sink) *DedupSink {
	return &DedupSink{next: next, seen: make(map[string]bool)}
}

func (d *DedupSink) Publish(p Publication) {
	d.next.Publish(p)
}

func (d *DedupSink) NewSubscription(mask string, qos packet.QoS) {
	key := fmt.Sprintf("%d|%s", qos, mask)
	if d.seen[key] {
		return
	}
	d.seen[key] = true
	d.next.NewSubscription(mask, qos)
}

// NopSink discards everything; the default when no bridge is configured.
type NopSink struct{}

func (NopSink) Publish(Publication)               {}
func (NopSink) NewSubscription(string, packet.QoS) {}

// event is the newline-delimited JSON record TCPSink writes upstream,
// since a bridge peer is a plain tap, not an MQTT client.
type event struct {
	Kind    string `json:"kind"` // "publish" or "subscribe"
	Topic   string `json:"topic"`
	QoS     byte   `json:"qos"`
	Payload []byte `json:"payload,omitempty"`
	Retain  bool   `json:"retain,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// TCPSink forwards every event to addr as newline-delimited JSON,
// reconnecting lazily on the next call whenever the write fails. It never
// blocks the dispatcher waiting on a slow or absent peer beyond the dial
// timeout of a single reconnect attempt.
type TCPSink struct {
	addr string
	conn net.Conn
}

func NewTCPSink(addr string) *TCPSink {
	return &TCPSink{addr: addr}
}

func (t *TCPSink) ensure() net.Conn {
	if t.conn != nil {
		return t.conn
	}
	c, err := net.DialTimeout("tcp", t.addr, 2*time.Second)
	if err != nil {
		return nil
	}
	t.conn = c
	return c
}

func (t *TCPSink) send(e event) {
	c := t.ensure()
	if c == nil {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := c.Write(line); err != nil {
		c.Close()
		t.conn = nil
	}
}

func (t *TCPSink) Publish(p Publication) {
	t.send(event{Kind: "publish", Topic: p.Topic, QoS: byte(p.QoS), Payload: p.Payload, Retain: p.Retain, Origin: p.Origin})
}

func (t *TCPSink) NewSubscription(mask string, qos packet.QoS) {
	t.send(event{Kind: "subscribe", Topic: mask, QoS: byte(qos)})
}
