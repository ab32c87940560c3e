package packet

import (
	"github.com/pyr33x/goqttd/internal/topic"
	"github.com/pyr33x/goqttd/pkg/er"
)

// Filter pairs a topic filter with the QoS the client requested for it.
type Filter struct {
	Topic string
	QoS   QoS
}

// SubscribePacket requests one or more subscriptions.
type SubscribePacket struct {
	PacketID uint16
	Filters  []Filter
}

func (p *SubscribePacket) Type() Type { return SUBSCRIBE }

func decodeSubscribe(flags byte, body []byte) (*SubscribePacket, error) {
	if flags != 0x02 {
		return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	if len(body) < 2 {
		return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrShortBuffer)
	}

	id := uint16(body[0])<<8 | uint16(body[1])
	if id == 0 {
		return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrInvalidPacketID)
	}
	off := 2

	var filters []Filter
	for off < len(body) {
		f, n, err := DecodeString(body[off:])
		if err != nil {
			return nil, err
		}
		off += n

		if off >= len(body) {
			return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrShortBuffer)
		}
		qosByte := body[off]
		off++
		if qosByte&0xFC != 0 {
			return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrInvalidPacketLength)
		}
		qos := QoS(qosByte & 0x03)
		if qos > QoS2 {
			return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrReservedQoS)
		}
		if err := topic.ValidateFilter(f); err != nil {
			return nil, err
		}

		filters = append(filters, Filter{Topic: f, QoS: qos})
	}

	if len(filters) == 0 {
		return nil, er.New("Subscribe", er.KindMalformedPacket, er.ErrNoTopicFilters)
	}

	return &SubscribePacket{PacketID: id, Filters: filters}, nil
}

func (p *SubscribePacket) Encode() []byte {
	body := []byte{byte(p.PacketID >> 8), byte(p.PacketID)}
	for _, f := range p.Filters {
		body = append(body, EncodeString(f.Topic)...)
		body = append(body, byte(f.QoS))
	}
	return append(fixedHeader(SUBSCRIBE, 0x02, len(body)), body...)
}

// SUBACK per-filter return codes.
const (
	SubAckMaxQoS0 byte = 0x00
	SubAckMaxQoS1 byte = 0x01
	SubAckMaxQoS2 byte = 0x02
	SubAckFailure byte = 0x80
)

// SubAckPacket is the server's response to SUBSCRIBE: one return code per
// requested filter, in order.
type SubAckPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

func (p *SubAckPacket) Type() Type { return SUBACK }

func decodeSubAck(body []byte) (*SubAckPacket, error) {
	if len(body) < 3 {
		return nil, er.New("SubAck", er.KindMalformedPacket, er.ErrShortBuffer)
	}
	id := uint16(body[0])<<8 | uint16(body[1])
	return &SubAckPacket{PacketID: id, ReturnCodes: append([]byte(nil), body[2:]...)}, nil
}

func (p *SubAckPacket) Encode() []byte {
	body := append([]byte{byte(p.PacketID >> 8), byte(p.PacketID)}, p.ReturnCodes...)
	return append(fixedHeader(SUBACK, 0, len(body)), body...)
}
