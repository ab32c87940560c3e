package packet

import (
	"github.com/pyr33x/goqttd/internal/topic"
	"github.com/pyr33x/goqttd/pkg/er"
)

// UnsubscribePacket requests removal of one or more subscriptions.
type UnsubscribePacket struct {
	PacketID uint16
	Filters  []string
}

func (p *UnsubscribePacket) Type() Type { return UNSUBSCRIBE }

func decodeUnsubscribe(flags byte, body []byte) (*UnsubscribePacket, error) {
	if flags != 0x02 {
		return nil, er.New("Unsubscribe", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	if len(body) < 2 {
		return nil, er.New("Unsubscribe", er.KindMalformedPacket, er.ErrShortBuffer)
	}

	id := uint16(body[0])<<8 | uint16(body[1])
	if id == 0 {
		return nil, er.New("Unsubscribe", er.KindMalformedPacket, er.ErrInvalidPacketID)
	}
	off := 2

	var filters []string
	for off < len(body) {
		f, n, err := DecodeString(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if err := topic.ValidateFilter(f); err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	if len(filters) == 0 {
		return nil, er.New("Unsubscribe", er.KindMalformedPacket, er.ErrNoTopicFilters)
	}

	return &UnsubscribePacket{PacketID: id, Filters: filters}, nil
}

func (p *UnsubscribePacket) Encode() []byte {
	body := []byte{byte(p.PacketID >> 8), byte(p.PacketID)}
	for _, f := range p.Filters {
		body = append(body, EncodeString(f)...)
	}
	return append(fixedHeader(UNSUBSCRIBE, 0x02, len(body)), body...)
}

// UnsubAckPacket is the server's response to UNSUBSCRIBE.
type UnsubAckPacket struct{ PacketID uint16 }

func (p *UnsubAckPacket) Type() Type { return UNSUBACK }

func decodeUnsubAck(body []byte) (*UnsubAckPacket, error) {
	if len(body) != 2 {
		return nil, er.New("UnsubAck", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	id := uint16(body[0])<<8 | uint16(body[1])
	return &UnsubAckPacket{PacketID: id}, nil
}

func (p *UnsubAckPacket) Encode() []byte {
	return append(fixedHeader(UNSUBACK, 0, 2), byte(p.PacketID>>8), byte(p.PacketID))
}
