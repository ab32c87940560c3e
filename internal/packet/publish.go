package packet

import (
	"github.com/pyr33x/goqttd/internal/topic"
	"github.com/pyr33x/goqttd/pkg/er"
)

// PublishPacket carries application data on a topic.
type PublishPacket struct {
	DUP      bool
	QoS      QoS
	Retain   bool
	Topic    string
	PacketID *uint16 // nil for QoS 0
	Payload  []byte
}

func (p *PublishPacket) Type() Type { return PUBLISH }

func decodePublish(flags byte, body []byte) (*PublishPacket, error) {
	p := &PublishPacket{
		DUP:    flags&0x08 != 0,
		QoS:    QoS((flags & 0x06) >> 1),
		Retain: flags&0x01 != 0,
	}

	if p.QoS > QoS2 {
		return nil, er.New("Publish", er.KindMalformedPacket, er.ErrReservedQoS)
	}
	if p.DUP && p.QoS == QoS0 {
		return nil, er.New("Publish", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}

	topicName, off, err := DecodeString(body)
	if err != nil {
		return nil, err
	}
	if err := topic.ValidateTopicName(topicName); err != nil {
		return nil, err
	}
	p.Topic = topicName

	if p.QoS != QoS0 {
		if off+2 > len(body) {
			return nil, er.New("Publish", er.KindMalformedPacket, er.ErrMissingPacketID)
		}
		id := uint16(body[off])<<8 | uint16(body[off+1])
		if id == 0 {
			return nil, er.New("Publish", er.KindMalformedPacket, er.ErrInvalidPacketID)
		}
		p.PacketID = &id
		off += 2
	}

	p.Payload = append([]byte(nil), body[off:]...)
	return p, nil
}

func (p *PublishPacket) Encode() []byte {
	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= byte(p.QoS) << 1
	if p.Retain {
		flags |= 0x01
	}

	var body []byte
	body = append(body, EncodeString(p.Topic)...)
	if p.QoS != QoS0 {
		id := uint16(0)
		if p.PacketID != nil {
			id = *p.PacketID
		}
		body = append(body, byte(id>>8), byte(id))
	}
	body = append(body, p.Payload...)

	return append(fixedHeader(PUBLISH, flags, len(body)), body...)
}
