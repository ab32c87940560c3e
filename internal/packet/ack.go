package packet

import "github.com/pyr33x/goqttd/pkg/er"

// decodeAckBody validates and extracts the 16-bit packet id carried by
// PUBACK/PUBREC/PUBCOMP (and, with different flag rules, PUBREL).
func decodeAckBody(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, er.New("Ack", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	id := uint16(body[0])<<8 | uint16(body[1])
	if id == 0 {
		return 0, er.New("Ack", er.KindMalformedPacket, er.ErrInvalidPacketID)
	}
	return id, nil
}

func encodeAck(kind Type, flags byte, id uint16) []byte {
	return append(fixedHeader(kind, flags, 2), byte(id>>8), byte(id))
}

// PubAckPacket acknowledges a QoS 1 PUBLISH.
type PubAckPacket struct{ PacketID uint16 }

func (p *PubAckPacket) Type() Type   { return PUBACK }
func (p *PubAckPacket) Encode() []byte { return encodeAck(PUBACK, 0, p.PacketID) }

func decodePubAck(body []byte) (*PubAckPacket, error) {
	id, err := decodeAckBody(body)
	if err != nil {
		return nil, err
	}
	return &PubAckPacket{PacketID: id}, nil
}

// PubRecPacket is step 1 of the QoS 2 four-way handshake.
type PubRecPacket struct{ PacketID uint16 }

func (p *PubRecPacket) Type() Type   { return PUBREC }
func (p *PubRecPacket) Encode() []byte { return encodeAck(PUBREC, 0, p.PacketID) }

func decodePubRec(body []byte) (*PubRecPacket, error) {
	id, err := decodeAckBody(body)
	if err != nil {
		return nil, err
	}
	return &PubRecPacket{PacketID: id}, nil
}

// PubRelPacket is step 2 of the QoS 2 four-way handshake. Its fixed header
// reserved bits must be 0010, unlike the other acks.
type PubRelPacket struct{ PacketID uint16 }

func (p *PubRelPacket) Type() Type   { return PUBREL }
func (p *PubRelPacket) Encode() []byte { return encodeAck(PUBREL, 0x02, p.PacketID) }

func decodePubRel(flags byte, body []byte) (*PubRelPacket, error) {
	if flags != 0x02 {
		return nil, er.New("PubRel", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	id, err := decodeAckBody(body)
	if err != nil {
		return nil, err
	}
	return &PubRelPacket{PacketID: id}, nil
}

// PubCompPacket is step 3 of the QoS 2 four-way handshake.
type PubCompPacket struct{ PacketID uint16 }

func (p *PubCompPacket) Type() Type   { return PUBCOMP }
func (p *PubCompPacket) Encode() []byte { return encodeAck(PUBCOMP, 0, p.PacketID) }

func decodePubComp(body []byte) (*PubCompPacket, error) {
	id, err := decodeAckBody(body)
	if err != nil {
		return nil, err
	}
	return &PubCompPacket{PacketID: id}, nil
}
