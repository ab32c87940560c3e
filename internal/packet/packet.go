// Package packet implements the MQTT 3.1/3.1.1 control packet codec:
// fixed header, remaining-length varint, and the fourteen packet kinds.
// Decoding is strict: any structural violation comes back as a *er.Err
// tagged er.KindMalformedPacket, except CONNECT protocol-rule violations
// (protocol name/level, will flags, password without username, empty
// client id without clean session), which are tagged
// er.KindProtocolViolation.
package packet

import (
	"github.com/pyr33x/goqttd/pkg/er"
)

// Type is the MQTT control packet type, stored in the top nibble of the
// fixed header's first byte.
type Type byte

const (
	CONNECT     Type = 0x10
	CONNACK     Type = 0x20
	PUBLISH     Type = 0x30
	PUBACK      Type = 0x40
	PUBREC      Type = 0x50
	PUBREL      Type = 0x60
	PUBCOMP     Type = 0x70
	SUBSCRIBE   Type = 0x80
	SUBACK      Type = 0x90
	UNSUBSCRIBE Type = 0xA0
	UNSUBACK    Type = 0xB0
	PINGREQ     Type = 0xC0
	PINGRESP    Type = 0xD0
	DISCONNECT  Type = 0xE0
)

func (t Type) String() string {
	switch t {
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case PUBLISH:
		return "PUBLISH"
	case PUBACK:
		return "PUBACK"
	case PUBREC:
		return "PUBREC"
	case PUBREL:
		return "PUBREL"
	case PUBCOMP:
		return "PUBCOMP"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case UNSUBACK:
		return "UNSUBACK"
	case PINGREQ:
		return "PINGREQ"
	case PINGRESP:
		return "PINGRESP"
	case DISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// QoS is the MQTT delivery quality level.
type QoS byte

const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once
	QoS2 QoS = 2 // exactly once
)

// MaxRemainingLength is the largest value the 4-byte variable-length
// remaining-length field can encode (MQTT 3.1.1 §2.2.3).
const MaxRemainingLength = 268435455

// Packet is implemented by every decoded control packet. Type identifies
// which kind it is so callers can type-switch without a reflection-based
// dispatch table.
type Packet interface {
	Type() Type
	// Encode returns the wire bytes for this packet, fixed header included.
	Encode() []byte
}

// Decode parses exactly one complete packet from raw, which must contain
// no trailing or missing bytes (the fixed header's remaining-length must
// account for all of raw[1+n:]). Use Decoder for streaming input where
// packet boundaries aren't already known.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < 1 {
		return nil, er.New("Decode", er.KindMalformedPacket, er.ErrShortBuffer)
	}

	kind := Type(raw[0] & 0xF0)
	flags := raw[0] & 0x0F

	remaining, n, err := DecodeRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+n+remaining {
		return nil, er.New("Decode", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	body := raw[1+n:]

	switch kind {
	case CONNECT:
		return decodeConnect(body)
	case CONNACK:
		return decodeConnAck(body)
	case PUBLISH:
		return decodePublish(flags, body)
	case PUBACK:
		return decodePubAck(body)
	case PUBREC:
		return decodePubRec(body)
	case PUBREL:
		return decodePubRel(flags, body)
	case PUBCOMP:
		return decodePubComp(body)
	case SUBSCRIBE:
		return decodeSubscribe(flags, body)
	case SUBACK:
		return decodeSubAck(body)
	case UNSUBSCRIBE:
		return decodeUnsubscribe(flags, body)
	case UNSUBACK:
		return decodeUnsubAck(body)
	case PINGREQ:
		return decodePingReq(flags, body)
	case PINGRESP:
		return decodePingResp(flags, body)
	case DISCONNECT:
		return decodeDisconnect(flags, body)
	default:
		return nil, er.New("Decode", er.KindMalformedPacket, er.ErrInvalidPacketType)
	}
}

func fixedHeader(kind Type, flags byte, remainingLength int) []byte {
	header := append([]byte{byte(kind) | flags}, EncodeRemainingLength(remainingLength)...)
	return header
}

func requirePacketID(qos QoS, id *uint16) error {
	if qos == QoS0 && id != nil {
		return er.New("Publish", er.KindMalformedPacket, er.ErrUnexpectedPacketID)
	}
	if qos != QoS0 && id == nil {
		return er.New("Publish", er.KindMalformedPacket, er.ErrMissingPacketID)
	}
	return nil
}
