package packet

import "github.com/pyr33x/goqttd/pkg/er"

// CONNACK return codes (MQTT 3.1.1 §3.2.2.3).
const (
	ConnectionAccepted          byte = 0x00
	UnacceptableProtocolVersion byte = 0x01
	IdentifierRejected          byte = 0x02
	ServerUnavailable           byte = 0x03
	BadUsernameOrPassword       byte = 0x04
	NotAuthorized               byte = 0x05
)

// ConnAckPacket is the server's response to CONNECT.
type ConnAckPacket struct {
	SessionPresent bool
	ReturnCode     byte
}

func (p *ConnAckPacket) Type() Type { return CONNACK }

func decodeConnAck(body []byte) (*ConnAckPacket, error) {
	if len(body) != 2 {
		return nil, er.New("ConnAck", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	if body[0]&0xFE != 0 {
		return nil, er.New("ConnAck", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	return &ConnAckPacket{SessionPresent: body[0]&0x01 != 0, ReturnCode: body[1]}, nil
}

func (p *ConnAckPacket) Encode() []byte {
	flags := byte(0)
	if p.SessionPresent {
		flags = 0x01
	}
	return append(fixedHeader(CONNACK, 0, 2), flags, p.ReturnCode)
}
