package packet

import "github.com/pyr33x/goqttd/pkg/er"

// PingReqPacket/PingRespPacket/DisconnectPacket carry no variable header or
// payload; only the fixed header's type byte distinguishes them.

type PingReqPacket struct{}

func (p *PingReqPacket) Type() Type     { return PINGREQ }
func (p *PingReqPacket) Encode() []byte { return []byte{byte(PINGREQ), 0x00} }

func decodePingReq(flags byte, body []byte) (*PingReqPacket, error) {
	if flags != 0 || len(body) != 0 {
		return nil, er.New("PingReq", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	return &PingReqPacket{}, nil
}

type PingRespPacket struct{}

func (p *PingRespPacket) Type() Type     { return PINGRESP }
func (p *PingRespPacket) Encode() []byte { return []byte{byte(PINGRESP), 0x00} }

func decodePingResp(flags byte, body []byte) (*PingRespPacket, error) {
	if flags != 0 || len(body) != 0 {
		return nil, er.New("PingResp", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	return &PingRespPacket{}, nil
}

type DisconnectPacket struct{}

func (p *DisconnectPacket) Type() Type     { return DISCONNECT }
func (p *DisconnectPacket) Encode() []byte { return []byte{byte(DISCONNECT), 0x00} }

func decodeDisconnect(flags byte, body []byte) (*DisconnectPacket, error) {
	if flags != 0 || len(body) != 0 {
		return nil, er.New("Disconnect", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	return &DisconnectPacket{}, nil
}
