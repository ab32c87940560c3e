package packet

import (
	"github.com/pyr33x/goqttd/pkg/er"
)

// ConnectPacket is the client's connection request (MQTT 3.1.1 §3.1).
type ConnectPacket struct {
	ProtocolName  string // "MQIsdp" (v3) or "MQTT" (v4)
	ProtocolLevel byte   // 3 or 4
	UsernameFlag  bool
	PasswordFlag  bool
	WillRetain    bool
	WillQoS       QoS
	WillFlag      bool
	CleanSession  bool
	KeepAlive     uint16

	ClientID string
	WillTopic   string
	WillMessage []byte
	Username    string
	Password    []byte
}

func (p *ConnectPacket) Type() Type { return CONNECT }

func decodeConnect(body []byte) (*ConnectPacket, error) {
	p := &ConnectPacket{}
	off := 0

	name, n, err := DecodeString(body[off:])
	if err != nil {
		return nil, err
	}
	p.ProtocolName = name
	off += n

	if p.ProtocolName != "MQTT" && p.ProtocolName != "MQIsdp" {
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrUnsupportedProtocolName)
	}

	if off >= len(body) {
		return nil, er.New("Connect", er.KindMalformedPacket, er.ErrShortBuffer)
	}
	p.ProtocolLevel = body[off]
	off++

	switch {
	case p.ProtocolName == "MQIsdp" && p.ProtocolLevel != 3:
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrUnsupportedProtocolLevel)
	case p.ProtocolName == "MQTT" && p.ProtocolLevel != 4:
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrUnsupportedProtocolLevel)
	}

	if off >= len(body) {
		return nil, er.New("Connect", er.KindMalformedPacket, er.ErrShortBuffer)
	}
	flags := body[off]
	off++

	p.UsernameFlag = flags&0x80 != 0
	p.PasswordFlag = flags&0x40 != 0
	p.WillRetain = flags&0x20 != 0
	p.WillQoS = QoS((flags & 0x18) >> 3)
	p.WillFlag = flags&0x04 != 0
	p.CleanSession = flags&0x02 != 0

	if flags&0x01 != 0 {
		return nil, er.New("Connect", er.KindMalformedPacket, er.ErrInvalidPacketLength)
	}
	if p.WillQoS > QoS2 {
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrReservedQoS)
	}
	if !p.WillFlag && (p.WillQoS != QoS0 || p.WillRetain) {
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrInvalidWillQos)
	}
	if !p.UsernameFlag && p.PasswordFlag {
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrPasswordWithoutUsername)
	}

	if off+2 > len(body) {
		return nil, er.New("Connect", er.KindMalformedPacket, er.ErrShortBuffer)
	}
	p.KeepAlive = uint16(body[off])<<8 | uint16(body[off+1])
	off += 2

	clientID, n, err := DecodeString(body[off:])
	if err != nil {
		return nil, err
	}
	p.ClientID = clientID
	off += n

	if p.ClientID == "" && !p.CleanSession {
		return nil, er.New("Connect", er.KindProtocolViolation, er.ErrEmptyAndCleanSessionClientID)
	}

	if p.WillFlag {
		topic, n, err := DecodeString(body[off:])
		if err != nil {
			return nil, err
		}
		p.WillTopic = topic
		off += n

		msg, n, err := decodeBinary(body[off:])
		if err != nil {
			return nil, err
		}
		p.WillMessage = msg
		off += n
	}

	if p.UsernameFlag {
		username, n, err := DecodeString(body[off:])
		if err != nil {
			return nil, err
		}
		p.Username = username
		off += n
	}

	if p.PasswordFlag {
		password, n, err := decodeBinary(body[off:])
		if err != nil {
			return nil, err
		}
		p.Password = password
		off += n
	}

	return p, nil
}

// decodeBinary reads a 16-bit-length-prefixed byte field (used for will
// payloads and passwords, which are not required to be valid UTF-8).
func decodeBinary(b []byte) ([]byte, int, error) {
	if len(b) < 2 {
		return nil, 0, er.New("DecodeBinary", er.KindMalformedPacket, er.ErrShortBuffer)
	}
	length := int(b[0])<<8 | int(b[1])
	if len(b) < 2+length {
		return nil, 0, er.New("DecodeBinary", er.KindMalformedPacket, er.ErrShortBuffer)
	}
	out := make([]byte, length)
	copy(out, b[2:2+length])
	return out, 2 + length, nil
}

func encodeBinary(b []byte) []byte {
	out := make([]byte, 2+len(b))
	out[0] = byte(len(b) >> 8)
	out[1] = byte(len(b))
	copy(out[2:], b)
	return out
}

// Encode serializes the CONNECT packet; it is the inverse of
// decodeConnect.
func (p *ConnectPacket) Encode() []byte {
	var body []byte
	body = append(body, EncodeString(p.ProtocolName)...)
	body = append(body, p.ProtocolLevel)

	var flags byte
	if p.UsernameFlag {
		flags |= 0x80
	}
	if p.PasswordFlag {
		flags |= 0x40
	}
	if p.WillFlag {
		flags |= 0x04
		if p.WillRetain {
			flags |= 0x20
		}
		flags |= byte(p.WillQoS) << 3
	}
	if p.CleanSession {
		flags |= 0x02
	}
	body = append(body, flags)
	body = append(body, byte(p.KeepAlive>>8), byte(p.KeepAlive))
	body = append(body, EncodeString(p.ClientID)...)

	if p.WillFlag {
		body = append(body, EncodeString(p.WillTopic)...)
		body = append(body, encodeBinary(p.WillMessage)...)
	}
	if p.UsernameFlag {
		body = append(body, EncodeString(p.Username)...)
	}
	if p.PasswordFlag {
		body = append(body, encodeBinary(p.Password)...)
	}

	return append(fixedHeader(CONNECT, 0, len(body)), body...)
}
