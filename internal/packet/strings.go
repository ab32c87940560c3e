package packet

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pyr33x/goqttd/pkg/er"
)

// EncodeString returns s as a 16-bit-length-prefixed UTF-8 field.
func EncodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

// DecodeString reads a 16-bit-length-prefixed UTF-8 field from the start of
// b, returning the string, the number of bytes consumed, and an error if
// the field is truncated or not valid UTF-8.
func DecodeString(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, er.New("DecodeString", er.KindMalformedPacket, er.ErrShortBuffer)
	}

	length := int(binary.BigEndian.Uint16(b[:2]))
	if len(b) < 2+length {
		return "", 0, er.New("DecodeString", er.KindMalformedPacket, er.ErrShortBuffer)
	}

	s := string(b[2 : 2+length])
	if !utf8.ValidString(s) {
		return "", 0, er.New("DecodeString", er.KindMalformedPacket, er.ErrInvalidUTF8String)
	}

	return s, 2 + length, nil
}
