package packet

import "github.com/pyr33x/goqttd/pkg/er"

// EncodeRemainingLength encodes length as an MQTT variable-byte integer
// (continuation bit in the high bit, 1-4 bytes, max MaxRemainingLength).
func EncodeRemainingLength(length int) []byte {
	if length < 0 {
		length = 0
	}

	var encoded []byte
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		encoded = append(encoded, b)
		if length == 0 || len(encoded) >= 4 {
			break
		}
	}
	return encoded
}

// DecodeRemainingLength decodes the variable-byte integer at the start of
// data, returning the value, the number of bytes it occupied, and an error
// if the encoding is truncated or exceeds 4 bytes / MaxRemainingLength.
func DecodeRemainingLength(data []byte) (int, int, error) {
	var length, multiplier, offset int
	multiplier = 1

	for {
		if offset >= len(data) {
			return 0, 0, er.New("DecodeRemainingLength", er.KindMalformedPacket, er.ErrShortBuffer)
		}
		if offset >= 4 {
			return 0, 0, er.New("DecodeRemainingLength", er.KindMalformedPacket, er.ErrRemainingLengthExceeded)
		}

		b := data[offset]
		length += int(b&0x7F) * multiplier
		if length > MaxRemainingLength {
			return 0, 0, er.New("DecodeRemainingLength", er.KindMalformedPacket, er.ErrRemainingLengthExceeded)
		}

		multiplier *= 128
		offset++

		if b&0x80 == 0 {
			break
		}
	}

	return length, offset, nil
}
