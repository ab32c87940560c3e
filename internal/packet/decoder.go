package packet

import (
	"errors"

	"github.com/pyr33x/goqttd/pkg/er"
)

// Decoder turns a byte stream into a sequence of complete packets. It is
// streaming-safe: Feed may be called with arbitrarily sized chunks (as
// produced by reading from a socket in whatever increments happen to
// arrive) and returns every packet that became complete as a result,
// holding any partial trailing bytes internally for the next call.
//
// This generalizes the fixed-header/remaining-length reading loop the
// teacher wrote inline in the connection handler into a reusable,
// allocation-light component.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and extracts every whole
// packet now available. An error aborts decoding permanently: once a
// chunk has produced a MalformedPacket error the connection must close,
// so the Decoder is not expected to recover and continue.
func (d *Decoder) Feed(chunk []byte) ([]Packet, error) {
	d.buf = append(d.buf, chunk...)

	var packets []Packet
	for {
		pkt, consumed, err := d.tryDecodeOne()
		if err != nil {
			return packets, err
		}
		if pkt == nil {
			break
		}
		packets = append(packets, pkt)
		d.buf = d.buf[consumed:]
	}
	return packets, nil
}

// tryDecodeOne attempts to decode a single packet from the front of the
// buffer. It returns (nil, 0, nil) when the buffer doesn't yet hold a
// complete packet.
func (d *Decoder) tryDecodeOne() (Packet, int, error) {
	if len(d.buf) < 1 {
		return nil, 0, nil
	}

	remaining, n, err := DecodeRemainingLength(d.buf[1:])
	if err != nil {
		// A short buffer isn't a protocol error yet -- more bytes may
		// still arrive to complete the varint. Only a genuinely
		// oversized encoding is a hard failure.
		if errors.Is(err, er.ErrShortBuffer) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	total := 1 + n + remaining
	if len(d.buf) < total {
		return nil, 0, nil
	}

	pkt, err := Decode(d.buf[:total])
	if err != nil {
		return nil, 0, err
	}
	return pkt, total, nil
}

// Reset discards any buffered partial packet, e.g. after the connection it
// served has been torn down.
func (d *Decoder) Reset() {
	d.buf = nil
}
