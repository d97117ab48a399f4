package protocol

import "encoding/binary"

// Serial tap framing. The relay firmware forwards every frame it accepts off
// the air to the host bridge over USB serial, prefixed with a sync byte, the
// frame length and the receive RSSI:
//
//	sync(0x7E) | frameLen(1) | rssiDbm(2 BE, int16) | frame bytes
//
// frameLen counts the frame bytes only, so a maximum-size frame (MTU, 255
// bytes) still fits the single length byte; the RSSI field is fixed-width.
// USB CDC is a reliable transport, so no checksum is carried; the sync byte
// exists to resynchronize after a partial read at attach time.
const (
	TapSync     = 0x7E
	tapRSSISize = 2
	TapOverhead = 2 + tapRSSISize
)

// Tap is one decoded tap record
type Tap struct {
	RSSIDbm int16
	Frame   []byte
}

// EncodeTap writes a tap record into buf and returns the total length.
// Returns 0 when buf is too small or the frame exceeds the MTU.
func EncodeTap(buf []byte, rssiDbm int16, frame []byte) int {
	if len(frame) > MTU {
		return 0
	}
	total := TapOverhead + len(frame)
	if total > len(buf) {
		return 0
	}

	buf[0] = TapSync
	buf[1] = byte(len(frame))
	binary.BigEndian.PutUint16(buf[2:4], uint16(rssiDbm))
	copy(buf[4:], frame)

	return total
}

// TapDecoder incrementally scans a serial byte stream for tap records.
// Garbage between records (or a partial record at attach time) is skipped
// by hunting for the next sync byte.
type TapDecoder struct {
	body [tapRSSISize + MTU]byte
	need int
	n    int
	sync bool
}

// Feed consumes one byte from the stream. When the byte completes a record,
// the decoded Tap is returned with ok=true. The Tap's Frame slice aliases
// the decoder's internal buffer and is invalidated by the next Feed.
func (d *TapDecoder) Feed(b byte) (Tap, bool) {
	if !d.sync {
		if b == TapSync {
			d.sync = true
			d.need = 0
			d.n = 0
		}
		return Tap{}, false
	}

	if d.need == 0 {
		if int(b) < HeaderSize {
			// Too short to hold a frame - hunt for the next sync byte
			d.sync = b == TapSync
			return Tap{}, false
		}
		d.need = tapRSSISize + int(b)
		return Tap{}, false
	}

	d.body[d.n] = b
	d.n++
	if d.n < d.need {
		return Tap{}, false
	}

	tap := Tap{
		RSSIDbm: int16(binary.BigEndian.Uint16(d.body[0:2])),
		Frame:   d.body[tapRSSISize:d.n],
	}
	d.sync = false
	d.need = 0
	d.n = 0
	return tap, true
}
