// Package protocol implements the fieldlink radio wire format
package protocol

import "encoding/binary"

// Protocol constants
const (
	// Version is the wire protocol version carried in every frame header
	Version = 0x01

	// MTU is the largest frame the radio hardware will carry
	MTU = 255

	// HeaderSize is the fixed frame header size
	HeaderSize = 7

	// MaxPayload is the application payload allowance per frame
	MaxPayload = MTU - HeaderSize

	// Frame types
	TypeData = 0x01
	TypeAck  = 0x02

	// Flag bits (Data frames only)
	FlagRequireAck = 0x01

	// BroadcastID addresses every node in range
	BroadcastID = NodeID(0xFF)
)

// NodeID identifies a node on the radio link
type NodeID uint8

// MsgID identifies an outbound message for acknowledgment matching.
// Zero is never a valid message id.
type MsgID uint16

// Frame is the protocol's unit of transmission.
// Layout: version(1) | type(1) | flags(1) | src(1) | dst(1) | msgId(2 BE) | payload
type Frame struct {
	Type    byte
	Flags   byte
	Src     NodeID
	Dst     NodeID
	MsgID   MsgID
	Payload Payload
}

// RequireAck reports whether the sender requested acknowledgment
func (f *Frame) RequireAck() bool {
	return f.Type == TypeData && f.Flags&FlagRequireAck != 0
}

// Encode writes the frame into buf and returns the total length.
// Returns 0 when buf is too small to hold header plus payload.
func Encode(buf []byte, f *Frame) int {
	total := HeaderSize + f.Payload.Len()
	if total > len(buf) || total > MTU {
		return 0
	}

	buf[0] = Version
	buf[1] = f.Type
	buf[2] = f.Flags
	buf[3] = byte(f.Src)
	buf[4] = byte(f.Dst)
	binary.BigEndian.PutUint16(buf[5:7], uint16(f.MsgID))
	copy(buf[HeaderSize:], f.Payload.Bytes())

	return total
}

// Decode parses a received frame. Returns false for frames shorter than the
// header, with an unrecognized version or type, or with a zero message id.
// No CRC is checked here - the radio hardware's own integrity check has
// already passed by the time bytes reach this layer.
func Decode(data []byte) (Frame, bool) {
	var f Frame

	if len(data) < HeaderSize || len(data) > MTU {
		return f, false
	}
	if data[0] != Version {
		return f, false
	}

	f.Type = data[1]
	if f.Type != TypeData && f.Type != TypeAck {
		return f, false
	}

	f.Flags = data[2]
	f.Src = NodeID(data[3])
	f.Dst = NodeID(data[4])
	f.MsgID = MsgID(binary.BigEndian.Uint16(data[5:7]))
	if f.MsgID == 0 {
		return f, false
	}

	if !f.Payload.Set(data[HeaderSize:]) {
		return f, false
	}

	return f, true
}
