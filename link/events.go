package link

import (
	"sync/atomic"
	"time"

	"fieldlink/protocol"
)

// Radio interrupt handoff. The interrupt context only records the most
// recent event into primitive fields; Tick is the single consumer. Under
// half-duplex operation at most one frame is in flight to or from the radio
// at a time, so a last-write-wins cell per direction is sufficient.

// TX completion events, stored in a single atomic word
const (
	txEvNone uint32 = iota
	txEvDone
	txEvTimeout
)

// rxEventCell carries the most recent received frame from interrupt context
// to Tick. The producer copies the raw bytes into the fixed buffer, then
// publishes metadata and the pending flag; the consumer copies out and
// clears the flag. No allocation on either side.
type rxEventCell struct {
	pending uint32 // atomic: 0 = empty, 1 = frame waiting
	length  uint32 // atomic
	rssiDbm int32  // atomic
	atNanos int64  // atomic
	buf     [protocol.MTU]byte
}

// post records a received frame. Interrupt context.
func (c *rxEventCell) post(data []byte, rssiDbm int16, at time.Time) {
	n := len(data)
	if n > len(c.buf) {
		n = len(c.buf)
	}
	copy(c.buf[:n], data[:n])
	atomic.StoreUint32(&c.length, uint32(n))
	atomic.StoreInt32(&c.rssiDbm, int32(rssiDbm))
	atomic.StoreInt64(&c.atNanos, at.UnixNano())
	atomic.StoreUint32(&c.pending, 1)
}

// take copies the pending frame into dst and clears the cell. Tick context.
func (c *rxEventCell) take(dst []byte) (n int, rssiDbm int16, ok bool) {
	if atomic.LoadUint32(&c.pending) == 0 {
		return 0, 0, false
	}
	n = int(atomic.LoadUint32(&c.length))
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst, c.buf[:n])
	rssiDbm = int16(atomic.LoadInt32(&c.rssiDbm))
	atomic.StoreUint32(&c.pending, 0)
	return n, rssiDbm, true
}
