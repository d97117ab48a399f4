package link

import (
	"time"

	"fieldlink/protocol"
)

// outMsg is one slot in the outbound queue arena
type outMsg struct {
	used       bool
	requireAck bool
	id         protocol.MsgID
	dst        protocol.NodeID
	attempts   int
	dueAt      time.Time
	seq        uint64
	payload    protocol.Payload
}

// outbox is the bounded retry queue. Slots live in a fixed arena allocated
// once at construction; removal clears the slot in place (no compaction
// pass), and insertion order is preserved through a monotonic sequence
// number rather than slot position.
type outbox struct {
	slots      []outMsg
	count      int
	nextID     uint16
	nextSeq    uint64
	maxRetries int
	ackTimeout time.Duration
}

func newOutbox(capacity, maxRetries int, ackTimeout time.Duration) *outbox {
	return &outbox{
		slots:      make([]outMsg, capacity),
		nextID:     1,
		maxRetries: maxRetries,
		ackTimeout: ackTimeout,
	}
}

// allocID returns the next message id, skipping zero on wrap
func (o *outbox) allocID() protocol.MsgID {
	id := o.nextID
	o.nextID++
	if o.nextID == 0 {
		o.nextID = 1
	}
	return protocol.MsgID(id)
}

// enqueue copies payload into a free slot. Application sends (reserved=false)
// leave one slot free for housekeeping traffic; housekeeping sends
// (reserved=true) may use the full capacity.
func (o *outbox) enqueue(dst protocol.NodeID, payload []byte, requireAck, reserved bool) (protocol.MsgID, bool) {
	limit := len(o.slots)
	if !reserved {
		limit--
	}
	if o.count >= limit {
		return 0, false
	}

	for i := range o.slots {
		m := &o.slots[i]
		if m.used {
			continue
		}
		if !m.payload.Set(payload) {
			return 0, false
		}
		m.used = true
		m.requireAck = requireAck
		m.id = o.allocID()
		m.dst = dst
		m.attempts = 0
		m.dueAt = time.Time{}
		m.seq = o.nextSeq
		o.nextSeq++
		o.count++
		return m.id, true
	}
	return 0, false
}

// pick selects the slot to transmit this tick: first any due retry (earliest
// elapsed deadline wins, ties broken by enqueue order), otherwise the oldest
// never-attempted message.
func (o *outbox) pick(now time.Time) (int, bool) {
	best := -1
	for i := range o.slots {
		m := &o.slots[i]
		if !m.used || !m.requireAck || m.attempts == 0 || m.attempts >= o.maxRetries {
			continue
		}
		if now.Before(m.dueAt) {
			continue
		}
		if best < 0 || m.dueAt.Before(o.slots[best].dueAt) ||
			(m.dueAt.Equal(o.slots[best].dueAt) && m.seq < o.slots[best].seq) {
			best = i
		}
	}
	if best >= 0 {
		return best, true
	}

	for i := range o.slots {
		m := &o.slots[i]
		if !m.used || m.attempts != 0 {
			continue
		}
		if best < 0 || m.seq < o.slots[best].seq {
			best = i
		}
	}
	return best, best >= 0
}

// markSent counts an attempt and arms the ack deadline
func (o *outbox) markSent(i int, now time.Time) {
	m := &o.slots[i]
	m.attempts++
	if m.requireAck {
		m.dueAt = now.Add(o.ackTimeout)
	}
}

// ack removes the message matching id. Returns false for unknown ids
// (duplicate or late ACKs are harmless no-ops).
func (o *outbox) ack(id protocol.MsgID) (protocol.NodeID, bool) {
	for i := range o.slots {
		m := &o.slots[i]
		if m.used && m.id == id {
			dst := m.dst
			o.release(i)
			return dst, true
		}
	}
	return 0, false
}

// find returns the slot index holding id
func (o *outbox) find(id protocol.MsgID) (int, bool) {
	for i := range o.slots {
		if o.slots[i].used && o.slots[i].id == id {
			return i, true
		}
	}
	return 0, false
}

// makeDue marks a message immediately eligible for retry. Used when a
// transmission attempt failed outright (TX-timeout, watchdog) and waiting
// out the full ack deadline would be pointless.
func (o *outbox) makeDue(i int, now time.Time) {
	o.slots[i].dueAt = now
}

// release frees a slot in place
func (o *outbox) release(i int) {
	m := &o.slots[i]
	if !m.used {
		return
	}
	m.used = false
	m.payload.Reset()
	o.count--
}

// dropExpired removes every ack-required message whose attempt budget is
// exhausted and whose final deadline has passed. Returns how many dropped.
func (o *outbox) dropExpired(now time.Time) int {
	dropped := 0
	for i := range o.slots {
		m := &o.slots[i]
		if m.used && m.requireAck && m.attempts >= o.maxRetries && !now.Before(m.dueAt) {
			o.release(i)
			dropped++
		}
	}
	return dropped
}

// len returns the number of pending messages
func (o *outbox) len() int {
	return o.count
}
