package link

import (
	"time"

	"fieldlink/protocol"
)

// peerRecord tracks one node observed on the air
type peerRecord struct {
	used      bool
	connected bool
	id        protocol.NodeID
	lastSeen  time.Time
}

// peerTable is the bounded set of known peers. Liveness is recomputed once
// per tick by sweep; when the table is full a new peer evicts the
// least-recently-seen record.
type peerTable struct {
	recs    []peerRecord
	timeout time.Duration
}

func newPeerTable(capacity int, timeout time.Duration) *peerTable {
	return &peerTable{
		recs:    make([]peerRecord, capacity),
		timeout: timeout,
	}
}

// noteSeen refreshes the peer's last-seen timestamp, creating (or evicting
// for) a record as needed. Called for every valid frame regardless of type.
func (p *peerTable) noteSeen(id protocol.NodeID, now time.Time) {
	free := -1
	oldest := 0
	for i := range p.recs {
		r := &p.recs[i]
		if r.used {
			if r.id == id {
				r.lastSeen = now
				r.connected = true
				return
			}
			if p.recs[oldest].used && r.lastSeen.Before(p.recs[oldest].lastSeen) {
				oldest = i
			}
			continue
		}
		if free < 0 {
			free = i
		}
	}

	slot := free
	if slot < 0 {
		slot = oldest
	}
	p.recs[slot] = peerRecord{used: true, connected: true, id: id, lastSeen: now}
}

// sweep recomputes liveness for the whole table. O(capacity) per tick is
// fine at embedded table sizes.
func (p *peerTable) sweep(now time.Time) {
	for i := range p.recs {
		r := &p.recs[i]
		if r.used {
			r.connected = now.Sub(r.lastSeen) < p.timeout
		}
	}
}

// isConnected reports whether id was seen within the liveness TTL as of the
// last sweep.
func (p *peerTable) isConnected(id protocol.NodeID) bool {
	for i := range p.recs {
		r := &p.recs[i]
		if r.used && r.id == id {
			return r.connected
		}
	}
	return false
}

// liveCount returns the number of currently reachable peers
func (p *peerTable) liveCount() int {
	n := 0
	for i := range p.recs {
		if p.recs[i].used && p.recs[i].connected {
			n++
		}
	}
	return n
}

// totalCount returns every tracked peer, live or not
func (p *peerTable) totalCount() int {
	n := 0
	for i := range p.recs {
		if p.recs[i].used {
			n++
		}
	}
	return n
}
