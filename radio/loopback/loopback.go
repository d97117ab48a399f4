// Package loopback implements an in-memory radio driver for host-side tests
// and simulation. Two paired radios deliver each other's transmissions
// synchronously; a single radio just logs what it would have sent.
package loopback

import (
	"sync"

	"fieldlink/radio"
)

// Radio is a mock radio driver with a TX log and RX injection
type Radio struct {
	mu   sync.Mutex
	sink radio.EventSink
	peer *Radio

	txLog   [][]byte
	reinits int
	rxState bool
	rssiDbm int16

	// DropTx swallows transmissions without ever signalling completion,
	// simulating a stuck transmitter with a missed interrupt.
	DropTx bool

	// FailTx, when non-nil, is returned from Transmit.
	FailTx error
}

// New creates an unpaired loopback radio
func New() *Radio {
	return &Radio{rssiDbm: -60}
}

// Pair cross-links two radios so each delivers the other's transmissions
func Pair(a, b *Radio) {
	a.peer = b
	b.peer = a
}

// SetSink registers the interrupt event consumer
func (r *Radio) SetSink(s radio.EventSink) {
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// SetRSSIDbm sets the signal strength reported with delivered frames
func (r *Radio) SetRSSIDbm(v int16) {
	r.mu.Lock()
	r.rssiDbm = v
	r.mu.Unlock()
}

// Transmit logs the frame, delivers it to the paired radio's sink, then
// signals TX-done - unless DropTx or FailTx intervene.
func (r *Radio) Transmit(frame []byte) error {
	r.mu.Lock()
	if r.FailTx != nil {
		err := r.FailTx
		r.mu.Unlock()
		return err
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	r.txLog = append(r.txLog, cp)
	drop := r.DropTx
	peer := r.peer
	sink := r.sink
	r.mu.Unlock()

	if drop {
		return nil
	}
	if peer != nil {
		peer.deliver(cp)
	}
	if sink != nil {
		sink.TxDone()
	}
	return nil
}

// StartRx marks the radio as receiving
func (r *Radio) StartRx() error {
	r.mu.Lock()
	r.rxState = true
	r.mu.Unlock()
	return nil
}

// Reinit counts hardware reinitializations
func (r *Radio) Reinit() error {
	r.mu.Lock()
	r.reinits++
	r.mu.Unlock()
	return nil
}

// InjectRx delivers raw bytes to this radio's sink as if received off the air
func (r *Radio) InjectRx(data []byte, rssiDbm int16) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink.RxDone(data, rssiDbm)
	}
}

func (r *Radio) deliver(data []byte) {
	r.mu.Lock()
	sink := r.sink
	rssi := r.rssiDbm
	r.mu.Unlock()
	if sink != nil {
		sink.RxDone(data, rssi)
	}
}

// TxLog returns copies of every frame handed to Transmit
func (r *Radio) TxLog() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.txLog))
	for i, f := range r.txLog {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// ClearTxLog discards the TX log
func (r *Radio) ClearTxLog() {
	r.mu.Lock()
	r.txLog = r.txLog[:0]
	r.mu.Unlock()
}

// Reinits returns how many times Reinit was called
func (r *Radio) Reinits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reinits
}
