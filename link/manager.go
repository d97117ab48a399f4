// Package link implements the reliable point-to-multipoint link-layer
// transport: framed, acknowledged delivery with bounded retry over a
// half-duplex shared-medium radio. All protocol work happens in Tick, a
// single logical execution context; radio interrupts only hand events
// across an atomic boundary.
package link

import (
	"sync/atomic"
	"time"

	"fieldlink/protocol"
	"fieldlink/radio"
)

// Role selects the protocol role
type Role uint8

const (
	// RoleMaster aggregates traffic from many slaves. Its connectivity
	// view derives entirely from the peer table.
	RoleMaster Role = iota

	// RoleSlave maintains a single logical connection to one master and
	// probes to reconnect when it goes stale.
	RoleSlave
)

func (r Role) String() string {
	if r == RoleSlave {
		return "slave"
	}
	return "master"
}

// Radio states. The resting state is receive.
type radioState uint8

const (
	radioIdle radioState = iota
	radioRx
	radioTx
)

// Stats are the link's periodic counters. Recoverable conditions are
// absorbed internally and show up here rather than as errors.
type Stats struct {
	FramesSent     uint32
	FramesReceived uint32
	AcksSent       uint32
	AcksReceived   uint32
	Retries        uint32
	Dropped        uint32
	RxDiscarded    uint32
	QueueFull      uint32
	SoftTxTimeouts uint32
	RadioReinits   uint32
}

// DataHandler receives application payloads. The payload slice is only
// valid for the duration of the call.
type DataHandler func(src protocol.NodeID, payload []byte)

// AckHandler is invoked when an acknowledgment removes a pending message
type AckHandler func(src protocol.NodeID, id protocol.MsgID)

// FrameTap observes every frame accepted off the air, before protocol
// processing. Used by the relay to forward traffic to the host bridge.
type FrameTap func(f protocol.Frame, rssiDbm int16)

// Manager composes the outbound queue, peer table, connection machine and
// watchdog around a single radio. It owns all four exclusively.
//
// Manager is not safe for concurrent use: SendData, Tick and the query
// methods must run in one execution context. The radio.EventSink methods
// (TxDone, TxTimeout, RxDone) are the only exception - they are safe to
// call from interrupt context.
type Manager struct {
	cfg    Config
	timing connTiming

	role     Role
	selfID   protocol.NodeID
	masterID protocol.NodeID
	begun    bool

	drv   radio.Driver
	state radioState

	outbox *outbox
	peers  *peerTable
	conn   connState
	wd     txWatchdog

	// Interrupt handoff
	txEvent uint32 // atomic: txEvNone/txEvDone/txEvTimeout
	rx      rxEventCell

	// The message whose transmission is currently in flight, if any.
	// ACK frames fly untracked.
	inFlight    bool
	inFlightAck bool
	inFlightID  protocol.MsgID

	// ACK awaiting transmission. Built during RX processing, sent with
	// strict priority over queue traffic.
	pendingAck    bool
	pendingAckDst protocol.NodeID
	pendingAckID  protocol.MsgID

	lastRSSI int16
	hasRSSI  bool

	onData DataHandler
	onAck  AckHandler
	tap    FrameTap

	stats Stats

	rxBuf [protocol.MTU]byte
	txBuf [protocol.MTU]byte
}

// NewManager wraps a radio driver. Call Begin before use and register the
// manager as the driver's event sink.
func NewManager(drv radio.Driver, cfg Config) *Manager {
	return &Manager{cfg: cfg, drv: drv}
}

// Begin validates the configuration, sizes the fixed structures and puts
// the radio into receive. Idempotent: a second call fails without effect.
func (m *Manager) Begin(role Role, selfID protocol.NodeID) error {
	if m.begun {
		return ErrAlreadyStarted
	}
	if err := m.cfg.validate(); err != nil {
		return err
	}

	m.role = role
	m.selfID = selfID
	m.timing = connTiming{
		ackTimeout:        m.cfg.AckTimeout,
		maxRetries:        m.cfg.MaxRetries,
		reconnectInterval: m.cfg.ReconnectInterval,
		probeRetryDelay:   m.cfg.ProbeRetryDelay,
	}
	m.outbox = newOutbox(m.cfg.MaxOutbox, m.cfg.MaxRetries, m.cfg.AckTimeout)
	m.peers = newPeerTable(m.cfg.MaxPeers, m.cfg.PeerTimeout)
	m.wd = newTxWatchdog(m.cfg.TxGuard, m.cfg.TxStuckReinit)
	m.conn = connState{phase: Disconnected}

	if err := m.drv.StartRx(); err != nil {
		return err
	}
	m.state = radioRx
	m.begun = true
	return nil
}

// SendData enqueues an application message. It never blocks and never
// allocates; when the queue is full or the payload exceeds the MTU the send
// is rejected outright and the caller may retry on a later tick.
func (m *Manager) SendData(dst protocol.NodeID, payload []byte, requireAck bool) (protocol.MsgID, error) {
	if !m.begun {
		return 0, ErrNotStarted
	}
	if dst == protocol.BroadcastID && requireAck {
		return 0, ErrAckOnBroadcast
	}
	if len(payload) > m.cfg.maxPayload() {
		return 0, ErrPayloadTooLarge
	}
	id, ok := m.outbox.enqueue(dst, payload, requireAck, false)
	if !ok {
		m.stats.QueueFull++
		return 0, ErrQueueFull
	}
	return id, nil
}

// Tick runs one protocol step: consume radio events, sweep liveness, advance
// the connection machine, drop exhausted messages and transmit at most one
// frame. Call it at least as often as the smallest configured timeout.
func (m *Manager) Tick(now time.Time) {
	if !m.begun {
		return
	}
	m.consumeTxEvent(now)
	m.checkWatchdog(now)
	m.consumeRxEvent(now)
	m.peers.sweep(now)
	m.stepConnection(now)
	m.stats.Dropped += uint32(m.outbox.dropExpired(now))
	m.transmit(now)
}

// IsConnected reports link status: for a master, at least one live peer;
// for a slave, an established connection to its master.
func (m *Manager) IsConnected() bool {
	if !m.begun {
		return false
	}
	if m.role == RoleSlave {
		return m.conn.phase == Connected
	}
	return m.peers.liveCount() > 0
}

// ConnectionPhase returns the slave machine's current phase. For a master
// it reports Connected or Disconnected from the peer table.
func (m *Manager) ConnectionPhase() ConnPhase {
	if !m.begun {
		return Disconnected
	}
	if m.role == RoleSlave {
		return m.conn.phase
	}
	if m.peers.liveCount() > 0 {
		return Connected
	}
	return Disconnected
}

// PeerCount returns the number of currently reachable peers
func (m *Manager) PeerCount() int {
	if !m.begun {
		return 0
	}
	return m.peers.liveCount()
}

// TotalPeerCount returns every peer ever seen, reachable or not
func (m *Manager) TotalPeerCount() int {
	if !m.begun {
		return 0
	}
	return m.peers.totalCount()
}

// LastRSSIDbm returns the signal strength of the most recent accepted frame
func (m *Manager) LastRSSIDbm() (int16, bool) {
	if !m.begun {
		return 0, false
	}
	return m.lastRSSI, m.hasRSSI
}

// PendingCount returns the number of messages awaiting delivery
func (m *Manager) PendingCount() int {
	if !m.begun {
		return 0
	}
	return m.outbox.len()
}

// Stats returns a snapshot of the link counters
func (m *Manager) Stats() Stats {
	return m.stats
}

// SetDataHandler registers the application payload callback
func (m *Manager) SetDataHandler(h DataHandler) {
	m.onData = h
}

// SetAckHandler registers the delivery confirmation callback
func (m *Manager) SetAckHandler(h AckHandler) {
	m.onAck = h
}

// SetFrameTap registers the raw frame observer
func (m *Manager) SetFrameTap(t FrameTap) {
	m.tap = t
}

// SetMasterNodeID designates the master a slave connects to
func (m *Manager) SetMasterNodeID(id protocol.NodeID) error {
	if !m.begun {
		return ErrNotStarted
	}
	if m.role != RoleSlave {
		return ErrSlaveOnly
	}
	m.masterID = id
	return nil
}

// ForceReconnect re-arms the slave connection machine so the next Tick
// sends a probe immediately.
func (m *Manager) ForceReconnect(now time.Time) error {
	if !m.begun {
		return ErrNotStarted
	}
	if m.role != RoleSlave {
		return ErrSlaveOnly
	}
	m.conn, _ = m.conn.step(evForceReconnect, now, m.timing)
	return nil
}

// TxDone implements radio.EventSink. Interrupt context.
func (m *Manager) TxDone() {
	atomic.StoreUint32(&m.txEvent, txEvDone)
}

// TxTimeout implements radio.EventSink. Interrupt context.
func (m *Manager) TxTimeout() {
	atomic.StoreUint32(&m.txEvent, txEvTimeout)
}

// RxDone implements radio.EventSink. Interrupt context.
func (m *Manager) RxDone(data []byte, rssiDbm int16) {
	m.rx.post(data, rssiDbm, time.Now())
}

func (m *Manager) consumeTxEvent(now time.Time) {
	switch atomic.SwapUint32(&m.txEvent, txEvNone) {
	case txEvDone:
		m.wd.txCompleted()
		if m.inFlight && !m.inFlightAck {
			// Fire-and-forget: delivered as far as this layer cares
			if i, ok := m.outbox.find(m.inFlightID); ok {
				m.outbox.release(i)
			}
		}
		m.inFlight = false
		m.restRx()
	case txEvTimeout:
		m.wd.txCompleted()
		m.txAttemptFailed(now)
	}
}

func (m *Manager) checkWatchdog(now time.Time) {
	switch m.wd.check(now) {
	case wdSoftTimeout:
		m.stats.SoftTxTimeouts++
		m.txAttemptFailed(now)
	case wdReinit:
		m.stats.SoftTxTimeouts++
		m.txAttemptFailed(now)
		if err := m.drv.Reinit(); err == nil {
			m.stats.RadioReinits++
		}
		m.restRx()
	}
}

// txAttemptFailed handles a transmission that never completed: the attempt
// is spent (counted at send time), the ack deadline is pointless to wait
// out, and the radio goes back to receive.
func (m *Manager) txAttemptFailed(now time.Time) {
	if m.inFlight {
		if i, ok := m.outbox.find(m.inFlightID); ok {
			if m.inFlightAck {
				m.outbox.makeDue(i, now)
			} else {
				// Its single transmission never completed
				m.outbox.release(i)
				m.stats.Dropped++
			}
		}
		m.inFlight = false
	}
	m.restRx()
}

func (m *Manager) restRx() {
	m.state = radioRx
	_ = m.drv.StartRx()
}

func (m *Manager) consumeRxEvent(now time.Time) {
	n, rssi, ok := m.rx.take(m.rxBuf[:])
	if !ok {
		return
	}

	f, valid := protocol.Decode(m.rxBuf[:n])
	if !valid {
		m.stats.RxDiscarded++
		return
	}
	if f.Dst != m.selfID && f.Dst != protocol.BroadcastID {
		// Never ours; no retry semantics apply
		m.stats.RxDiscarded++
		return
	}

	m.stats.FramesReceived++
	m.lastRSSI = rssi
	m.hasRSSI = true
	m.peers.noteSeen(f.Src, now)

	if m.role == RoleSlave && f.Src == m.masterID {
		m.conn, _ = m.conn.step(evMasterActivity, now, m.timing)
	}

	if m.tap != nil {
		m.tap(f, rssi)
	}

	switch f.Type {
	case protocol.TypeAck:
		if _, matched := m.outbox.ack(f.MsgID); matched {
			m.stats.AcksReceived++
			if m.onAck != nil {
				m.onAck(f.Src, f.MsgID)
			}
		}
		// Unknown ids are duplicates or acks for already-dropped
		// messages; ignored.
	case protocol.TypeData:
		if f.RequireAck() && f.Dst == m.selfID {
			m.pendingAck = true
			m.pendingAckDst = f.Src
			m.pendingAckID = f.MsgID
		}
		// Zero-length Data frames are link housekeeping (reconnection
		// probes), not application data.
		if f.Payload.Len() > 0 && m.onData != nil {
			m.onData(f.Src, f.Payload.Bytes())
		}
	}
}

func (m *Manager) stepConnection(now time.Time) {
	if m.role != RoleSlave {
		return
	}
	// Runs after the TTL sweep so the master's liveness is current
	if m.conn.phase == Connected && !m.peers.isConnected(m.masterID) {
		m.conn, _ = m.conn.step(evMasterLost, now, m.timing)
	}

	next, act := m.conn.step(evTick, now, m.timing)
	m.conn = next
	if act == actSendProbe {
		if _, ok := m.outbox.enqueue(m.masterID, nil, true, true); !ok {
			m.conn, _ = m.conn.step(evProbeDeferred, now, m.timing)
		}
	}
}

// transmit sends at most one frame per tick. ACKs take strict priority over
// queue traffic; the radio is half-duplex and busy while transmitting.
func (m *Manager) transmit(now time.Time) {
	if m.state == radioTx {
		return
	}

	if m.pendingAck {
		var f protocol.Frame
		f.Type = protocol.TypeAck
		f.Src = m.selfID
		f.Dst = m.pendingAckDst
		f.MsgID = m.pendingAckID
		m.pendingAck = false

		if n := protocol.Encode(m.txBuf[:], &f); n > 0 && m.startTx(m.txBuf[:n], now) {
			m.stats.AcksSent++
		}
		return
	}

	i, ok := m.outbox.pick(now)
	if !ok {
		return
	}
	msg := &m.outbox.slots[i]

	var f protocol.Frame
	f.Type = protocol.TypeData
	if msg.requireAck {
		f.Flags = protocol.FlagRequireAck
	}
	f.Src = m.selfID
	f.Dst = msg.dst
	f.MsgID = msg.id
	f.Payload = msg.payload

	n := protocol.Encode(m.txBuf[:], &f)
	if n == 0 {
		return
	}

	retry := msg.attempts > 0
	m.outbox.markSent(i, now)
	m.inFlight = true
	m.inFlightAck = msg.requireAck
	m.inFlightID = msg.id

	if !m.startTx(m.txBuf[:n], now) {
		m.inFlight = false
		if !msg.requireAck {
			m.outbox.release(i)
			m.stats.Dropped++
		}
		return
	}
	m.stats.FramesSent++
	if retry {
		m.stats.Retries++
	}
}

func (m *Manager) startTx(frame []byte, now time.Time) bool {
	// Arm state before handing off: drivers may signal completion from
	// within Transmit.
	m.state = radioTx
	m.wd.txStarted(now)
	if err := m.drv.Transmit(frame); err != nil {
		m.wd.txAborted()
		m.state = radioRx
		return false
	}
	return true
}
