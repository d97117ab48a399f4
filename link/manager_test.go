package link

import (
	"bytes"
	"testing"
	"time"

	"fieldlink/protocol"
	"fieldlink/radio/loopback"
)

var mgrBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mgrAt(ms int) time.Time {
	return mgrBase.Add(time.Duration(ms) * time.Millisecond)
}

func fastConfig() Config {
	c := DefaultConfig()
	c.MaxOutbox = 4
	c.AckTimeout = 100 * time.Millisecond
	c.MaxRetries = 3
	c.PeerTimeout = 500 * time.Millisecond
	c.TxGuard = 100 * time.Millisecond
	c.TxStuckReinit = 2
	c.ReconnectInterval = 200 * time.Millisecond
	c.ProbeRetryDelay = 50 * time.Millisecond
	return c
}

func newMaster(t *testing.T, r *loopback.Radio) *Manager {
	t.Helper()
	m := NewManager(r, fastConfig())
	r.SetSink(m)
	if err := m.Begin(RoleMaster, 1); err != nil {
		t.Fatalf("master Begin: %v", err)
	}
	return m
}

func newSlave(t *testing.T, r *loopback.Radio, id protocol.NodeID) *Manager {
	t.Helper()
	m := NewManager(r, fastConfig())
	r.SetSink(m)
	if err := m.Begin(RoleSlave, id); err != nil {
		t.Fatalf("slave Begin: %v", err)
	}
	if err := m.SetMasterNodeID(1); err != nil {
		t.Fatalf("SetMasterNodeID: %v", err)
	}
	return m
}

func encodeAck(t *testing.T, src, dst protocol.NodeID, id protocol.MsgID) []byte {
	t.Helper()
	f := protocol.Frame{Type: protocol.TypeAck, Src: src, Dst: dst, MsgID: id}
	var buf [protocol.MTU]byte
	n := protocol.Encode(buf[:], &f)
	if n == 0 {
		t.Fatal("encodeAck failed")
	}
	return append([]byte(nil), buf[:n]...)
}

func TestBeginValidatesAndIsIdempotent(t *testing.T) {
	cfg := fastConfig()
	cfg.MTU = protocol.HeaderSize // no room for payload
	m := NewManager(loopback.New(), cfg)
	if err := m.Begin(RoleMaster, 1); err == nil {
		t.Error("Begin accepted an MTU that cannot fit the header")
	}

	m = NewManager(loopback.New(), fastConfig())
	if _, err := m.SendData(2, []byte("x"), false); err != ErrNotStarted {
		t.Errorf("SendData before Begin: %v, want ErrNotStarted", err)
	}
	if err := m.SetMasterNodeID(1); err != ErrNotStarted {
		t.Errorf("SetMasterNodeID before Begin: %v, want ErrNotStarted", err)
	}
	if _, ok := m.LastRSSIDbm(); ok {
		t.Error("LastRSSIDbm reported a reading before Begin")
	}
	if err := m.Begin(RoleMaster, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Begin(RoleMaster, 1); err != ErrAlreadyStarted {
		t.Errorf("second Begin: %v, want ErrAlreadyStarted", err)
	}
	if err := m.SetMasterNodeID(1); err != ErrSlaveOnly {
		t.Errorf("SetMasterNodeID on master: %v, want ErrSlaveOnly", err)
	}
	if err := m.ForceReconnect(mgrAt(0)); err != ErrSlaveOnly {
		t.Errorf("ForceReconnect on master: %v, want ErrSlaveOnly", err)
	}
}

func TestSendDataRejections(t *testing.T) {
	r := loopback.New()
	m := newMaster(t, r)

	big := bytes.Repeat([]byte{1}, m.cfg.maxPayload()+1)
	if _, err := m.SendData(2, big, false); err != ErrPayloadTooLarge {
		t.Errorf("oversize payload: %v, want ErrPayloadTooLarge", err)
	}
	if _, err := m.SendData(protocol.BroadcastID, []byte("x"), true); err != ErrAckOnBroadcast {
		t.Errorf("acked broadcast: %v, want ErrAckOnBroadcast", err)
	}

	// MaxOutbox=4 leaves 3 application slots
	for i := 0; i < 3; i++ {
		if _, err := m.SendData(2, []byte{byte(i)}, true); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := m.SendData(2, []byte{9}, true); err != ErrQueueFull {
		t.Errorf("send into full queue: %v, want ErrQueueFull", err)
	}
	if m.PendingCount() != 3 {
		t.Errorf("PendingCount = %d after rejected send, want 3", m.PendingCount())
	}
}

// Happy path: slave 3 sends acknowledged data to master 1; the master
// delivers the payload and acks; the slave's queue drains.
func TestScenarioHappyPath(t *testing.T) {
	ra, rb := loopback.New(), loopback.New()
	loopback.Pair(ra, rb)
	ra.SetRSSIDbm(-72) // what the master's radio hears the slave at
	master := newMaster(t, ra)
	slave := newSlave(t, rb, 3)

	var gotSrc protocol.NodeID
	var gotPayload []byte
	master.SetDataHandler(func(src protocol.NodeID, payload []byte) {
		gotSrc = src
		gotPayload = append([]byte(nil), payload...)
	})
	var ackedID protocol.MsgID
	slave.SetAckHandler(func(src protocol.NodeID, id protocol.MsgID) {
		ackedID = id
	})

	id, err := slave.SendData(1, []byte("t=25.5"), true)
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if id != 1 {
		t.Errorf("first message id = %d, want 1", id)
	}

	for i := 0; i < 6; i++ {
		now := mgrAt(i * 10)
		slave.Tick(now)
		master.Tick(now)
	}

	// Wire format of the first transmission
	f, ok := protocol.Decode(rb.TxLog()[0])
	if !ok {
		t.Fatal("slave transmitted an undecodable frame")
	}
	if f.Type != protocol.TypeData || f.Flags != protocol.FlagRequireAck ||
		f.Src != 3 || f.Dst != 1 || f.MsgID != id {
		t.Errorf("first frame header = %+v", f)
	}

	if gotSrc != 3 || !bytes.Equal(gotPayload, []byte("t=25.5")) {
		t.Errorf("master delivery = (%d, %q)", gotSrc, gotPayload)
	}
	if ackedID != id {
		t.Errorf("slave acked id = %d, want %d", ackedID, id)
	}
	if slave.PendingCount() != 0 {
		t.Errorf("slave queue not drained: %d pending", slave.PendingCount())
	}
	if !slave.IsConnected() {
		t.Error("slave not connected after acked exchange")
	}
	if !master.IsConnected() || master.PeerCount() != 1 {
		t.Errorf("master sees %d live peers, want 1", master.PeerCount())
	}
	if rssi, ok := master.LastRSSIDbm(); !ok || rssi != -72 {
		t.Errorf("master LastRSSIDbm = (%d, %v), want (-72, true)", rssi, ok)
	}
}

// With nobody answering, an acknowledged message is attempted exactly
// MaxRetries times and then dropped.
func TestAtMostMaxRetriesThenDrop(t *testing.T) {
	r := loopback.New() // unpaired: transmissions complete, nothing replies
	m := newMaster(t, r)

	if _, err := m.SendData(2, []byte("x"), true); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	for i := 0; i <= 20; i++ {
		m.Tick(mgrAt(i * 50))
	}

	if n := len(r.TxLog()); n != 3 {
		t.Errorf("observed %d transmissions, want exactly MaxRetries=3", n)
	}
	st := m.Stats()
	if st.FramesSent != 3 || st.Retries != 2 || st.Dropped != 1 {
		t.Errorf("stats = sent %d retries %d dropped %d, want 3/2/1",
			st.FramesSent, st.Retries, st.Dropped)
	}
	if m.PendingCount() != 0 {
		t.Error("exhausted message still pending")
	}
}

func TestFireAndForgetRemovedOnTxDone(t *testing.T) {
	r := loopback.New()
	m := newMaster(t, r)

	if _, err := m.SendData(2, []byte("x"), false); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	m.Tick(mgrAt(0))  // transmits; TX-done arrives
	m.Tick(mgrAt(50)) // consumes TX-done

	if m.PendingCount() != 0 {
		t.Error("fire-and-forget message still queued after TX-done")
	}
	if n := len(r.TxLog()); n != 1 {
		t.Errorf("%d transmissions, want 1", n)
	}
	if st := m.Stats(); st.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", st.Dropped)
	}
}

func TestDuplicateAckIsHarmless(t *testing.T) {
	r := loopback.New()
	m := newMaster(t, r)

	acks := 0
	m.SetAckHandler(func(protocol.NodeID, protocol.MsgID) { acks++ })

	id, _ := m.SendData(2, []byte("x"), true)
	m.Tick(mgrAt(0))

	ack := encodeAck(t, 2, 1, id)
	r.InjectRx(ack, -40)
	m.Tick(mgrAt(10))
	r.InjectRx(ack, -40)
	m.Tick(mgrAt(20))

	if acks != 1 {
		t.Errorf("ack callback fired %d times, want 1", acks)
	}
	if st := m.Stats(); st.AcksReceived != 1 {
		t.Errorf("AcksReceived = %d, want 1", st.AcksReceived)
	}
	if m.PendingCount() != 0 {
		t.Error("message still pending after ack")
	}
}

func TestRxDiscardsForeignAndMalformed(t *testing.T) {
	r := loopback.New()
	m := newMaster(t, r)

	tapped := 0
	m.SetFrameTap(func(protocol.Frame, int16) { tapped++ })

	// Addressed to someone else
	f := protocol.Frame{Type: protocol.TypeData, Src: 5, Dst: 9, MsgID: 4}
	var buf [protocol.MTU]byte
	n := protocol.Encode(buf[:], &f)
	r.InjectRx(buf[:n], -40)
	m.Tick(mgrAt(0))

	// Wrong version
	bad := append([]byte(nil), buf[:n]...)
	bad[0] = protocol.Version + 1
	bad[4] = 1
	r.InjectRx(bad, -40)
	m.Tick(mgrAt(10))

	if st := m.Stats(); st.RxDiscarded != 2 || st.FramesReceived != 0 {
		t.Errorf("discards = %d received = %d, want 2/0", st.RxDiscarded, st.FramesReceived)
	}
	if tapped != 0 {
		t.Error("frame tap saw a discarded frame")
	}
	if m.TotalPeerCount() != 0 {
		t.Error("discarded frame created a peer record")
	}
}

func TestBroadcastDeliveredButNeverAcked(t *testing.T) {
	r := loopback.New()
	m := newMaster(t, r)

	delivered := 0
	m.SetDataHandler(func(protocol.NodeID, []byte) { delivered++ })
	tapped := 0
	m.SetFrameTap(func(f protocol.Frame, rssi int16) { tapped++ })

	f := protocol.Frame{
		Type:  protocol.TypeData,
		Flags: protocol.FlagRequireAck,
		Src:   5,
		Dst:   protocol.BroadcastID,
		MsgID: 8,
	}
	f.Payload.Set([]byte("hello"))
	var buf [protocol.MTU]byte
	n := protocol.Encode(buf[:], &f)
	r.InjectRx(buf[:n], -55)

	m.Tick(mgrAt(0))
	m.Tick(mgrAt(10))

	if delivered != 1 || tapped != 1 {
		t.Errorf("delivered %d tapped %d, want 1/1", delivered, tapped)
	}
	if len(r.TxLog()) != 0 {
		t.Error("broadcast frame was acked")
	}
	if st := m.Stats(); st.AcksSent != 0 {
		t.Errorf("AcksSent = %d, want 0", st.AcksSent)
	}
}

// Stuck radio: TX never completes, the watchdog treats it as a timeout after
// TxGuard, and repeated stuck events force a reinit.
func TestScenarioStuckRadioRecovery(t *testing.T) {
	r := loopback.New()
	r.DropTx = true // transmissions vanish: no TX-done, no TX-timeout
	m := newMaster(t, r)

	if _, err := m.SendData(2, []byte("x"), true); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	m.Tick(mgrAt(0))   // attempt 1 starts and hangs
	m.Tick(mgrAt(150)) // guard elapsed: soft timeout 1, attempt 2 starts
	m.Tick(mgrAt(300)) // guard elapsed: soft timeout 2 of 2 -> reinit

	st := m.Stats()
	if st.SoftTxTimeouts != 2 {
		t.Errorf("SoftTxTimeouts = %d, want 2", st.SoftTxTimeouts)
	}
	if st.RadioReinits != 1 {
		t.Errorf("RadioReinits = %d, want 1", st.RadioReinits)
	}
	if r.Reinits() != 1 {
		t.Errorf("driver reinits = %d, want 1", r.Reinits())
	}
}

// Reconnection: master goes quiet past the peer TTL, the slave drops to
// Disconnected, probes, and recovers on the reply.
func TestScenarioReconnection(t *testing.T) {
	ra, rb := loopback.New(), loopback.New()
	loopback.Pair(ra, rb)
	master := newMaster(t, ra)
	slave := newSlave(t, rb, 3)

	// Establish the connection (probe out, ack back)
	for i := 0; i < 4; i++ {
		now := mgrAt(i * 10)
		slave.Tick(now)
		master.Tick(now)
	}
	if !slave.IsConnected() {
		t.Fatal("slave never connected")
	}

	// Master goes silent. PeerTimeout=500ms from the last activity.
	slave.Tick(mgrAt(600))
	if slave.IsConnected() {
		t.Error("slave still connected past the peer TTL")
	}
	if slave.ConnectionPhase() != Connecting {
		t.Errorf("phase = %v, want connecting (immediate reattempt)", slave.ConnectionPhase())
	}

	// The reconnect probe is on the wire; the master wakes up and acks.
	master.Tick(mgrAt(700))
	slave.Tick(mgrAt(710))
	if !slave.IsConnected() {
		t.Error("slave did not reconnect on the probe reply")
	}
}

func TestForceReconnectProbesImmediately(t *testing.T) {
	ra, rb := loopback.New(), loopback.New()
	loopback.Pair(ra, rb)
	master := newMaster(t, ra)
	slave := newSlave(t, rb, 3)

	for i := 0; i < 4; i++ {
		now := mgrAt(i * 10)
		slave.Tick(now)
		master.Tick(now)
	}
	if !slave.IsConnected() {
		t.Fatal("slave never connected")
	}
	sent := len(rb.TxLog())

	if err := slave.ForceReconnect(mgrAt(100)); err != nil {
		t.Fatalf("ForceReconnect: %v", err)
	}
	slave.Tick(mgrAt(100))
	if slave.ConnectionPhase() != Connecting {
		t.Errorf("phase = %v, want connecting", slave.ConnectionPhase())
	}
	if len(rb.TxLog()) != sent+1 {
		t.Error("forced reconnect did not transmit a probe")
	}

	// Probe frame is a zero-length ack-required Data frame to the master
	f, ok := protocol.Decode(rb.TxLog()[sent])
	if !ok {
		t.Fatal("probe frame undecodable")
	}
	if f.Type != protocol.TypeData || !f.RequireAck() || f.Dst != 1 || f.Payload.Len() != 0 {
		t.Errorf("probe frame = %+v", f)
	}
}
