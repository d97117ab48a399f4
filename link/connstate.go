package link

import "time"

// ConnPhase is the coarse link status of the slave role
type ConnPhase uint8

const (
	Disconnected ConnPhase = iota
	Connecting
	Connected
)

func (p ConnPhase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// connEvent is an input to the connection state machine
type connEvent uint8

const (
	// evTick is the periodic evaluation, run after the peer TTL sweep
	evTick connEvent = iota

	// evMasterActivity is any valid frame or ACK from the master
	evMasterActivity

	// evMasterLost is the master's liveness TTL expiring while Connected
	evMasterLost

	// evProbeDeferred means the probe could not be enqueued (outbox full)
	evProbeDeferred

	// evForceReconnect is an application-requested reconnect
	evForceReconnect
)

// connAction is an effect the caller must carry out after a transition
type connAction uint8

const (
	actNone connAction = iota

	// actSendProbe: enqueue a zero-length ack-required message to the
	// master. On enqueue failure feed evProbeDeferred back in.
	actSendProbe
)

// connState is the slave connection machine's full state. The master role
// carries no connection state; its view derives from the peer table.
type connState struct {
	phase            ConnPhase
	attemptStartedAt time.Time
	nextAttemptAt    time.Time
}

// connTiming are the constants the machine transitions against
type connTiming struct {
	ackTimeout        time.Duration
	maxRetries        int
	reconnectInterval time.Duration
	probeRetryDelay   time.Duration
}

// attemptBudget is how long a Connecting phase may last: the probe's whole
// retry budget plus a grace period for a late reply.
func (t connTiming) attemptBudget() time.Duration {
	return t.ackTimeout*time.Duration(t.maxRetries) + connectGrace
}

// step is the single transition function: (state, event) -> (state, effect).
// It performs no I/O, making every transition testable without hardware.
func (s connState) step(ev connEvent, now time.Time, t connTiming) (connState, connAction) {
	switch ev {
	case evMasterActivity:
		// Promotes Connecting and refreshes Connected alike
		s.phase = Connected
		s.attemptStartedAt = time.Time{}
		s.nextAttemptAt = time.Time{}
		return s, actNone

	case evMasterLost:
		if s.phase == Connected {
			s.phase = Disconnected
			s.nextAttemptAt = now
		}
		return s, actNone

	case evProbeDeferred:
		s.phase = Disconnected
		s.nextAttemptAt = now.Add(t.probeRetryDelay)
		return s, actNone

	case evForceReconnect:
		s.phase = Disconnected
		s.attemptStartedAt = time.Time{}
		s.nextAttemptAt = now
		return s, actNone

	case evTick:
		switch s.phase {
		case Disconnected:
			if !now.Before(s.nextAttemptAt) {
				s.phase = Connecting
				s.attemptStartedAt = now
				return s, actSendProbe
			}
		case Connecting:
			if now.Sub(s.attemptStartedAt) > t.attemptBudget() {
				s.phase = Disconnected
				s.nextAttemptAt = now.Add(t.reconnectInterval)
			}
		}
		return s, actNone
	}
	return s, actNone
}
