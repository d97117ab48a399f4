package link

import "time"

// wdAction is the watchdog's verdict for one check
type wdAction uint8

const (
	wdNone wdAction = iota

	// wdSoftTimeout: the in-flight transmission never completed; treat it
	// like a TX-timeout interrupt and force the radio back to receive.
	wdSoftTimeout

	// wdReinit: too many consecutive stuck transmissions; fully
	// reinitialize the radio hardware on top of the soft timeout handling.
	wdReinit
)

// txWatchdog detects a transmit operation whose completion interrupt never
// arrived. A missed TX-done leaves the radio parked in transmit state
// forever; the guard timer is the only way out.
type txWatchdog struct {
	guard       time.Duration
	reinitAfter int

	inTx        bool
	txStartedAt time.Time
	stuck       int
}

func newTxWatchdog(guard time.Duration, reinitAfter int) txWatchdog {
	return txWatchdog{guard: guard, reinitAfter: reinitAfter}
}

// txStarted arms the guard timer
func (w *txWatchdog) txStarted(now time.Time) {
	w.inTx = true
	w.txStartedAt = now
}

// txCompleted disarms the guard. Any completion interrupt counts - the
// hardware responded, so the consecutive-stuck counter resets too.
func (w *txWatchdog) txCompleted() {
	w.inTx = false
	w.stuck = 0
}

// txAborted disarms the guard without touching the stuck counter. Used when
// the driver refused the transmission outright - nothing is in flight.
func (w *txWatchdog) txAborted() {
	w.inTx = false
}

// check is evaluated once per tick
func (w *txWatchdog) check(now time.Time) wdAction {
	if !w.inTx || now.Sub(w.txStartedAt) < w.guard {
		return wdNone
	}
	w.inTx = false
	w.stuck++
	if w.stuck >= w.reinitAfter {
		w.stuck = 0
		return wdReinit
	}
	return wdSoftTimeout
}
