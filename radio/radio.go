// Package radio defines the hardware boundary between the link layer and the
// LoRa transceiver driver.
package radio

// Driver is the transmit/receive abstraction implemented per transceiver.
// All calls are fire-and-forget: Transmit starts a transmission and returns;
// completion (or its absence) is reported through the EventSink registered
// with the driver. The link layer never blocks on the radio.
type Driver interface {
	// Transmit starts sending one encoded frame
	Transmit(frame []byte) error

	// StartRx puts the radio into continuous receive, the resting state
	StartRx() error

	// Reinit fully reconfigures the radio hardware (channel, TX and RX
	// state). Used to recover from states unreachable by software resets.
	Reinit() error
}

// EventSink receives radio interrupt events. Implementations must be safe to
// call from interrupt context: no allocation, no blocking, no logging. The
// data slice passed to RxDone is only valid for the duration of the call.
type EventSink interface {
	TxDone()
	TxTimeout()
	RxDone(data []byte, rssiDbm int16)
}
