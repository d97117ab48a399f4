package link

import (
	"fmt"
	"time"

	"fieldlink/protocol"
)

// Config holds the init-time link layer constants. All sizing is fixed at
// Begin; the link allocates nothing afterwards.
type Config struct {
	// MTU is the largest frame handed to the radio, header included
	MTU int

	// MaxOutbox is the outbound queue capacity. One slot is reserved for
	// housekeeping traffic (reconnection probes); application sends fail
	// once MaxOutbox-1 messages are pending.
	MaxOutbox int

	// MaxPeers bounds the peer table. When full, the least-recently-seen
	// record is evicted for a new peer.
	MaxPeers int

	// AckTimeout is how long a transmitted ack-required message waits
	// before becoming due for retry.
	AckTimeout time.Duration

	// MaxRetries is the total transmission attempt budget per message
	MaxRetries int

	// PeerTimeout is the liveness TTL: a peer with no frame activity for
	// this long is reported disconnected.
	PeerTimeout time.Duration

	// TxGuard is the watchdog deadline for a transmit completion interrupt
	TxGuard time.Duration

	// TxStuckReinit is how many consecutive stuck transmissions trigger a
	// full radio reinitialization.
	TxStuckReinit int

	// ReconnectInterval is the pause between abandoned connection attempts
	// in the slave role.
	ReconnectInterval time.Duration

	// ProbeRetryDelay is the short pause before re-attempting a probe that
	// could not be enqueued because the outbox was full.
	ProbeRetryDelay time.Duration
}

// DefaultConfig returns constants suitable for battery-powered nodes with a
// tick period of 50-100ms.
func DefaultConfig() Config {
	return Config{
		MTU:               protocol.MTU,
		MaxOutbox:         8,
		MaxPeers:          16,
		AckTimeout:        2 * time.Second,
		MaxRetries:        3,
		PeerTimeout:       30 * time.Second,
		TxGuard:           5 * time.Second,
		TxStuckReinit:     3,
		ReconnectInterval: 15 * time.Second,
		ProbeRetryDelay:   500 * time.Millisecond,
	}
}

// connectGrace pads the Connecting-phase abandon deadline beyond the probe's
// own retry budget so a late ACK still promotes the state.
const connectGrace = time.Second

func (c Config) validate() error {
	if c.MTU <= protocol.HeaderSize {
		return fmt.Errorf("link: MTU %d does not fit the %d byte header", c.MTU, protocol.HeaderSize)
	}
	if c.MTU > protocol.MTU {
		return fmt.Errorf("link: MTU %d exceeds hardware limit %d", c.MTU, protocol.MTU)
	}
	if c.MaxOutbox < 2 {
		return fmt.Errorf("link: MaxOutbox %d leaves no room for application traffic", c.MaxOutbox)
	}
	if c.MaxPeers < 1 {
		return fmt.Errorf("link: MaxPeers must be at least 1")
	}
	if c.AckTimeout <= 0 || c.PeerTimeout <= 0 || c.TxGuard <= 0 {
		return fmt.Errorf("link: timeouts must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("link: MaxRetries must be at least 1")
	}
	if c.TxStuckReinit < 1 {
		return fmt.Errorf("link: TxStuckReinit must be at least 1")
	}
	if c.ReconnectInterval <= 0 || c.ProbeRetryDelay <= 0 {
		return fmt.Errorf("link: reconnect intervals must be positive")
	}
	return nil
}

// maxPayload returns the application payload allowance for this MTU
func (c Config) maxPayload() int {
	return c.MTU - protocol.HeaderSize
}
