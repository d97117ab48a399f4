// Package serial opens the relay's USB CDC port for the host-side tools.
// The relay only ever writes its tap stream, so the host surface is
// read-only: a Port is something the bridge or monitor can drain bytes from
// and close.
package serial

import (
	"io"
	"time"
)

// Port is the host end of a relay's tap stream
type Port interface {
	io.ReadCloser
}

// Config selects and tunes the relay port
type Config struct {
	// Device path (e.g. "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores it, but a relay wired through a real
	// UART adapter needs it to match the firmware's 115200.
	Baud int

	// ReadTimeout bounds a single Read. Zero blocks until bytes arrive,
	// which suits the bridge's dedicated ingest loop; the monitor polls
	// with a short timeout instead so its reader stays responsive.
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings for a relay on USB CDC
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
