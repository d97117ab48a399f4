package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

// nativePort drains a real relay port through github.com/tarm/serial
type nativePort struct {
	port *serial.Port
}

// Open connects to the relay described by cfg
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: nil config")
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial: no device path")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &nativePort{port: port}, nil
}

func (p *nativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *nativePort) Close() error {
	return p.port.Close()
}
