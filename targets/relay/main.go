//go:build rp2040

// Relay firmware: mains-powered master that aggregates frames from the field
// nodes and forwards every accepted frame to the host bridge over USB serial
// using the tap framing.
package main

import (
	"machine"
	"time"

	"fieldlink/link"
	"fieldlink/protocol"
	"fieldlink/radio/sx127x"
)

const (
	nodeID     = protocol.NodeID(1)
	tickPeriod = 20 * time.Millisecond
)

// SX127x wiring on SPI0
const (
	loraCS   = machine.GP17
	loraRST  = machine.GP20
	loraDIO0 = machine.GP21
)

var (
	frameBuf [protocol.MTU]byte
	tapBuf   [protocol.MTU + protocol.TapOverhead]byte
)

func main() {
	err := machine.SPI0.Configure(machine.SPIConfig{Frequency: 8_000_000, Mode: 0})
	if err != nil {
		return
	}

	rad, err := sx127x.New(*machine.SPI0, loraCS, loraRST, loraDIO0, sx127x.DefaultLoraConfig())
	if err != nil {
		return
	}

	mgr := link.NewManager(rad, link.DefaultConfig())
	rad.SetSink(mgr)

	// Every frame accepted off the air goes to the backhaul verbatim; the
	// host bridge does the decoding and fan-out.
	mgr.SetFrameTap(func(f protocol.Frame, rssiDbm int16) {
		n := protocol.Encode(frameBuf[:], &f)
		if n == 0 {
			return
		}
		tn := protocol.EncodeTap(tapBuf[:], rssiDbm, frameBuf[:n])
		_, _ = machine.Serial.Write(tapBuf[:tn])
	})

	if err := mgr.Begin(link.RoleMaster, nodeID); err != nil {
		return
	}
	go rad.Run()

	for {
		mgr.Tick(time.Now())
		time.Sleep(tickPeriod)
	}
}
