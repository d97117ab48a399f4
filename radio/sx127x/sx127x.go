//go:build tinygo

// Package sx127x adapts the SX127x LoRa transceiver driver from
// tinygo.org/x/drivers to the link layer's fire-and-forget Driver contract.
// A single goroutine owns the device: it keeps the radio in continuous
// receive and interleaves queued transmissions, reporting completions to the
// registered EventSink.
package sx127x

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers/lora"
	sx "tinygo.org/x/drivers/sx127x"

	"fieldlink/radio"
)

const (
	txTimeoutMs = 2000
	rxTimeoutMs = 100

	// RegPktRssiValue holds the RSSI of the last received packet
	regPktRssiValue = 0x1A
	// rssiOffsetHF applies to the high-frequency port (868/915 MHz)
	rssiOffsetHF = -157
)

var errNotDetected = errors.New("sx127x: device not detected")

// Radio drives one SX127x transceiver
type Radio struct {
	dev   *sx.Device
	cfg   lora.Config
	sink  radio.EventSink
	txq   chan int
	txBuf [256]byte
}

// DefaultLoraConfig returns the modulation used by fieldlink nodes:
// 868.1 MHz, 125 kHz bandwidth, SF9, private sync word.
func DefaultLoraConfig() lora.Config {
	return lora.Config{
		Freq:           lora.MHz_868_1,
		Bw:             lora.Bandwidth_125_0,
		Sf:             lora.SpreadingFactor9,
		Cr:             lora.CodingRate4_7,
		HeaderType:     lora.HeaderExplicit,
		Preamble:       12,
		Ldr:            lora.LowDataRateOptimizeOff,
		Iq:             lora.IQStandard,
		Crc:            lora.CRCOn,
		SyncWord:       lora.SyncPrivate,
		LoraTxPowerDBm: 20,
	}
}

// New wires an SX127x on the given SPI bus and control pins. The SPI bus
// must already be configured.
func New(spi machine.SPI, cs, rst, dio0 machine.Pin, cfg lora.Config) (*Radio, error) {
	dev := sx.New(spi, rst)
	dev.SetRadioController(sx.NewRadioControl(cs, rst, dio0))

	r := &Radio{
		dev: dev,
		cfg: cfg,
		txq: make(chan int, 1),
	}
	if err := r.configure(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Radio) configure() error {
	r.dev.Reset()
	if !r.dev.DetectDevice() {
		return errNotDetected
	}
	r.dev.LoraConfig(r.cfg)
	return nil
}

// SetSink registers the interrupt event consumer. Must be called before Run.
func (r *Radio) SetSink(s radio.EventSink) {
	r.sink = s
}

// Run owns the device. Call it from a dedicated goroutine after Begin.
func (r *Radio) Run() {
	var buf [256]byte
	for {
		select {
		case n := <-r.txq:
			if err := r.dev.Tx(r.txBuf[:n], txTimeoutMs); err != nil {
				r.sink.TxTimeout()
			} else {
				r.sink.TxDone()
			}
		default:
			pkt, err := r.dev.Rx(rxTimeoutMs)
			if err != nil || pkt == nil {
				continue
			}
			n := copy(buf[:], pkt)
			r.sink.RxDone(buf[:n], r.packetRSSI())
		}
	}
}

// Transmit hands one frame to the radio goroutine. Never blocks or
// allocates: if a transmission is already queued the frame is refused and
// the link layer's retry machinery deals with it. The link layer holds off
// further transmissions until TxDone/TxTimeout, so txBuf is never
// overwritten mid-send.
func (r *Radio) Transmit(frame []byte) error {
	if len(frame) > len(r.txBuf) {
		return errors.New("sx127x: frame exceeds buffer")
	}
	n := copy(r.txBuf[:], frame)
	select {
	case r.txq <- n:
		return nil
	default:
		return errors.New("sx127x: transmitter busy")
	}
}

// StartRx is a no-op: Run keeps the radio in continuous receive whenever no
// transmission is pending.
func (r *Radio) StartRx() error {
	return nil
}

// Reinit resets and reconfigures the transceiver from scratch. Recovers
// hardware states a software abort cannot reach.
func (r *Radio) Reinit() error {
	return r.configure()
}

func (r *Radio) packetRSSI() int16 {
	return int16(r.dev.ReadRegister(regPktRssiValue)) + rssiOffsetHF
}
