//go:build rp2040

// Field sensor node firmware: battery-powered slave that samples a BME280
// and ships readings to the relay over the LoRa link with acknowledgment.
package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/bme280"

	"fieldlink/link"
	"fieldlink/protocol"
	"fieldlink/radio/sx127x"
)

const (
	nodeID   = protocol.NodeID(3)
	masterID = protocol.NodeID(1)

	tickPeriod   = 50 * time.Millisecond
	samplePeriod = 30 * time.Second
)

// SX127x wiring on SPI0
const (
	loraCS   = machine.GP17
	loraRST  = machine.GP20
	loraDIO0 = machine.GP21
)

// Battery sense: divider /2 into ADC0
const vbatPin = machine.GP26

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
	if err := mgr.Begin(link.RoleSlave, nodeID); err != nil {
		return
	}
	if err := mgr.SetMasterNodeID(masterID); err != nil {
		return
	}
	go rad.Run()

	err = machine.I2C0.Configure(machine.I2CConfig{})
	if err != nil {
		return
	}
	sensor := bme280.New(machine.I2C0)
	sensor.Configure()

	machine.InitADC()
	vbat := machine.ADC{Pin: vbatPin}
	vbat.Configure(machine.ADCConfig{})

	var payload [48]byte
	lastSample := time.Now().Add(-samplePeriod)

	for {
		now := time.Now()
		mgr.Tick(now)

		if now.Sub(lastSample) >= samplePeriod && mgr.IsConnected() {
			lastSample = now
			n := formatReading(payload[:0], &sensor, &vbat)
			// Queue full just means this sample is skipped; the next
			// one goes out once the backlog drains.
			_, _ = mgr.SendData(masterID, payload[:n], true)
		}

		time.Sleep(tickPeriod)
	}
}

// formatReading builds a "t=23.45,h=40.12,b=3.71" payload without fmt
func formatReading(buf []byte, sensor *bme280.Device, vbat *machine.ADC) int {
	tMilli, err := sensor.ReadTemperature()
	if err == nil {
		buf = append(buf, "t="...)
		buf = appendCenti(buf, tMilli/10)
	}
	hCenti, err := sensor.ReadHumidity()
	if err == nil {
		if len(buf) > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, "h="...)
		buf = appendCenti(buf, hCenti)
	}

	// Raw counts -> millivolts through the /2 divider at 3.3V reference
	mv := int32(uint32(vbat.Get()) * 2 * 3300 / 0xFFFF)
	if len(buf) > 0 {
		buf = append(buf, ',')
	}
	buf = append(buf, "b="...)
	buf = appendCenti(buf, mv/10)

	return len(buf)
}

// appendCenti renders a value scaled by 100 as a two-decimal string
func appendCenti(buf []byte, v int32) []byte {
	if v < 0 {
		buf = append(buf, '-')
		v = -v
	}
	buf = appendUint(buf, uint32(v/100))
	frac := v % 100
	return append(buf, '.', byte('0'+frac/10), byte('0'+frac%10))
}

func appendUint(buf []byte, v uint32) []byte {
	var tmp [10]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(buf, tmp[i:]...)
}
