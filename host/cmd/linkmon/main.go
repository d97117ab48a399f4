package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"fieldlink/host/serial"
	"fieldlink/protocol"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path of the relay")
	baud    = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	verbose = flag.Bool("verbose", false, "Print every frame as it arrives")
)

// counters tracks what the relay has overheard since startup
type counters struct {
	mu       sync.Mutex
	frames   uint64
	data     uint64
	acks     uint64
	badTaps  uint64
	perNode  map[uint8]uint64
	lastRSSI map[uint8]int16
}

func newCounters() *counters {
	return &counters{
		perNode:  make(map[uint8]uint64),
		lastRSSI: make(map[uint8]int16),
	}
}

func (c *counters) note(f protocol.Frame, rssi int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	if f.Type == protocol.TypeAck {
		c.acks++
	} else {
		c.data++
	}
	c.perNode[uint8(f.Src)]++
	c.lastRSSI[uint8(f.Src)] = rssi
}

func (c *counters) bad() {
	c.mu.Lock()
	c.badTaps++
	c.mu.Unlock()
}

func (c *counters) print() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("\nFrames: %d (data %d, acks %d), undecodable taps: %d\n",
		c.frames, c.data, c.acks, c.badTaps)
	if len(c.perNode) == 0 {
		fmt.Println("No nodes heard yet")
		return
	}
	fmt.Println("Node  Frames  LastRSSI")
	for id, n := range c.perNode {
		fmt.Printf("0x%02X  %6d  %d dBm\n", id, n, c.lastRSSI[id])
	}
	fmt.Println()
}

func main() {
	flag.Parse()

	fmt.Println("Fieldlink Monitor - Relay Tap Stream Viewer")
	fmt.Println("===========================================")
	fmt.Println()

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud

	fmt.Printf("Connecting to relay on %s...\n", *device)
	port, err := serial.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open port: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	fmt.Println("Connected successfully!")

	stats := newCounters()
	go readTaps(port, stats)

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.Fields(line)[0] {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "stats":
			stats.print()

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", line)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func readTaps(port serial.Port, stats *counters) {
	var dec protocol.TapDecoder
	buf := make([]byte, 512)

	for {
		n, err := port.Read(buf)
		for i := 0; i < n; i++ {
			tap, ok := dec.Feed(buf[i])
			if !ok {
				continue
			}
			handleTap(tap, stats)
		}
		if err != nil {
			if err == io.EOF {
				// USB CDC ports report EOF on read timeout, keep polling
				time.Sleep(10 * time.Millisecond)
				continue
			}
			fmt.Fprintf(os.Stderr, "\nSerial read error: %v\n", err)
			return
		}
	}
}

func handleTap(tap protocol.Tap, stats *counters) {
	f, ok := protocol.Decode(tap.Frame)
	if !ok {
		stats.bad()
		return
	}
	stats.note(f, tap.RSSIDbm)

	if !*verbose {
		return
	}
	kind := "DATA"
	if f.Type == protocol.TypeAck {
		kind = "ACK "
	}
	flags := ""
	if f.RequireAck() {
		flags = " [ack-req]"
	}
	if f.Payload.Len() > 0 {
		fmt.Printf("%s 0x%02X->0x%02X msg=%d rssi=%d%s payload=%q\n",
			kind, f.Src, f.Dst, f.MsgID, tap.RSSIDbm, flags, f.Payload.Bytes())
	} else {
		fmt.Printf("%s 0x%02X->0x%02X msg=%d rssi=%d%s\n",
			kind, f.Src, f.Dst, f.MsgID, tap.RSSIDbm, flags)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help           - Show this help message")
	fmt.Println("  stats          - Print frame counters per node")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
}
