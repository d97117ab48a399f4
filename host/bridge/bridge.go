// Package bridge implements the backhaul side of the relay: it reads the
// tap stream the relay firmware emits over USB serial, decodes the link
// frames, and fans them out to WebSocket clients as JSON events.
package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fieldlink/host/serial"
	"fieldlink/protocol"
)

// Bridge owns the serial ingest loop and the event bus
type Bridge struct {
	port serial.Port
	log  *zap.Logger
	bus  *EventBus
}

// New constructs a Bridge without starting it
func New(port serial.Port, log *zap.Logger) *Bridge {
	return &Bridge{
		port: port,
		log:  log,
		bus:  NewEventBus(),
	}
}

// Bus exposes the event bus for subscribers
func (b *Bridge) Bus() *EventBus {
	return b.bus
}

// Run reads the relay's tap stream until ctx is cancelled or the port
// reports a terminal error. A clean EOF (relay unplugged, mock drained)
// returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	var dec protocol.TapDecoder
	buf := make([]byte, 512)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := b.port.Read(buf)
		for i := 0; i < n; i++ {
			tap, ok := dec.Feed(buf[i])
			if !ok {
				continue
			}
			b.ingest(tap)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (b *Bridge) ingest(tap protocol.Tap) {
	f, ok := protocol.Decode(tap.Frame)
	if !ok {
		b.log.Warn("tap carried an undecodable frame",
			zap.Int("len", len(tap.Frame)))
		return
	}

	ftype := "data"
	if f.Type == protocol.TypeAck {
		ftype = "ack"
	}

	e := FrameEvent{
		Src:        uint8(f.Src),
		Dst:        uint8(f.Dst),
		Type:       ftype,
		MsgID:      uint16(f.MsgID),
		RequireAck: f.RequireAck(),
		RSSIDbm:    tap.RSSIDbm,
		ReceivedAt: time.Now().UTC(),
	}
	if f.Payload.Len() > 0 {
		e.Payload = append([]byte(nil), f.Payload.Bytes()...)
	}

	b.bus.Publish(e)
	b.log.Debug("frame",
		zap.String("type", ftype),
		zap.Uint8("src", e.Src),
		zap.Uint8("dst", e.Dst),
		zap.Uint16("msgId", e.MsgID),
		zap.Int16("rssiDbm", e.RSSIDbm),
		zap.Int("payloadLen", len(e.Payload)))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge runs on a trusted backhaul segment
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and streams frame events to the client
// until it disconnects.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := b.bus.Subscribe()
	defer unsub()

	// Drain client frames so pings and close messages are processed;
	// closing done tears the writer loop down.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	b.log.Info("websocket client connected", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				b.log.Info("websocket client gone", zap.Error(err))
				return
			}
		}
	}
}
