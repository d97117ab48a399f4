package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fieldlink/host/bridge"
	"fieldlink/host/serial"
)

var (
	device = flag.String("device", "/dev/ttyACM0", "Serial device path of the relay")
	baud   = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	listen = flag.String("listen", ":8080", "HTTP listen address for the WebSocket endpoint")
	debug  = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	var log *zap.Logger
	var err error
	if *debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	cfg.ReadTimeout = 0

	port, err := serial.Open(cfg)
	if err != nil {
		log.Fatal("failed to open relay port",
			zap.String("device", *device), zap.Error(err))
	}
	defer port.Close()

	b := bridge.New(port, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.ServeWS)
	srv := &http.Server{Addr: *listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("websocket endpoint listening",
			zap.String("addr", *listen), zap.String("path", "/ws"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	log.Info("bridging relay tap stream", zap.String("device", *device))
	if err := b.Run(ctx); err != nil {
		log.Error("bridge stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("bridge exited")
}
