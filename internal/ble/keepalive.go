package ble

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// startKeepalive launches the idle keepalive for the current connection.
// Without it the Furby resumes its own chatter between commands.
func (s *Session) startKeepalive() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.stopKeepalive = cancel
	s.keepaliveDone = done
	s.mu.Unlock()

	go s.keepalive(ctx, done)
	slog.Debug("[BLE] keepalive started", "interval", s.opts.KeepaliveInterval)
}

func (s *Session) keepalive(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("[BLE] keepalive stopped")
			return
		case <-ticker.C:
			// A tick and a cancel can be ready together.
			if ctx.Err() != nil {
				return
			}
			if err := s.SendPrimary(protocol.KeepalivePacket); err != nil {
				if isTransient(err) {
					continue
				}
				slog.Warn("[BLE] keepalive write failed", "error", err)
			}
		}
	}
}
