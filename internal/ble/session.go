package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures session behavior.
type Options struct {
	KeepaliveInterval time.Duration // idle keepalive period (default 3s)
	ReconnectMax      int           // max backoff between connect attempts, in seconds
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		KeepaliveInterval: 3 * time.Second,
		ReconnectMax:      8,
	}
}

// ConnectOptions selects the target and retry budget of a Connect call.
type ConnectOptions struct {
	// Address dials a device directly. Required for a Furby in F2F mode,
	// which stops advertising. Empty means the first Furby discovered.
	Address string
	Timeout time.Duration // per attempt (default 10s)
	Retries int           // total attempts (default 3)
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	return o
}

type channel int

const (
	channelPrimary channel = iota
	channelSecondary
	channelFile
)

func (c channel) String() string {
	switch c {
	case channelPrimary:
		return "primary"
	case channelSecondary:
		return "secondary"
	default:
		return "file"
	}
}

// Session manages one logical connection to a Furby Connect. A Session
// owns at most one transport connection at a time; connecting again after
// a disconnect replaces it.
type Session struct {
	adapter Adapter
	opts    Options

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	device      Device
	conn        Connection
	gpWrite     Characteristic
	nordicWrite Characteristic
	fileWrite   Characteristic
	packetAck   bool

	stopKeepalive context.CancelFunc
	keepaliveDone chan struct{}

	primary   callbackList
	secondary callbackList
}

// NewSession creates a disconnected session on adapter.
func NewSession(adapter Adapter, opts Options) *Session {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 3 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 8
	}
	return &Session{
		adapter:   adapter,
		opts:      opts,
		primary:   callbackList{name: channelPrimary.String()},
		secondary: callbackList{name: channelSecondary.String()},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is in StateConnected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Device returns the identity of the connected device.
func (s *Session) Device() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device, s.state == StateConnected
}

// Connect dials the target, retrying with capped exponential backoff, then
// subscribes to notifications and starts the idle keepalive. It is a no-op
// when already connected. Exhausted retries return a *ConnectionError.
func (s *Session) Connect(ctx context.Context, opts ConnectOptions) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsConnected() {
		slog.Debug("[BLE] already connected")
		return nil
	}
	opts = opts.withDefaults()

	if err := s.adapter.Enable(); err != nil {
		return &ConnectionError{Address: opts.Address, Err: fmt.Errorf("ble: enable adapter: %w", err)}
	}
	s.setState(StateConnecting)

	var lastErr error
	attempts := 0
	for attempts < opts.Retries {
		if attempts > 0 {
			delay := backoffDelay(attempts-1, s.opts.ReconnectMax)
			slog.Info("[BLE] connect backoff", "attempt", attempts+1, "retries", opts.Retries, "delay", delay)
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		lastErr = s.attempt(ctx, opts)
		if lastErr == nil {
			return nil
		}
		slog.Warn("[BLE] connect attempt failed", "attempt", attempts, "retries", opts.Retries, "error", lastErr)
		if ctx.Err() != nil || errors.Is(lastErr, ErrInvalidAddress) {
			break
		}
	}

	s.setState(StateDisconnected)
	return &ConnectionError{Address: opts.Address, Attempts: attempts, Err: lastErr}
}

// attempt makes one connect attempt bounded by opts.Timeout.
func (s *Session) attempt(ctx context.Context, opts ConnectOptions) error {
	dev := Device{Address: opts.Address}
	if dev.Address == "" {
		devices, err := Discover(ctx, s.adapter, opts.Timeout, true)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return ErrNoDevice
		}
		dev = devices[0]
		slog.Info("[BLE] selected Furby", "address", dev.Address, "name", dev.Name)
	}

	actx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	slog.Info("[BLE] connecting", "address", dev.Address)
	conn, err := s.adapter.Connect(actx, dev.Address)
	if err != nil {
		return err
	}
	if err := s.setup(conn, dev); err != nil {
		_ = conn.Disconnect()
		return err
	}
	return nil
}

// setup discovers the Fluff characteristics on a fresh connection and moves
// the session to StateConnected.
func (s *Session) setup(conn Connection, dev Device) error {
	discover := func(uuid string) (Characteristic, error) {
		c, err := conn.DiscoverCharacteristic(FluffServiceUUID, uuid)
		if err != nil {
			return nil, fmt.Errorf("ble: discover %s: %w", uuid, err)
		}
		return c, nil
	}

	gpWrite, err := discover(GPWriteUUID)
	if err != nil {
		return err
	}
	nordicWrite, err := discover(NordicWriteUUID)
	if err != nil {
		return err
	}
	fileWrite, err := discover(FileWriteUUID)
	if err != nil {
		return err
	}
	gpListen, err := discover(GPListenUUID)
	if err != nil {
		return err
	}
	nordicListen, err := discover(NordicListenUUID)
	if err != nil {
		return err
	}

	if err := gpListen.Subscribe(s.primary.dispatch); err != nil {
		return fmt.Errorf("ble: subscribe primary: %w", err)
	}
	if err := nordicListen.Subscribe(s.secondary.dispatch); err != nil {
		return fmt.Errorf("ble: subscribe secondary: %w", err)
	}

	// Signal strength is informational only.
	if rssi, err := discover(RSSIListenUUID); err != nil {
		slog.Warn("[BLE] RSSI channel unavailable", "error", err)
	} else if err := rssi.Subscribe(func(data []byte) {
		slog.Debug("[BLE] RSSI notification", "data", hexBytes(data))
	}); err != nil {
		slog.Warn("[BLE] could not subscribe to RSSI", "error", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.device = dev
	s.gpWrite = gpWrite
	s.nordicWrite = nordicWrite
	s.fileWrite = fileWrite
	s.packetAck = false
	s.state = StateConnected
	s.mu.Unlock()

	conn.OnDisconnect(func() { s.linkLost(conn) })
	s.startKeepalive()

	slog.Info("[BLE] connected", "address", dev.Address)
	return nil
}

// linkLost handles a connection drop the session did not initiate.
func (s *Session) linkLost(conn Connection) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	stop := s.detachLocked()
	addr := s.device.Address
	s.mu.Unlock()

	// The transport is already gone, so there is no write to race with and
	// no need to wait for the keepalive goroutine here.
	if stop != nil {
		stop()
	}
	slog.Warn("[BLE] connection lost", "address", addr)
}

// detachLocked clears connection state and returns the keepalive cancel
// func. Caller must hold mu.
func (s *Session) detachLocked() context.CancelFunc {
	stop := s.stopKeepalive
	s.state = StateDisconnected
	s.conn = nil
	s.gpWrite = nil
	s.nordicWrite = nil
	s.fileWrite = nil
	s.packetAck = false
	s.stopKeepalive = nil
	return stop
}

// Disconnect stops the keepalive and waits for it to exit, closes the
// transport, then moves to StateDisconnected. Safe to call when not
// connected.
func (s *Session) Disconnect() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	conn := s.conn
	done := s.keepaliveDone
	stop := s.stopKeepalive
	s.stopKeepalive = nil
	s.keepaliveDone = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if conn == nil {
		s.setState(StateDisconnected)
		return nil
	}

	slog.Info("[BLE] disconnecting")
	err := conn.Disconnect()

	s.mu.Lock()
	if s.conn == conn {
		s.detachLocked()
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	slog.Info("[BLE] disconnected")
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SendPrimary writes data to the GeneralPlus command channel.
func (s *Session) SendPrimary(data []byte) error {
	return s.write(channelPrimary, data)
}

// SendSecondary writes data to the Nordic channel. Once packet-ack is
// enabled, writes wait for the write response.
func (s *Session) SendSecondary(data []byte) error {
	return s.write(channelSecondary, data)
}

// SendFile writes one chunk to the file-transfer channel.
func (s *Session) SendFile(data []byte) error {
	return s.write(channelFile, data)
}

func (s *Session) write(ch channel, data []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	var char Characteristic
	withResponse := false
	switch ch {
	case channelPrimary:
		char = s.gpWrite
	case channelSecondary:
		char = s.nordicWrite
		withResponse = s.packetAck
	case channelFile:
		char = s.fileWrite
	}
	s.mu.Unlock()

	if err := char.Write(data, withResponse); err != nil {
		return fmt.Errorf("ble: write %s: %w", ch, err)
	}
	slog.Debug("[BLE] write", "channel", ch.String(), "data", hexBytes(data))
	return nil
}

// OnPrimaryNotification registers cb for GeneralPlus notifications and
// returns a func that unregisters it. Callbacks run synchronously on the
// transport's notification goroutine and must copy data they keep.
func (s *Session) OnPrimaryNotification(cb func([]byte)) (unsubscribe func()) {
	return s.primary.add(cb)
}

// OnSecondaryNotification registers cb for Nordic notifications.
func (s *Session) OnSecondaryNotification(cb func([]byte)) (unsubscribe func()) {
	return s.secondary.add(cb)
}

// backoffDelay returns the delay before retry n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isTransient reports whether err is a send failure worth logging quietly.
func isTransient(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
